package nodeexec

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the node-type → executor lookup used by the Graph Runtime
// and Flow Executor. An executor is registered once under its node type
// and may satisfy any subset of the capability interfaces; callers query
// which capability they need rather than branching on node type.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]any)}
}

// Register adds executor under nodeType. A later call for the same
// nodeType replaces the earlier one.
func (r *Registry) Register(nodeType string, executor any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[nodeType] = executor
}

func (r *Registry) lookup(nodeType string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	return e, ok
}

// FlowExecutor returns nodeType's FlowExecutor capability, if registered
// and if the registered executor implements it.
func (r *Registry) FlowExecutor(nodeType string) (FlowExecutor, bool) {
	e, ok := r.lookup(nodeType)
	if !ok {
		return nil, false
	}
	fe, ok := e.(FlowExecutor)
	return fe, ok
}

// SingleShotExecutor returns nodeType's SingleShotExecutor capability, if any.
func (r *Registry) SingleShotExecutor(nodeType string) (SingleShotExecutor, bool) {
	e, ok := r.lookup(nodeType)
	if !ok {
		return nil, false
	}
	s, ok := e.(SingleShotExecutor)
	return s, ok
}

// Materializer returns nodeType's LinkMaterializer capability, if any.
func (r *Registry) Materializer(nodeType string) (LinkMaterializer, bool) {
	e, ok := r.lookup(nodeType)
	if !ok {
		return nil, false
	}
	m, ok := e.(LinkMaterializer)
	return m, ok
}

// StructuralBuilder returns nodeType's StructuralBuilder capability, if any.
func (r *Registry) StructuralBuilder(nodeType string) (StructuralBuilder, bool) {
	e, ok := r.lookup(nodeType)
	if !ok {
		return nil, false
	}
	b, ok := e.(StructuralBuilder)
	return b, ok
}

// RuntimeConfigurator returns nodeType's RuntimeConfigurator capability, if any.
func (r *Registry) RuntimeConfigurator(nodeType string) (RuntimeConfigurator, bool) {
	e, ok := r.lookup(nodeType)
	if !ok {
		return nil, false
	}
	c, ok := e.(RuntimeConfigurator)
	return c, ok
}

// RouteInitializer returns nodeType's RouteInitializer capability, if any.
func (r *Registry) RouteInitializer(nodeType string) (RouteInitializer, bool) {
	e, ok := r.lookup(nodeType)
	if !ok {
		return nil, false
	}
	ri, ok := e.(RouteInitializer)
	return ri, ok
}

// MetadataBuilder returns nodeType's MetadataBuilder capability, if any.
func (r *Registry) MetadataBuilder(nodeType string) (MetadataBuilder, bool) {
	e, ok := r.lookup(nodeType)
	if !ok {
		return nil, false
	}
	m, ok := e.(MetadataBuilder)
	return m, ok
}

// ToolsBuilder returns nodeType's ToolsBuilder capability, if any.
func (r *Registry) ToolsBuilder(nodeType string) (ToolsBuilder, bool) {
	e, ok := r.lookup(nodeType)
	if !ok {
		return nil, false
	}
	t, ok := e.(ToolsBuilder)
	return t, ok
}

// HasFlowExecutor reports whether nodeType can participate as a flow node
// (the Flow Executor's partitioning rule: a registered FlowExecutor or
// SingleShotExecutor capability, rather than sniffing edge handle names
// for "agent"/"tools").
func (r *Registry) HasFlowExecutor(nodeType string) bool {
	if _, ok := r.FlowExecutor(nodeType); ok {
		return true
	}
	_, ok := r.SingleShotExecutor(nodeType)
	return ok
}

// CatalogEntry describes one registered node type for discovery/UI
// surfaces, reporting which capabilities it implements.
type CatalogEntry struct {
	NodeType               string
	HasFlowExecutor        bool
	HasSingleShotExecutor  bool
	HasLinkMaterializer    bool
	HasStructuralBuilder   bool
	HasRuntimeConfigurator bool
	HasRouteInitializer    bool
}

// Catalog lists every registered node type and its capabilities, sorted
// by node type for deterministic output (used by discovery/UI endpoints,
// never by execution logic).
func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entries))
	for nodeType := range r.entries {
		types = append(types, nodeType)
	}
	sort.Strings(types)

	out := make([]CatalogEntry, 0, len(types))
	for _, nodeType := range types {
		e := r.entries[nodeType]
		_, hasFlow := e.(FlowExecutor)
		_, hasSingleShot := e.(SingleShotExecutor)
		_, hasLink := e.(LinkMaterializer)
		_, hasBuild := e.(StructuralBuilder)
		_, hasConfig := e.(RuntimeConfigurator)
		_, hasRoutes := e.(RouteInitializer)
		out = append(out, CatalogEntry{
			NodeType:               nodeType,
			HasFlowExecutor:        hasFlow,
			HasSingleShotExecutor:  hasSingleShot,
			HasLinkMaterializer:    hasLink,
			HasStructuralBuilder:   hasBuild,
			HasRuntimeConfigurator: hasConfig,
			HasRouteInitializer:    hasRoutes,
		})
	}
	return out
}

// Describe renders a CatalogEntry as a short human-readable capability
// summary, e.g. "agent: [flow link]".
func (c CatalogEntry) Describe() string {
	var caps []string
	if c.HasFlowExecutor {
		caps = append(caps, "flow")
	}
	if c.HasLinkMaterializer {
		caps = append(caps, "link")
	}
	if c.HasStructuralBuilder {
		caps = append(caps, "build")
	}
	if c.HasRuntimeConfigurator {
		caps = append(caps, "configure")
	}
	if c.HasRouteInitializer {
		caps = append(caps, "routes")
	}
	if len(caps) == 0 {
		return fmt.Sprintf("%s: (no capabilities)", c.NodeType)
	}
	return fmt.Sprintf("%s: %v", c.NodeType, caps)
}
