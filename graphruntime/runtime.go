// Package graphruntime implements the per-run Graph Runtime: the kernel
// that owns one run's graph topology, answers adjacency queries, resolves
// link-channel edges into structural artifacts, and memoizes both within
// the run while detecting resolution cycles.
package graphruntime

import (
	"context"
	"fmt"

	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/hooks"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// MaterializerLookup resolves a node type to its LinkMaterializer
// capability, if the registered executor has one. nodeexec.Registry
// satisfies this; tests may supply a map-backed stand-in.
type MaterializerLookup interface {
	Materializer(nodeType string) (nodeexec.LinkMaterializer, bool)
}

type nodeKey struct {
	node    string
	channel graph.Channel
}

type handleKey struct {
	node    string
	channel graph.Channel
	handle  string
}

// resolutionMarker identifies one in-flight resolve/materialize operation
// on the stack used for cycle detection.
type resolutionMarker struct {
	op     string
	nodeID string
	handle string
}

// Runtime is one per-run instance of the Graph Runtime. It is owned by the
// run's single executor fiber and is not safe for concurrent use
// from multiple goroutines.
type Runtime struct {
	runID  string
	chatID string
	state  any
	tools  nodeexec.ToolRegistry
	bus    hooks.Bus

	executors MaterializerLookup

	nodesByID map[string]graph.Node

	incomingByNode        map[string][]graph.Edge
	incomingByNodeChannel map[nodeKey][]graph.Edge
	outgoingByNode        map[string][]graph.Edge
	outgoingByNodeChannel map[nodeKey][]graph.Edge

	cache            map[string]map[string]any
	resolutionStack  []resolutionMarker
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithState attaches caller-supplied run state (e.g. conversation history)
// retrievable by executors via FlowContext.State.
func WithState(state any) Option {
	return func(r *Runtime) { r.state = state }
}

// WithToolRegistry attaches the tool-lookup handle passed to executors.
func WithToolRegistry(tools nodeexec.ToolRegistry) Option {
	return func(r *Runtime) { r.tools = tools }
}

// WithExecutors overrides the executor lookup, primarily for tests that
// want to stub materialization without a full nodeexec.Registry.
func WithExecutors(lookup MaterializerLookup) Option {
	return func(r *Runtime) { r.executors = lookup }
}

// WithBus attaches the event bus a LinkMaterializer's FlowContext.Bus is
// populated with, letting link-channel materialization (sub-agent/tool
// resolution triggered mid-run, not just at flowexec dispatch) publish
// events through the same bus the run's flow nodes use.
func WithBus(bus hooks.Bus) Option {
	return func(r *Runtime) { r.bus = bus }
}

// New builds a Runtime over g for one run. Edges referencing a missing
// source or target were already dropped by graph.Normalizer; New assumes g
// is already normalized and returns an error only if an edge's channel is
// invalid (defense in depth against a caller skipping normalization).
func New(g graph.Graph, runID, chatID string, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		runID:                 runID,
		chatID:                chatID,
		nodesByID:             make(map[string]graph.Node, len(g.Nodes)),
		incomingByNode:        make(map[string][]graph.Edge),
		incomingByNodeChannel: make(map[nodeKey][]graph.Edge),
		outgoingByNode:        make(map[string][]graph.Edge),
		outgoingByNodeChannel: make(map[nodeKey][]graph.Edge),
		cache:                 make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, n := range g.Nodes {
		if n.ID != "" {
			r.nodesByID[n.ID] = n
		}
	}

	for _, e := range g.Edges {
		if e.Source == "" || e.Target == "" {
			continue
		}
		channel, err := e.Channel()
		if err != nil {
			return nil, err
		}

		r.incomingByNode[e.Target] = append(r.incomingByNode[e.Target], e)
		r.incomingByNodeChannel[nodeKey{e.Target, channel}] = append(r.incomingByNodeChannel[nodeKey{e.Target, channel}], e)
		r.outgoingByNode[e.Source] = append(r.outgoingByNode[e.Source], e)
		r.outgoingByNodeChannel[nodeKey{e.Source, channel}] = append(r.outgoingByNodeChannel[nodeKey{e.Source, channel}], e)
	}

	return r, nil
}

// GetNode returns the node with the given id, or a Resolution error if
// unknown.
func (r *Runtime) GetNode(nodeID string) (graph.Node, error) {
	n, ok := r.nodesByID[nodeID]
	if !ok {
		return graph.Node{}, errkind.Newf(errkind.Resolution, "unknown node id: %s", nodeID)
	}
	return n, nil
}

// WithChannel narrows an edge lookup to one channel.
func WithChannel(c graph.Channel) nodeexec.EdgeFilterOption {
	return func(f *nodeexec.EdgeFilter) { f.Channel = &c }
}

// WithTargetHandle narrows IncomingEdges to edges resolving (after
// default-handle substitution) to the given target handle.
func WithTargetHandle(handle string) nodeexec.EdgeFilterOption {
	return func(f *nodeexec.EdgeFilter) { f.Handle = &handle }
}

// WithSourceHandle narrows OutgoingEdges to edges resolving (after
// default-handle substitution) to the given source handle.
func WithSourceHandle(handle string) nodeexec.EdgeFilterOption {
	return func(f *nodeexec.EdgeFilter) { f.Handle = &handle }
}

func resolveFilter(opts []nodeexec.EdgeFilterOption) nodeexec.EdgeFilter {
	var f nodeexec.EdgeFilter
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// IncomingEdges returns the edges whose target is nodeID, optionally
// narrowed by channel and/or target handle.
func (r *Runtime) IncomingEdges(nodeID string, opts ...nodeexec.EdgeFilterOption) []graph.Edge {
	f := resolveFilter(opts)

	var candidates []graph.Edge
	if f.Channel == nil {
		candidates = r.incomingByNode[nodeID]
	} else {
		candidates = r.incomingByNodeChannel[nodeKey{nodeID, *f.Channel}]
	}

	if f.Handle == nil {
		out := make([]graph.Edge, len(candidates))
		copy(out, candidates)
		return out
	}

	out := make([]graph.Edge, 0, len(candidates))
	for _, e := range candidates {
		if e.LookupTargetHandle() == *f.Handle {
			out = append(out, e)
		}
	}
	return out
}

// OutgoingEdges returns the edges whose source is nodeID, optionally
// narrowed by channel and/or source handle.
func (r *Runtime) OutgoingEdges(nodeID string, opts ...nodeexec.EdgeFilterOption) []graph.Edge {
	f := resolveFilter(opts)

	var candidates []graph.Edge
	if f.Channel == nil {
		candidates = r.outgoingByNode[nodeID]
	} else {
		candidates = r.outgoingByNodeChannel[nodeKey{nodeID, *f.Channel}]
	}

	if f.Handle == nil {
		out := make([]graph.Edge, len(candidates))
		copy(out, candidates)
		return out
	}

	out := make([]graph.Edge, 0, len(candidates))
	for _, e := range candidates {
		if e.LookupSourceHandle() == *f.Handle {
			out = append(out, e)
		}
	}
	return out
}

// CacheGet reads a memoized value from namespace, if present.
func (r *Runtime) CacheGet(namespace, key string) (any, bool) {
	ns, ok := r.cache[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// CacheSet memoizes value under namespace/key for the remainder of the run.
func (r *Runtime) CacheSet(namespace, key string, value any) {
	ns, ok := r.cache[namespace]
	if !ok {
		ns = make(map[string]any)
		r.cache[namespace] = ns
	}
	ns[key] = value
}

// ResolveLinks walks every link edge into targetHandle on nodeID, invoking
// MaterializeOutput on each source and concatenating results (a list
// result is flattened one level). The result is memoized per
// (nodeID, targetHandle).
func (r *Runtime) ResolveLinks(ctx context.Context, nodeID, targetHandle string) ([]any, error) {
	cacheKey := nodeID + ":" + targetHandle
	if cached, ok := r.CacheGet("resolved_links", cacheKey); ok {
		return cached.([]any), nil
	}

	if err := r.enterResolutionScope("resolve", nodeID, targetHandle); err != nil {
		return nil, err
	}
	defer r.exitResolutionScope()

	flow := graph.ChannelLink
	resolved := make([]any, 0)
	for _, e := range r.IncomingEdges(nodeID, WithChannel(flow), WithTargetHandle(targetHandle)) {
		if e.Source == "" {
			continue
		}
		artifact, err := r.MaterializeOutput(ctx, e.Source, e.LookupSourceHandle())
		if err != nil {
			return nil, err
		}
		if artifact == nil {
			continue
		}
		if list, ok := artifact.([]any); ok {
			resolved = append(resolved, list...)
		} else {
			resolved = append(resolved, artifact)
		}
	}

	r.CacheSet("resolved_links", cacheKey, resolved)
	return resolved, nil
}

// MaterializeOutput dispatches to nodeID's LinkMaterializer capability for
// outputHandle, memoizing the result per (nodeID, outputHandle).
func (r *Runtime) MaterializeOutput(ctx context.Context, nodeID, outputHandle string) (any, error) {
	cacheKey := nodeID + ":" + outputHandle
	if cached, ok := r.CacheGet("materialized_output", cacheKey); ok {
		return cached, nil
	}

	if err := r.enterResolutionScope("materialize", nodeID, outputHandle); err != nil {
		return nil, err
	}
	defer r.exitResolutionScope()

	node, err := r.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	if r.executors == nil {
		return nil, errkind.Newf(errkind.Resolution, "node %q (%s) cannot materialize %q: no executor registry configured", nodeID, node.Type, outputHandle)
	}
	materializer, ok := r.executors.Materializer(node.Type)
	if !ok {
		return nil, errkind.Newf(errkind.Resolution, "node %q (%s) cannot materialize %q", nodeID, node.Type, outputHandle)
	}

	fctx := nodeexec.FlowContext{
		NodeID:  nodeID,
		ChatID:  r.chatID,
		RunID:   r.runID,
		State:   r.state,
		Runtime: r,
		Tools:   r.tools,
		Bus:     r.bus,
	}

	artifact, err := materializer.Materialize(ctx, node.Data, outputHandle, fctx)
	if err != nil {
		return nil, err
	}

	r.CacheSet("materialized_output", cacheKey, artifact)
	return artifact, nil
}

func (r *Runtime) enterResolutionScope(op, nodeID, handle string) error {
	marker := resolutionMarker{op, nodeID, handle}
	for i, m := range r.resolutionStack {
		if m == marker {
			cycle := append(append([]resolutionMarker{}, r.resolutionStack[i:]...), marker)
			return errkind.New(errkind.Topology, "link dependency cycle detected: "+formatCycle(cycle))
		}
	}
	r.resolutionStack = append(r.resolutionStack, marker)
	return nil
}

func (r *Runtime) exitResolutionScope() {
	if len(r.resolutionStack) > 0 {
		r.resolutionStack = r.resolutionStack[:len(r.resolutionStack)-1]
	}
}

func formatCycle(cycle []resolutionMarker) string {
	s := ""
	for i, m := range cycle {
		if i > 0 {
			s += " -> "
		}
		s += fmt.Sprintf("%s(%s.%s)", m.op, m.nodeID, m.handle)
	}
	return s
}

var _ nodeexec.RuntimeAPI = (*Runtime)(nil)
