// Package routeindex implements the Node Route Index: a process-wide
// map from (node_type, route_id) to the owning agent and node, kept current
// as agents are saved, plus an HTTP-facing webhook dispatcher that resolves
// an inbound request to its target node.
package routeindex

import (
	"strings"
	"sync"

	"github.com/covalt-run/flowruntime/graph"
)

// Target identifies the agent/node a route resolves to.
type Target struct {
	AgentID string
	NodeID  string
}

type routeKey struct {
	nodeType string
	routeID  string
}

// DuplicateRouteHandler is invoked when indexing a graph would overwrite an
// existing (node_type, route_id) entry owned by a different agent or node,
// letting the caller log it the way the original does at error level
// rather than failing the save.
type DuplicateRouteHandler func(nodeType, routeID string, previous, next Target)

// Index is the process-wide (node_type, route_id) -> Target map.
type Index struct {
	mu           sync.Mutex
	routes       map[routeKey]Target
	routesByAgent map[string]map[routeKey]bool
	onDuplicate  DuplicateRouteHandler
}

// New constructs an empty Index. onDuplicate may be nil.
func New(onDuplicate DuplicateRouteHandler) *Index {
	return &Index{
		routes:        make(map[routeKey]Target),
		routesByAgent: make(map[string]map[routeKey]bool),
		onDuplicate:   onDuplicate,
	}
}

// UpdateAgentRoutes replaces agentID's contribution to the index with the
// routes extracted from g, overwriting a duplicate key last-write-wins
//.
func (idx *Index) UpdateAgentRoutes(agentID string, g graph.Graph) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeAgentRoutesLocked(agentID)
	idx.indexAgentGraphLocked(agentID, g)
}

// RemoveAgentRoutes drops every route owned by agentID, used when an agent
// is deleted.
func (idx *Index) RemoveAgentRoutes(agentID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeAgentRoutesLocked(agentID)
}

// Resolve looks up (nodeType, routeID)'s target.
func (idx *Index) Resolve(nodeType, routeID string) (Target, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	target, ok := idx.routes[routeKey{nodeType, routeID}]
	return target, ok
}

// Rebuild clears the index and reindexes every (agentID, graph) pair in
// agents, used at process startup and by the
// reaper's periodic consistency sweep.
func (idx *Index) Rebuild(agents map[string]graph.Graph) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.routes = make(map[routeKey]Target)
	idx.routesByAgent = make(map[string]map[routeKey]bool)
	for agentID, g := range agents {
		idx.indexAgentGraphLocked(agentID, g)
	}
}

func (idx *Index) removeAgentRoutesLocked(agentID string) {
	keys := idx.routesByAgent[agentID]
	delete(idx.routesByAgent, agentID)
	for key := range keys {
		delete(idx.routes, key)
	}
}

func (idx *Index) indexAgentGraphLocked(agentID string, g graph.Graph) {
	for _, node := range g.Nodes {
		routeID := extractRouteID(node)
		if routeID == "" {
			continue
		}

		key := routeKey{node.Type, routeID}
		target := Target{AgentID: agentID, NodeID: node.ID}

		if existing, ok := idx.routes[key]; ok && (existing.AgentID != agentID || existing.NodeID != node.ID) {
			if idx.onDuplicate != nil {
				idx.onDuplicate(node.Type, routeID, existing, target)
			}
		}

		idx.routes[key] = target
		if idx.routesByAgent[agentID] == nil {
			idx.routesByAgent[agentID] = make(map[routeKey]bool)
		}
		idx.routesByAgent[agentID][key] = true
	}
}

// extractRouteID reads a node's route identifier out of its data payload:
// webhook-trigger nodes key off "hookId", every other routable node type
// keys off "routeId".
func extractRouteID(node graph.Node) string {
	var raw any
	if node.Type == "webhook-trigger" {
		raw = node.Data["hookId"]
	} else {
		raw = node.Data["routeId"]
	}
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
