package routeindex

import (
	"encoding/json"
	"net/http"
	"strings"
)

// NodeRoutesHandler serves ANY /nodes/{nodeType}/{routeID}[/{subpath...}]:
// the route is matched against the Registry by (type, method, path) and
// the owning agent/node resolved through the Index so the handler sees its
// node's saved configuration.
type NodeRoutesHandler struct {
	registry *Registry
	index    *Index
	agents   AgentGraphLookup
}

// NewNodeRoutesHandler constructs a NodeRoutesHandler. agents may be nil
// when no handler needs its node's saved data.
func NewNodeRoutesHandler(registry *Registry, index *Index, agents AgentGraphLookup) *NodeRoutesHandler {
	return &NodeRoutesHandler{registry: registry, index: index, agents: agents}
}

// ServeHTTP expects to be mounted with a "/nodes/{nodeType}/{rest...}"
// pattern so nodeType and rest resolve via r.PathValue.
func (h *NodeRoutesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nodeType := r.PathValue("nodeType")
	rest := r.PathValue("rest")

	handler, subpath, ok := h.registry.Match(nodeType, rest, r.Method)
	if !ok {
		http.Error(w, "route not found", http.StatusNotFound)
		return
	}

	routeID := rest
	if i := strings.IndexByte(routeID, '/'); i >= 0 {
		routeID = routeID[:i]
	}

	rctx := RouteContext{
		NodeType: nodeType,
		RouteID:  routeID,
		Method:   r.Method,
		Path:     r.URL.Path,
		Subpath:  subpath,
	}

	if target, ok := h.index.Resolve(nodeType, routeID); ok {
		rctx.AgentID = target.AgentID
		rctx.NodeID = target.NodeID
		if h.agents != nil {
			if g, ok := h.agents.GetAgentGraph(target.AgentID); ok {
				if node, ok := findNode(g, target.NodeID); ok {
					rctx.NodeData = node.Data
				}
			}
		}
	}

	body, _, err := readBody(r)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	rctx.Body = body

	response, err := handler(rctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	status := response.Status
	if status == 0 {
		status = http.StatusOK
	}
	if response.Body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response.Body)
}
