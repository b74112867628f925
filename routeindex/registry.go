package routeindex

import "strings"

// RouteResponse is what a NodeRouteHandler returns for a custom node route
// (distinct from a webhook-trigger dispatch, which always streams or
// returns the webhook-end node's payload).
type RouteResponse struct {
	Status  int
	Headers map[string]string
	Body    any
}

// RouteContext is passed to a NodeRouteHandler.
type RouteContext struct {
	NodeType string
	RouteID  string
	NodeID   string
	AgentID  string
	NodeData map[string]any
	Method   string
	Path     string
	Subpath  string
	Body     any
}

// NodeRouteHandler serves one custom node-defined HTTP route.
type NodeRouteHandler func(ctx RouteContext) (RouteResponse, error)

// nodeRoute is one registered custom route.
type nodeRoute struct {
	nodeType string
	path     string
	methods  map[string]bool
	handler  NodeRouteHandler
}

// Registry matches inbound node-route requests to a registered handler by
// (node_type, normalized path, method), supporting a trailing "/*" wildcard
// segment whose remainder is passed through as RouteContext.Subpath.
type Registry struct {
	routes []nodeRoute
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a route for nodeType at path, accepting methods (case
// insensitive; empty means any method).
func (r *Registry) Register(nodeType, path string, methods []string, handler NodeRouteHandler) {
	normalizedMethods := make(map[string]bool, len(methods))
	for _, m := range methods {
		normalizedMethods[strings.ToUpper(m)] = true
	}
	r.routes = append(r.routes, nodeRoute{
		nodeType: nodeType,
		path:     normalizePath(path),
		methods:  normalizedMethods,
		handler:  handler,
	})
}

// Match finds the first registered route for nodeType whose method and
// path pattern match, returning its handler and the unmatched wildcard
// remainder.
func (r *Registry) Match(nodeType, path, method string) (NodeRouteHandler, string, bool) {
	normalizedPath := normalizePath(path)
	method = strings.ToUpper(method)

	for _, route := range r.routes {
		if route.nodeType != nodeType {
			continue
		}
		if len(route.methods) > 0 && !route.methods[method] {
			continue
		}
		if subpath, ok := matchPath(route.path, normalizedPath); ok {
			return route.handler, subpath, true
		}
	}
	return nil, "", false
}

func normalizePath(path string) string {
	return strings.Trim(path, "/")
}

// matchPath mirrors node_route_registry.py's _match_path: a registered
// path ending in "/*" matches any incoming path sharing its prefix,
// returning the remainder after the prefix as subpath; otherwise the paths
// must match exactly.
func matchPath(registered, incoming string) (subpath string, ok bool) {
	if strings.HasSuffix(registered, "/*") {
		prefix := strings.TrimSuffix(strings.TrimSuffix(registered, "/*"), "/")
		if prefix == "" {
			return incoming, true
		}
		if incoming == prefix {
			return "", true
		}
		if strings.HasPrefix(incoming, prefix+"/") {
			return incoming[len(prefix)+1:], true
		}
		return "", false
	}
	if registered == incoming {
		return "", true
	}
	return "", false
}
