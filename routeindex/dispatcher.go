package routeindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/covalt-run/flowruntime/graph"
)

// defaultHookRateLimit and defaultHookBurst bound how often a single
// webhook hook id may be dispatched, independent of how many distinct
// agents or hooks exist; a runaway or abusive caller hitting one hook
// shouldn't be able to starve the flow executor for every other hook.
const (
	defaultHookRateLimit = 5 // requests per second
	defaultHookBurst     = 10
)

// FlowEvent is the dispatcher's view of one Flow Executor lifecycle event,
// translated from hooks.Event by the caller's FlowRunner implementation so
// this package never imports flowexec (it is invoked by the orchestrator,
// which owns that dependency).
type FlowEvent struct {
	NodeID    string
	NodeType  string
	EventType string // "started" | "completed" | "result" | "error" | "progress" | "agent_event"
	Data      map[string]any
}

// TriggerPayload is the expression-context-visible shape of a webhook
// invocation, assembled before the flow runs and exposed to node
// expressions as `trigger`.
type TriggerPayload struct {
	Body        any
	HookID      string
	AgentID     string
	NodeID      string
	ReceivedAt  time.Time
	Headers     map[string]string
	Query       map[string]string
	Method      string
	Path        string
	Remote      string
	ContentType string
}

// AgentGraphLookup resolves an agent id to its current graph, used to find
// the triggering node's configuration at dispatch time.
type AgentGraphLookup interface {
	GetAgentGraph(agentID string) (graph.Graph, bool)
}

// FlowRunner executes a graph from entryNodeID and streams lifecycle
// events, implemented by the orchestrator over the Flow Executor.
type FlowRunner interface {
	RunFromNode(ctx context.Context, runID string, g graph.Graph, entryNodeID string, trigger TriggerPayload) (<-chan FlowEvent, error)
}

// WebhookDispatcher serves POST /webhooks/{hookID}, resolving the hook to
// its owning webhook-trigger node, validating the request against the
// node's configured schema and shared secret, and streaming or buffering
// the run's result back to the caller.
type WebhookDispatcher struct {
	index  *Index
	agents AgentGraphLookup
	runner FlowRunner

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewWebhookDispatcher constructs a WebhookDispatcher.
func NewWebhookDispatcher(index *Index, agents AgentGraphLookup, runner FlowRunner) *WebhookDispatcher {
	return &WebhookDispatcher{
		index:    index,
		agents:   agents,
		runner:   runner,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns hookID's rate limiter, creating one on first use.
func (d *WebhookDispatcher) limiterFor(hookID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	limiter, ok := d.limiters[hookID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(defaultHookRateLimit), defaultHookBurst)
		d.limiters[hookID] = limiter
	}
	return limiter
}

// ServeHTTP implements http.Handler. It expects to be mounted so hookID is
// available via r.PathValue("hookID") (an http.ServeMux pattern of
// "POST /webhooks/{hookID}").
func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hookID := r.PathValue("hookID")

	target, ok := d.index.Resolve("webhook-trigger", hookID)
	if !ok {
		http.Error(w, "webhook not found", http.StatusNotFound)
		return
	}

	if !d.limiterFor(hookID).Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	g, ok := d.agents.GetAgentGraph(target.AgentID)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	node, ok := findNode(g, target.NodeID)
	if !ok {
		http.Error(w, "webhook node not found", http.StatusNotFound)
		return
	}

	allowSSE, _ := node.Data["allowSse"].(bool)
	if _, present := node.Data["allowSse"]; !present {
		allowSSE = true
	}
	wantsSSE := wantsSSE(r) && allowSSE

	body, bodyParsedAsJSON, err := readBody(r)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if schemaRaw, hasSchema := node.Data["schema"]; hasSchema {
		if !bodyParsedAsJSON {
			http.Error(w, "request body must be valid JSON", http.StatusBadRequest)
			return
		}
		if err := validateAgainstSchema(schemaRaw, body); err != nil {
			http.Error(w, fmt.Sprintf("schema validation failed: %v", err), http.StatusBadRequest)
			return
		}
	}

	if secret, _ := node.Data["secret"].(string); strings.TrimSpace(secret) != "" {
		headerName := "x-webhook-secret"
		if configured, ok := node.Data["secretHeader"].(string); ok && strings.TrimSpace(configured) != "" {
			headerName = configured
		}
		if r.Header.Get(headerName) != secret {
			http.Error(w, "invalid webhook secret", http.StatusForbidden)
			return
		}
	}

	trigger := buildTriggerPayload(hookID, target, r, body)
	runID := newRunID()

	events, err := d.runner.RunFromNode(r.Context(), runID, g, target.NodeID, trigger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if wantsSSE {
		d.serveSSE(w, runID, events)
		return
	}
	d.serveBuffered(w, events)
}

func (d *WebhookDispatcher) serveSSE(w http.ResponseWriter, runID string, events <-chan FlowEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, canFlush := w.(http.Flusher)
	writeSSE(w, "RunStarted", map[string]any{"runId": runID})
	if canFlush {
		flusher.Flush()
	}

	var response map[string]any
	for event := range events {
		switch event.EventType {
		case "progress":
			if token, _ := event.Data["token"].(string); token != "" {
				writeSSE(w, "RunContent", map[string]any{"content": token})
			}
		case "agent_event":
			payload := cloneMap(event.Data)
			name, _ := payload["event"].(string)
			if name == "" {
				name = "agent_event"
			}
			delete(payload, "event")
			writeSSE(w, name, payload)
		case "result":
			if resp := extractWebhookResponse(event); resp != nil {
				response = resp
			}
			if name, payload, ok := nodeEventPayload(event); ok {
				writeSSE(w, name, payload)
			}
		case "error":
			if name, payload, ok := nodeEventPayload(event); ok {
				writeSSE(w, name, payload)
			}
			errMsg, _ := event.Data["error"].(string)
			if errMsg == "" {
				errMsg = "unknown node error"
			}
			writeSSE(w, "RunError", map[string]any{"error": errMsg})
			if canFlush {
				flusher.Flush()
			}
			return
		default:
			if name, payload, ok := nodeEventPayload(event); ok {
				writeSSE(w, name, payload)
			}
		}
		if canFlush {
			flusher.Flush()
		}
	}

	if response != nil {
		writeSSE(w, "RunCompleted", map[string]any{"response": response})
	} else {
		writeSSE(w, "RunCompleted", map[string]any{})
	}
	if canFlush {
		flusher.Flush()
	}
}

func (d *WebhookDispatcher) serveBuffered(w http.ResponseWriter, events <-chan FlowEvent) {
	var response map[string]any
	var runErr string

	for event := range events {
		switch event.EventType {
		case "result":
			if resp := extractWebhookResponse(event); resp != nil {
				response = resp
			}
		case "error":
			if msg, _ := event.Data["error"].(string); msg != "" {
				runErr = msg
			} else {
				runErr = "unknown node error"
			}
		}
	}

	if runErr != "" {
		http.Error(w, runErr, http.StatusInternalServerError)
		return
	}
	if response == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeHTTPResponse(w, response)
}

func findNode(g graph.Graph, nodeID string) (graph.Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == nodeID {
			return n, true
		}
	}
	return graph.Node{}, false
}

func wantsSSE(r *http.Request) bool {
	switch r.URL.Query().Get("stream") {
	case "1", "true", "yes":
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func readBody(r *http.Request) (body any, parsedAsJSON bool, err error) {
	raw, err := readAll(r)
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	var decoded any
	if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil {
		return decoded, true, nil
	}
	return string(raw), false, nil
}

func readAll(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildTriggerPayload(hookID string, target Target, r *http.Request, body any) TriggerPayload {
	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}
	query := make(map[string]string, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}
	return TriggerPayload{
		Body:        body,
		HookID:      hookID,
		AgentID:     target.AgentID,
		NodeID:      target.NodeID,
		ReceivedAt:  time.Now().UTC(),
		Headers:     headers,
		Query:       query,
		Method:      r.Method,
		Path:        r.URL.Path,
		Remote:      r.RemoteAddr,
		ContentType: r.Header.Get("Content-Type"),
	}
}

func nodeEventPayload(event FlowEvent) (name string, payload map[string]any, ok bool) {
	switch event.EventType {
	case "started":
		return "FlowNodeStarted", map[string]any{"nodeId": event.NodeID, "nodeType": event.NodeType}, true
	case "completed":
		return "FlowNodeCompleted", map[string]any{"nodeId": event.NodeID, "nodeType": event.NodeType}, true
	case "result":
		return "FlowNodeResult", map[string]any{
			"nodeId": event.NodeID, "nodeType": event.NodeType, "outputs": event.Data["outputs"],
		}, true
	case "error":
		errMsg, _ := event.Data["error"].(string)
		if errMsg == "" {
			errMsg = "unknown node error"
		}
		return "FlowNodeError", map[string]any{
			"nodeId": event.NodeID, "nodeType": event.NodeType, "error": errMsg,
		}, true
	}
	return "", nil, false
}

// extractWebhookResponse pulls a webhook-end node's response payload out
// of a result event, returning nil unless the node is specifically a
// webhook-end whose "response" output is an object.
func extractWebhookResponse(event FlowEvent) map[string]any {
	if event.NodeType != "webhook-end" || event.EventType != "result" {
		return nil
	}
	outputs, _ := event.Data["outputs"].(map[string]any)
	response, _ := outputs["response"].(map[string]any)
	value, _ := response["value"].(map[string]any)
	return value
}

func writeHTTPResponse(w http.ResponseWriter, response map[string]any) {
	status := 200
	if s, ok := response["status"]; ok {
		if n, ok := toInt(s); ok {
			status = n
		}
	}
	if headers, ok := response["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				w.Header().Set(key, s)
			}
		}
	}

	body := response["body"]
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	switch b := body.(type) {
	case string:
		w.WriteHeader(status)
		_, _ = w.Write([]byte(b))
	case []byte:
		w.WriteHeader(status)
		_, _ = w.Write(b)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func writeSSE(w http.ResponseWriter, event string, data map[string]any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		encoded = []byte("{}")
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// validateAgainstSchema validates body against a node's raw JSON schema
// payload (stored as `any` inside node.Data, since it arrives as decoded
// JSON rather than a json.RawMessage).
func validateAgainstSchema(raw any, body any) error {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(encoded, &schema); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return resolved.Validate(body)
}

// newRunID generates a run id for a webhook-triggered run, mirroring the
// original's str(uuid.uuid4()) (webhook runs aren't otherwise associated
// with a chat id, so they bypass the orchestrator's own id allocation).
func newRunID() string {
	return uuid.NewString()
}
