package routeindex_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/routeindex"
)

type fakeAgentLookup struct {
	graphs map[string]graph.Graph
}

func (f fakeAgentLookup) GetAgentGraph(agentID string) (graph.Graph, bool) {
	g, ok := f.graphs[agentID]
	return g, ok
}

type fakeRunner struct {
	events []routeindex.FlowEvent
}

func (f fakeRunner) RunFromNode(ctx context.Context, runID string, g graph.Graph, entryNodeID string, trigger routeindex.TriggerPayload) (<-chan routeindex.FlowEvent, error) {
	ch := make(chan routeindex.FlowEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func webhookEndResultGraph(hookID string) graph.Graph {
	return graph.Graph{
		Nodes: []graph.Node{
			{ID: "n1", Type: "webhook-trigger", Data: map[string]any{"hookId": hookID}},
		},
	}
}

func TestServeHTTPReturns404ForUnknownHook(t *testing.T) {
	idx := routeindex.New(nil)
	dispatcher := routeindex.NewWebhookDispatcher(idx, fakeAgentLookup{}, fakeRunner{})

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{hookID}", dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPReturnsNoContentWithoutWebhookEndResult(t *testing.T) {
	idx := routeindex.New(nil)
	idx.UpdateAgentRoutes("agent1", webhookEndResultGraph("hook-a"))

	lookup := fakeAgentLookup{graphs: map[string]graph.Graph{"agent1": webhookEndResultGraph("hook-a")}}
	runner := fakeRunner{events: []routeindex.FlowEvent{
		{NodeID: "n1", NodeType: "webhook-trigger", EventType: "started"},
		{NodeID: "n1", NodeType: "webhook-trigger", EventType: "completed"},
	}}
	dispatcher := routeindex.NewWebhookDispatcher(idx, lookup, runner)

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{hookID}", dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/hook-a", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServeHTTPReturnsWebhookEndResponseBody(t *testing.T) {
	idx := routeindex.New(nil)
	g := webhookEndResultGraph("hook-a")
	idx.UpdateAgentRoutes("agent1", g)

	lookup := fakeAgentLookup{graphs: map[string]graph.Graph{"agent1": g}}
	runner := fakeRunner{events: []routeindex.FlowEvent{
		{
			NodeID: "n2", NodeType: "webhook-end", EventType: "result",
			Data: map[string]any{
				"outputs": map[string]any{
					"response": map[string]any{
						"value": map[string]any{
							"status": 201,
							"body":   map[string]any{"ok": true},
						},
					},
				},
			},
		},
	}}
	dispatcher := routeindex.NewWebhookDispatcher(idx, lookup, runner)

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{hookID}", dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/hook-a", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestServeHTTPRateLimitsRepeatedHookDispatch(t *testing.T) {
	idx := routeindex.New(nil)
	g := webhookEndResultGraph("hook-a")
	idx.UpdateAgentRoutes("agent1", g)

	lookup := fakeAgentLookup{graphs: map[string]graph.Graph{"agent1": g}}
	runner := fakeRunner{events: []routeindex.FlowEvent{
		{NodeID: "n1", NodeType: "webhook-trigger", EventType: "completed"},
	}}
	dispatcher := routeindex.NewWebhookDispatcher(idx, lookup, runner)

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{hookID}", dispatcher)

	var lastCode int
	for i := 0; i < 40; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/hook-a", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	require.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestServeHTTPRejectsInvalidSecret(t *testing.T) {
	idx := routeindex.New(nil)
	g := graph.Graph{Nodes: []graph.Node{
		{ID: "n1", Type: "webhook-trigger", Data: map[string]any{"hookId": "hook-a", "secret": "s3cr3t"}},
	}}
	idx.UpdateAgentRoutes("agent1", g)

	lookup := fakeAgentLookup{graphs: map[string]graph.Graph{"agent1": g}}
	dispatcher := routeindex.NewWebhookDispatcher(idx, lookup, fakeRunner{})

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{hookID}", dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/hook-a", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}
