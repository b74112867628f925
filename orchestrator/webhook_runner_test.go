package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/nodeexec"
	"github.com/covalt-run/flowruntime/nodeexec/builtin"
	"github.com/covalt-run/flowruntime/orchestrator"
	"github.com/covalt-run/flowruntime/routeindex"
)

// webhookGraph wires the builtin webhook-trigger into a webhook-end that
// replies 201 {ok:true}.
func webhookGraph() graph.Graph {
	return graph.Graph{
		Nodes: []graph.Node{
			{ID: "hook", Type: "webhook-trigger", Data: map[string]any{"hookId": "H"}},
			{ID: "end", Type: "webhook-end", Data: map[string]any{
				"status": 201,
				"body":   map[string]any{"ok": true},
			}},
		},
		Edges: []graph.Edge{{
			ID: "hook-end", Source: "hook", SourceHandle: "output",
			Target: "end", TargetHandle: "input",
			Data: map[string]any{"channel": "flow"},
		}},
	}
}

func collectEvents(t *testing.T, events <-chan routeindex.FlowEvent) []routeindex.FlowEvent {
	t.Helper()
	var out []routeindex.FlowEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatal("timed out waiting for flow events")
		}
	}
}

func TestRunFromNodeStreamsLifecycleAndWebhookEndResult(t *testing.T) {
	registry := nodeexec.NewRegistry()
	builtin.RegisterAll(registry, builtin.Deps{})

	orch, _, _ := newOrchestrator(t, webhookGraph())
	orch.Executors = registry

	runner := &orchestrator.WebhookRunner{Orch: orch}
	events, err := runner.RunFromNode(context.Background(), "run-1", webhookGraph(), "hook", routeindex.TriggerPayload{
		HookID: "H",
		Body:   map[string]any{"ping": true},
		Method: "POST",
	})
	require.NoError(t, err)

	collected := collectEvents(t, events)

	var types []string
	for _, ev := range collected {
		types = append(types, ev.EventType)
	}
	require.Equal(t, []string{
		"started", "completed", "result",
		"started", "completed", "result",
	}, types)

	// The webhook-end result must carry the response the dispatcher
	// extracts its HTTP reply from.
	last := collected[len(collected)-1]
	require.Equal(t, "webhook-end", last.NodeType)
	outputs := last.Data["outputs"].(map[string]any)
	response := outputs["response"].(map[string]any)["value"].(map[string]any)
	require.Equal(t, 201, response["status"])
	require.Equal(t, map[string]any{"ok": true}, response["body"])
}

func TestRunFromNodeSkipsNodesOutsideEntrySubgraph(t *testing.T) {
	g := webhookGraph()
	g.Nodes = append(g.Nodes, graph.Node{ID: "stray", Type: "echo"})

	registry := nodeexec.NewRegistry()
	builtin.RegisterAll(registry, builtin.Deps{})
	registry.Register("echo", echoExec{})

	orch, _, _ := newOrchestrator(t, g)
	orch.Executors = registry

	runner := &orchestrator.WebhookRunner{Orch: orch}
	events, err := runner.RunFromNode(context.Background(), "run-2", g, "hook", routeindex.TriggerPayload{HookID: "H"})
	require.NoError(t, err)

	for _, ev := range collectEvents(t, events) {
		require.NotEqual(t, "stray", ev.NodeID)
	}
}
