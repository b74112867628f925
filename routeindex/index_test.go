package routeindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/routeindex"
)

func webhookGraph(hookID string) graph.Graph {
	return graph.Graph{
		Nodes: []graph.Node{
			{ID: "n1", Type: "webhook-trigger", Data: map[string]any{"hookId": hookID}},
		},
	}
}

func TestResolveUnknownRouteFails(t *testing.T) {
	idx := routeindex.New(nil)
	_, ok := idx.Resolve("webhook-trigger", "missing")
	require.False(t, ok)
}

func TestUpdateAgentRoutesIndexesWebhookTriggers(t *testing.T) {
	idx := routeindex.New(nil)
	idx.UpdateAgentRoutes("agent1", webhookGraph("hook-a"))

	target, ok := idx.Resolve("webhook-trigger", "hook-a")
	require.True(t, ok)
	require.Equal(t, "agent1", target.AgentID)
	require.Equal(t, "n1", target.NodeID)
}

func TestUpdateAgentRoutesReplacesPriorContribution(t *testing.T) {
	idx := routeindex.New(nil)
	idx.UpdateAgentRoutes("agent1", webhookGraph("hook-a"))
	idx.UpdateAgentRoutes("agent1", webhookGraph("hook-b"))

	_, ok := idx.Resolve("webhook-trigger", "hook-a")
	require.False(t, ok)
	_, ok = idx.Resolve("webhook-trigger", "hook-b")
	require.True(t, ok)
}

func TestRemoveAgentRoutesDropsAllOfThatAgentsRoutes(t *testing.T) {
	idx := routeindex.New(nil)
	idx.UpdateAgentRoutes("agent1", webhookGraph("hook-a"))
	idx.RemoveAgentRoutes("agent1")

	_, ok := idx.Resolve("webhook-trigger", "hook-a")
	require.False(t, ok)
}

func TestDuplicateRouteInvokesHandler(t *testing.T) {
	var calls int
	idx := routeindex.New(func(nodeType, routeID string, previous, next routeindex.Target) {
		calls++
	})

	idx.UpdateAgentRoutes("agent1", webhookGraph("hook-a"))
	idx.UpdateAgentRoutes("agent2", webhookGraph("hook-a"))

	require.Equal(t, 1, calls)
	target, ok := idx.Resolve("webhook-trigger", "hook-a")
	require.True(t, ok)
	require.Equal(t, "agent2", target.AgentID)
}

func TestRebuildReplacesEntireIndex(t *testing.T) {
	idx := routeindex.New(nil)
	idx.UpdateAgentRoutes("agent1", webhookGraph("hook-a"))

	idx.Rebuild(map[string]graph.Graph{"agent2": webhookGraph("hook-b")})

	_, ok := idx.Resolve("webhook-trigger", "hook-a")
	require.False(t, ok)
	_, ok = idx.Resolve("webhook-trigger", "hook-b")
	require.True(t, ok)
}
