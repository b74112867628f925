package agentstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/agentstore"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/routeindex"
	"github.com/covalt-run/flowruntime/store/sqlite"
)

func testDB(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "agents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetAgentDefaultGraph(t *testing.T) {
	db := testDB(t)
	store := agentstore.New(db.DB(), nil, nil, nil, nil)

	agentID, err := store.Create("My Agent", "does things")
	require.NoError(t, err)
	require.NotEmpty(t, agentID)

	g, ok, err := store.GraphForAgent(agentID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
}

func TestSaveGraphOverwritesAndReindexesRoutes(t *testing.T) {
	db := testDB(t)
	routes := routeindex.New(nil)
	store := agentstore.New(db.DB(), nil, routes, nil, nil)

	agentID, err := store.Create("My Agent", "")
	require.NoError(t, err)

	nodes := []graph.Node{
		{ID: "webhook-1", Type: "webhook", Data: map[string]any{"routeId": "my-route"}},
	}
	g, err := store.SaveGraph(agentID, nodes, nil)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)

	target, ok := routes.Resolve("webhook", "my-route")
	require.True(t, ok)
	require.Equal(t, agentID, target.AgentID)
	require.Equal(t, "webhook-1", target.NodeID)
}

func TestSaveGraphOnUnknownAgentFails(t *testing.T) {
	db := testDB(t)
	store := agentstore.New(db.DB(), nil, nil, nil, nil)

	_, err := store.SaveGraph("missing", nil, nil)
	require.Error(t, err)
}

func TestDeleteRemovesAgentAndRoutes(t *testing.T) {
	db := testDB(t)
	routes := routeindex.New(nil)
	store := agentstore.New(db.DB(), nil, routes, nil, nil)

	agentID, err := store.Create("My Agent", "")
	require.NoError(t, err)
	nodes := []graph.Node{{ID: "webhook-1", Type: "webhook", Data: map[string]any{"routeId": "r1"}}}
	_, err = store.SaveGraph(agentID, nodes, nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete(agentID))

	_, ok, err := store.GraphForAgent(agentID)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok = routes.Resolve("webhook", "r1")
	require.False(t, ok)
}

func TestRebuildReindexesEveryAgent(t *testing.T) {
	db := testDB(t)
	routes := routeindex.New(nil)
	store := agentstore.New(db.DB(), nil, routes, nil, nil)

	agentID, err := store.Create("My Agent", "")
	require.NoError(t, err)
	nodes := []graph.Node{{ID: "webhook-1", Type: "webhook", Data: map[string]any{"routeId": "r1"}}}
	_, err = store.SaveGraph(agentID, nodes, nil)
	require.NoError(t, err)

	fresh := routeindex.New(nil)
	freshStore := agentstore.New(db.DB(), nil, fresh, nil, nil)
	require.NoError(t, freshStore.Rebuild())

	target, ok := fresh.Resolve("webhook", "r1")
	require.True(t, ok)
	require.Equal(t, agentID, target.AgentID)
}

func TestGraphForChatWithExplicitBareModelBuildsCanonicalGraph(t *testing.T) {
	db := testDB(t)
	chats := sqlite.Chats(db)
	store := agentstore.New(db.DB(), nil, nil, chats, db)

	_, err := chats.EnsureChatInitialized("chat-1", "")
	require.NoError(t, err)

	g, err := store.GraphForChat("chat-1", "anthropic:claude-sonnet", nil)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)

	var agentNode *graph.Node
	for i := range g.Nodes {
		if g.Nodes[i].Type == "agent" {
			agentNode = &g.Nodes[i]
		}
	}
	require.NotNil(t, agentNode)
	require.Equal(t, "anthropic:claude-sonnet", agentNode.Data["model"])
}

func TestGraphForChatWithAgentPrefixLoadsSavedAgent(t *testing.T) {
	db := testDB(t)
	chats := sqlite.Chats(db)
	store := agentstore.New(db.DB(), nil, nil, chats, db)

	agentID, err := store.Create("Custom", "")
	require.NoError(t, err)
	_, err = chats.EnsureChatInitialized("chat-1", "")
	require.NoError(t, err)

	g, err := store.GraphForChat("chat-1", "agent:"+agentID, nil)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)
}

func TestGraphForChatFallsBackToPersistedAgentSelection(t *testing.T) {
	db := testDB(t)
	chats := sqlite.Chats(db)
	store := agentstore.New(db.DB(), nil, nil, chats, db)

	agentID, err := store.Create("Custom", "")
	require.NoError(t, err)
	_, err = chats.EnsureChatInitialized("chat-1", "")
	require.NoError(t, err)
	require.NoError(t, chats.UpdateChatModelSelection("chat-1", "agent:"+agentID))

	g, err := store.GraphForChat("chat-1", "", nil)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)
}

func TestGraphForChatMergesValidatedModelOptionsIntoAgentNode(t *testing.T) {
	db := testDB(t)
	chats := sqlite.Chats(db)
	store := agentstore.New(db.DB(), nil, nil, chats, db)

	_, err := chats.EnsureChatInitialized("chat-1", "")
	require.NoError(t, err)

	g, err := store.GraphForChat("chat-1", "openai:gpt-5", map[string]any{"temperature": 0.3})
	require.NoError(t, err)

	var agentNode *graph.Node
	for i := range g.Nodes {
		if g.Nodes[i].Type == "agent" {
			agentNode = &g.Nodes[i]
		}
	}
	require.NotNil(t, agentNode)
	require.Equal(t, 0.3, agentNode.Data["temperature"])
}
