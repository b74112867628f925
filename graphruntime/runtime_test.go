package graphruntime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/graphruntime"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// stubMaterializer implements nodeexec.LinkMaterializer for tests, calling
// back into fn so tests can exercise recursive materialization (cycles,
// memoization counts) without a real node-type registry.
type stubMaterializer struct {
	nodeType string
	fn       func(ctx context.Context, nodeID, outputHandle string, rt nodeexec.RuntimeAPI) (any, error)
	calls    *int
}

func (m stubMaterializer) NodeType() string { return m.nodeType }

func (m stubMaterializer) Materialize(ctx context.Context, data map[string]any, outputHandle string, fctx nodeexec.FlowContext) (any, error) {
	if m.calls != nil {
		*m.calls++
	}
	return m.fn(ctx, fctx.NodeID, outputHandle, fctx.Runtime)
}

type stubLookup struct {
	byType map[string]nodeexec.LinkMaterializer
}

func (l stubLookup) Materializer(nodeType string) (nodeexec.LinkMaterializer, bool) {
	m, ok := l.byType[nodeType]
	return m, ok
}

func linkEdge(id, source, sourceHandle, target, targetHandle string) graph.Edge {
	return graph.Edge{
		ID: id, Source: source, SourceHandle: sourceHandle,
		Target: target, TargetHandle: targetHandle,
		Data: map[string]any{"channel": "link"},
	}
}

func TestIncomingOutgoingEdgesFilterByChannelAndHandle(t *testing.T) {
	g := graph.Graph{
		Nodes: []graph.Node{{ID: "a"}, {ID: "b"}},
		Edges: []graph.Edge{
			{ID: "flow1", Source: "a", Target: "b", Data: map[string]any{"channel": "flow"}},
			linkEdge("link1", "a", "tools", "b", "toolsIn"),
		},
	}
	rt, err := graphruntime.New(g, "run1", "chat1")
	require.NoError(t, err)

	flowOnly := rt.IncomingEdges("b", graphruntime.WithChannel(graph.ChannelFlow))
	require.Len(t, flowOnly, 1)
	require.Equal(t, "flow1", flowOnly[0].ID)

	byHandle := rt.IncomingEdges("b", graphruntime.WithChannel(graph.ChannelLink), graphruntime.WithTargetHandle("toolsIn"))
	require.Len(t, byHandle, 1)
	require.Equal(t, "link1", byHandle[0].ID)

	none := rt.IncomingEdges("b", graphruntime.WithChannel(graph.ChannelLink), graphruntime.WithTargetHandle("other"))
	require.Empty(t, none)

	out := rt.OutgoingEdges("a", graphruntime.WithChannel(graph.ChannelLink), graphruntime.WithSourceHandle("tools"))
	require.Len(t, out, 1)
}

func TestGetNodeUnknownIsResolutionError(t *testing.T) {
	rt, err := graphruntime.New(graph.Graph{}, "run1", "chat1")
	require.NoError(t, err)
	_, err = rt.GetNode("missing")
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errkind.Resolution, kind)
}

func TestMaterializeOutputMemoizesPerNodeAndHandle(t *testing.T) {
	g := graph.Graph{Nodes: []graph.Node{{ID: "a", Type: "model-selector"}}}
	calls := 0
	lookup := stubLookup{byType: map[string]nodeexec.LinkMaterializer{
		"model-selector": stubMaterializer{
			nodeType: "model-selector",
			calls:    &calls,
			fn: func(ctx context.Context, nodeID, outputHandle string, rt nodeexec.RuntimeAPI) (any, error) {
				return "materialized:" + outputHandle, nil
			},
		},
	}}
	rt, err := graphruntime.New(g, "run1", "chat1", graphruntime.WithExecutors(lookup))
	require.NoError(t, err)

	ctx := context.Background()
	v1, err := rt.MaterializeOutput(ctx, "a", "model")
	require.NoError(t, err)
	v2, err := rt.MaterializeOutput(ctx, "a", "model")
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.Equal(t, 1, calls)
}

func TestResolveLinksFlattensListArtifactsOneLevel(t *testing.T) {
	g := graph.Graph{
		Nodes: []graph.Node{{ID: "toolset", Type: "toolset"}, {ID: "agent", Type: "agent"}},
		Edges: []graph.Edge{linkEdge("e1", "toolset", "tools", "agent", "tools")},
	}
	lookup := stubLookup{byType: map[string]nodeexec.LinkMaterializer{
		"toolset": stubMaterializer{
			nodeType: "toolset",
			fn: func(ctx context.Context, nodeID, outputHandle string, rt nodeexec.RuntimeAPI) (any, error) {
				return []any{"tool.a", "tool.b"}, nil
			},
		},
	}}
	rt, err := graphruntime.New(g, "run1", "chat1", graphruntime.WithExecutors(lookup))
	require.NoError(t, err)

	resolved, err := rt.ResolveLinks(context.Background(), "agent", "tools")
	require.NoError(t, err)
	require.Equal(t, []any{"tool.a", "tool.b"}, resolved)
}

func TestMaterializeOutputDetectsCycleWithFullPath(t *testing.T) {
	g := graph.Graph{
		Nodes: []graph.Node{{ID: "a", Type: "sub-agent"}, {ID: "b", Type: "sub-agent"}},
	}
	lookup := stubLookup{}
	var rtRef *graphruntime.Runtime
	lookup.byType = map[string]nodeexec.LinkMaterializer{
		"sub-agent": stubMaterializer{
			nodeType: "sub-agent",
			fn: func(ctx context.Context, nodeID, outputHandle string, rt nodeexec.RuntimeAPI) (any, error) {
				// a materializing "out" calls b, b calls a: cycle.
				if nodeID == "a" {
					return rt.MaterializeOutput(ctx, "b", "out")
				}
				return rtRef.MaterializeOutput(ctx, "a", "out")
			},
		},
	}
	rt, err := graphruntime.New(g, "run1", "chat1", graphruntime.WithExecutors(lookup))
	require.NoError(t, err)
	rtRef = rt

	_, err = rt.MaterializeOutput(context.Background(), "a", "out")
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errkind.Topology, kind)
	require.Contains(t, err.Error(), "materialize(a.out)")
	require.Contains(t, err.Error(), "materialize(b.out)")
}
