package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/graph"
)

func flowEdge(id, source, target string) graph.Edge {
	return graph.Edge{
		ID:     id,
		Source: source,
		Target: target,
		Data:   map[string]any{"channel": "flow"},
	}
}

func TestNormalizeRejectsMissingChannel(t *testing.T) {
	n := graph.NewNormalizer()
	edges := []graph.Edge{{ID: "e1", Source: "a", Target: "b", Data: map[string]any{}}}

	_, err := n.Normalize(nil, edges)
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errkind.Validation, kind)
}

func TestNormalizeRejectsUnknownChannel(t *testing.T) {
	n := graph.NewNormalizer()
	edges := []graph.Edge{{ID: "e1", Source: "a", Target: "b", Data: map[string]any{"channel": "sideband"}}}

	_, err := n.Normalize(nil, edges)
	require.Error(t, err)
}

func TestNormalizeDropsEdgesMissingEndpoints(t *testing.T) {
	n := graph.NewNormalizer()
	edges := []graph.Edge{
		{ID: "e1", Source: "", Target: "b", Data: map[string]any{"channel": "flow"}},
		flowEdge("e2", "a", "b"),
	}

	g, err := n.Normalize(nil, edges)
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	require.Equal(t, "e2", g.Edges[0].ID)
}

func TestNormalizeDedupesBy5Tuple(t *testing.T) {
	n := graph.NewNormalizer()
	edges := []graph.Edge{
		flowEdge("e1", "a", "b"),
		flowEdge("e2", "a", "b"), // same 5-tuple, different id: dropped
		{
			ID: "e3", Source: "a", Target: "b",
			SourceHandle: "custom",
			Data:         map[string]any{"channel": "flow"},
		}, // distinct sourceHandle: kept
	}

	g, err := n.Normalize(nil, edges)
	require.NoError(t, err)
	require.Len(t, g.Edges, 2)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	n := graph.NewNormalizer()
	original := []graph.Edge{flowEdge("e1", "a", "b")}
	originalData := original[0].Data

	g, err := n.Normalize(nil, original)
	require.NoError(t, err)
	g.Edges[0].Data["mutated"] = true

	require.NotContains(t, originalData, "mutated")
}

func TestNormalizePassesThroughExtensionFields(t *testing.T) {
	n := graph.NewNormalizer()
	edges := []graph.Edge{
		{
			ID: "e1", Source: "a", Target: "b",
			Data: map[string]any{"channel": "link", "sourceType": "model", "targetType": "agent"},
		},
	}

	g, err := n.Normalize(nil, edges)
	require.NoError(t, err)
	require.Equal(t, "model", g.Edges[0].Data["sourceType"])
	require.Equal(t, "agent", g.Edges[0].Data["targetType"])
}

func TestLookupHandlesDefaultWithoutChangingStoredValue(t *testing.T) {
	e := flowEdge("e1", "a", "b")
	require.Equal(t, "output", e.LookupSourceHandle())
	require.Equal(t, "input", e.LookupTargetHandle())
	require.Empty(t, e.SourceHandle)
	require.Empty(t, e.TargetHandle)
}
