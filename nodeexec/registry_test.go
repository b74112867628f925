package nodeexec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/nodeexec"
)

type flowOnly struct{}

func (flowOnly) NodeType() string { return "flow-only" }
func (flowOnly) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (<-chan nodeexec.NodeStep, error) {
	return nil, nil
}

type linkOnly struct{}

func (linkOnly) NodeType() string { return "link-only" }
func (linkOnly) Materialize(ctx context.Context, data map[string]any, outputHandle string, fctx nodeexec.FlowContext) (any, error) {
	return nil, nil
}

type both struct {
	flowOnly
	linkOnly
}

func (both) NodeType() string { return "both" }

func TestRegistryCapabilityLookup(t *testing.T) {
	reg := nodeexec.NewRegistry()
	reg.Register("flow-only", flowOnly{})
	reg.Register("link-only", linkOnly{})
	reg.Register("both", both{})

	_, ok := reg.FlowExecutor("flow-only")
	require.True(t, ok)
	_, ok = reg.Materializer("flow-only")
	require.False(t, ok)

	_, ok = reg.Materializer("link-only")
	require.True(t, ok)
	_, ok = reg.FlowExecutor("link-only")
	require.False(t, ok)

	_, ok = reg.FlowExecutor("both")
	require.True(t, ok)
	_, ok = reg.Materializer("both")
	require.True(t, ok)

	require.True(t, reg.HasFlowExecutor("flow-only"))
	require.False(t, reg.HasFlowExecutor("link-only"))
}

func TestRegistryUnknownNodeType(t *testing.T) {
	reg := nodeexec.NewRegistry()
	_, ok := reg.FlowExecutor("missing")
	require.False(t, ok)
}

func TestRegistryLaterRegistrationReplacesEarlier(t *testing.T) {
	reg := nodeexec.NewRegistry()
	reg.Register("x", flowOnly{})
	reg.Register("x", linkOnly{})
	_, ok := reg.FlowExecutor("x")
	require.False(t, ok)
	_, ok = reg.Materializer("x")
	require.True(t, ok)
}

func TestCatalogSortedWithCapabilitySummary(t *testing.T) {
	reg := nodeexec.NewRegistry()
	reg.Register("zeta", flowOnly{})
	reg.Register("alpha", linkOnly{})

	catalog := reg.Catalog()
	require.Len(t, catalog, 2)
	require.Equal(t, "alpha", catalog[0].NodeType)
	require.Equal(t, "zeta", catalog[1].NodeType)
	require.True(t, catalog[0].HasLinkMaterializer)
	require.True(t, catalog[1].HasFlowExecutor)
	require.Contains(t, catalog[0].Describe(), "link")
}
