package runctl_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/runctl"
)

func TestRequestCancelSetsHandleFlag(t *testing.T) {
	registry := runctl.NewRegistry()
	h := registry.Register("run1")
	require.False(t, h.Cancelled())

	registry.RequestCancel("run1")
	require.True(t, h.Cancelled())
}

func TestConsumeEarlyCancelIsOneShot(t *testing.T) {
	registry := runctl.NewRegistry()
	registry.RequestCancel("run-not-yet-registered")

	require.True(t, registry.ConsumeEarlyCancel("run-not-yet-registered"))
	require.False(t, registry.ConsumeEarlyCancel("run-not-yet-registered"))
}

func TestApprovalResolvesWithSetResponse(t *testing.T) {
	registry := runctl.NewRegistry()
	registry.Register("run1")

	waiter := registry.RegisterApprovalWaiter("run1", "approval1")
	registry.SetApprovalResponse("run1", "approval1", runctl.ApprovalResponse{Status: runctl.ApprovalApproved})

	resp := <-waiter
	require.Equal(t, runctl.ApprovalApproved, resp.Status)
}

func TestCancelReleasesPendingApprovalAsDenied(t *testing.T) {
	registry := runctl.NewRegistry()
	registry.Register("run1")

	waiter := registry.RegisterApprovalWaiter("run1", "approval1")
	registry.RequestCancel("run1")

	resp := <-waiter
	require.Equal(t, runctl.ApprovalDenied, resp.Status)
}

func TestUnregisteredRunApprovalWaiterDefaultsToDenied(t *testing.T) {
	registry := runctl.NewRegistry()
	waiter := registry.RegisterApprovalWaiter("unknown-run", "approval1")
	resp := <-waiter
	require.Equal(t, runctl.ApprovalDenied, resp.Status)
}
