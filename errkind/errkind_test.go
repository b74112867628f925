package errkind_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/errkind"
)

func TestErrorMessageIncludesKindAndNode(t *testing.T) {
	err := errkind.New(errkind.Topology, "cycle detected").AtNode("n1")
	require.Equal(t, "topology: cycle detected (node n1)", err.Error())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := errkind.Wrap(errkind.Provider, "", cause)
	require.Equal(t, "boom", err.Message)
	require.True(t, errors.Is(err, cause))
}

func TestKindOfExtractsKindThroughWrapping(t *testing.T) {
	err := errkind.New(errkind.Validation, "bad channel")
	wrapped := fmt.Errorf("normalize: %w", err)

	kind, ok := errkind.KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, errkind.Validation, kind)
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := errkind.KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestIsMatchesSameKindRegardlessOfMessage(t *testing.T) {
	err := errkind.New(errkind.Topology, "link cycle: a -> b -> a")
	require.True(t, errors.Is(err, errkind.New(errkind.Topology, "different message")))
	require.False(t, errors.Is(err, errkind.New(errkind.Executor, "different message")))
}

func TestIsCancellationDetectsCancellationKindOnly(t *testing.T) {
	require.True(t, errkind.IsCancellation(errkind.New(errkind.Cancellation, "run cancelled")))
	require.False(t, errkind.IsCancellation(errkind.New(errkind.Provider, "timeout")))
	require.False(t, errkind.IsCancellation(errors.New("plain")))
}
