package events_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/events"
)

func TestNameResolvesKnownKeys(t *testing.T) {
	name, err := events.Name(events.KeyRunStarted)
	require.NoError(t, err)
	require.Equal(t, "RunStarted", name)
}

func TestNameRejectsUnknownKey(t *testing.T) {
	_, err := events.Name(events.Key("not_a_real_key"))
	require.Error(t, err)
}

func TestMustNamePanicsOnUnknownKey(t *testing.T) {
	require.Panics(t, func() {
		events.MustName(events.Key("not_a_real_key"))
	})
}

func TestIsKnownMatchesAll(t *testing.T) {
	for _, name := range events.All() {
		require.True(t, events.IsKnown(name), "expected %q to be known", name)
	}
	require.False(t, events.IsKnown("NotAWireEvent"))
}

func TestGroupTerminalCoversRunOutcomes(t *testing.T) {
	group := events.Group("terminal")
	require.ElementsMatch(t, []string{"RunCompleted", "RunCancelled", "RunError"}, group)
}

func TestGroupUnknownReturnsNil(t *testing.T) {
	require.Nil(t, events.Group("does_not_exist"))
}

func TestAllEventsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, name := range events.All() {
		require.False(t, seen[name], "duplicate wire name %q", name)
		seen[name] = true
	}
	require.Len(t, events.All(), 25)
}
