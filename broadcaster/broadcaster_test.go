package broadcaster_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/broadcaster"
	"github.com/covalt-run/flowruntime/hooks"
)

func TestSubscribeBeforeRegisterFails(t *testing.T) {
	b := broadcaster.New(nil)
	_, _, ok := b.Subscribe("chat1")
	require.False(t, ok)
}

func TestBroadcastEventDeliversToSubscriber(t *testing.T) {
	b := broadcaster.New(nil)
	require.NoError(t, b.RegisterStream("chat1", "msg1", ""))

	events, cancel, ok := b.Subscribe("chat1")
	require.True(t, ok)
	defer cancel()

	event := hooks.NewRunStartedEvent("run1", "chat1", "msg1")
	require.NoError(t, b.HandleEvent(context.Background(), event))

	received := <-events
	require.Equal(t, event, received)
}

func TestLateSubscriberReceivesReplayBuffer(t *testing.T) {
	b := broadcaster.New(nil)
	require.NoError(t, b.RegisterStream("chat1", "msg1", ""))

	first := hooks.NewRunStartedEvent("run1", "chat1", "msg1")
	require.NoError(t, b.HandleEvent(context.Background(), first))

	events, cancel, ok := b.Subscribe("chat1")
	require.True(t, ok)
	defer cancel()

	received := <-events
	require.Equal(t, first, received)
}

func TestEventForUnregisteredChatIsDropped(t *testing.T) {
	b := broadcaster.New(nil)
	err := b.HandleEvent(context.Background(), hooks.NewRunStartedEvent("run1", "unknown-chat", "msg1"))
	require.NoError(t, err)
}

func TestUnregisterStreamClosesSubscriberChannel(t *testing.T) {
	b := broadcaster.New(nil)
	require.NoError(t, b.RegisterStream("chat1", "msg1", ""))

	events, cancel, ok := b.Subscribe("chat1")
	require.True(t, ok)
	defer cancel()

	require.NoError(t, b.UnregisterStream("chat1"))

	_, open := <-events
	require.False(t, open)
}

func TestIsActiveReflectsStatus(t *testing.T) {
	b := broadcaster.New(nil)
	require.NoError(t, b.RegisterStream("chat1", "msg1", ""))
	require.True(t, b.IsActive("chat1"))

	require.NoError(t, b.UpdateStatus("chat1", broadcaster.StatusCompleted, ""))
	require.False(t, b.IsActive("chat1"))
}

func TestGetAllActiveStreamsListsInMemoryStreams(t *testing.T) {
	b := broadcaster.New(nil)
	require.NoError(t, b.RegisterStream("chat1", "msg1", ""))
	require.NoError(t, b.RegisterStream("chat2", "msg2", ""))

	records, err := b.GetAllActiveStreams()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

type fakeStore struct {
	rows map[string]broadcaster.ActiveStreamRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]broadcaster.ActiveStreamRecord)}
}

func (s *fakeStore) Upsert(record broadcaster.ActiveStreamRecord) error {
	s.rows[record.ChatID] = record
	return nil
}

func (s *fakeStore) Delete(chatID string) error {
	delete(s.rows, chatID)
	return nil
}

func (s *fakeStore) List() ([]broadcaster.ActiveStreamRecord, error) {
	out := make([]broadcaster.ActiveStreamRecord, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func TestGetAllActiveStreamsMergesPersistedOrphans(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Upsert(broadcaster.ActiveStreamRecord{ChatID: "orphan", Status: broadcaster.StatusStreaming}))

	b := broadcaster.New(store)
	require.NoError(t, b.RegisterStream("chat1", "msg1", ""))

	records, err := b.GetAllActiveStreams()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestUnregisterStreamDeletesFromStore(t *testing.T) {
	store := newFakeStore()
	b := broadcaster.New(store)
	require.NoError(t, b.RegisterStream("chat1", "msg1", ""))
	require.NoError(t, b.UnregisterStream("chat1"))

	_, ok := store.rows["chat1"]
	require.False(t, ok)
}

func TestReapOrphansRemovesOnlyPersistedRowsWithNoInMemoryState(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Upsert(broadcaster.ActiveStreamRecord{ChatID: "orphan", Status: broadcaster.StatusStreaming}))

	b := broadcaster.New(store)
	require.NoError(t, b.RegisterStream("chat1", "msg1", ""))

	reaped, err := b.ReapOrphans()
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	require.Equal(t, "orphan", reaped[0].ChatID)

	_, ok := store.rows["orphan"]
	require.False(t, ok)
	_, ok = store.rows["chat1"]
	require.True(t, ok)
}

func TestReapOrphansNilStoreIsNoop(t *testing.T) {
	b := broadcaster.New(nil)
	reaped, err := b.ReapOrphans()
	require.NoError(t, err)
	require.Nil(t, reaped)
}
