// Package broadcaster implements the Stream Broadcaster: per-chat
// pub/sub fan-out that lets multiple frontend connections observe the same
// in-flight run, with a bounded replay buffer for subscribers that join
// mid-stream and bounded per-subscriber queues that are dropped rather than
// allowed to block the publisher.
package broadcaster

import (
	"context"
	"sync"

	"github.com/covalt-run/flowruntime/hooks"
)

// replayCapacity bounds how many recent events a stream remembers for late
// subscribers, matching deque(maxlen=100) in the original.
const replayCapacity = 100

// subscriberQueueSize bounds a subscriber's backlog before it is
// considered dead and evicted, matching asyncio.Queue(maxsize=1000).
const subscriberQueueSize = 1000

// Status is a stream's lifecycle state, persisted alongside chat_id so a
// reconnecting client (or a restarted process, via Store) can tell whether
// a run is still in flight.
type Status string

const (
	StatusStreaming   Status = "streaming"
	StatusPausedHITL  Status = "paused_hitl"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusError       Status = "error"
)

// activeStatuses are the statuses IsActive treats as "still streaming".
var activeStatuses = map[Status]bool{
	StatusStreaming:  true,
	StatusPausedHITL: true,
}

// ActiveStreamRecord is the persisted row mirroring one StreamState, used
// by Store to survive process restarts and by reaper to garbage-collect
// orphans.
type ActiveStreamRecord struct {
	ChatID       string
	MessageID    string
	RunID        string
	Status       Status
	ErrorMessage string
}

// Store persists ActiveStreamRecord rows. A nil Store is valid: the
// Broadcaster then holds state only in memory, which is sufficient for
// tests and for any deployment that doesn't need stream state to survive a
// restart.
type Store interface {
	Upsert(record ActiveStreamRecord) error
	Delete(chatID string) error
	List() ([]ActiveStreamRecord, error)
}

// subscription is one live subscriber's mailbox.
type subscription struct {
	ch chan hooks.Event
}

// streamState is one chat's in-flight stream: its replay buffer and the
// set of live subscriptions.
type streamState struct {
	mu     sync.Mutex
	record ActiveStreamRecord

	recent []hooks.Event // ring buffer, oldest first, capped at replayCapacity
	subs   map[*subscription]bool
}

func (s *streamState) appendRecent(event hooks.Event) {
	s.recent = append(s.recent, event)
	if len(s.recent) > replayCapacity {
		s.recent = s.recent[len(s.recent)-replayCapacity:]
	}
}

// Broadcaster is the process-wide registry of active chat streams. It
// implements hooks.Subscriber so the orchestrator can register it directly
// on a run's hooks.Bus: every published event is recorded into the
// publishing chat's replay buffer and fanned out to that chat's
// subscribers.
type Broadcaster struct {
	mu      sync.Mutex
	streams map[string]*streamState
	store   Store
}

// New constructs a Broadcaster. store may be nil.
func New(store Store) *Broadcaster {
	return &Broadcaster{streams: make(map[string]*streamState), store: store}
}

// RegisterStream opens a new stream for chatID, replacing any prior stream
// under the same id (a retry or continue reusing the chat).
func (b *Broadcaster) RegisterStream(chatID, messageID, runID string) error {
	state := &streamState{
		record: ActiveStreamRecord{ChatID: chatID, MessageID: messageID, RunID: runID, Status: StatusStreaming},
		subs:   make(map[*subscription]bool),
	}

	b.mu.Lock()
	b.streams[chatID] = state
	b.mu.Unlock()

	if b.store != nil {
		return b.store.Upsert(state.record)
	}
	return nil
}

// UpdateRunID attaches a late-bound provider run id to chatID's stream
// (the agent node only learns its run id after the stream begins).
func (b *Broadcaster) UpdateRunID(chatID, runID string) error {
	state, ok := b.get(chatID)
	if !ok {
		return nil
	}

	state.mu.Lock()
	state.record.RunID = runID
	record := state.record
	state.mu.Unlock()

	if b.store != nil {
		return b.store.Upsert(record)
	}
	return nil
}

// UpdateStatus transitions chatID's stream to status, recording
// errMessage when status is StatusError.
func (b *Broadcaster) UpdateStatus(chatID string, status Status, errMessage string) error {
	state, ok := b.get(chatID)
	if !ok {
		return nil
	}

	state.mu.Lock()
	state.record.Status = status
	state.record.ErrorMessage = errMessage
	record := state.record
	state.mu.Unlock()

	if b.store != nil {
		return b.store.Upsert(record)
	}
	return nil
}

// UnregisterStream closes chatID's stream, waking every subscriber with a
// closed channel so an SSE handler blocked on range can return.
func (b *Broadcaster) UnregisterStream(chatID string) error {
	b.mu.Lock()
	state, ok := b.streams[chatID]
	delete(b.streams, chatID)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	state.mu.Lock()
	for sub := range state.subs {
		close(sub.ch)
	}
	state.subs = nil
	state.mu.Unlock()

	if b.store != nil {
		return b.store.Delete(chatID)
	}
	return nil
}

// HandleEvent implements hooks.Subscriber, recording event into its chat's
// replay buffer and fanning it out to every live subscriber. A chat with
// no registered stream silently drops the event, matching the original's
// "if chat_id not in _active_streams: return".
func (b *Broadcaster) HandleEvent(ctx context.Context, event hooks.Event) error {
	state, ok := b.get(event.ChatID())
	if !ok {
		return nil
	}

	state.mu.Lock()
	state.appendRecent(event)
	dead := make([]*subscription, 0)
	for sub := range state.subs {
		select {
		case sub.ch <- event:
		default:
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		delete(state.subs, sub)
	}
	record := state.record
	state.mu.Unlock()

	if b.store != nil {
		return b.store.Upsert(record)
	}
	return nil
}

// Subscribe joins chatID's live fan-out, returning a channel preloaded
// with the stream's replay buffer and a cancel function the caller must
// invoke when it stops reading (e.g. the client disconnects). Returns
// false if chatID has no active stream.
func (b *Broadcaster) Subscribe(chatID string) (events <-chan hooks.Event, cancel func(), ok bool) {
	state, found := b.get(chatID)
	if !found {
		return nil, nil, false
	}

	sub := &subscription{ch: make(chan hooks.Event, subscriberQueueSize)}

	state.mu.Lock()
	for _, event := range state.recent {
		select {
		case sub.ch <- event:
		default:
			break
		}
	}
	state.subs[sub] = true
	state.mu.Unlock()

	cancelFn := func() {
		state.mu.Lock()
		delete(state.subs, sub)
		state.mu.Unlock()
	}
	return sub.ch, cancelFn, true
}

// IsActive reports whether chatID has a stream in a status Subscribe
// should be offered for (streaming or paused for human approval).
func (b *Broadcaster) IsActive(chatID string) bool {
	state, ok := b.get(chatID)
	if !ok {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return activeStatuses[state.record.Status]
}

// GetStreamState returns a snapshot of chatID's current record.
func (b *Broadcaster) GetStreamState(chatID string) (ActiveStreamRecord, bool) {
	state, ok := b.get(chatID)
	if !ok {
		return ActiveStreamRecord{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.record, true
}

// GetAllActiveStreams returns every in-memory stream's record, merged with
// any persisted rows from Store not currently held in memory (a stream
// registered by a since-restarted process), matching the original's
// in-memory-then-db-union behavior.
func (b *Broadcaster) GetAllActiveStreams() ([]ActiveStreamRecord, error) {
	b.mu.Lock()
	records := make([]ActiveStreamRecord, 0, len(b.streams))
	seen := make(map[string]bool, len(b.streams))
	for chatID, state := range b.streams {
		state.mu.Lock()
		records = append(records, state.record)
		state.mu.Unlock()
		seen[chatID] = true
	}
	b.mu.Unlock()

	if b.store == nil {
		return records, nil
	}

	persisted, err := b.store.List()
	if err != nil {
		return records, err
	}
	for _, record := range persisted {
		if !seen[record.ChatID] {
			records = append(records, record)
		}
	}
	return records, nil
}

// ReapOrphans deletes every persisted stream row with no corresponding
// in-memory state (a stream registered by a since-restarted or crashed
// process) and returns the records it removed, for reaper's periodic
// sweep. A nil Store makes this a no-op, since there is nothing to
// reconcile against.
func (b *Broadcaster) ReapOrphans() ([]ActiveStreamRecord, error) {
	if b.store == nil {
		return nil, nil
	}

	b.mu.Lock()
	live := make(map[string]bool, len(b.streams))
	for chatID := range b.streams {
		live[chatID] = true
	}
	b.mu.Unlock()

	persisted, err := b.store.List()
	if err != nil {
		return nil, err
	}

	var orphans []ActiveStreamRecord
	for _, record := range persisted {
		if live[record.ChatID] {
			continue
		}
		if err := b.store.Delete(record.ChatID); err != nil {
			return orphans, err
		}
		orphans = append(orphans, record)
	}
	return orphans, nil
}

func (b *Broadcaster) get(chatID string) (*streamState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.streams[chatID]
	return state, ok
}
