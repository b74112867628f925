package convtree_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/convtree"
)

// memStore is an in-memory convtree.Store used to test Tree's DAG logic
// without a real database.
type memStore struct {
	messages   map[string]convtree.Message
	activeLeaf map[string]string
	nextID     int
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string]convtree.Message), activeLeaf: make(map[string]string)}
}

func (s *memStore) InsertMessage(msg convtree.Message) (convtree.Message, error) {
	s.nextID++
	msg.ID = fmt.Sprintf("m%d", s.nextID)
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *memStore) GetMessage(chatID, messageID string) (convtree.Message, bool, error) {
	m, ok := s.messages[messageID]
	return m, ok, nil
}

func (s *memStore) GetChildren(chatID, parentMessageID string) ([]convtree.Message, error) {
	var out []convtree.Message
	for _, m := range s.messages {
		if m.ChatID == chatID && m.ParentMessageID == parentMessageID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) GetActiveLeaf(chatID string) (string, error) {
	return s.activeLeaf[chatID], nil
}

func (s *memStore) SetActiveLeaf(chatID, messageID string) error {
	s.activeLeaf[chatID] = messageID
	return nil
}

func (s *memStore) SetMessageManifest(chatID, messageID, manifestID string) error {
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("no message %s", messageID)
	}
	m.ManifestID = manifestID
	s.messages[messageID] = m
	return nil
}

func TestAppendMessageAssignsSequenceStartingAtOne(t *testing.T) {
	store := newMemStore()
	tree := convtree.New(store)

	first, err := tree.AppendMessage("c1", "", convtree.RoleUser, "hi", true)
	require.NoError(t, err)
	require.Equal(t, 1, first.Sequence)

	second, err := tree.AppendMessage("c1", "", convtree.RoleUser, "hi again", true)
	require.NoError(t, err)
	require.Equal(t, 2, second.Sequence)
}

func TestRetryCreatesSiblingWithIncrementedSequence(t *testing.T) {
	store := newMemStore()
	tree := convtree.New(store)

	u1, err := tree.AppendMessage("c1", "", convtree.RoleUser, "hello", true)
	require.NoError(t, err)
	a1, err := tree.AppendMessage("c1", u1.ID, convtree.RoleAssistant, "hi there", true)
	require.NoError(t, err)
	require.NoError(t, tree.SetActiveLeaf("c1", a1.ID))

	a1Prime, err := tree.CreateBranchMessage("c1", a1.ParentMessageID, convtree.RoleAssistant, "hi there (retry)", true)
	require.NoError(t, err)
	require.NoError(t, tree.SetActiveLeaf("c1", a1Prime.ID))

	require.Equal(t, a1.ParentMessageID, a1Prime.ParentMessageID)
	require.Equal(t, a1.Sequence+1, a1Prime.Sequence)

	siblings, err := tree.GetMessageChildren("c1", u1.ID)
	require.NoError(t, err)
	require.Len(t, siblings, 2)
	require.Equal(t, a1.ID, siblings[0].ID)
	require.Equal(t, a1Prime.ID, siblings[1].ID)
}

func TestGetMessagePathReturnsRootToLeaf(t *testing.T) {
	store := newMemStore()
	tree := convtree.New(store)

	u1, _ := tree.AppendMessage("c1", "", convtree.RoleUser, "first", true)
	a1, _ := tree.AppendMessage("c1", u1.ID, convtree.RoleAssistant, "reply", true)
	u2, _ := tree.AppendMessage("c1", a1.ID, convtree.RoleUser, "second", true)

	path, err := tree.GetMessagePath("c1", u2.ID)
	require.NoError(t, err)
	require.Len(t, path, 3)
	require.Equal(t, []string{u1.ID, a1.ID, u2.ID}, []string{path[0].ID, path[1].ID, path[2].ID})
}

// recordingMaterializer captures the manifest MaterializeToBranch
// resolved, without touching disk.
type recordingMaterializer struct {
	chatID     string
	manifestID string
}

func (m *recordingMaterializer) Materialize(chatID, manifestID string) error {
	m.chatID = chatID
	m.manifestID = manifestID
	return nil
}

func TestSetMessageManifestPinsSnapshotResolvedByMaterializeToBranch(t *testing.T) {
	store := newMemStore()
	tree := convtree.New(store)

	u1, err := tree.AppendMessage("c1", "", convtree.RoleUser, "upload", true)
	require.NoError(t, err)
	a1, err := tree.AppendMessage("c1", u1.ID, convtree.RoleAssistant, "reply", true)
	require.NoError(t, err)

	require.NoError(t, tree.SetMessageManifest("c1", u1.ID, "manifest-1"))

	pinned, ok, err := tree.Message("c1", u1.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "manifest-1", pinned.ManifestID)

	// a1 pins no manifest of its own, so materializing its branch walks
	// up to u1's.
	rec := &recordingMaterializer{}
	require.NoError(t, tree.MaterializeToBranch(rec, "c1", a1.ID))
	require.Equal(t, "manifest-1", rec.manifestID)
}

func TestGetLeafDescendantOfALeafReturnsItself(t *testing.T) {
	store := newMemStore()
	tree := convtree.New(store)

	u1, _ := tree.AppendMessage("c1", "", convtree.RoleUser, "first", true)
	require.NoError(t, tree.SetActiveLeaf("c1", u1.ID))

	leaf, err := tree.GetLeafDescendant("c1", u1.ID)
	require.NoError(t, err)
	require.Equal(t, u1.ID, leaf)
}

func TestGetLeafDescendantWalksDownTheActivePath(t *testing.T) {
	store := newMemStore()
	tree := convtree.New(store)

	u1, _ := tree.AppendMessage("c1", "", convtree.RoleUser, "first", true)
	a1, _ := tree.AppendMessage("c1", u1.ID, convtree.RoleAssistant, "reply", true)
	require.NoError(t, tree.SetActiveLeaf("c1", a1.ID))

	leaf, err := tree.GetLeafDescendant("c1", u1.ID)
	require.NoError(t, err)
	require.Equal(t, a1.ID, leaf)
}
