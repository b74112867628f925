package sqlite_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/broadcaster"
	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/optionvalidation"
	"github.com/covalt-run/flowruntime/store/sqlite"
	"github.com/covalt-run/flowruntime/workspace"
)

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s1, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestInsertAndGetMessage(t *testing.T) {
	s := testStore(t)

	msg := convtree.Message{
		ChatID:          "chat-1",
		ParentMessageID: "",
		Role:            convtree.RoleUser,
		Content:         "hello",
		Sequence:        0,
	}
	inserted, err := s.InsertMessage(msg)
	require.NoError(t, err)
	require.NotEmpty(t, inserted.ID)

	got, ok, err := s.GetMessage("chat-1", inserted.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", got.Content)
	require.Equal(t, convtree.RoleUser, got.Role)

	_, ok, err = s.GetMessage("chat-1", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetMessageManifestUpdatesExistingRow(t *testing.T) {
	s := testStore(t)

	inserted, err := s.InsertMessage(convtree.Message{ChatID: "chat-1", Role: convtree.RoleUser, Content: "upload"})
	require.NoError(t, err)

	require.NoError(t, s.SetMessageManifest("chat-1", inserted.ID, "manifest-1"))

	got, ok, err := s.GetMessage("chat-1", inserted.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "manifest-1", got.ManifestID)

	require.Error(t, s.SetMessageManifest("chat-1", "missing", "manifest-1"))
}

func TestGetChildrenReturnsSiblingsByParent(t *testing.T) {
	s := testStore(t)

	root, err := s.InsertMessage(convtree.Message{ChatID: "chat-1", Role: convtree.RoleUser, Content: "root"})
	require.NoError(t, err)

	childA, err := s.InsertMessage(convtree.Message{ChatID: "chat-1", ParentMessageID: root.ID, Role: convtree.RoleAssistant, Content: "a", Sequence: 0})
	require.NoError(t, err)
	childB, err := s.InsertMessage(convtree.Message{ChatID: "chat-1", ParentMessageID: root.ID, Role: convtree.RoleAssistant, Content: "b", Sequence: 1})
	require.NoError(t, err)

	children, err := s.GetChildren("chat-1", root.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	ids := map[string]bool{childA.ID: true, childB.ID: true}
	for _, c := range children {
		require.True(t, ids[c.ID])
	}
}

func TestActiveLeafCreatesChatRowIfMissing(t *testing.T) {
	s := testStore(t)

	leaf, err := s.GetActiveLeaf("chat-new")
	require.NoError(t, err)
	require.Empty(t, leaf)

	require.NoError(t, s.SetActiveLeaf("chat-new", "msg-1"))

	leaf, err = s.GetActiveLeaf("chat-new")
	require.NoError(t, err)
	require.Equal(t, "msg-1", leaf)

	require.NoError(t, s.SetActiveLeaf("chat-new", "msg-2"))
	leaf, err = s.GetActiveLeaf("chat-new")
	require.NoError(t, err)
	require.Equal(t, "msg-2", leaf)
}

func TestManifestRoundTrip(t *testing.T) {
	s := testStore(t)

	manifest := workspace.Manifest{Files: map[string]string{"a.txt": "hash-a"}}
	id, err := s.PutManifest(manifest)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, ok, err := s.GetManifest(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, manifest.Files, got.Files)

	_, ok, err = s.GetManifest("unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetActiveManifestIDFollowsChatActiveLeaf(t *testing.T) {
	s := testStore(t)

	manifest := workspace.Manifest{Files: map[string]string{"a.txt": "hash-a"}}
	manifestID, err := s.PutManifest(manifest)
	require.NoError(t, err)

	msg, err := s.InsertMessage(convtree.Message{
		ChatID:     "chat-1",
		Role:       convtree.RoleAssistant,
		Content:    "done",
		ManifestID: manifestID,
	})
	require.NoError(t, err)
	require.NoError(t, s.SetActiveLeaf("chat-1", msg.ID))

	got, err := s.GetActiveManifestID("chat-1")
	require.NoError(t, err)
	require.Equal(t, manifestID, got)
}

func TestActiveStreamsCRUD(t *testing.T) {
	s := testStore(t)

	record := broadcaster.ActiveStreamRecord{
		ChatID:    "chat-1",
		MessageID: "msg-1",
		RunID:     "run-1",
		Status:    broadcaster.StatusStreaming,
	}
	require.NoError(t, s.Upsert(record))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, record, list[0])

	record.Status = broadcaster.StatusCompleted
	require.NoError(t, s.Upsert(record))
	list, err = s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, broadcaster.StatusCompleted, list[0].Status)

	require.NoError(t, s.Delete("chat-1"))
	list, err = s.List()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestEnsureChatInitializedCreatesAndIsIdempotent(t *testing.T) {
	s := testStore(t)
	chats := sqlite.Chats(s)

	id, err := chats.EnsureChatInitialized("", "anthropic:claude-sonnet")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	modelID, err := chats.ChatModelID(id)
	require.NoError(t, err)
	require.Equal(t, "anthropic:claude-sonnet", modelID)

	again, err := chats.EnsureChatInitialized(id, "openai:gpt-5")
	require.NoError(t, err)
	require.Equal(t, id, again)

	modelID, err = chats.ChatModelID(id)
	require.NoError(t, err)
	require.Equal(t, "anthropic:claude-sonnet", modelID, "existing chat row must not be overwritten by EnsureChatInitialized")
}

func TestUpdateChatModelSelection(t *testing.T) {
	s := testStore(t)
	chats := sqlite.Chats(s)

	id, err := chats.EnsureChatInitialized("chat-1", "anthropic:claude-sonnet")
	require.NoError(t, err)

	require.NoError(t, chats.UpdateChatModelSelection(id, "openai:gpt-5"))

	modelID, err := chats.ChatModelID(id)
	require.NoError(t, err)
	require.Equal(t, "openai:gpt-5", modelID)
}

func TestModelValidatorResolvesChatPersistedModel(t *testing.T) {
	s := testStore(t)
	chats := sqlite.Chats(s)

	id, err := chats.EnsureChatInitialized("chat-1", "anthropic:claude-sonnet")
	require.NoError(t, err)

	schema := optionvalidation.OptionSchema{
		Main: []optionvalidation.OptionDefinition{
			{Key: "temperature", Type: "number", Default: 0.7},
		},
	}
	require.NoError(t, s.PutProviderSchema("anthropic", schema))

	validator := sqlite.NewModelValidator(s)

	kwargs, err := validator.Validate(id, "", nil)
	require.NoError(t, err)
	require.Equal(t, 0.7, kwargs["temperature"])
}

func TestModelValidatorWithNoChatAndNoRequestModelFails(t *testing.T) {
	s := testStore(t)
	validator := sqlite.NewModelValidator(s)

	_, err := validator.Validate("chat-missing", "", nil)
	require.Error(t, err)
}

func TestModelValidatorRejectsReservedKwargs(t *testing.T) {
	s := testStore(t)
	chats := sqlite.Chats(s)
	id, err := chats.EnsureChatInitialized("chat-1", "anthropic:claude-sonnet")
	require.NoError(t, err)

	schema := optionvalidation.OptionSchema{
		Main: []optionvalidation.OptionDefinition{
			{Key: "api_key", Type: "select", Options: []optionvalidation.OptionChoice{{Value: "secret"}}},
		},
	}
	require.NoError(t, s.PutProviderSchema("anthropic", schema))

	validator := sqlite.NewModelValidator(s)
	_, err = validator.Validate(id, "", map[string]any{"api_key": "secret"})
	require.Error(t, err)
}

func TestMessageCreatedAtDefaultsWhenUnset(t *testing.T) {
	s := testStore(t)
	before := time.Now().Add(-time.Second)

	msg, err := s.InsertMessage(convtree.Message{ChatID: "chat-1", Role: convtree.RoleUser, Content: "hi"})
	require.NoError(t, err)
	require.True(t, msg.CreatedAt.After(before))
}
