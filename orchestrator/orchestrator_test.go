package orchestrator_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/broadcaster"
	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/events"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/nodeexec"
	"github.com/covalt-run/flowruntime/orchestrator"
	"github.com/covalt-run/flowruntime/runctl"
	"github.com/covalt-run/flowruntime/workspace"
)

// memStore is an in-memory convtree.Store, mirroring the one convtree's
// own tests use.
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

type fakeChats struct{}

func (fakeChats) EnsureChatInitialized(chatID, modelID string) (string, error) {
	if chatID == "" {
		return "chat-new", nil
	}
	return chatID, nil
}

func (fakeChats) UpdateChatModelSelection(chatID, modelID string) error { return nil }

type fakeGraphs struct{ g graph.Graph }

func (f fakeGraphs) GraphForChat(chatID, modelID string, modelOptions map[string]any) (graph.Graph, error) {
	return f.g, nil
}

func (f fakeGraphs) GraphForAgent(agentID string) (graph.Graph, bool, error) {
	return f.g, true, nil
}

type fakeModels struct{}

func (fakeModels) Validate(chatID, modelID string, options map[string]any) (map[string]any, error) {
	return options, nil
}

type fakeWorkspace struct{}

func (fakeWorkspace) MaterializeToBranch(chatID, messageID string) error { return nil }
func (fakeWorkspace) PrepareAttachments(chatID, parentMessageID string, pending []workspace.PendingAttachment) (workspace.Result, error) {
	if len(pending) == 0 {
		return workspace.Result{}, nil
	}
	saved := make([]workspace.Attachment, len(pending))
	for i, p := range pending {
		saved[i] = workspace.Attachment{ID: p.ID, Type: "file", Name: p.Name}
	}
	return workspace.Result{Attachments: saved, ManifestID: "manifest-" + parentMessageID}, nil
}
func (fakeWorkspace) ManifestForMessage(chatID, messageID string) (string, bool, error) {
	return "", false, nil
}

// echoExec answers with a fixed text output; boomExec always fails.
type echoExec struct{}

func (echoExec) NodeType() string { return "echo" }

func (echoExec) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	return datamodel.ExecutionResult{Outputs: map[string]datamodel.DataValue{
		"output": datamodel.New(datamodel.TypeText, "done"),
	}}, nil
}

type boomExec struct{}

func (boomExec) NodeType() string { return "boom" }

func (boomExec) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	return datamodel.ExecutionResult{}, fmt.Errorf("executor exploded")
}

func singleNodeGraph(nodeType string) graph.Graph {
	return graph.Graph{Nodes: []graph.Node{{ID: "n1", Type: nodeType}}}
}

func newOrchestrator(t *testing.T, g graph.Graph) (*orchestrator.Orchestrator, *broadcaster.Broadcaster, *convtree.Tree) {
	t.Helper()
	registry := nodeexec.NewRegistry()
	registry.Register("echo", echoExec{})
	registry.Register("boom", boomExec{})

	tree := convtree.New(newMemStore())
	bcast := broadcaster.New(nil)

	orch := &orchestrator.Orchestrator{
		Tree:        tree,
		Chats:       fakeChats{},
		Graphs:      fakeGraphs{g: g},
		Models:      fakeModels{},
		Workspace:   fakeWorkspace{},
		Executors:   registry,
		Broadcaster: bcast,
		RunControl:  runctl.NewRegistry(),
	}
	return orch, bcast, tree
}

// drainKeys subscribes to chatID's replay buffer and returns the keys of
// every buffered event, relying on all publishes having completed before
// the call.
func drainKeys(t *testing.T, bcast *broadcaster.Broadcaster, chatID string) []events.Key {
	t.Helper()
	queue, cancel, ok := bcast.Subscribe(chatID)
	require.True(t, ok)
	defer cancel()

	var keys []events.Key
	for {
		select {
		case event := <-queue:
			keys = append(keys, event.Key())
		default:
			return keys
		}
	}
}

func TestStartRunAppendsUserAndAssistantAndStreams(t *testing.T) {
	orch, bcast, tree := newOrchestrator(t, singleNodeGraph("echo"))

	err := orch.StartRun(context.Background(), orchestrator.StartRunInput{
		ChatID:   "c1",
		Messages: []orchestrator.ChatMessage{{Role: convtree.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	leafID, err := tree.ActiveLeaf("c1")
	require.NoError(t, err)
	path, err := tree.GetMessagePath("c1", leafID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	require.Equal(t, convtree.RoleUser, path[0].Role)
	require.Equal(t, "hello", path[0].Content)
	require.Equal(t, convtree.RoleAssistant, path[1].Role)

	require.Equal(t, []events.Key{
		events.KeyRunStarted,
		events.KeyAssistantMessageID,
		events.KeyFlowNodeStarted,
		events.KeyFlowNodeCompleted,
		events.KeyFlowNodeResult,
		events.KeyRunCompleted,
	}, drainKeys(t, bcast, "c1"))

	record, ok := bcast.GetStreamState("c1")
	require.True(t, ok)
	require.Equal(t, broadcaster.StatusCompleted, record.Status)
}

func TestStartRunPinsAttachmentManifestOnUserMessage(t *testing.T) {
	orch, _, tree := newOrchestrator(t, singleNodeGraph("echo"))

	err := orch.StartRun(context.Background(), orchestrator.StartRunInput{
		ChatID:   "c1",
		Messages: []orchestrator.ChatMessage{{Role: convtree.RoleUser, Content: "see attached"}},
		Attachments: []workspace.PendingAttachment{
			{ID: "att-1", Name: "notes.txt", Content: []byte("hello")},
		},
	})
	require.NoError(t, err)

	leafID, err := tree.ActiveLeaf("c1")
	require.NoError(t, err)
	path, err := tree.GetMessagePath("c1", leafID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	require.NotEmpty(t, path[0].ManifestID)
	require.Empty(t, path[1].ManifestID)
}

func TestRetryRunCreatesAssistantSiblingAndSwitchesActiveLeaf(t *testing.T) {
	orch, _, tree := newOrchestrator(t, singleNodeGraph("echo"))

	u1, err := tree.AppendMessage("c1", "", convtree.RoleUser, "hello", true)
	require.NoError(t, err)
	a1, err := tree.AppendMessage("c1", u1.ID, convtree.RoleAssistant, "first answer", true)
	require.NoError(t, err)
	require.NoError(t, tree.SetActiveLeaf("c1", a1.ID))

	err = orch.RetryRun(context.Background(), orchestrator.RetryRunInput{ChatID: "c1", MessageID: a1.ID})
	require.NoError(t, err)

	leafID, err := tree.ActiveLeaf("c1")
	require.NoError(t, err)
	require.NotEqual(t, a1.ID, leafID)

	retry, ok, err := tree.Message("c1", leafID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a1.ParentMessageID, retry.ParentMessageID)
	require.Equal(t, a1.Sequence+1, retry.Sequence)

	siblings, err := tree.GetMessageChildren("c1", u1.ID)
	require.NoError(t, err)
	require.Len(t, siblings, 2)
	require.Equal(t, []string{a1.ID, retry.ID}, []string{siblings[0].ID, siblings[1].ID})
}

func TestContinueRunSeedsExistingBlocksStrippingTrailingError(t *testing.T) {
	orch, bcast, tree := newOrchestrator(t, singleNodeGraph("echo"))

	u1, err := tree.AppendMessage("c1", "", convtree.RoleUser, "hello", true)
	require.NoError(t, err)
	blocks := []any{
		map[string]any{"type": "text", "content": "partial answer"},
		map[string]any{"type": "error", "content": "stream died"},
	}
	a1, err := tree.AppendMessage("c1", u1.ID, convtree.RoleAssistant, blocks, false)
	require.NoError(t, err)
	require.NoError(t, tree.SetActiveLeaf("c1", a1.ID))

	err = orch.ContinueRun(context.Background(), orchestrator.ContinueRunInput{ChatID: "c1", MessageID: a1.ID})
	require.NoError(t, err)

	leafID, err := tree.ActiveLeaf("c1")
	require.NoError(t, err)
	continued, ok, err := tree.Message("c1", leafID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a1.ParentMessageID, continued.ParentMessageID)

	seeded := continued.Content.([]any)
	require.Len(t, seeded, 1)
	require.Equal(t, "partial answer", seeded[0].(map[string]any)["content"])

	keys := drainKeys(t, bcast, "c1")
	require.Contains(t, keys, events.KeySeedBlocks)
}

func TestEditUserMessageRunBranchesUserAndAssistant(t *testing.T) {
	orch, _, tree := newOrchestrator(t, singleNodeGraph("echo"))

	u1, err := tree.AppendMessage("c1", "", convtree.RoleUser, "original", true)
	require.NoError(t, err)
	a1, err := tree.AppendMessage("c1", u1.ID, convtree.RoleAssistant, "answer", true)
	require.NoError(t, err)
	require.NoError(t, tree.SetActiveLeaf("c1", a1.ID))

	err = orch.EditUserMessageRun(context.Background(), orchestrator.EditUserMessageRunInput{
		ChatID: "c1", MessageID: u1.ID, NewContent: "edited",
	})
	require.NoError(t, err)

	leafID, err := tree.ActiveLeaf("c1")
	require.NoError(t, err)
	path, err := tree.GetMessagePath("c1", leafID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	require.Equal(t, convtree.RoleUser, path[0].Role)
	require.Equal(t, "edited", path[0].Content)
	require.Equal(t, u1.Sequence+1, path[0].Sequence)
	require.Equal(t, convtree.RoleAssistant, path[1].Role)
}

func TestEditUserMessageRunPinsAttachmentManifestOnNewUserMessage(t *testing.T) {
	orch, _, tree := newOrchestrator(t, singleNodeGraph("echo"))

	u1, err := tree.AppendMessage("c1", "", convtree.RoleUser, "original", true)
	require.NoError(t, err)
	a1, err := tree.AppendMessage("c1", u1.ID, convtree.RoleAssistant, "answer", true)
	require.NoError(t, err)
	require.NoError(t, tree.SetActiveLeaf("c1", a1.ID))

	err = orch.EditUserMessageRun(context.Background(), orchestrator.EditUserMessageRunInput{
		ChatID: "c1", MessageID: u1.ID, NewContent: "edited with file",
		Attachments: []workspace.PendingAttachment{
			{ID: "att-1", Name: "notes.txt", Content: []byte("hello")},
		},
	})
	require.NoError(t, err)

	leafID, err := tree.ActiveLeaf("c1")
	require.NoError(t, err)
	path, err := tree.GetMessagePath("c1", leafID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	require.Equal(t, convtree.RoleUser, path[0].Role)
	require.NotEmpty(t, path[0].ManifestID)
}

func TestStartRunPublishesRunErrorOnExecutorFailure(t *testing.T) {
	orch, bcast, _ := newOrchestrator(t, singleNodeGraph("boom"))

	err := orch.StartRun(context.Background(), orchestrator.StartRunInput{
		ChatID:   "c1",
		Messages: []orchestrator.ChatMessage{{Role: convtree.RoleUser, Content: "hello"}},
	})
	require.Error(t, err)

	keys := drainKeys(t, bcast, "c1")
	require.Contains(t, keys, events.KeyFlowNodeError)
	require.Equal(t, events.KeyRunError, keys[len(keys)-1])

	record, ok := bcast.GetStreamState("c1")
	require.True(t, ok)
	require.Equal(t, broadcaster.StatusError, record.Status)
}

func TestStreamFlowRunExecutesWithoutPersistence(t *testing.T) {
	g := graph.Graph{
		Nodes: []graph.Node{
			{ID: "a", Type: "echo"},
			{ID: "b", Type: "echo"},
		},
		Edges: []graph.Edge{{
			ID: "a-b", Source: "a", Target: "b",
			Data: map[string]any{"channel": "flow"},
		}},
	}
	orch, _, tree := newOrchestrator(t, g)

	err := orch.StreamFlowRun(context.Background(), orchestrator.StreamFlowRunInput{
		AgentID:      "agent-1",
		Mode:         orchestrator.FlowRunExecute,
		TargetNodeID: "a",
		PromptInput:  orchestrator.FlowRunPromptInput{Message: "debug"},
	})
	require.NoError(t, err)

	leaf, err := tree.ActiveLeaf("c1")
	require.NoError(t, err)
	require.Empty(t, leaf)
}
