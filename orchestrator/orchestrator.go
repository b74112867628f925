// Package orchestrator implements the Conversation Run Orchestrator: the
// use-case layer that turns a client request (send a message, retry,
// continue, edit-and-resend, run a bare agent, debug-run a flow) into a
// conversation-tree update plus one Flow Executor invocation, wiring the
// result through the Stream Broadcaster and Run Control registry.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/covalt-run/flowruntime/broadcaster"
	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/flowexec"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/graphruntime"
	"github.com/covalt-run/flowruntime/hooks"
	"github.com/covalt-run/flowruntime/nodeexec"
	"github.com/covalt-run/flowruntime/runctl"
	"github.com/covalt-run/flowruntime/workspace"
)

// ChatMessage is one turn's worth of conversational content as the
// orchestrator's callers see it, independent of convtree.Message's
// persisted shape.
type ChatMessage struct {
	ID              string
	Role            convtree.Role
	Content         string
	ParentMessageID string
	Attachments     []workspace.Attachment
	CreatedAt       time.Time
}

// ChatInitializer lazily creates a chat row the first time a client
// streams into it, or validates an existing one, returning the resolved
// chat id.
type ChatInitializer interface {
	EnsureChatInitialized(chatID, modelID string) (string, error)
	UpdateChatModelSelection(chatID, modelID string) error
}

// GraphProvider resolves the graph a run should execute: a chat's
// configured agent graph (augmented with the validated model options) or
// a bare agent's graph by id.
type GraphProvider interface {
	GraphForChat(chatID, modelID string, modelOptions map[string]any) (graph.Graph, error)
	GraphForAgent(agentID string) (graph.Graph, bool, error)
}

// ModelValidator resolves and validates the effective model/options for a
// run, wrapping optionvalidation.ResolveModel/Validate against the
// chat's persisted model selection.
type ModelValidator interface {
	Validate(chatID, modelID string, options map[string]any) (map[string]any, error)
}

// WorkspaceManager wraps the workspace package's manifest materialization
// and attachment resolution for one chat.
type WorkspaceManager interface {
	MaterializeToBranch(chatID, messageID string) error
	PrepareAttachments(chatID, parentMessageID string, pending []workspace.PendingAttachment) (workspace.Result, error)
	ManifestForMessage(chatID, messageID string) (string, bool, error)
}

// Registry is what the orchestrator needs from the node-executor registry
// to build a per-run Graph Runtime and Flow Executor.
type Registry interface {
	graphruntime.MaterializerLookup
	flowexec.Registry
}

// Orchestrator composes one chat/agent turn end to end.
type Orchestrator struct {
	Tree        *convtree.Tree
	Chats       ChatInitializer
	Graphs      GraphProvider
	Models      ModelValidator
	Workspace   WorkspaceManager
	Executors   Registry
	Broadcaster *broadcaster.Broadcaster
	RunControl  *runctl.Registry
	Tools       nodeexec.ToolRegistry
}

// turnHandles bundles the per-run collaborators a turn needs torn down
// together once the graph finishes running.
type turnHandles struct {
	bus    hooks.Bus
	handle *runctl.Handle
}

// beginTurn opens chatID's stream, registers runID's cancellation handle,
// and publishes RunStarted + AssistantMessageId, matching the order the
// original emits them in before the graph ever runs.
func (o *Orchestrator) beginTurn(ctx context.Context, runID, chatID, assistantMsgID string) (*turnHandles, error) {
	bus := hooks.NewBus()
	if _, err := bus.Register(hooks.SubscriberFunc(o.Broadcaster.HandleEvent)); err != nil {
		return nil, err
	}

	if err := o.Broadcaster.RegisterStream(chatID, assistantMsgID, runID); err != nil {
		return nil, err
	}
	handle := o.RunControl.Register(runID)

	if err := bus.Publish(ctx, hooks.NewRunStartedEvent(runID, chatID, assistantMsgID)); err != nil {
		return nil, err
	}
	if err := bus.Publish(ctx, hooks.NewAssistantMessageIDEvent(runID, chatID, assistantMsgID)); err != nil {
		return nil, err
	}

	return &turnHandles{bus: bus, handle: handle}, nil
}

// endTurn publishes the terminal event matching runErr's outcome, updates
// the broadcaster's stream status, and releases the run's runctl handle.
func (o *Orchestrator) endTurn(ctx context.Context, runID, chatID string, th *turnHandles, runErr error) {
	switch {
	case errkind.IsCancellation(runErr):
		_ = th.bus.Publish(ctx, hooks.NewRunCancelledEvent(runID, chatID))
		_ = o.Broadcaster.UpdateStatus(chatID, broadcaster.StatusCancelled, "")
	case runErr != nil:
		_ = th.bus.Publish(ctx, hooks.NewRunErrorEvent(runID, chatID, runErr.Error()))
		_ = o.Broadcaster.UpdateStatus(chatID, broadcaster.StatusError, runErr.Error())
	default:
		_ = th.bus.Publish(ctx, hooks.NewRunCompletedEvent(runID, chatID, nil))
		_ = o.Broadcaster.UpdateStatus(chatID, broadcaster.StatusCompleted, "")
	}
	o.RunControl.Remove(runID)
}

// runGraph builds a per-run Graph Runtime over g and executes it with the
// Flow Executor, entering from entryNodeIDs (nil meaning every reachable
// flow node). It is the one place every use-case funnels through to
// actually advance a turn, mirroring run_graph_chat_runtime /
// run_flow's role as the shared execution core beneath every
// application/conversation command.
func (o *Orchestrator) runGraph(ctx context.Context, runID, chatID string, state any, g graph.Graph, th *turnHandles, entryNodeIDs []string) (flowexec.Result, error) {
	return o.runGraphSeeded(ctx, runID, chatID, state, g, th, entryNodeIDs, nil)
}

// runGraphSeeded is runGraph plus seedOutputs, for stream_flow_run's
// "runFrom" partial-execution mode where a prior debug pass's cached node
// outputs stand in for nodes the restricted run doesn't re-execute.
func (o *Orchestrator) runGraphSeeded(ctx context.Context, runID, chatID string, state any, g graph.Graph, th *turnHandles, entryNodeIDs []string, seedOutputs map[string]map[string]datamodel.DataValue) (flowexec.Result, error) {
	if th.handle.Cancelled() {
		return flowexec.Result{Cancelled: true}, errkind.New(errkind.Cancellation, "run cancelled before dispatch")
	}

	runtime, err := graphruntime.New(g, runID, chatID,
		graphruntime.WithState(state),
		graphruntime.WithToolRegistry(o.Tools),
		graphruntime.WithExecutors(o.Executors),
		graphruntime.WithBus(th.bus),
	)
	if err != nil {
		return flowexec.Result{}, err
	}

	executor := flowexec.New(o.Executors)
	result, err := executor.Run(ctx, flowexec.RunOptions{
		Graph:        g,
		Runtime:      runtime,
		RunID:        runID,
		ChatID:       chatID,
		State:        state,
		Tools:        o.Tools,
		Bus:          th.bus,
		EntryNodeIDs: entryNodeIDs,
		SeedOutputs:  seedOutputs,
		Cancel:       th.handle,
	})
	if err != nil {
		return result, err
	}
	if result.Cancelled {
		return result, errkind.New(errkind.Cancellation, "run cancelled during execution")
	}
	return result, nil
}

// newRunID allocates a run id, matching the original's str(uuid.uuid4()).
func newRunID() string {
	return uuid.NewString()
}

// chatRunState is the FlowContext.State every conversation-entry use-case
// builds, read back by an entry-position node (builtin.Agent's
// chatInputState fallback today) when it has no wired "input" edge to
// gather its message from — the Go counterpart of _resolve_agent_message
// falling back to the session's chat_messages when a flow has no prior
// node feeding the agent.
type chatRunState struct {
	message string
	history []nodeexec.AgentHistoryMessage
}

func (s chatRunState) ChatInput() (string, []nodeexec.AgentHistoryMessage) {
	return s.message, s.history
}

// chatStateForPath loads leafMessageID's full ancestor path and folds it
// into a chatRunState: every message but the last becomes history, and
// the last becomes the message to send. Returns nil (no state) if the
// path is empty.
func (o *Orchestrator) chatStateForPath(chatID, leafMessageID string) (any, error) {
	if leafMessageID == "" {
		return nil, nil
	}
	path, err := o.Tree.GetMessagePath(chatID, leafMessageID)
	if err != nil {
		return nil, err
	}
	return chatStateFromMessages(path), nil
}

func chatStateFromMessages(path []convtree.Message) any {
	if len(path) == 0 {
		return nil
	}
	history := make([]nodeexec.AgentHistoryMessage, 0, len(path)-1)
	for _, m := range path[:len(path)-1] {
		history = append(history, nodeexec.AgentHistoryMessage{Role: string(m.Role), Content: contentText(m.Content)})
	}
	last := path[len(path)-1]
	return chatRunState{message: contentText(last.Content), history: history}
}

// chatStateFromChatMessages builds the same state shape directly from a
// caller-supplied message list, for use-cases (stream_agent_run,
// stream_flow_run) that aren't replaying a persisted conversation path.
func chatStateFromChatMessages(messages []ChatMessage) any {
	if len(messages) == 0 {
		return nil
	}
	history := make([]nodeexec.AgentHistoryMessage, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		history = append(history, nodeexec.AgentHistoryMessage{Role: string(m.Role), Content: m.Content})
	}
	last := messages[len(messages)-1]
	return chatRunState{message: last.Content, history: history}
}

// contentText coerces a convtree.Message.Content value down to the plain
// text an agent run sends, matching _coerce_messages' text-extraction for
// non-string content (e.g. this package's own editedMessageContent).
func contentText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case editedMessageContent:
		return v.Text
	default:
		return fmt.Sprintf("%v", v)
	}
}

// errMessageNotFound is returned when a use-case is asked to act on a
// message id the conversation tree doesn't have.
var errMessageNotFound = errkind.New(errkind.Resolution, "message not found")

// errMessage returns err's message, or "" for a nil error, for building
// the error-block content a failed turn leaves on its assistant message.
func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
