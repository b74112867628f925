package orchestrator

import (
	"context"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// FlowRunPromptInput is the ad-hoc message/history/attachments a debug
// flow run is seeded with, independent of any persisted chat.
type FlowRunPromptInput struct {
	Message     string
	History     []nodeexec.AgentHistoryMessage
	Messages    []ChatMessage
	Attachments []map[string]any
}

// FlowRunMode selects whether a debug run executes the whole reachable
// graph from its target node, or replays only the nodes downstream of
// one whose prior output is already known.
type FlowRunMode string

const (
	FlowRunExecute FlowRunMode = "execute"
	FlowRunFrom    FlowRunMode = "runFrom"
)

// StreamFlowRunInput debug-runs one agent's graph directly, outside any
// persisted conversation: target_node_id, the set of node ids to restrict
// to (node_ids), and cached outputs for nodes a "runFrom" invocation
// shouldn't re-execute.
type StreamFlowRunInput struct {
	AgentID       string
	Mode          FlowRunMode
	TargetNodeID  string
	NodeIDs       []string
	CachedOutputs map[string]map[string]any
	PromptInput   FlowRunPromptInput
}

// flowRunState is the FlowContext.State a debug run builds: it answers
// both builtin.Agent's chatInputState (an entry agent node with no wired
// "input") and builtin.code.go's codeExpressionContext (a code node
// reading its trigger payload), the same two fallbacks a persisted
// conversation run and a webhook-triggered run each need one of.
type flowRunState struct {
	message string
	history []nodeexec.AgentHistoryMessage
	trigger map[string]any
}

func (s flowRunState) ChatInput() (string, []nodeexec.AgentHistoryMessage) {
	return s.message, s.history
}

func (s flowRunState) Trigger() any { return s.trigger }

// UpstreamOutputs is empty: a debug run's cross-node references resolve
// through the ordinary flow-edge/link materialization path (SeedOutputs),
// not through a code node's direct upstream-output lookup.
func (s flowRunState) UpstreamOutputs() map[string]any { return nil }

// buildTriggerPayload mirrors build_trigger_payload's shape: the message,
// history, attachments, and raw messages list folded into one map a code
// node's expression context exposes as $trigger.
func buildTriggerPayload(in FlowRunPromptInput) map[string]any {
	messages := make([]any, len(in.Messages))
	for i, m := range in.Messages {
		messages[i] = map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		}
	}
	attachments := make([]any, len(in.Attachments))
	for i, a := range in.Attachments {
		attachments[i] = a
	}
	history := make([]any, len(in.History))
	for i, h := range in.History {
		history[i] = map[string]any{"role": h.Role, "content": h.Content}
	}
	return map[string]any{
		"message":     in.Message,
		"history":     history,
		"messages":    messages,
		"attachments": attachments,
	}
}

// seedOutputsFrom converts a debug run's cached per-node/per-handle
// outputs into the datamodel.DataValue shape flowexec.RunOptions.
// SeedOutputs expects, wrapping every cached value as TypeAny since a
// debug run's cached payload carries no socket-type metadata of its own.
func seedOutputsFrom(cached map[string]map[string]any) map[string]map[string]datamodel.DataValue {
	if len(cached) == 0 {
		return nil
	}
	out := make(map[string]map[string]datamodel.DataValue, len(cached))
	for nodeID, handles := range cached {
		converted := make(map[string]datamodel.DataValue, len(handles))
		for handle, v := range handles {
			converted[handle] = datamodel.New(datamodel.TypeAny, v)
		}
		out[nodeID] = converted
	}
	return out
}

// StreamFlowRun executes agentID's graph directly against an ad-hoc
// prompt, restricted to targetNodeID (and nodeIDs, if given), seeding any
// cachedOutputs so a "runFrom" invocation doesn't re-execute nodes the
// caller already has results for. Nothing is persisted: no chat row,
// message, or active leaf is touched.
func (o *Orchestrator) StreamFlowRun(ctx context.Context, in StreamFlowRunInput) error {
	g, ok, err := o.Graphs.GraphForAgent(in.AgentID)
	if err != nil {
		return err
	}
	if !ok {
		return errkind.Newf(errkind.Resolution, "agent %q not found", in.AgentID)
	}

	entryNodeIDs := in.NodeIDs
	if len(entryNodeIDs) == 0 && in.TargetNodeID != "" {
		entryNodeIDs = []string{in.TargetNodeID}
	}

	state := flowRunState{
		message: in.PromptInput.Message,
		history: in.PromptInput.History,
		trigger: buildTriggerPayload(in.PromptInput),
	}

	runID := newRunID()
	th, err := o.beginTurn(ctx, runID, "", runID)
	if err != nil {
		return err
	}

	var seedOutputs map[string]map[string]datamodel.DataValue
	if in.Mode == FlowRunFrom {
		seedOutputs = seedOutputsFrom(in.CachedOutputs)
	}

	_, result := o.runGraphSeeded(ctx, runID, "", state, g, th, entryNodeIDs, seedOutputs)
	o.endTurn(ctx, runID, "", th, result)
	return result
}
