package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/errkind"
)

// StreamAgentRunInput runs a specific agent's graph directly (not a
// chat's configured agent), optionally without persisting anything.
type StreamAgentRunInput struct {
	AgentID   string
	Messages  []ChatMessage
	ChatID    string
	Ephemeral bool
}

// StreamAgentRun resolves agentID's graph and runs it against messages,
// persisting the turn onto ChatID unless Ephemeral is set, in which case
// no chat row, message, or active-leaf update is touched at all.
func (o *Orchestrator) StreamAgentRun(ctx context.Context, in StreamAgentRunInput) error {
	g, ok, err := o.Graphs.GraphForAgent(in.AgentID)
	if err != nil {
		return err
	}
	if !ok {
		return errkind.Newf(errkind.Resolution, "agent %q not found", in.AgentID)
	}

	var chatID, assistantMsgID string
	if in.Ephemeral {
		assistantMsgID = uuid.NewString()
	} else {
		chatID, err = o.Chats.EnsureChatInitialized(in.ChatID, "")
		if err != nil {
			return err
		}
		parentID, err := o.Tree.ActiveLeaf(chatID)
		if err != nil {
			return err
		}
		if n := len(in.Messages); n > 0 && in.Messages[n-1].Role == convtree.RoleUser {
			last := in.Messages[n-1]
			saved, err := o.Tree.AppendMessage(chatID, parentID, convtree.RoleUser, last.Content, true)
			if err != nil {
				return err
			}
			if err := o.Tree.SetActiveLeaf(chatID, saved.ID); err != nil {
				return err
			}
			parentID = saved.ID
			in.Messages[n-1].ID = saved.ID
		}

		assistantMsg, err := o.Tree.AppendMessage(chatID, parentID, convtree.RoleAssistant, "", false)
		if err != nil {
			return err
		}
		if err := o.Tree.SetActiveLeaf(chatID, assistantMsg.ID); err != nil {
			return err
		}
		assistantMsgID = assistantMsg.ID
	}

	runID := newRunID()
	th, err := o.beginTurn(ctx, runID, chatID, assistantMsgID)
	if err != nil {
		return err
	}

	_, result := o.runGraph(ctx, runID, chatID, chatStateFromChatMessages(in.Messages), g, th, nil)
	o.endTurn(ctx, runID, chatID, th, result)
	return result
}
