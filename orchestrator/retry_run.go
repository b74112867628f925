package orchestrator

import (
	"context"

	"github.com/covalt-run/flowruntime/convtree"
)

// RetryRunInput asks for a fresh assistant reply to an earlier message,
// branching a new sibling off that message's parent rather than editing
// it in place.
type RetryRunInput struct {
	ChatID       string
	MessageID    string
	ModelID      string
	ModelOptions map[string]any
	ToolIDs      []string
}

// RetryRun regenerates messageID's response as a new sibling branch.
func (o *Orchestrator) RetryRun(ctx context.Context, in RetryRunInput) error {
	validatedOptions, err := o.Models.Validate(in.ChatID, in.ModelID, in.ModelOptions)
	if err != nil {
		return err
	}
	if in.ModelID != "" {
		if err := o.Chats.UpdateChatModelSelection(in.ChatID, in.ModelID); err != nil {
			return err
		}
	}

	original, ok, err := o.Tree.Message(in.ChatID, in.MessageID)
	if err != nil {
		return err
	}
	if !ok {
		return errMessageNotFound
	}

	newMsg, err := o.Tree.CreateBranchMessage(in.ChatID, original.ParentMessageID, convtree.RoleAssistant, "", false)
	if err != nil {
		return err
	}
	if err := o.Tree.SetActiveLeaf(in.ChatID, newMsg.ID); err != nil {
		return err
	}

	if original.ParentMessageID != "" {
		if err := o.Workspace.MaterializeToBranch(in.ChatID, original.ParentMessageID); err != nil {
			return err
		}
	}

	runID := newRunID()
	th, err := o.beginTurn(ctx, runID, in.ChatID, newMsg.ID)
	if err != nil {
		return err
	}

	state, err := o.chatStateForPath(in.ChatID, original.ParentMessageID)
	if err != nil {
		o.endTurn(ctx, runID, in.ChatID, th, err)
		return err
	}

	g, runErr := o.Graphs.GraphForChat(in.ChatID, in.ModelID, validatedOptions)
	var result error
	if runErr == nil {
		_, result = o.runGraph(ctx, runID, in.ChatID, state, g, th, nil)
	} else {
		result = runErr
	}
	o.endTurn(ctx, runID, in.ChatID, th, result)
	return result
}
