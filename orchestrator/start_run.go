package orchestrator

import (
	"context"

	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/workspace"
)

// StartRunInput is one new-message turn: a full (possibly multi-message)
// history ending in the user's latest message, destined for an existing
// or brand-new chat.
type StartRunInput struct {
	ChatID       string
	Messages     []ChatMessage
	ModelID      string
	ModelOptions map[string]any
	ToolIDs      []string
	Attachments  []workspace.PendingAttachment
}

// StartRun persists the latest user message, opens an assistant message,
// and runs the chat's graph to fill it in.
func (o *Orchestrator) StartRun(ctx context.Context, in StartRunInput) error {
	chatID, err := o.Chats.EnsureChatInitialized(in.ChatID, in.ModelID)
	if err != nil {
		return err
	}

	validatedOptions, err := o.Models.Validate(chatID, in.ModelID, in.ModelOptions)
	if err != nil {
		return err
	}

	parentID, err := o.Tree.ActiveLeaf(chatID)
	if err != nil {
		return err
	}

	// Attachments layer onto the parent message's manifest, so the new
	// user message's workspace snapshot extends the branch it joins.
	var manifestID string
	if len(in.Attachments) > 0 {
		result, err := o.Workspace.PrepareAttachments(chatID, parentID, in.Attachments)
		if err != nil {
			return err
		}
		manifestID = result.ManifestID
		if len(in.Messages) > 0 {
			in.Messages[len(in.Messages)-1].Attachments = result.Attachments
		}
	}

	if len(in.Messages) > 0 && in.Messages[len(in.Messages)-1].Role == convtree.RoleUser {
		last := in.Messages[len(in.Messages)-1]
		saved, err := o.Tree.AppendMessage(chatID, parentID, convtree.RoleUser, last.Content, true)
		if err != nil {
			return err
		}
		if manifestID != "" {
			if err := o.Tree.SetMessageManifest(chatID, saved.ID, manifestID); err != nil {
				return err
			}
		}
		if err := o.Tree.SetActiveLeaf(chatID, saved.ID); err != nil {
			return err
		}
		parentID = saved.ID
		in.Messages[len(in.Messages)-1].ID = saved.ID
	}

	assistantMsg, err := o.Tree.AppendMessage(chatID, parentID, convtree.RoleAssistant, "", false)
	if err != nil {
		return err
	}
	if err := o.Tree.SetActiveLeaf(chatID, assistantMsg.ID); err != nil {
		return err
	}

	runID := newRunID()
	th, err := o.beginTurn(ctx, runID, chatID, assistantMsg.ID)
	if err != nil {
		return err
	}

	state, err := o.chatStateForPath(chatID, parentID)
	if err != nil {
		o.endTurn(ctx, runID, chatID, th, err)
		return err
	}

	g, runErr := o.Graphs.GraphForChat(chatID, in.ModelID, validatedOptions)
	var result error
	if runErr == nil {
		_, result = o.runGraph(ctx, runID, chatID, state, g, th, nil)
	} else {
		result = runErr
	}

	if result != nil {
		_ = o.Tree.SetActiveLeaf(chatID, assistantMsg.ID)
	}
	o.endTurn(ctx, runID, chatID, th, result)
	return result
}
