package orchestrator

import (
	"context"

	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/workspace"
)

// EditUserMessageRunInput replaces a previously sent user message with
// new content/attachments and branches a fresh assistant reply off it,
// rather than mutating the original message in place.
type EditUserMessageRunInput struct {
	ChatID       string
	MessageID    string
	NewContent   string
	ModelID      string
	ModelOptions map[string]any
	ToolIDs      []string
	Attachments  []workspace.PendingAttachment
}

// editedMessageContent is the structured content a re-sent user message
// carries when it has attachments, since convtree.Message.Content has no
// dedicated attachments column — keeping the attachment list alongside
// the text is the same "content is opaque to the tree" shape
// extractExistingBlocks already has to tolerate for assistant messages.
type editedMessageContent struct {
	Text        string                 `json:"text"`
	Attachments []workspace.Attachment `json:"attachments,omitempty"`
}

// EditUserMessageRun branches a new user message (with its own resolved
// attachments) off the original's parent, then a new assistant child,
// and resumes the chat's graph from there.
func (o *Orchestrator) EditUserMessageRun(ctx context.Context, in EditUserMessageRunInput) error {
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

	var content any = in.NewContent
	var manifestID string
	if len(in.Attachments) > 0 {
		result, err := o.Workspace.PrepareAttachments(in.ChatID, original.ParentMessageID, in.Attachments)
		if err != nil {
			return err
		}
		manifestID = result.ManifestID
		content = editedMessageContent{Text: in.NewContent, Attachments: result.Attachments}
	}

	newUserMsg, err := o.Tree.CreateBranchMessage(in.ChatID, original.ParentMessageID, convtree.RoleUser, content, true)
	if err != nil {
		return err
	}
	if manifestID != "" {
		if err := o.Tree.SetMessageManifest(in.ChatID, newUserMsg.ID, manifestID); err != nil {
			return err
		}
	}
	if err := o.Tree.SetActiveLeaf(in.ChatID, newUserMsg.ID); err != nil {
		return err
	}

	assistantMsg, err := o.Tree.CreateBranchMessage(in.ChatID, newUserMsg.ID, convtree.RoleAssistant, "", false)
	if err != nil {
		return err
	}
	if err := o.Tree.SetActiveLeaf(in.ChatID, assistantMsg.ID); err != nil {
		return err
	}

	if err := o.Workspace.MaterializeToBranch(in.ChatID, newUserMsg.ID); err != nil {
		return err
	}

	runID := newRunID()
	th, err := o.beginTurn(ctx, runID, in.ChatID, assistantMsg.ID)
	if err != nil {
		return err
	}

	state, err := o.chatStateForPath(in.ChatID, newUserMsg.ID)
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
