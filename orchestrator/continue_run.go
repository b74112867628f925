package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/hooks"
)

// ContinueRunInput asks for a message's reply to resume generating,
// seeding the new sibling with whatever content blocks the original
// already carried (minus any trailing error block left by a prior
// failed attempt).
type ContinueRunInput struct {
	ChatID       string
	MessageID    string
	ModelID      string
	ModelOptions map[string]any
	ToolIDs      []string
}

// ContinueRun branches a new assistant sibling off messageID's parent,
// seeded with its existing content, and resumes the chat's graph.
func (o *Orchestrator) ContinueRun(ctx context.Context, in ContinueRunInput) error {
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

	existingBlocks := extractExistingBlocks(original.Content)

	var seedContent any
	if len(existingBlocks) > 0 {
		seedContent = existingBlocks
	}
	newMsg, err := o.Tree.CreateBranchMessage(in.ChatID, original.ParentMessageID, convtree.RoleAssistant, seedContent, false)
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
	if len(existingBlocks) > 0 {
		if err := th.bus.Publish(ctx, hooks.NewSeedBlocksEvent(runID, in.ChatID, existingBlocks)); err != nil {
			o.endTurn(ctx, runID, in.ChatID, th, err)
			return err
		}
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

// extractExistingBlocks parses content into a content-block list and
// strips any trailing error block, mirroring _extract_existing_blocks.
// content may already be a []any (a fresh in-process Message), a JSON-
// array string (a round-tripped store value), or a bare string (a plain
// text message), each handled the way the original's three branches do.
func extractExistingBlocks(content any) []any {
	var blocks []any

	switch v := content.(type) {
	case nil:
		return nil
	case []any:
		blocks = append(blocks, v...)
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return nil
		}
		if strings.HasPrefix(raw, "[") {
			var parsed []any
			if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
				blocks = parsed
				break
			}
		}
		blocks = []any{map[string]any{"type": "text", "content": v}}
	default:
		blocks = []any{map[string]any{"type": "text", "content": v}}
	}

	for len(blocks) > 0 {
		last, ok := blocks[len(blocks)-1].(map[string]any)
		if !ok || last["type"] != "error" {
			break
		}
		blocks = blocks[:len(blocks)-1]
	}
	return blocks
}
