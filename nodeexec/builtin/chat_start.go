// Package builtin implements the runtime's built-in node executors:
// chat-start, agent, prompt-template, llm-completion, conditional, merge,
// reroute, filter, webhook-trigger/-end, model-selector, mcp-server,
// toolset, and code. Register them into a *nodeexec.Registry with
// RegisterAll.
package builtin

import (
	"context"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// ChatStart is the bridge between the chat interface and the graph: at
// build time it contributes the includeUserTools metadata flag read by
// the agent builder, and at flow entry it produces the turn's chat input
// for downstream nodes.
type ChatStart struct{}

func (ChatStart) NodeType() string { return "chat-start" }

func (ChatStart) BuildMetadata(ctx context.Context, data map[string]any, bctx nodeexec.BuildContext) (nodeexec.MetadataResult, error) {
	include, _ := data["includeUserTools"].(bool)
	return nodeexec.MetadataResult{
		Metadata: map[string]any{"includeUserTools": include},
	}, nil
}

// Execute reads the turn's chat input off the run's shared state and
// emits it on "output", so the flow's entry node carries the user's
// message into the graph the same way webhook-trigger carries its
// request payload.
func (ChatStart) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	payload := map[string]any{"message": "", "history": []any{}}
	if ci, ok := fctx.State.(chatInputState); ok {
		message, history := ci.ChatInput()
		payload["message"] = message
		converted := make([]any, len(history))
		for i, h := range history {
			converted[i] = map[string]any{"role": h.Role, "content": h.Content}
		}
		payload["history"] = converted
	}
	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"output": datamodel.New(datamodel.TypeData, payload),
		},
	}, nil
}
