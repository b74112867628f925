package builtin

import (
	"context"
	"fmt"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// LlmCompletion is a single streaming model call: prompt in, token
// deltas forwarded as progress events, full text assembled on output.
type LlmCompletion struct {
	Models nodeexec.ModelResolver
}

func (LlmCompletion) NodeType() string { return "llm-completion" }

func (l LlmCompletion) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (<-chan nodeexec.NodeStep, error) {
	prompt := extractPrompt(inputs, data)

	modelStr, _ := data["model"].(string)
	if in, ok := inputs["model"]; ok && in.Value != nil {
		if s := fmt.Sprintf("%v", in.Value); s != "" {
			modelStr = s
		}
	}

	opts := nodeexec.ModelCallOptions{}
	if in, ok := inputs["temperature"]; ok && in.Value != nil {
		if f, ok := toFloat(in.Value); ok {
			opts.Temperature = &f
		}
	} else if v, ok := toFloat(data["temperature"]); ok {
		opts.Temperature = &v
	}
	if in, ok := inputs["max_tokens"]; ok && in.Value != nil {
		if f, ok := toFloat(in.Value); ok {
			n := int(f)
			opts.MaxTokens = &n
		}
	} else if v, ok := toFloat(data["max_tokens"]); ok {
		n := int(v)
		opts.MaxTokens = &n
	}

	if l.Models == nil {
		return nil, errkind.New(errkind.Resolution, "llm-completion node has no model resolver configured").AtNode(fctx.NodeID)
	}
	model, err := l.Models.Resolve(modelStr)
	if err != nil {
		return nil, errkind.Wrap(errkind.Resolution, "", err).AtNode(fctx.NodeID)
	}

	out := make(chan nodeexec.NodeStep)
	go func() {
		defer close(out)

		out <- nodeexec.NodeStep{Event: &datamodel.NodeEvent{
			NodeID: fctx.NodeID, NodeType: "llm-completion",
			Kind: datamodel.NodeEventStarted,
			Data: map[string]any{"model": modelStr},
		}}

		tokens, err := model.Stream(ctx, prompt, opts)
		if err != nil {
			out <- errorStep(fctx.NodeID, "llm-completion", err)
			out <- nodeexec.NodeStep{Result: &datamodel.ExecutionResult{
				Outputs: map[string]datamodel.DataValue{"output": datamodel.New(datamodel.TypeData, map[string]any{"text": ""})},
			}}
			return
		}

		full := ""
		for tok := range tokens {
			if tok.Err != nil {
				out <- errorStep(fctx.NodeID, "llm-completion", tok.Err)
				out <- nodeexec.NodeStep{Result: &datamodel.ExecutionResult{
					Outputs: map[string]datamodel.DataValue{"output": datamodel.New(datamodel.TypeData, map[string]any{"text": full})},
				}}
				return
			}
			if tok.Text != "" {
				full += tok.Text
				out <- nodeexec.NodeStep{Event: &datamodel.NodeEvent{
					NodeID: fctx.NodeID, NodeType: "llm-completion",
					Kind: datamodel.NodeEventProgress,
					Data: map[string]any{"content": tok.Text},
				}}
			}
			if tok.Done {
				break
			}
		}

		out <- nodeexec.NodeStep{Result: &datamodel.ExecutionResult{
			Outputs: map[string]datamodel.DataValue{"output": datamodel.New(datamodel.TypeData, map[string]any{"text": full})},
		}}
	}()

	return out, nil
}

func errorStep(nodeID, nodeType string, err error) nodeexec.NodeStep {
	return nodeexec.NodeStep{Event: &datamodel.NodeEvent{
		NodeID: nodeID, NodeType: nodeType,
		Kind: datamodel.NodeEventError,
		Data: map[string]any{"error": err.Error()},
	}}
}

func extractPrompt(inputs map[string]datamodel.DataValue, data map[string]any) string {
	var value any
	if in, ok := inputs["prompt"]; ok {
		value = in.Value
	} else if in, ok := inputs["input"]; ok {
		value = in.Value
	} else {
		value = data["prompt"]
	}
	return extractText(value)
}

func extractText(value any) string {
	if value == nil {
		return ""
	}
	if m, ok := value.(map[string]any); ok {
		for _, key := range []string{"text", "message", "response", "content"} {
			if v, ok := m[key]; ok {
				return fmt.Sprintf("%v", v)
			}
		}
		return fmt.Sprintf("%v", m)
	}
	return fmt.Sprintf("%v", value)
}
