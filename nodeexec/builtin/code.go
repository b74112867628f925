package builtin

import (
	"context"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// codeExpressionContext is the subset of FlowContext.State a code node
// needs beyond its direct input: the webhook/chat trigger payload and
// already-materialized upstream node outputs, keyed by display name for
// the $('Node') binding inside the sandboxed script.
type codeExpressionContext interface {
	Trigger() any
	UpstreamOutputs() map[string]any
}

// Code runs user-authored JavaScript in an isolated sandbox, injecting
// input/trigger/upstream-node bindings, and requires the result be
// JSON-safe.
type Code struct {
	Sandbox nodeexec.CodeSandbox
}

func (Code) NodeType() string { return "code" }

func (c Code) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	code, _ := data["code"].(string)
	var inputValue any
	if in, ok := inputs["input"]; ok {
		inputValue = in.Value
	}

	if code == "" {
		return datamodel.ExecutionResult{
			Outputs: map[string]datamodel.DataValue{
				"output": datamodel.New(datamodel.TypeData, inputValue),
			},
		}, nil
	}

	if c.Sandbox == nil {
		return datamodel.ExecutionResult{}, errkind.New(errkind.Executor, "code node has no sandbox configured").AtNode(fctx.NodeID)
	}

	var trigger any
	var upstream map[string]any
	if ec, ok := fctx.State.(codeExpressionContext); ok {
		trigger = ec.Trigger()
		upstream = ec.UpstreamOutputs()
	}

	result, err := c.Sandbox.Eval(ctx, code, inputValue, trigger, upstream)
	if err != nil {
		return datamodel.ExecutionResult{}, errkind.Wrap(errkind.Executor, "", err).AtNode(fctx.NodeID)
	}

	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"output": datamodel.New(datamodel.TypeData, result),
		},
	}, nil
}
