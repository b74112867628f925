package builtin

import (
	"context"
	"fmt"
	"regexp"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// varPattern matches {{variableName}} with optional inner whitespace.
var varPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// PromptTemplate interpolates {{name}} placeholders against the input
// data dict.
type PromptTemplate struct{}

func (PromptTemplate) NodeType() string { return "prompt-template" }

func (PromptTemplate) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	template, _ := data["template"].(string)
	undefinedBehavior, _ := data["undefinedBehavior"].(string)
	if undefinedBehavior == "" {
		undefinedBehavior = "empty"
	}

	variables := map[string]any{}
	if in, ok := inputs["input"]; ok {
		if m, ok := in.Value.(map[string]any); ok {
			variables = m
		}
	}

	var firstErr error
	rendered := varPattern.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return ""
		}
		key := varPattern.FindStringSubmatch(match)[1]
		if v, ok := variables[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		switch undefinedBehavior {
		case "keep":
			return match
		case "error":
			firstErr = errkind.Newf(errkind.Validation, "undefined template variable: %s", key).AtNode(fctx.NodeID)
			return ""
		default:
			return ""
		}
	})
	if firstErr != nil {
		return datamodel.ExecutionResult{}, firstErr
	}

	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"output": datamodel.New(datamodel.TypeData, map[string]any{"text": rendered}),
		},
	}, nil
}
