package builtin

import (
	"context"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// Filter splits a list input into pass/reject ports by evaluating the
// same {field, operator, value, caseSensitive} predicate Conditional
// uses, against every list element.
//
// The predicate shares Conditional's evaluate() rather than inventing a
// second condition grammar.
type Filter struct{}

func (Filter) NodeType() string { return "filter" }

func (Filter) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	field, _ := data["field"].(string)
	operator, _ := data["operator"].(string)
	if operator == "" {
		operator = "equals"
	}
	compareVal := data["value"]
	caseSensitive := true
	if cs, ok := data["caseSensitive"].(bool); ok {
		caseSensitive = cs
	}

	var items []any
	if in, ok := inputs["input"]; ok {
		if list, ok := in.Value.([]any); ok {
			items = list
		}
	}

	var pass, reject []any
	for _, item := range items {
		var fieldVal any
		if m, ok := item.(map[string]any); ok {
			fieldVal = m[field]
		} else {
			fieldVal = item
		}
		if evaluate(fieldVal, operator, compareVal, caseSensitive) {
			pass = append(pass, item)
		} else {
			reject = append(reject, item)
		}
	}

	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"pass":   datamodel.New(datamodel.TypeData, pass),
			"reject": datamodel.New(datamodel.TypeData, reject),
		},
	}, nil
}
