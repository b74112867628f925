package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// Conditional evaluates a single condition against its input and routes
// it to exactly one of the true/false output ports.
type Conditional struct{}

func (Conditional) NodeType() string { return "conditional" }

func (Conditional) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
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

	input, ok := inputs["input"]
	if !ok {
		input = datamodel.New(datamodel.TypeAny, nil)
	}

	// An empty field tests the input value itself rather than a key
	// inside it, so a plain string input can be routed directly.
	var fieldVal any
	if field == "" {
		fieldVal = input.Value
	} else if m, ok := input.Value.(map[string]any); ok {
		fieldVal = m[field]
	}

	if fieldVal == nil && field != "" && operator != "exists" {
		return datamodel.ExecutionResult{Outputs: map[string]datamodel.DataValue{"false": input}}, nil
	}

	if evaluate(fieldVal, operator, compareVal, caseSensitive) {
		return datamodel.ExecutionResult{Outputs: map[string]datamodel.DataValue{"true": input}}, nil
	}
	return datamodel.ExecutionResult{Outputs: map[string]datamodel.DataValue{"false": input}}, nil
}

func evaluate(fieldVal any, operator string, compareVal any, caseSensitive bool) bool {
	switch operator {
	case "equals":
		if !caseSensitive {
			if fs, ok := fieldVal.(string); ok {
				if cs, ok := compareVal.(string); ok {
					return strings.EqualFold(fs, cs)
				}
			}
		}
		return fieldVal == compareVal
	case "contains":
		fs := fmt.Sprintf("%v", fieldVal)
		cs := fmt.Sprintf("%v", compareVal)
		if !caseSensitive {
			fs, cs = strings.ToLower(fs), strings.ToLower(cs)
		}
		return strings.Contains(fs, cs)
	case "greaterThan":
		return compareNumeric(fieldVal, compareVal) > 0
	case "lessThan":
		return compareNumeric(fieldVal, compareVal) < 0
	case "startsWith":
		fs := fmt.Sprintf("%v", fieldVal)
		cs := fmt.Sprintf("%v", compareVal)
		if !caseSensitive {
			fs, cs = strings.ToLower(fs), strings.ToLower(cs)
		}
		return strings.HasPrefix(fs, cs)
	case "endsWith":
		fs := fmt.Sprintf("%v", fieldVal)
		cs := fmt.Sprintf("%v", compareVal)
		if !caseSensitive {
			fs, cs = strings.ToLower(fs), strings.ToLower(cs)
		}
		return strings.HasSuffix(fs, cs)
	case "exists":
		return fieldVal != nil
	case "isEmpty":
		return isEmptyValue(fieldVal)
	default:
		return false
	}
}

func compareNumeric(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case bool:
		return !x
	case float64:
		return x == 0
	default:
		return false
	}
}
