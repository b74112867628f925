package builtin

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// Merge combines the ordered input handles input, input_1, input_2...
// into a list on output.
type Merge struct{}

func (Merge) NodeType() string { return "merge" }

func (Merge) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	type indexed struct {
		index int
		value any
	}
	ordered := make([]indexed, 0, len(inputs))
	for handle, value := range inputs {
		idx, ok := mergeHandleIndex(handle)
		if !ok {
			continue
		}
		ordered = append(ordered, indexed{idx, value.Value})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

	merged := make([]any, len(ordered))
	for i, o := range ordered {
		merged[i] = o.value
	}

	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"output": datamodel.New(datamodel.TypeData, merged),
		},
	}, nil
}

func mergeHandleIndex(handle string) (int, bool) {
	if handle == "input" {
		return 0, true
	}
	rest, ok := strings.CutPrefix(handle, "input_")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 1 {
		return 0, false
	}
	return idx, true
}
