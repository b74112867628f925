package builtin

import (
	"context"
	"fmt"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// ModelSelector is a pass-through for model identifiers: a wired "model"
// input wins over the inline value, and it materializes as a bare model
// id string for upstream link consumers (the agent node).
type ModelSelector struct{}

func (ModelSelector) NodeType() string { return "model-selector" }

func (ModelSelector) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	model, _ := data["model"].(string)
	if in, ok := inputs["model"]; ok {
		if s := fmt.Sprintf("%v", in.Value); s != "" && in.Value != nil {
			model = s
		}
	}
	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"output": datamodel.New(datamodel.TypeModel, model),
		},
	}, nil
}

func (ModelSelector) Materialize(ctx context.Context, data map[string]any, outputHandle string, fctx nodeexec.FlowContext) (any, error) {
	if outputHandle != "output" && outputHandle != "model" {
		return nil, errkind.Newf(errkind.Resolution, "model-selector node cannot materialize unknown output handle: %s", outputHandle).AtNode(fctx.NodeID)
	}

	if fctx.Runtime != nil {
		for _, e := range fctx.Runtime.IncomingEdges(fctx.NodeID, flowFilter(graph.ChannelFlow, "model")...) {
			if e.Source == "" {
				continue
			}
			value, err := fctx.Runtime.MaterializeOutput(ctx, e.Source, e.LookupSourceHandle())
			if err != nil {
				return nil, err
			}
			if value == nil {
				continue
			}
			if text := fmt.Sprintf("%v", value); text != "" {
				return text, nil
			}
		}
	}

	model, _ := data["model"].(string)
	return model, nil
}
