package builtin

import (
	"context"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// Reroute passes its input through unchanged on both the flow and link
// channels, used to bend edges in the UI without altering data.
type Reroute struct{}

func (Reroute) NodeType() string { return "reroute" }

func (Reroute) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	if v, ok := inputs["input"]; ok {
		return datamodel.ExecutionResult{Outputs: map[string]datamodel.DataValue{"output": v}}, nil
	}
	fallback, ok := data["value"]
	if !ok || fallback == nil {
		return datamodel.ExecutionResult{}, nil
	}
	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"output": datamodel.New(inferSocketType(data), fallback),
		},
	}, nil
}

func inferSocketType(data map[string]any) datamodel.SocketType {
	if t, ok := data["_socketType"].(string); ok && t != "" {
		return datamodel.SocketType(t)
	}
	return datamodel.TypeData
}

func (Reroute) Materialize(ctx context.Context, data map[string]any, outputHandle string, fctx nodeexec.FlowContext) (any, error) {
	if outputHandle != "output" {
		return nil, errkind.Newf(errkind.Resolution, "reroute node cannot materialize unknown output handle: %s", outputHandle).AtNode(fctx.NodeID)
	}
	if fctx.Runtime == nil {
		return nil, nil
	}

	for _, e := range fctx.Runtime.IncomingEdges(fctx.NodeID, flowFilter(graph.ChannelFlow, "input")...) {
		if e.Source == "" {
			continue
		}
		value, err := fctx.Runtime.MaterializeOutput(ctx, e.Source, e.LookupSourceHandle())
		if err != nil {
			return nil, err
		}
		if value != nil {
			return value, nil
		}
	}

	var artifacts []any
	for _, e := range fctx.Runtime.IncomingEdges(fctx.NodeID, flowFilter(graph.ChannelLink, "input")...) {
		if e.Source == "" {
			continue
		}
		artifact, err := fctx.Runtime.MaterializeOutput(ctx, e.Source, e.LookupSourceHandle())
		if err != nil {
			return nil, err
		}
		if artifact == nil {
			continue
		}
		if list, ok := artifact.([]any); ok {
			artifacts = append(artifacts, list...)
		} else {
			artifacts = append(artifacts, artifact)
		}
	}
	if len(artifacts) > 0 {
		return artifacts, nil
	}

	if fallback, ok := data["value"]; ok {
		return fallback, nil
	}
	return nil, nil
}
