package orchestrator

import (
	"context"
	"fmt"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/events"
	"github.com/covalt-run/flowruntime/flowexec"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/graphruntime"
	"github.com/covalt-run/flowruntime/hooks"
	"github.com/covalt-run/flowruntime/routeindex"
)

// WebhookRunner implements routeindex.FlowRunner over the orchestrator's
// Flow Executor stack: the dispatcher hands it a resolved graph and entry
// node, and it streams the run's lifecycle back as routeindex.FlowEvents
// for SSE or request/response delivery.
type WebhookRunner struct {
	Orch *Orchestrator
}

// webhookRunState is the FlowContext.State a webhook-triggered run
// carries: the trigger payload, answering both builtin.WebhookTrigger's
// WebhookPayload lookup and a code node's Trigger binding.
type webhookRunState struct {
	payload map[string]any
}

func (s webhookRunState) WebhookPayload() map[string]any { return s.payload }
func (s webhookRunState) Trigger() any                   { return s.payload }
func (s webhookRunState) UpstreamOutputs() map[string]any {
	return nil
}

// RunFromNode executes g restricted to entryNodeID's reachable flow
// subgraph and returns a channel of translated lifecycle events, closed
// when the run finishes. The run is registered with Run Control under
// runID so an operator can cancel a long webhook flow like any other run.
func (r *WebhookRunner) RunFromNode(ctx context.Context, runID string, g graph.Graph, entryNodeID string, trigger routeindex.TriggerPayload) (<-chan routeindex.FlowEvent, error) {
	nodeTypes := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		nodeTypes[n.ID] = n.Type
	}

	out := make(chan routeindex.FlowEvent, 64)
	emit := func(fe routeindex.FlowEvent) {
		select {
		case out <- fe:
		case <-ctx.Done():
		}
	}

	bus := hooks.NewBus()
	if _, err := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, event hooks.Event) error {
		if fe, ok := translateFlowEvent(event, nodeTypes); ok {
			emit(fe)
		}
		return nil
	})); err != nil {
		return nil, err
	}

	state := webhookRunState{payload: map[string]any{
		"body":        trigger.Body,
		"headers":     trigger.Headers,
		"query":       trigger.Query,
		"method":      trigger.Method,
		"path":        trigger.Path,
		"remote":      trigger.Remote,
		"received_at": trigger.ReceivedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		"hook_id":     trigger.HookID,
	}}

	handle := r.Orch.RunControl.Register(runID)

	go func() {
		defer close(out)
		defer r.Orch.RunControl.Remove(runID)

		runtime, err := graphruntime.New(g, runID, "",
			graphruntime.WithState(state),
			graphruntime.WithToolRegistry(r.Orch.Tools),
			graphruntime.WithExecutors(r.Orch.Executors),
			graphruntime.WithBus(bus),
		)
		if err != nil {
			emit(routeindex.FlowEvent{EventType: "error", Data: map[string]any{"error": err.Error()}})
			return
		}

		executor := flowexec.New(r.Orch.Executors)
		_, runErr := executor.Run(ctx, flowexec.RunOptions{
			Graph:        g,
			Runtime:      runtime,
			RunID:        runID,
			State:        state,
			Tools:        r.Orch.Tools,
			Bus:          bus,
			EntryNodeIDs: []string{entryNodeID},
			Cancel:       handle,
		})
		if runErr != nil {
			emit(routeindex.FlowEvent{EventType: "error", Data: map[string]any{"error": runErr.Error()}})
		}
	}()

	return out, nil
}

// translateFlowEvent maps a hooks event onto the dispatcher's FlowEvent
// vocabulary. Node-scoped lifecycle events keep their node identity;
// agent-node events (tool calls, reasoning, approvals, member runs) pass
// through under "agent_event" with their canonical wire name.
func translateFlowEvent(event hooks.Event, nodeTypes map[string]string) (routeindex.FlowEvent, bool) {
	switch e := event.(type) {
	case *hooks.FlowNodeStartedEvent:
		return routeindex.FlowEvent{NodeID: e.NodeID, NodeType: e.NodeType, EventType: "started"}, true
	case *hooks.FlowNodeCompletedEvent:
		return routeindex.FlowEvent{NodeID: e.NodeID, NodeType: e.NodeType, EventType: "completed"}, true
	case *hooks.FlowNodeResultEvent:
		return routeindex.FlowEvent{
			NodeID:    e.NodeID,
			NodeType:  nodeTypes[e.NodeID],
			EventType: "result",
			Data:      map[string]any{"outputs": outputsToMap(e.Result)},
		}, true
	case *hooks.FlowNodeErrorEvent:
		return routeindex.FlowEvent{
			NodeID:    e.NodeID,
			NodeType:  nodeTypes[e.NodeID],
			EventType: "error",
			Data:      map[string]any{"error": e.Message},
		}, true
	case *hooks.RunContentEvent:
		return routeindex.FlowEvent{
			NodeID:    e.NodeID,
			NodeType:  nodeTypes[e.NodeID],
			EventType: "progress",
			Data:      map[string]any{"token": fmt.Sprintf("%v", e.Content)},
		}, true
	case *hooks.ToolCallStartedEvent:
		return agentEvent(event, map[string]any{"toolCallId": e.ToolCallID, "toolName": e.ToolName, "arguments": e.Arguments}), true
	case *hooks.ToolCallCompletedEvent:
		return agentEvent(event, map[string]any{"toolCallId": e.ToolCallID, "toolName": e.ToolName, "result": e.Result}), true
	case *hooks.ToolCallFailedEvent:
		return agentEvent(event, map[string]any{"toolCallId": e.ToolCallID, "toolName": e.ToolName, "error": e.Message}), true
	case *hooks.ToolApprovalRequiredEvent:
		return agentEvent(event, map[string]any{"approvalId": e.ApprovalID, "toolCallId": e.ToolCallID, "toolName": e.ToolName, "arguments": e.Arguments}), true
	case *hooks.ToolApprovalResolvedEvent:
		return agentEvent(event, map[string]any{"approvalId": e.ApprovalID, "status": e.Status}), true
	case *hooks.ReasoningStartedEvent:
		return agentEvent(event, map[string]any{"nodeId": e.NodeID}), true
	case *hooks.ReasoningStepEvent:
		return agentEvent(event, map[string]any{"nodeId": e.NodeID, "delta": e.Delta}), true
	case *hooks.ReasoningCompletedEvent:
		return agentEvent(event, map[string]any{"nodeId": e.NodeID}), true
	case *hooks.MemberRunStartedEvent:
		return agentEvent(event, map[string]any{"nodeId": e.NodeID, "member": e.MemberAgent}), true
	case *hooks.MemberRunCompletedEvent:
		return agentEvent(event, map[string]any{"nodeId": e.NodeID, "member": e.MemberAgent}), true
	case *hooks.MemberRunErrorEvent:
		return agentEvent(event, map[string]any{"nodeId": e.NodeID, "member": e.MemberAgent, "error": e.Message}), true
	}
	return routeindex.FlowEvent{}, false
}

// agentEvent wraps a pass-through event under "agent_event", tagging the
// payload with the event's canonical wire name so the dispatcher can emit
// it as its own SSE event type.
func agentEvent(event hooks.Event, payload map[string]any) routeindex.FlowEvent {
	payload["event"] = events.MustName(event.Key())
	return routeindex.FlowEvent{EventType: "agent_event", Data: payload}
}

// outputsToMap flattens a node's ExecutionResult outputs into the
// JSON-shaped map the dispatcher reads webhook-end responses out of.
func outputsToMap(result any) map[string]any {
	outputs, ok := result.(map[string]datamodel.DataValue)
	if !ok {
		return nil
	}
	converted := make(map[string]any, len(outputs))
	for handle, value := range outputs {
		converted[handle] = map[string]any{
			"type":  string(value.Type),
			"value": value.Value,
		}
	}
	return converted
}
