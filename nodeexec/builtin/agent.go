package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/hooks"
	"github.com/covalt-run/flowruntime/nodeexec"
	"github.com/covalt-run/flowruntime/runctl"
)

// agentStreamIdleTimeout bounds how long the agent node waits for the
// next chunk off an AgentModel stream before raising a provider error.
const agentStreamIdleTimeout = 20 * time.Second

// Agent resolves its model, temperature, instructions, tools, and
// sub-agents, then streams an AgentModel run, translating provider
// chunks directly into the canonical wire event set via FlowContext.Bus
// and suspending on a tool-approval request until Run Control resolves
// it.
type Agent struct {
	Models     nodeexec.AgentResolver
	RunControl *runctl.Registry
}

func (Agent) NodeType() string { return "agent" }

// Materialize builds this agent's resolved configuration as a Team
// member artifact for a parent agent node's "tools" link, without
// running it — the Go counterpart of the original's materialize()
// returning an unstarted Agent/Team runnable.
func (a Agent) Materialize(ctx context.Context, data map[string]any, outputHandle string, fctx nodeexec.FlowContext) (any, error) {
	switch outputHandle {
	case "output", "tools", "input":
	default:
		return nil, errkind.Newf(errkind.Resolution, "agent node cannot materialize unknown output handle: %s", outputHandle).AtNode(fctx.NodeID)
	}

	spec, err := a.buildSpec(ctx, data, nil, fctx)
	if err != nil {
		return nil, err
	}
	return nodeexec.AgentToolRef{
		ID:         fctx.NodeID,
		NodeID:     fctx.NodeID,
		NodeType:   "agent",
		IsSubAgent: true,
		SubAgent:   spec,
	}, nil
}

func (a Agent) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (<-chan nodeexec.NodeStep, error) {
	if a.Models == nil {
		return nil, errkind.New(errkind.Resolution, "agent node has no model resolver configured").AtNode(fctx.NodeID)
	}

	spec, err := a.buildSpec(ctx, data, inputs, fctx)
	if err != nil {
		return nil, err
	}

	_, message := resolveAgentMessage(inputs)
	var history []nodeexec.AgentHistoryMessage
	if message == "" {
		if ci, ok := fctx.State.(chatInputState); ok {
			message, history = ci.ChatInput()
		}
	}

	model, err := a.Models.Resolve(spec.Model)
	if err != nil {
		return nil, errkind.Wrap(errkind.Resolution, "", err).AtNode(fctx.NodeID)
	}

	req := nodeexec.AgentRunRequest{
		Name:         spec.Name,
		Model:        spec.Model,
		Temperature:  spec.Temperature,
		Instructions: spec.Instructions,
		Message:      message,
		History:      history,
		Tools:        spec.Tools,
	}

	out := make(chan nodeexec.NodeStep)
	go a.stream(ctx, model, req, fctx, out)
	return out, nil
}

// buildSpec resolves model, temperature, instructions, and tools/
// sub-agents for one agent node, recursing into its own tools link
// materialization (via fctx.Runtime.ResolveLinks) the same way for both
// Execute and Materialize. inputs is nil when called from Materialize,
// where there are no gathered flow inputs yet.
func (a Agent) buildSpec(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (*nodeexec.AgentSpec, error) {
	modelStr, _ := data["model"].(string)
	if in, ok := inputs["model"]; ok && in.Value != nil {
		if s := extractText(in.Value); s != "" {
			modelStr = s
		}
	} else if fctx.Runtime != nil {
		linked, err := resolveFlowLink(ctx, fctx, "model")
		if err != nil {
			return nil, err
		}
		if linked != nil {
			if s := extractText(linked); s != "" {
				modelStr = s
			}
		}
	}

	var temperature *float64
	if v, ok := toFloat(data["temperature"]); ok {
		temperature = &v
	}
	if in, ok := inputs["temperature"]; ok && in.Value != nil {
		if f, ok := toFloat(in.Value); ok {
			temperature = &f
		}
	}

	instructions, _ := data["instructions"].(string)
	if in, ok := inputs["instructions"]; ok && in.Value != nil {
		instructions = extractText(in.Value)
	}

	name, _ := data["name"].(string)
	if name == "" {
		name = "Agent"
	}

	tools, err := a.resolveTools(ctx, fctx)
	if err != nil {
		return nil, err
	}

	return &nodeexec.AgentSpec{
		Name:         name,
		Model:        modelStr,
		Temperature:  temperature,
		Instructions: instructions,
		Tools:        tools,
	}, nil
}

// resolveTools pulls this node's "tools" link-channel edges via the
// Graph Runtime, keeping only artifacts shaped as an AgentToolRef (what
// every built-in link materializer that feeds an agent's tools handle —
// toolset, mcp-server, another agent — returns).
func (a Agent) resolveTools(ctx context.Context, fctx nodeexec.FlowContext) ([]nodeexec.AgentToolRef, error) {
	if fctx.Runtime == nil {
		return nil, nil
	}
	artifacts, err := fctx.Runtime.ResolveLinks(ctx, fctx.NodeID, "tools")
	if err != nil {
		return nil, err
	}
	refs := make([]nodeexec.AgentToolRef, 0, len(artifacts))
	for _, artifact := range artifacts {
		if ref, ok := artifact.(nodeexec.AgentToolRef); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// resolveFlowLink walks nodeID's flow-channel incoming edges for
// targetHandle and materializes the first upstream source that yields a
// non-nil value, mirroring model-selector's own Materialize and the
// original's _resolve_flow_input.
func resolveFlowLink(ctx context.Context, fctx nodeexec.FlowContext, targetHandle string) (any, error) {
	for _, e := range fctx.Runtime.IncomingEdges(fctx.NodeID, flowFilter(graph.ChannelFlow, targetHandle)...) {
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
	return nil, nil
}

// chatInputState is the FlowContext.State shape a conversation run
// supplies when the agent node sits at the flow's entry with no wired
// "input" edge: the message to send and whatever prior turns fold into
// history, the same role codeExpressionContext's Trigger/UpstreamOutputs
// and webhookPayload's WebhookPayload play for their own node types.
type chatInputState interface {
	ChatInput() (message string, history []nodeexec.AgentHistoryMessage)
}

// resolveAgentMessage extracts the run's input map and the user message
// text to send, mirroring _resolve_agent_message's key-priority scan.
func resolveAgentMessage(inputs map[string]datamodel.DataValue) (map[string]any, string) {
	var inputValue map[string]any
	if in, ok := inputs["input"]; ok {
		if m, ok := in.Value.(map[string]any); ok {
			inputValue = m
		} else if in.Value != nil {
			inputValue = map[string]any{"message": extractText(in.Value)}
		}
	}
	if inputValue == nil {
		inputValue = map[string]any{}
	}

	for _, key := range []string{"message", "last_user_message", "text", "response", "content"} {
		if v, ok := inputValue[key]; ok {
			if s := extractText(v); s != "" {
				return inputValue, s
			}
		}
	}
	return inputValue, extractText(inputValue)
}

// stream drains one AgentModel run (and any approval-triggered resume),
// translating chunks into wire events and a terminal NodeStep.
func (a Agent) stream(ctx context.Context, model nodeexec.AgentModel, req nodeexec.AgentRunRequest, fctx nodeexec.FlowContext, out chan<- nodeexec.NodeStep) {
	defer close(out)

	chunks, err := model.Run(ctx, req)
	if err != nil {
		a.fail(ctx, fctx, out, err)
		return
	}

	var parts []string
	boundRunID := ""
	current := chunks

	for {
		chunk, ok, err := recvWithIdleTimeout(ctx, current, agentStreamIdleTimeout)
		if err != nil {
			a.fail(ctx, fctx, out, err)
			return
		}
		if !ok {
			out <- finalOutput(joinParts(parts))
			return
		}

		if chunk.RunID != "" && chunk.RunID != boundRunID {
			boundRunID = chunk.RunID
			if a.RunControl != nil {
				if h, ok := a.RunControl.Get(fctx.RunID); ok {
					h.BindAgent(boundRunID)
				}
			}
		}

		switch chunk.Kind {
		case nodeexec.AgentChunkText:
			if chunk.Member != nil {
				a.publish(ctx, fctx, hooks.NewRunContentEvent(fctx.RunID, fctx.ChatID, fctx.NodeID, chunk.Text))
				continue
			}
			parts = append(parts, chunk.Text)
			out <- nodeexec.NodeStep{Event: &datamodel.NodeEvent{
				NodeID: fctx.NodeID, NodeType: "agent",
				Kind: datamodel.NodeEventProgress,
				Data: map[string]any{"content": chunk.Text},
			}}

		case nodeexec.AgentChunkReasoningStarted:
			a.publish(ctx, fctx, hooks.NewReasoningStartedEvent(fctx.RunID, fctx.ChatID, fctx.NodeID))
		case nodeexec.AgentChunkReasoningStep:
			a.publish(ctx, fctx, hooks.NewReasoningStepEvent(fctx.RunID, fctx.ChatID, fctx.NodeID, chunk.Reasoning))
		case nodeexec.AgentChunkReasoningDone:
			a.publish(ctx, fctx, hooks.NewReasoningCompletedEvent(fctx.RunID, fctx.ChatID, fctx.NodeID))

		case nodeexec.AgentChunkToolCallStarted:
			if chunk.Tool != nil {
				a.publish(ctx, fctx, hooks.NewToolCallStartedEvent(fctx.RunID, fctx.ChatID, chunk.Tool.ID, chunk.Tool.ToolName, chunk.Tool.Args))
			}
		case nodeexec.AgentChunkToolCallDone:
			if chunk.Tool != nil {
				a.publish(ctx, fctx, hooks.NewToolCallCompletedEvent(fctx.RunID, fctx.ChatID, chunk.Tool.ID, chunk.Tool.ToolName, chunk.Tool.Result))
			}
		case nodeexec.AgentChunkToolCallFailed:
			if chunk.Tool != nil {
				a.publish(ctx, fctx, hooks.NewToolCallFailedEvent(fctx.RunID, fctx.ChatID, chunk.Tool.ID, chunk.Tool.ToolName, chunk.Tool.Error))
			}

		case nodeexec.AgentChunkMemberStarted:
			if chunk.Member != nil {
				a.publish(ctx, fctx, hooks.NewMemberRunStartedEvent(fctx.RunID, fctx.ChatID, fctx.NodeID, chunk.Member.Name))
			}
		case nodeexec.AgentChunkMemberDone:
			if chunk.Member != nil {
				a.publish(ctx, fctx, hooks.NewMemberRunCompletedEvent(fctx.RunID, fctx.ChatID, fctx.NodeID, chunk.Member.Name))
			}
		case nodeexec.AgentChunkMemberError:
			if chunk.Member != nil {
				a.publish(ctx, fctx, hooks.NewMemberRunErrorEvent(fctx.RunID, fctx.ChatID, fctx.NodeID, chunk.Member.Name, errText(chunk.Err)))
			}

		case nodeexec.AgentChunkApprovalRequired:
			resumed, doneErr := a.handleApproval(ctx, model, chunk, fctx, out)
			if doneErr {
				return
			}
			current = resumed

		case nodeexec.AgentChunkCancelled:
			a.publish(ctx, fctx, hooks.NewRunCancelledEvent(fctx.RunID, fctx.ChatID))
			out <- finalOutput("")
			return

		case nodeexec.AgentChunkError:
			a.fail(ctx, fctx, out, fmt.Errorf("%s", errText(chunk.Err)))
			return

		case nodeexec.AgentChunkDone:
			text := chunk.FinalText
			if text == "" {
				text = joinParts(parts)
			}
			out <- finalOutput(text)
			return
		}
	}
}

// handleApproval registers a Run Control approval waiter per pending
// tool call, publishes ToolApprovalRequired for each, blocks for every
// decision, publishes ToolApprovalResolved, and resumes the model run.
// Returns the resumed stream and whether a fatal error already
// terminated the node (in which case the caller must stop draining).
func (a Agent) handleApproval(ctx context.Context, model nodeexec.AgentModel, chunk nodeexec.AgentChunk, fctx nodeexec.FlowContext, out chan<- nodeexec.NodeStep) (<-chan nodeexec.AgentChunk, bool) {
	if a.RunControl == nil || len(chunk.Pending) == 0 {
		resumed, err := model.Resume(ctx, chunk.RunID, nil)
		if err != nil {
			a.fail(ctx, fctx, out, err)
			return nil, true
		}
		return resumed, false
	}

	waiters := make([]<-chan runctl.ApprovalResponse, len(chunk.Pending))
	for i, p := range chunk.Pending {
		waiters[i] = a.RunControl.RegisterApprovalWaiter(fctx.RunID, p.ToolCallID)
		a.publish(ctx, fctx, hooks.NewToolApprovalRequiredEvent(fctx.RunID, fctx.ChatID, p.ToolCallID, p.ToolCallID, p.ToolName, p.Args))
	}

	decisions := make([]nodeexec.AgentToolDecision, len(chunk.Pending))
	for i, p := range chunk.Pending {
		resp := <-waiters[i]
		a.RunControl.ClearApproval(fctx.RunID, p.ToolCallID)
		decisions[i] = nodeexec.AgentToolDecision{
			ToolCallID: p.ToolCallID,
			Approved:   resp.Status == runctl.ApprovalApproved,
			EditedArgs: resp.EditedArgs,
		}
		a.publish(ctx, fctx, hooks.NewToolApprovalResolvedEvent(fctx.RunID, fctx.ChatID, p.ToolCallID, string(resp.Status), resp.EditedArgs))
	}

	resumed, err := model.Resume(ctx, chunk.RunID, decisions)
	if err != nil {
		a.fail(ctx, fctx, out, err)
		return nil, true
	}
	return resumed, false
}

// fail publishes RunError and the generic Error NodeEvent (which
// flowexec's publishNodeEvent turns into FlowNodeError), then yields an
// empty terminal result, matching the original's except-and-yield
// fallback rather than propagating a Go error up through flowexec.
func (a Agent) fail(ctx context.Context, fctx nodeexec.FlowContext, out chan<- nodeexec.NodeStep, err error) {
	a.publish(ctx, fctx, hooks.NewRunErrorEvent(fctx.RunID, fctx.ChatID, err.Error()))
	out <- errorStep(fctx.NodeID, "agent", err)
	out <- finalOutput("")
}

func (a Agent) publish(ctx context.Context, fctx nodeexec.FlowContext, event hooks.Event) {
	if fctx.Bus == nil {
		return
	}
	_ = fctx.Bus.Publish(ctx, event)
}

func recvWithIdleTimeout(ctx context.Context, ch <-chan nodeexec.AgentChunk, timeout time.Duration) (nodeexec.AgentChunk, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case chunk, ok := <-ch:
		return chunk, ok, nil
	case <-timer.C:
		return nodeexec.AgentChunk{}, false, errkind.Newf(errkind.Provider, "agent stream timed out after %s", timeout)
	case <-ctx.Done():
		return nodeexec.AgentChunk{}, false, errkind.Wrap(errkind.Cancellation, "agent stream cancelled", ctx.Err())
	}
}

func finalOutput(text string) nodeexec.NodeStep {
	return nodeexec.NodeStep{Result: &datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"output": datamodel.New(datamodel.TypeData, map[string]any{"response": text}),
		},
	}}
}

func joinParts(parts []string) string {
	total := ""
	for _, p := range parts {
		total += p
	}
	return total
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
