// Package modelhandle is the boundary layer between the runtime's
// abstract streaming model handles (nodeexec.ModelHandle,
// nodeexec.AgentModel) and concrete provider SDKs.
// modelhandle/anthropic and modelhandle/openai are the two concrete
// adapters; this package holds the tool-calling loop, pause/resume
// plumbing, and tool-descriptor expansion shared between them so neither
// adapter re-implements Run Control's approval-suspend contract on its own.
package modelhandle

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/covalt-run/flowruntime/nodeexec"
)

// ToolCallRequest is one tool invocation a Turner's response asked for. ID
// is the provider's own tool-use id (for correlating a later tool result
// with this call); Name is the tool name as advertised in the
// ToolDescriptor list passed into Turn, which Engine maps back to a
// registry CallID before calling ToolRegistry/ToolCaller.
type ToolCallRequest struct {
	ID   string
	Name string
	Args map[string]any
}

// TurnResult is everything one complete model turn produced: the assistant
// text (if any) and any tool calls it requested.
type TurnResult struct {
	Text       string
	ToolCalls  []ToolCallRequest
	StopReason string
}

// Turn is the conversation state a Turner sees: prior history plus the
// tool-result follow-ups appended after each loop iteration, rendered as
// plain role/content pairs so provider packages can format their own wire
// messages from it without this package knowing their shape.
type Turn struct {
	Instructions string
	History      []nodeexec.AgentHistoryMessage
	Message      string
	Tools        []nodeexec.ToolDescriptor
	Temperature  *float64
}

// Turner drives exactly one model turn against a concrete provider,
// reporting incremental text via onText as it streams and returning once
// the provider signals the turn is complete (a stop, or a round of tool
// calls to execute). Each adapter package's Client implements this.
type Turner interface {
	Turn(ctx context.Context, turn Turn, onText func(string)) (TurnResult, error)
}

// ExpandedTools is what ExpandTools resolves req.Tools into: the
// provider-facing descriptor list, a name->CallID map Engine uses to
// translate a provider's tool-call-by-name back into a registry id, and
// the sub-agents among refs keyed by the same name their descriptor
// advertises.
type ExpandedTools struct {
	Descriptors []nodeexec.ToolDescriptor
	CallIDs     map[string]string
	SubAgents   map[string]nodeexec.AgentToolRef
}

// ExpandTools resolves refs into provider-facing ToolDescriptors:
// sub-agents are kept out of the registry lookup (the Engine handles those
// as nested turns, not provider tool calls) but still advertised as a
// callable tool; a coarse id that registry satisfies ToolExpander for is
// expanded into every concrete tool it advertises; anything else is
// exposed as a single descriptor under its own node id with only a name to
// go on (no schema).
func ExpandTools(ctx context.Context, refs []nodeexec.AgentToolRef, registry nodeexec.ToolRegistry) (ExpandedTools, error) {
	out := ExpandedTools{CallIDs: make(map[string]string), SubAgents: make(map[string]nodeexec.AgentToolRef)}

	for _, ref := range refs {
		if ref.IsSubAgent {
			name := ref.NodeID
			if ref.SubAgent != nil && ref.SubAgent.Name != "" {
				name = ref.SubAgent.Name
			}
			out.SubAgents[name] = ref
			out.Descriptors = append(out.Descriptors, nodeexec.ToolDescriptor{
				CallID:      "subagent:" + ref.NodeID,
				Name:        name,
				Description: "Delegate a sub-task to the " + name + " sub-agent.",
				InputSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"task": map[string]any{"type": "string"}},
					"required":   []string{"task"},
				},
			})
			continue
		}

		if expander, ok := registry.(nodeexec.ToolExpander); ok {
			expanded, err := expander.Expand(ctx, ref.ID)
			if err == nil && len(expanded) > 0 {
				for _, d := range expanded {
					out.Descriptors = append(out.Descriptors, d)
					out.CallIDs[d.Name] = d.CallID
				}
				continue
			}
		}

		handle, ok := registry.Lookup(ref.ID)
		if !ok {
			continue
		}
		out.Descriptors = append(out.Descriptors, nodeexec.ToolDescriptor{
			CallID: handle.ID,
			Name:   ref.NodeID,
		})
		out.CallIDs[ref.NodeID] = handle.ID
	}
	return out, nil
}

// Engine runs the provider-agnostic agentic tool-calling loop described by
// the agent executor over a Turner, satisfying
// nodeexec.AgentModel. It owns the Run/Resume suspend contract: a turn that
// requests a tool requiring approval emits AgentChunkApprovalRequired and
// parks its goroutine on an internal resume channel until Resume delivers
// the caller's decisions, matching Run Control's per-approval-id wait.
type Engine struct {
	turner   Turner
	registry nodeexec.ToolRegistry
	caller   nodeexec.ToolCaller

	mu   sync.Mutex
	runs map[string]*pendingRun
}

// pendingRun is one in-flight Run/Resume session: the channel Run returned
// (kept open across a pause so Resume can hand back the same channel) and
// the channel a paused goroutine is blocked reading decisions from.
type pendingRun struct {
	out    chan nodeexec.AgentChunk
	resume chan []nodeexec.AgentToolDecision
}

// NewEngine constructs an Engine. caller may be nil if registry's tools
// never require an actual call (e.g. a Turner that only ever produces
// text); a tool call reaching Call in that case fails loudly rather than
// silently no-opping.
func NewEngine(turner Turner, registry nodeexec.ToolRegistry, caller nodeexec.ToolCaller) *Engine {
	return &Engine{turner: turner, registry: registry, caller: caller, runs: make(map[string]*pendingRun)}
}

var _ nodeexec.AgentModel = (*Engine)(nil)

// Run starts a fresh agentic turn loop for req, satisfying
// nodeexec.AgentModel.
func (e *Engine) Run(ctx context.Context, req nodeexec.AgentRunRequest) (<-chan nodeexec.AgentChunk, error) {
	runID := uuid.NewString()
	run := &pendingRun{
		out:    make(chan nodeexec.AgentChunk, 16),
		resume: make(chan []nodeexec.AgentToolDecision, 1),
	}

	e.mu.Lock()
	e.runs[runID] = run
	e.mu.Unlock()

	expanded, err := ExpandTools(ctx, req.Tools, e.registry)
	if err != nil {
		close(run.out)
		e.forget(runID)
		return nil, err
	}

	history := append([]nodeexec.AgentHistoryMessage(nil), req.History...)
	go e.loop(ctx, runID, req, history, expanded, run)
	return run.out, nil
}

// Resume delivers decisions to runID's parked loop goroutine and returns
// the same channel Run originally returned, since the goroutine keeps
// writing to it rather than opening a new one.
func (e *Engine) Resume(ctx context.Context, runID string, decisions []nodeexec.AgentToolDecision) (<-chan nodeexec.AgentChunk, error) {
	e.mu.Lock()
	run, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("modelhandle: resume: unknown run %q", runID)
	}

	select {
	case run.resume <- decisions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return run.out, nil
}

func (e *Engine) forget(runID string) {
	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
}

// loop drives successive Turner turns, executing or pausing for approval
// on every tool call the provider requests, until a turn produces no tool
// calls (a final answer).
func (e *Engine) loop(ctx context.Context, runID string, req nodeexec.AgentRunRequest, history []nodeexec.AgentHistoryMessage, expanded ExpandedTools, run *pendingRun) {
	defer close(run.out)
	defer e.forget(runID)

	message := req.Message
	for {
		result, err := e.turner.Turn(ctx, Turn{
			Instructions: req.Instructions,
			History:      history,
			Message:      message,
			Tools:        expanded.Descriptors,
			Temperature:  req.Temperature,
		}, func(delta string) {
			run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkText, RunID: runID, Text: delta}
		})
		if err != nil {
			run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkError, RunID: runID, Err: err}
			return
		}

		history = append(history,
			nodeexec.AgentHistoryMessage{Role: "user", Content: message},
			nodeexec.AgentHistoryMessage{Role: "assistant", Content: result.Text},
		)

		if len(result.ToolCalls) == 0 {
			run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkDone, RunID: runID, FinalText: result.Text}
			return
		}

		decisions, ok := e.resolveToolCalls(ctx, runID, result.ToolCalls, expanded, run)
		if !ok {
			return // context cancelled while waiting on approval; loop exited from within
		}

		var followUp string
		for i, call := range result.ToolCalls {
			decision := decisions[i]
			if sub, isSub := expanded.SubAgents[call.Name]; isSub {
				followUp += e.runSubAgent(ctx, runID, sub, call, run)
				continue
			}
			followUp += e.executeTool(ctx, runID, call, decision, expanded, run)
		}
		message = followUp
	}
}

// resolveToolCalls gates every tool call in calls through an approval
// check, pausing the whole batch on Run Control if any one of them
// requires it (mirroring handleApproval's batched-pending publish in
// nodeexec/builtin/agent.go, one AgentChunkApprovalRequired chunk
// carrying every pending call). Returns false if the context was cancelled mid-wait.
func (e *Engine) resolveToolCalls(ctx context.Context, runID string, calls []ToolCallRequest, expanded ExpandedTools, run *pendingRun) ([]nodeexec.AgentToolDecision, bool) {
	decisions := make([]nodeexec.AgentToolDecision, len(calls))
	var pending []nodeexec.AgentPendingApproval
	pendingIdx := make([]int, 0, len(calls))

	for i, call := range calls {
		requiresApproval := false
		if _, isSub := expanded.SubAgents[call.Name]; !isSub {
			if callID, ok := expanded.CallIDs[call.Name]; ok {
				if handle, ok := e.registry.Lookup(callID); ok {
					requiresApproval = handle.RequiresApproval
				}
			}
		}
		if requiresApproval {
			pending = append(pending, nodeexec.AgentPendingApproval{ToolCallID: call.ID, ToolName: call.Name, Args: call.Args})
			pendingIdx = append(pendingIdx, i)
		} else {
			decisions[i] = nodeexec.AgentToolDecision{ToolCallID: call.ID, Approved: true, EditedArgs: call.Args}
		}
	}

	if len(pending) == 0 {
		return decisions, true
	}

	select {
	case run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkApprovalRequired, RunID: runID, Pending: pending}:
	case <-ctx.Done():
		return nil, false
	}

	var resolved []nodeexec.AgentToolDecision
	select {
	case resolved = <-run.resume:
	case <-ctx.Done():
		return nil, false
	}

	byID := make(map[string]nodeexec.AgentToolDecision, len(resolved))
	for _, d := range resolved {
		byID[d.ToolCallID] = d
	}
	for _, i := range pendingIdx {
		call := calls[i]
		if d, ok := byID[call.ID]; ok {
			if d.EditedArgs == nil {
				d.EditedArgs = call.Args
			}
			decisions[i] = d
		} else {
			decisions[i] = nodeexec.AgentToolDecision{ToolCallID: call.ID, Approved: false}
		}
	}
	return decisions, true
}

// executeTool runs one decided tool call, publishing its started/
// completed/failed chunks, and returns a plain-text rendering of the
// outcome to fold back into the next turn's message.
func (e *Engine) executeTool(ctx context.Context, runID string, call ToolCallRequest, decision nodeexec.AgentToolDecision, expanded ExpandedTools, run *pendingRun) string {
	args := call.Args
	if decision.EditedArgs != nil {
		args = decision.EditedArgs
	}

	if !decision.Approved {
		run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkToolCallFailed, RunID: runID,
			Tool: &nodeexec.AgentToolCall{ID: call.ID, ToolName: call.Name, Args: args, Error: "denied by approver"}}
		return fmt.Sprintf("Tool %s was denied.", call.Name)
	}

	run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkToolCallStarted, RunID: runID,
		Tool: &nodeexec.AgentToolCall{ID: call.ID, ToolName: call.Name, Args: args}}

	callID, ok := expanded.CallIDs[call.Name]
	if !ok {
		callID = call.Name
	}

	if e.caller == nil {
		err := "no tool caller configured"
		run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkToolCallFailed, RunID: runID,
			Tool: &nodeexec.AgentToolCall{ID: call.ID, ToolName: call.Name, Args: args, Error: err}}
		return fmt.Sprintf("Tool %s failed: %s", call.Name, err)
	}

	result, err := e.caller.Call(ctx, callID, args)
	if err != nil {
		run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkToolCallFailed, RunID: runID,
			Tool: &nodeexec.AgentToolCall{ID: call.ID, ToolName: call.Name, Args: args, Error: err.Error()}}
		return fmt.Sprintf("Tool %s failed: %s", call.Name, err.Error())
	}

	run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkToolCallDone, RunID: runID,
		Tool: &nodeexec.AgentToolCall{ID: call.ID, ToolName: call.Name, Args: args, Result: result}}
	return fmt.Sprintf("Tool %s returned: %s", call.Name, result)
}

// runSubAgent delegates call to a sub-agent's own nested Engine.Run loop
// (sharing this Engine's Turner/registry/caller), publishing Member*
// chunks around it and folding its final text back as the tool result.
func (e *Engine) runSubAgent(ctx context.Context, runID string, ref nodeexec.AgentToolRef, call ToolCallRequest, run *pendingRun) string {
	name := call.Name
	run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkMemberStarted, RunID: runID, Member: &nodeexec.AgentMember{Name: name, NodeID: ref.NodeID}}

	task, _ := call.Args["task"].(string)
	spec := ref.SubAgent
	if spec == nil {
		err := fmt.Errorf("sub-agent %q has no resolved spec", name)
		run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkMemberError, RunID: runID, Member: &nodeexec.AgentMember{Name: name, NodeID: ref.NodeID}, Err: err}
		return fmt.Sprintf("Sub-agent %s failed: %s", name, err.Error())
	}

	sub := NewEngine(e.turner, e.registry, e.caller)
	chunks, err := sub.Run(ctx, nodeexec.AgentRunRequest{
		Name: spec.Name, Model: spec.Model, Temperature: spec.Temperature,
		Instructions: spec.Instructions, Message: task, Tools: spec.Tools,
	})
	if err != nil {
		run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkMemberError, RunID: runID, Member: &nodeexec.AgentMember{Name: name, NodeID: ref.NodeID}, Err: err}
		return fmt.Sprintf("Sub-agent %s failed: %s", name, err.Error())
	}

	var final string
	for chunk := range chunks {
		switch chunk.Kind {
		case nodeexec.AgentChunkText:
			chunk.Member = &nodeexec.AgentMember{Name: name, NodeID: ref.NodeID}
			run.out <- chunk
		case nodeexec.AgentChunkDone:
			final = chunk.FinalText
		case nodeexec.AgentChunkError:
			run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkMemberError, RunID: runID, Member: &nodeexec.AgentMember{Name: name, NodeID: ref.NodeID}, Err: chunk.Err}
			return fmt.Sprintf("Sub-agent %s failed: %s", name, chunk.Err)
		}
	}

	run.out <- nodeexec.AgentChunk{Kind: nodeexec.AgentChunkMemberDone, RunID: runID, Member: &nodeexec.AgentMember{Name: name, NodeID: ref.NodeID}}
	return fmt.Sprintf("Sub-agent %s returned: %s", name, final)
}
