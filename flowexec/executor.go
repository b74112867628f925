// Package flowexec implements the Flow Executor: the topological scheduler
// over a run's flow subgraph. It partitions flow nodes from link-only
// structural nodes, orders them deterministically, gathers and coerces
// each node's inputs from upstream outputs, dispatches to the node's
// registered capability (single-shot or streaming), forwards lifecycle
// events to the hooks.Bus, and enforces each node's on_error policy plus
// cooperative cancellation between nodes.
package flowexec

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/expr"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/hooks"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// Registry is the subset of nodeexec.Registry the Flow Executor needs:
// partitioning and per-node capability dispatch.
type Registry interface {
	HasFlowExecutor(nodeType string) bool
	FlowExecutor(nodeType string) (nodeexec.FlowExecutor, bool)
	SingleShotExecutor(nodeType string) (nodeexec.SingleShotExecutor, bool)
}

// CancelSignal reports whether the owning run has been asked to stop.
// Checked between nodes; runctl.Handle
// implements this.
type CancelSignal interface {
	Cancelled() bool
}

// Executor runs one flow subgraph to completion, failure, or
// cancellation.
type Executor struct {
	registry Registry
}

// New constructs an Executor backed by registry.
func New(registry Registry) *Executor {
	return &Executor{registry: registry}
}

// RunOptions configures one invocation of Run.
type RunOptions struct {
	// Graph is the full normalized graph; flowexec partitions it itself.
	Graph graph.Graph
	// Runtime is the per-run Graph Runtime, used for link resolution by
	// node executors and for node-data lookup.
	Runtime nodeexec.RuntimeAPI
	RunID   string
	ChatID  string
	State   any
	Tools   nodeexec.ToolRegistry
	// Bus receives FlowNodeStarted/Completed/Result/Error events as the
	// run progresses. May be nil to run silently (e.g. in tests).
	Bus hooks.Bus
	// EntryNodeIDs, if non-empty, restricts execution to flow nodes
	// transitively reachable from these via flow edges.
	// Unreachable flow nodes are skipped with no events.
	EntryNodeIDs []string
	// SeedOutputs pre-populates portValues for nodes outside the
	// restricted run (a stream_flow_run "runFrom" invocation's
	// cached_outputs), so a downstream entry node's gatherInputs sees its
	// upstream dependency's previously computed result without rerunning
	// it. Nodes present here are never re-executed even if also reachable
	// from EntryNodeIDs.
	SeedOutputs map[string]map[string]datamodel.DataValue
	// Cancel is polled between nodes; when it reports true the run stops
	// cleanly without emitting FlowNodeError for the node it stopped
	// before.
	Cancel CancelSignal
}

// Result is what Run returns: every node's final outputs, keyed by node
// id then output handle, for callers that need the full port-value table
// (e.g. webhook dispatch's cached_outputs).
type Result struct {
	PortValues map[string]map[string]datamodel.DataValue
	Cancelled  bool
}

// Run partitions opts.Graph into its flow subgraph, executes nodes in
// topological order, and returns once every reachable node has run, the
// run was cancelled, or a node's on_error policy stopped it.
func (e *Executor) Run(ctx context.Context, opts RunOptions) (Result, error) {
	flowNodeIDs, flowEdges := partition(opts.Graph, e.registry)
	if len(flowNodeIDs) == 0 {
		return Result{PortValues: map[string]map[string]datamodel.DataValue{}}, nil
	}

	order, err := topologicalSort(flowNodeIDs, flowEdges)
	if err != nil {
		return Result{}, err
	}

	if len(opts.EntryNodeIDs) > 0 {
		reachable := reachableFrom(opts.EntryNodeIDs, flowEdges)
		filtered := order[:0:0]
		for _, id := range order {
			if reachable[id] {
				filtered = append(filtered, id)
			}
		}
		order = filtered
	}
	if len(opts.SeedOutputs) > 0 {
		filtered := order[:0:0]
		for _, id := range order {
			if _, seeded := opts.SeedOutputs[id]; !seeded {
				filtered = append(filtered, id)
			}
		}
		order = filtered
	}

	nodesByID := make(map[string]graph.Node, len(opts.Graph.Nodes))
	for _, n := range opts.Graph.Nodes {
		nodesByID[n.ID] = n
	}

	portValues := make(map[string]map[string]datamodel.DataValue, len(opts.SeedOutputs))
	for id, outputs := range opts.SeedOutputs {
		portValues[id] = outputs
	}
	outputsByName := make(map[string]any)
	for id, outputs := range opts.SeedOutputs {
		node, ok := nodesByID[id]
		if !ok {
			continue
		}
		if out, ok := outputs[graph.DefaultSourceHandle]; ok {
			outputsByName[nodeDisplayName(node)] = out.Value
		}
	}

	for _, nodeID := range order {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			return Result{PortValues: portValues, Cancelled: true}, nil
		}

		node, ok := nodesByID[nodeID]
		if !ok {
			continue
		}

		inputs := gatherInputs(nodeID, flowEdges, portValues)
		if hasIncomingFlowEdges(nodeID, flowEdges) && len(inputs) == 0 {
			// Dead branch: no events, no outputs.
			continue
		}

		node.Data = resolveNodeData(node.Data, inputs, outputsByName)

		onError, _ := node.Data["on_error"].(string)
		if onError == "" {
			onError = "stop"
		}

		fctx := nodeexec.FlowContext{
			NodeID:  nodeID,
			ChatID:  opts.ChatID,
			RunID:   opts.RunID,
			State:   opts.State,
			Runtime: opts.Runtime,
			Tools:   opts.Tools,
			Bus:     opts.Bus,
		}

		result, runErr := e.runNode(ctx, node, inputs, fctx, opts.Bus, opts.RunID, opts.ChatID)
		if runErr != nil {
			e.publish(ctx, opts.Bus, hooks.NewFlowNodeErrorEvent(opts.RunID, opts.ChatID, nodeID, runErr.Error()))
			if onError == "continue" {
				portValues[nodeID] = map[string]datamodel.DataValue{
					"output": datamodel.New(datamodel.TypeJSON, map[string]any{"error": runErr.Error()}),
				}
				continue
			}
			if errkind.IsCancellation(runErr) {
				return Result{PortValues: portValues, Cancelled: true}, nil
			}
			return Result{PortValues: portValues}, runErr
		}

		portValues[nodeID] = result.Outputs
		if out, ok := result.Outputs[graph.DefaultSourceHandle]; ok {
			outputsByName[nodeDisplayName(node)] = out.Value
		}
	}

	return Result{PortValues: portValues}, nil
}

// resolveNodeData applies the expression resolver's expression-over-
// inline-value step to a node's data before it
// reaches the executor, using the node's gathered "input" handle as the
// direct-parent shorthand and outputsByName for $('Node Name') references.
// Wire values (already present in inputs under their target handle) take
// priority implicitly: an executor reads a wired handle straight off
// inputs and only falls back to data[key] when the handle is absent.
func resolveNodeData(data map[string]any, inputs map[string]datamodel.DataValue, outputsByName map[string]any) map[string]any {
	var direct *datamodel.DataValue
	if dv, ok := inputs[graph.DefaultTargetHandle]; ok {
		direct = &dv
	}
	return expr.Resolve(data, direct, outputsByName)
}

// nodeDisplayName returns the node's label for $('Node Name') expression
// references, falling back to its id when data carries no label.
func nodeDisplayName(node graph.Node) string {
	if label, ok := node.Data["label"].(string); ok && label != "" {
		return label
	}
	return node.ID
}

// runNode dispatches to the node's registered capability, preferring a
// streaming FlowExecutor over a SingleShotExecutor when a node type
// somehow registers both (it never should in practice; the built-ins each
// implement exactly one).
func (e *Executor) runNode(
	ctx context.Context,
	node graph.Node,
	inputs map[string]datamodel.DataValue,
	fctx nodeexec.FlowContext,
	bus hooks.Bus,
	runID, chatID string,
) (datamodel.ExecutionResult, error) {
	started := time.Now()
	e.publish(ctx, bus, hooks.NewFlowNodeStartedEvent(runID, chatID, node.ID, node.Type))

	if streaming, ok := e.registry.FlowExecutor(node.Type); ok {
		steps, err := streaming.Execute(ctx, node.Data, inputs, fctx)
		if err != nil {
			return datamodel.ExecutionResult{}, err
		}
		var final datamodel.ExecutionResult
		var haveFinal bool
		for step := range steps {
			if step.Event != nil {
				e.publishNodeEvent(ctx, bus, runID, chatID, node, *step.Event)
			}
			if step.Result != nil {
				final = *step.Result
				haveFinal = true
			}
		}
		if !haveFinal {
			final = datamodel.ExecutionResult{}
		}
		e.publish(ctx, bus, hooks.NewFlowNodeCompletedEvent(runID, chatID, node.ID, node.Type, time.Since(started)))
		e.publish(ctx, bus, hooks.NewFlowNodeResultEvent(runID, chatID, node.ID, final.Outputs))
		return final, nil
	}

	singleShot, ok := e.registry.SingleShotExecutor(node.Type)
	if !ok {
		return datamodel.ExecutionResult{}, errkind.Newf(errkind.Resolution, "no flow executor registered for node type %q", node.Type).AtNode(node.ID)
	}

	result, err := singleShot.Execute(ctx, node.Data, inputs, fctx)
	if err != nil {
		return datamodel.ExecutionResult{}, err
	}
	for _, ev := range result.Events {
		e.publishNodeEvent(ctx, bus, runID, chatID, node, ev)
	}
	e.publish(ctx, bus, hooks.NewFlowNodeCompletedEvent(runID, chatID, node.ID, node.Type, time.Since(started)))
	e.publish(ctx, bus, hooks.NewFlowNodeResultEvent(runID, chatID, node.ID, result.Outputs))
	return result, nil
}

// publishNodeEvent translates a node-internal datamodel.NodeEvent into the
// canonical RunContent wire event; richer node-specific events (tool
// calls, reasoning, member runs) are published directly by executors that
// need them (see builtin.Agent) since they carry fields NodeEvent's
// generic Data map cannot type safely.
func (e *Executor) publishNodeEvent(ctx context.Context, bus hooks.Bus, runID, chatID string, node graph.Node, ev datamodel.NodeEvent) {
	switch ev.Kind {
	case datamodel.NodeEventProgress:
		content := ev.Data["content"]
		e.publish(ctx, bus, hooks.NewRunContentEvent(runID, chatID, node.ID, content))
	case datamodel.NodeEventError:
		msg := fmt.Sprintf("%v", ev.Data["error"])
		e.publish(ctx, bus, hooks.NewFlowNodeErrorEvent(runID, chatID, node.ID, msg))
	}
}

func (e *Executor) publish(ctx context.Context, bus hooks.Bus, event hooks.Event) {
	if bus == nil {
		return
	}
	_ = bus.Publish(ctx, event)
}

// partition returns the set of flow node ids (nodes whose executor has a
// FlowExecutor or SingleShotExecutor capability) and the flow-channel
// edges between them.
func partition(g graph.Graph, registry Registry) (map[string]bool, []graph.Edge) {
	flowIDs := make(map[string]bool)
	for _, n := range g.Nodes {
		if registry.HasFlowExecutor(n.Type) {
			flowIDs[n.ID] = true
		}
	}

	flowEdges := make([]graph.Edge, 0, len(g.Edges))
	for _, edge := range g.Edges {
		channel, err := edge.Channel()
		if err != nil || channel != graph.ChannelFlow {
			continue
		}
		flowEdges = append(flowEdges, edge)
	}
	return flowIDs, flowEdges
}

// topologicalSort runs Kahn's algorithm over flowIDs restricted to
// flowEdges, breaking ties lexicographically by node id so two clients
// observe the same event order.
func topologicalSort(flowIDs map[string]bool, flowEdges []graph.Edge) ([]string, error) {
	inDegree := make(map[string]int, len(flowIDs))
	adjacency := make(map[string][]string, len(flowIDs))
	for id := range flowIDs {
		inDegree[id] = 0
	}

	for _, edge := range flowEdges {
		if !flowIDs[edge.Source] || !flowIDs[edge.Target] {
			continue
		}
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		inDegree[edge.Target]++
	}

	queue := make([]string, 0, len(flowIDs))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(flowIDs))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		neighbors := append([]string(nil), adjacency[node]...)
		sort.Strings(neighbors)
		for _, neighbor := range neighbors {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(flowIDs) {
		return nil, errkind.New(errkind.Topology, "cycle detected in flow graph")
	}
	return order, nil
}

// reachableFrom returns the set of node ids transitively reachable from
// entryIDs via flowEdges, inclusive of the entry ids themselves.
func reachableFrom(entryIDs []string, flowEdges []graph.Edge) map[string]bool {
	adjacency := make(map[string][]string)
	for _, edge := range flowEdges {
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
	}

	reachable := make(map[string]bool, len(entryIDs))
	queue := append([]string(nil), entryIDs...)
	for _, id := range entryIDs {
		reachable[id] = true
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reachable
}

// gatherInputs pulls each incoming flow edge's upstream output into this
// node's input map, coercing it to the edge's declared targetType (a
// pass-through data field) when one is present and differs from the
// value's own type.
func gatherInputs(nodeID string, flowEdges []graph.Edge, portValues map[string]map[string]datamodel.DataValue) map[string]datamodel.DataValue {
	inputs := make(map[string]datamodel.DataValue)
	for _, edge := range flowEdges {
		if edge.Target != nodeID {
			continue
		}
		sourceOutputs, ok := portValues[edge.Source]
		if !ok {
			continue
		}
		value, ok := sourceOutputs[edge.LookupSourceHandle()]
		if !ok {
			continue
		}

		if targetType, ok := edge.Data["targetType"].(string); ok && targetType != "" {
			if coerced, err := datamodel.Coerce(value, datamodel.SocketType(targetType)); err == nil {
				value = coerced
			}
		}

		inputs[edge.LookupTargetHandle()] = value
	}
	return inputs
}

func hasIncomingFlowEdges(nodeID string, flowEdges []graph.Edge) bool {
	for _, edge := range flowEdges {
		if edge.Target == nodeID {
			return true
		}
	}
	return false
}
