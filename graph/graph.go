// Package graph defines the persisted graph shape (Node, Edge, Graph) and
// the Normalizer that validates and dedupes a raw graph at the save/load
// and route-index boundaries.
package graph

import (
	"fmt"

	"github.com/covalt-run/flowruntime/errkind"
)

// Channel distinguishes the two edge kinds the runtime understands.
// Every edge must carry one explicitly; there is no default.
type Channel string

const (
	// ChannelFlow carries DataValues during execution, scheduled by the
	// Flow Executor's topological order.
	ChannelFlow Channel = "flow"
	// ChannelLink carries structural artifacts (tools, sub-agents,
	// models) resolved lazily by the Graph Runtime.
	ChannelLink Channel = "link"
)

// DefaultSourceHandle and DefaultTargetHandle are the handle names used
// when a Node, Edge pair's Source/TargetHandle is empty, for adjacency
// lookup purposes only — the original empty value is preserved on the Edge
// itself.
const (
	DefaultSourceHandle = "output"
	DefaultTargetHandle = "input"
)

// Node is a single vertex in the graph. Data is a type-opaque configuration
// bag whose recognized keys depend on Type; the runtime never interprets it
// generically.
type Node struct {
	ID       string
	Type     string
	Position Position
	Data     map[string]any
}

// Position is the node's canvas coordinate, carried through unmodified.
type Position struct {
	X float64
	Y float64
}

// Edge connects two nodes on one channel. Data.channel is required; Data is
// otherwise passed through untouched so callers can stash extension fields
// like sourceType/targetType.
type Edge struct {
	ID           string
	Source       string
	SourceHandle string
	Target       string
	TargetHandle string
	Data         map[string]any
}

// Channel extracts the required channel discriminator from Data. Callers
// that already passed through Normalize can trust this always succeeds;
// it is exported so other packages (graphruntime, flowexec) can read the
// channel without duplicating the data["channel"] lookup.
func (e Edge) Channel() (Channel, error) {
	raw, ok := e.Data["channel"]
	if !ok {
		return "", errkind.Newf(errkind.Validation, "edge %q missing data payload", fallbackID(e.ID))
	}
	channel, _ := raw.(string)
	switch Channel(channel) {
	case ChannelFlow:
		return ChannelFlow, nil
	case ChannelLink:
		return ChannelLink, nil
	default:
		return "", errkind.Newf(errkind.Validation, "edge %q has invalid channel: %q", fallbackID(e.ID), channel)
	}
}

// LookupSourceHandle returns SourceHandle, defaulted to "output" for
// adjacency-index lookups. The Edge's own SourceHandle is left untouched.
func (e Edge) LookupSourceHandle() string {
	if e.SourceHandle == "" {
		return DefaultSourceHandle
	}
	return e.SourceHandle
}

// LookupTargetHandle returns TargetHandle, defaulted to "input" for
// adjacency-index lookups. The Edge's own TargetHandle is left untouched.
func (e Edge) LookupTargetHandle() string {
	if e.TargetHandle == "" {
		return DefaultTargetHandle
	}
	return e.TargetHandle
}

func fallbackID(id string) string {
	if id == "" {
		return "<unknown>"
	}
	return id
}

// Graph is the persisted `{nodes, edges}` shape, saved and loaded as JSON
// per agent.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// edgeSignature is the 5-tuple edges are deduped by: source, target, the
// handles as stored (not lookup-defaulted), and channel.
type edgeSignature struct {
	source       string
	target       string
	sourceHandle string
	targetHandle string
	channel      Channel
}

// Normalizer validates and dedupes raw graphs at save/load and
// route-index boundaries. It never mutates its input; Normalize always
// returns a new Graph.
type Normalizer struct{}

// NewNormalizer constructs a Normalizer. It holds no state; the zero value
// is equally usable, but a constructor keeps call sites consistent with
// the rest of the runtime's services.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize validates every edge carries an explicit flow/link channel,
// dedupes edges by the 5-tuple (source, target, sourceHandle, targetHandle,
// channel), and returns a new Graph. Nodes are copied through unchanged.
// Edges missing a source or target are silently dropped, matching the
// original loader's tolerance for partially-drawn edges mid-drag.
func (n *Normalizer) Normalize(nodes []Node, edges []Edge) (Graph, error) {
	normNodes := make([]Node, len(nodes))
	copy(normNodes, nodes)

	normEdges := make([]Edge, 0, len(edges))
	seen := make(map[edgeSignature]struct{}, len(edges))

	for _, e := range edges {
		if e.Source == "" || e.Target == "" {
			continue
		}

		channel, err := e.Channel()
		if err != nil {
			return Graph{}, err
		}

		sig := edgeSignature{
			source:       e.Source,
			target:       e.Target,
			sourceHandle: e.SourceHandle,
			targetHandle: e.TargetHandle,
			channel:      channel,
		}
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}

		normEdges = append(normEdges, copyEdge(e))
	}

	return Graph{Nodes: normNodes, Edges: normEdges}, nil
}

func copyEdge(e Edge) Edge {
	data := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	return Edge{
		ID:           e.ID,
		Source:       e.Source,
		SourceHandle: e.SourceHandle,
		Target:       e.Target,
		TargetHandle: e.TargetHandle,
		Data:         data,
	}
}

// String aids debugging and error messages (e.g. cycle paths).
func (n Node) String() string {
	return fmt.Sprintf("%s(%s)", n.ID, n.Type)
}
