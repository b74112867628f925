// Package datamodel defines DataValue, the unit that flows through
// flow-channel edges, its closed set of socket types, and the implicit
// coercion table used when a value arrives at a port typed differently
// than it was produced.
package datamodel

import "fmt"

// SocketType is one of the closed set of socket types a DataValue may
// carry. Unlike a free-form string, this gives callers a compile-time
// enumerated set to switch on while still round-tripping as plain text on
// the wire.
type SocketType string

// The closed set of socket types: primitives,
// structured data, conversational types, and domain sockets.
const (
	TypeInt      SocketType = "int"
	TypeFloat    SocketType = "float"
	TypeBoolean  SocketType = "boolean"
	TypeString   SocketType = "string"
	TypeText     SocketType = "text"
	TypeJSON     SocketType = "json"
	TypeData     SocketType = "data"
	TypeMessages SocketType = "messages"
	TypeMessage  SocketType = "message"
	TypeDocument SocketType = "document"
	TypeModel    SocketType = "model"
	TypeAny      SocketType = "any"

	// Domain sockets.
	TypeAgent   SocketType = "agent"
	TypeTools   SocketType = "tools"
	TypeTrigger SocketType = "trigger"
	TypeBinary  SocketType = "binary"
	TypeVector  SocketType = "vector"
)

// DataValue is what flows through a flow-channel edge at runtime: a typed
// envelope around an arbitrary payload. Every value produced or consumed on
// a flow port carries a Type; Any is a wildcard both as a source and a
// target.
type DataValue struct {
	Type  SocketType
	Value any
}

// New constructs a DataValue of the given type.
func New(t SocketType, value any) DataValue {
	return DataValue{Type: t, Value: value}
}

// BinaryRef is a pointer to large content stored on disk rather than
// carried inline in a DataValue's Value field.
type BinaryRef struct {
	Ref      string
	MimeType string
	Size     int64
	Filename string
}

// NodeEventKind is the kind of lifecycle event a node emits during
// execution (distinct from the wire-level hooks.Event/events.Key pair;
// this is the node-internal signal a FlowExecutor implementation yields
// before it is translated into a hooks.Event by the flow executor).
type NodeEventKind string

const (
	NodeEventStarted   NodeEventKind = "started"
	NodeEventProgress  NodeEventKind = "progress"
	NodeEventCompleted NodeEventKind = "completed"
	NodeEventError     NodeEventKind = "error"
	NodeEventAgent     NodeEventKind = "agent_event"
)

// NodeEvent is emitted by a node during execution, powering the chat UI and
// canvas. It is translated into a concrete hooks.Event by the Flow
// Executor, which knows the run and chat ids the node itself does not
// carry.
type NodeEvent struct {
	NodeID    string
	NodeType  string
	Kind      NodeEventKind
	Data      map[string]any
	TimestampUnixMilli int64
}

// ExecutionResult is what a FlowExecutor's Execute returns: the set of
// output ports that received a value for this invocation, plus any
// NodeEvents accumulated during single-shot execution (a streaming
// executor instead yields NodeSteps, see nodeexec.NodeStep).
type ExecutionResult struct {
	Outputs map[string]DataValue
	Events  []NodeEvent
}

// String implements fmt.Stringer for logging.
func (v DataValue) String() string {
	return fmt.Sprintf("%s(%v)", v.Type, v.Value)
}
