// Package events defines the Runtime Events Contract: the versioned,
// canonical table of wire-event names the runtime and its clients agree on.
// Emission sites reference events by key; the contract maps each key to the
// wire name actually placed on the stream, so renaming a wire event never
// requires touching call sites.
package events

import "fmt"

// Key identifies a wire event independent of its on-the-wire spelling.
type Key string

// Keys for every event the runtime may emit, per the Wire events table.
const (
	KeyRunStarted             Key = "run_started"
	KeyAssistantMessageID     Key = "assistant_message_id"
	KeyRunContent             Key = "run_content"
	KeySeedBlocks             Key = "seed_blocks"
	KeyReasoningStarted       Key = "reasoning_started"
	KeyReasoningStep          Key = "reasoning_step"
	KeyReasoningCompleted     Key = "reasoning_completed"
	KeyToolCallStarted        Key = "tool_call_started"
	KeyToolCallCompleted      Key = "tool_call_completed"
	KeyToolCallFailed         Key = "tool_call_failed"
	KeyToolCallError          Key = "tool_call_error"
	KeyToolApprovalRequired   Key = "tool_approval_required"
	KeyToolApprovalResolved   Key = "tool_approval_resolved"
	KeyMemberRunStarted       Key = "member_run_started"
	KeyMemberRunCompleted     Key = "member_run_completed"
	KeyMemberRunError         Key = "member_run_error"
	KeyFlowNodeStarted        Key = "flow_node_started"
	KeyFlowNodeCompleted      Key = "flow_node_completed"
	KeyFlowNodeResult         Key = "flow_node_result"
	KeyFlowNodeError          Key = "flow_node_error"
	KeyRunCompleted           Key = "run_completed"
	KeyRunCancelled           Key = "run_cancelled"
	KeyRunError               Key = "run_error"
	KeyStreamNotActive        Key = "stream_not_active"
	KeyStreamSubscribed       Key = "stream_subscribed"
)

// ContractVersion is the version stamped on the contract, compared by
// clients against their own copy of the table at startup.
const ContractVersion = "v1"

// entry pairs a key with its canonical wire name.
type entry struct {
	key  Key
	name string
}

// contractEvents is the ordered source of truth: key -> wire name. Wire
// names intentionally differ in case/shape from Go identifiers so a rename
// on the Go side never silently changes the wire protocol.
var contractEvents = []entry{
	{KeyRunStarted, "RunStarted"},
	{KeyAssistantMessageID, "AssistantMessageId"},
	{KeyRunContent, "RunContent"},
	{KeySeedBlocks, "SeedBlocks"},
	{KeyReasoningStarted, "ReasoningStarted"},
	{KeyReasoningStep, "ReasoningStep"},
	{KeyReasoningCompleted, "ReasoningCompleted"},
	{KeyToolCallStarted, "ToolCallStarted"},
	{KeyToolCallCompleted, "ToolCallCompleted"},
	{KeyToolCallFailed, "ToolCallFailed"},
	{KeyToolCallError, "ToolCallError"},
	{KeyToolApprovalRequired, "ToolApprovalRequired"},
	{KeyToolApprovalResolved, "ToolApprovalResolved"},
	{KeyMemberRunStarted, "MemberRunStarted"},
	{KeyMemberRunCompleted, "MemberRunCompleted"},
	{KeyMemberRunError, "MemberRunError"},
	{KeyFlowNodeStarted, "FlowNodeStarted"},
	{KeyFlowNodeCompleted, "FlowNodeCompleted"},
	{KeyFlowNodeResult, "FlowNodeResult"},
	{KeyFlowNodeError, "FlowNodeError"},
	{KeyRunCompleted, "RunCompleted"},
	{KeyRunCancelled, "RunCancelled"},
	{KeyRunError, "RunError"},
	{KeyStreamNotActive, "StreamNotActive"},
	{KeyStreamSubscribed, "StreamSubscribed"},
}

// contractGroups names related subsets of keys, referenced by callers that
// want to subscribe or validate against a theme rather than a single event
// (e.g. "terminal" for the events that close out a run).
var contractGroups = map[string][]Key{
	"terminal": {KeyRunCompleted, KeyRunCancelled, KeyRunError},
	"tool_call": {
		KeyToolCallStarted, KeyToolCallCompleted, KeyToolCallFailed, KeyToolCallError,
	},
	"tool_approval": {KeyToolApprovalRequired, KeyToolApprovalResolved},
	"member_run":    {KeyMemberRunStarted, KeyMemberRunCompleted, KeyMemberRunError},
	"flow_node": {
		KeyFlowNodeStarted, KeyFlowNodeCompleted, KeyFlowNodeResult, KeyFlowNodeError,
	},
	"reasoning": {KeyReasoningStarted, KeyReasoningStep, KeyReasoningCompleted},
}

var (
	byKey  map[Key]string
	byName map[string]Key
)

// init validates the contract the same way the Python loader does: no
// duplicate keys, no duplicate names, and every group key must resolve.
// A violation here is a programming error in this package, not a runtime
// condition, so it panics rather than returning an error.
func init() {
	byKey = make(map[Key]string, len(contractEvents))
	byName = make(map[string]Key, len(contractEvents))
	for _, e := range contractEvents {
		if _, dup := byKey[e.key]; dup {
			panic(fmt.Sprintf("events: duplicate runtime event key %q", e.key))
		}
		if _, dup := byName[e.name]; dup {
			panic(fmt.Sprintf("events: duplicate runtime event name %q", e.name))
		}
		byKey[e.key] = e.name
		byName[e.name] = e.key
	}
	for group, keys := range contractGroups {
		for _, k := range keys {
			if _, ok := byKey[k]; !ok {
				panic(fmt.Sprintf("events: group %q references unknown key %q", group, k))
			}
		}
	}
}

// Name returns the canonical wire name for key, or an error if key is not
// part of the contract. Emission sites that construct events from ad hoc
// strings must go through Name so unknown events fail loudly rather than
// silently reaching a client.
func Name(key Key) (string, error) {
	name, ok := byKey[key]
	if !ok {
		return "", fmt.Errorf("events: unknown runtime event key %q", key)
	}
	return name, nil
}

// MustName is like Name but panics on an unknown key. Intended for
// call sites constructing events from a compile-time-constant Key.
func MustName(key Key) string {
	name, err := Name(key)
	if err != nil {
		panic(err)
	}
	return name
}

// IsKnown reports whether name is a wire name present in the contract.
func IsKnown(name string) bool {
	_, ok := byName[name]
	return ok
}

// Group returns the wire names for every key in the named group, in
// declaration order. An unknown group returns nil.
func Group(name string) []string {
	keys, ok := contractGroups[name]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, byKey[k])
	}
	return names
}

// All returns every wire name known to the contract, in declaration order.
func All() []string {
	names := make([]string, 0, len(contractEvents))
	for _, e := range contractEvents {
		names = append(names, e.name)
	}
	return names
}
