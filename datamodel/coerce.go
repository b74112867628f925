package datamodel

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// converter transforms a DataValue of the source type in a coercion pair
// into the paired target type. Implementations assume the source type is
// already correct since the table only maps valid pairs.
type converter func(DataValue) DataValue

type coercionKey struct {
	source SocketType
	target SocketType
}

// coercionTable mirrors IMPLICIT_COERCIONS from the original's
// app/lib/flow/sockets.ts / nodes/_coerce.py COERCION_TABLE. Keep additions
// here in sync with any editor-time connection-compatibility table.
var coercionTable = map[coercionKey]converter{
	{TypeInt, TypeFloat}: intToFloat,

	{TypeInt, TypeString}:     toString,
	{TypeFloat, TypeString}:   toString,
	{TypeBoolean, TypeString}: boolToString,
	{TypeJSON, TypeString}:    jsonToString,

	{TypeString, TypeText}: retag(TypeText),
	{TypeText, TypeString}: retag(TypeString),
	{TypeJSON, TypeText}:   jsonToTextPretty,

	{TypeMessage, TypeText}:   messageToText,
	{TypeMessage, TypeString}: messageToText,
	{TypeMessage, TypeJSON}:   messageToJSON,

	{TypeDocument, TypeText}: documentToText,
	{TypeDocument, TypeJSON}: documentToJSON,

	{TypeMessages, TypeString}: messagesToString,
	{TypeString, TypeMessages}: stringToMessages,
}

func intToFloat(v DataValue) DataValue {
	switch n := v.Value.(type) {
	case int:
		return New(TypeFloat, float64(n))
	case int64:
		return New(TypeFloat, float64(n))
	case float64:
		return New(TypeFloat, n)
	default:
		return New(TypeFloat, v.Value)
	}
}

func toString(v DataValue) DataValue {
	switch n := v.Value.(type) {
	case string:
		return New(TypeString, n)
	case int:
		return New(TypeString, strconv.Itoa(n))
	case int64:
		return New(TypeString, strconv.FormatInt(n, 10))
	case float64:
		return New(TypeString, strconv.FormatFloat(n, 'g', -1, 64))
	default:
		return New(TypeString, fmt.Sprintf("%v", v.Value))
	}
}

// retag returns a converter that changes only the Type tag, used for the
// string<->text pair: the two share a representation and differ only in
// how editors treat them (single-line vs multi-line).
func retag(target SocketType) converter {
	return func(v DataValue) DataValue {
		return New(target, v.Value)
	}
}

func jsonToTextPretty(v DataValue) DataValue {
	encoded, err := json.MarshalIndent(v.Value, "", "  ")
	if err != nil {
		return New(TypeText, fmt.Sprintf("%v", v.Value))
	}
	return New(TypeText, string(encoded))
}

// messageContent extracts the "content" field of a message-shaped value,
// falling back to a %v rendering when the shape is unexpected.
func messageContent(v DataValue) string {
	if m, ok := v.Value.(map[string]any); ok {
		if content, ok := m["content"].(string); ok {
			return content
		}
	}
	return fmt.Sprintf("%v", v.Value)
}

func messageToText(v DataValue) DataValue {
	return New(TypeText, messageContent(v))
}

func messageToJSON(v DataValue) DataValue {
	return New(TypeJSON, v.Value)
}

func documentToText(v DataValue) DataValue {
	if m, ok := v.Value.(map[string]any); ok {
		if text, ok := m["text"].(string); ok {
			return New(TypeText, text)
		}
		if content, ok := m["content"].(string); ok {
			return New(TypeText, content)
		}
	}
	return New(TypeText, fmt.Sprintf("%v", v.Value))
}

func documentToJSON(v DataValue) DataValue {
	return New(TypeJSON, v.Value)
}

func boolToString(v DataValue) DataValue {
	b, _ := v.Value.(bool)
	if b {
		return New(TypeString, "true")
	}
	return New(TypeString, "false")
}

func jsonToString(v DataValue) DataValue {
	encoded, err := json.Marshal(v.Value)
	if err != nil {
		return New(TypeString, fmt.Sprintf("%v", v.Value))
	}
	return New(TypeString, string(encoded))
}

// messagesToString flattens a conversation-shaped value down to plain
// text, taking the "content" field of each message when present.
func messagesToString(v DataValue) DataValue {
	switch msgs := v.Value.(type) {
	case []any:
		lines := make([]string, 0, len(msgs))
		for _, m := range msgs {
			if asMap, ok := m.(map[string]any); ok {
				if content, ok := asMap["content"].(string); ok {
					lines = append(lines, content)
					continue
				}
			}
			lines = append(lines, fmt.Sprintf("%v", m))
		}
		joined := ""
		for i, l := range lines {
			if i > 0 {
				joined += "\n"
			}
			joined += l
		}
		return New(TypeString, joined)
	case map[string]any:
		if content, ok := msgs["content"].(string); ok {
			return New(TypeString, content)
		}
		return New(TypeString, fmt.Sprintf("%v", msgs))
	default:
		return New(TypeString, fmt.Sprintf("%v", v.Value))
	}
}

func stringToMessages(v DataValue) DataValue {
	content := fmt.Sprintf("%v", v.Value)
	return New(TypeMessages, []any{
		map[string]any{"role": "user", "content": content},
	})
}

// CanCoerce reports whether a value of sourceType can implicitly convert to
// targetType, without performing the conversion.
func CanCoerce(sourceType, targetType SocketType) bool {
	if sourceType == targetType {
		return true
	}
	if targetType == TypeAny || sourceType == TypeAny {
		return true
	}
	_, ok := coercionTable[coercionKey{sourceType, targetType}]
	return ok
}

// Coerce converts value to targetType, returning a new DataValue. If value
// already has targetType, value is returned unchanged (identity). Any
// accepts everything as-is when it is the target; an Any-typed value is
// passed through unchanged except for its type tag when Any is the source.
//
// Returns an error if no coercion path exists for the pair.
func Coerce(value DataValue, targetType SocketType) (DataValue, error) {
	if value.Type == targetType {
		return value, nil
	}
	if targetType == TypeAny {
		return value, nil
	}
	if value.Type == TypeAny {
		return New(targetType, value.Value), nil
	}

	convert, ok := coercionTable[coercionKey{value.Type, targetType}]
	if !ok {
		return DataValue{}, fmt.Errorf(
			"datamodel: no implicit coercion from %q to %q; use a Type Converter node for explicit conversion",
			value.Type, targetType,
		)
	}
	return convert(value), nil
}
