package expr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/expr"
)

func TestResolveInputShorthandWholeValue(t *testing.T) {
	direct := &datamodel.DataValue{Type: datamodel.TypeString, Value: "world"}
	out := expr.Resolve(map[string]any{"greeting": "Hi {{ input }}"}, direct, nil)
	require.Equal(t, "Hi world", out["greeting"])
}

func TestResolveInputShorthandWithFieldPath(t *testing.T) {
	direct := &datamodel.DataValue{Type: datamodel.TypeJSON, Value: map[string]any{"name": "Ada"}}
	out := expr.Resolve(map[string]any{"greeting": "Hi {{ input.name }}"}, direct, nil)
	require.Equal(t, "Hi Ada", out["greeting"])
}

func TestResolveInputMissingYieldsEmptyString(t *testing.T) {
	out := expr.Resolve(map[string]any{"greeting": "Hi {{ input.name }}!"}, nil, nil)
	require.Equal(t, "Hi !", out["greeting"])
}

func TestResolveNodeRefByDisplayName(t *testing.T) {
	upstream := map[string]any{"Fetch User": map[string]any{"email": "a@b.com"}}
	out := expr.Resolve(
		map[string]any{"to": "{{ $('Fetch User').item.json.email }}"},
		nil, upstream,
	)
	require.Equal(t, "a@b.com", out["to"])
}

func TestResolveNodeRefUnknownNodeLogsAndYieldsEmpty(t *testing.T) {
	out := expr.Resolve(map[string]any{"to": "{{ $('Missing').item.json.email }}"}, nil, nil)
	require.Equal(t, "", out["to"])
}

func TestResolveLeavesNonTemplateStringsUntouched(t *testing.T) {
	out := expr.Resolve(map[string]any{"label": "plain text"}, nil, nil)
	require.Equal(t, "plain text", out["label"])
}

func TestResolveLeavesNonStringValuesUntouched(t *testing.T) {
	out := expr.Resolve(map[string]any{"count": 3, "flag": true}, nil, nil)
	require.Equal(t, 3, out["count"])
	require.Equal(t, true, out["flag"])
}

func TestResolveCombinesNodeRefAndInputInOneTemplate(t *testing.T) {
	direct := &datamodel.DataValue{Type: datamodel.TypeString, Value: "xyz"}
	upstream := map[string]any{"Node A": map[string]any{"x": "1"}}
	out := expr.Resolve(
		map[string]any{"msg": "{{ $('Node A').item.json.x }}-{{ input }}"},
		direct, upstream,
	)
	require.Equal(t, "1-xyz", out["msg"])
}
