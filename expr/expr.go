// Package expr resolves `{{ }}` expressions embedded in a node's
// configuration data: references to an upstream node's output by display
// name, and a shorthand for the direct parent's output.
//
// Priority chain: wire > expression > inline value. Wires are already
// resolved by the Flow Executor's input gathering before this package runs;
// expr only handles the expression-over-inline-value step.
package expr

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/covalt-run/flowruntime/datamodel"
)

// nodeRefPattern matches {{ $('Node Name').item.json.field.path }}.
var nodeRefPattern = regexp.MustCompile(`\{\{\s*\$\(\s*['"]([^'"]+)['"]\s*\)\.item\.json(?:\.([\w.]+))?\s*\}\}`)

// inputPattern matches {{ input.field.path }}.
var inputPattern = regexp.MustCompile(`\{\{\s*input(?:\.([\w.]+))?\s*\}\}`)

// Resolve walks every string value in data containing "{{" and resolves
// its expressions, returning a new map. Non-string values and strings
// without "{{" pass through unchanged. direct is the value gathered from
// the node's direct parent (may be nil); upstream maps a node's display
// name to its resolved output.
func Resolve(data map[string]any, direct *datamodel.DataValue, upstream map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		s, ok := value.(string)
		if ok && strings.Contains(s, "{{") {
			out[key] = resolveString(s, direct, upstream)
		} else {
			out[key] = value
		}
	}
	return out
}

func resolveString(template string, direct *datamodel.DataValue, upstream map[string]any) string {
	result := replaceAllSubmatchFunc(nodeRefPattern, template, func(groups []string) string {
		return resolveNodeRef(groups[1], groups[2], upstream)
	})
	return replaceAllSubmatchFunc(inputPattern, result, func(groups []string) string {
		return resolveInputRef(groups[1], direct)
	})
}

func resolveNodeRef(nodeName, fieldPath string, upstream map[string]any) string {
	output, ok := upstream[nodeName]
	if !ok {
		slog.Warn("expr: expression references unknown node", "node", nodeName)
		return ""
	}
	if fieldPath == "" {
		return fmt.Sprintf("%v", output)
	}
	resolved := resolvePath(output, fieldPath)
	if resolved == nil {
		return ""
	}
	return fmt.Sprintf("%v", resolved)
}

func resolveInputRef(fieldPath string, direct *datamodel.DataValue) string {
	if direct == nil || direct.Value == nil {
		return ""
	}
	if fieldPath == "" {
		return fmt.Sprintf("%v", direct.Value)
	}
	resolved := resolvePath(direct.Value, fieldPath)
	if resolved == nil {
		return ""
	}
	return fmt.Sprintf("%v", resolved)
}

// resolvePath walks a dotted path into a nested map. Only map[string]any
// is supported since that is the shape of decoded JSON payloads this
// package ever sees; any other value along the path ends the walk with nil.
func resolvePath(obj any, path string) any {
	current := obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil
		}
	}
	return current
}

// replaceAllSubmatchFunc is regexp.ReplaceAllStringFunc with access to
// submatches, which the standard library does not provide directly.
func replaceAllSubmatchFunc(re *regexp.Regexp, s string, fn func(groups []string) string) string {
	var b strings.Builder
	lastEnd := 0
	for _, match := range re.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(s[lastEnd:match[0]])

		groups := make([]string, len(match)/2)
		for i := range groups {
			start, end := match[2*i], match[2*i+1]
			if start < 0 || end < 0 {
				groups[i] = ""
				continue
			}
			groups[i] = s[start:end]
		}
		b.WriteString(fn(groups))
		lastEnd = match[1]
	}
	b.WriteString(s[lastEnd:])
	return b.String()
}
