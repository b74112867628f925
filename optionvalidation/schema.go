// Package optionvalidation implements the Option Validation: resolving
// the effective provider/model for a request, validating request options
// against a cached provider schema, merging node-level model params with
// the allowlist, and sanitizing the final provider kwargs.
package optionvalidation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/covalt-run/flowruntime/errkind"
)

const (
	// MaxOptionKeys bounds how many keys a request's model options may
	// set.
	MaxOptionKeys = 20
	// MaxPayloadBytes bounds the serialized size of a request's model
	// options.
	MaxPayloadBytes = 2048
)

// reservedKwargs must never reach provider model construction (the step
// 5); SanitizeFinalKwargs rejects them and anything starting with "_".
var reservedKwargs = map[string]bool{
	"api_key": true, "apiKey": true, "api_key_env": true,
	"api_base": true, "base_url": true, "baseUrl": true,
	"timeout": true, "max_retries": true, "retry_on_status": true,
	"http_client": true, "transport": true, "proxy": true,
	"organization": true, "project": true,
}

// allowedNodeParams is the merge_model_params allowlist.
var allowedNodeParams = map[string]bool{
	"temperature": true, "max_tokens": true, "top_p": true,
	"frequency_penalty": true, "presence_penalty": true, "stop": true,
}

// OptionChoice is one allowed value of a "select"-typed OptionDefinition.
type OptionChoice struct {
	Label string
	Value any
}

// OptionDefinition describes one provider-exposed model option.
type OptionDefinition struct {
	Key     string
	Label   string
	Type    string // "select" | "slider" | "number" | "boolean"
	Default any
	Options []OptionChoice
	Min     *float64
	Max     *float64
}

// OptionSchema is a provider/model's full option schema, split into main
// and advanced sections (matching the editor's two-tier disclosure).
type OptionSchema struct {
	Main     []OptionDefinition
	Advanced []OptionDefinition
}

func (s OptionSchema) allDefinitions() map[string]OptionDefinition {
	all := make(map[string]OptionDefinition, len(s.Main)+len(s.Advanced))
	for _, d := range s.Main {
		all[d.Key] = d
	}
	for _, d := range s.Advanced {
		all[d.Key] = d
	}
	return all
}

// SchemaResolver fetches (and caches) a provider/model's option schema.
// The concrete implementation is an external collaborator; a
// SchemaCache wraps it with an in-process cache.
type SchemaResolver interface {
	ResolveSchema(provider, modelID string) (OptionSchema, error)
}

// SchemaCache memoizes SchemaResolver.ResolveSchema results by
// "provider:model_id", an instance rather than process-global state so
// multiple runtimes in one process (tests) don't share entries.
type SchemaCache struct {
	resolver SchemaResolver
	cache    map[string]OptionSchema
}

// NewSchemaCache wraps resolver with a cache.
func NewSchemaCache(resolver SchemaResolver) *SchemaCache {
	return &SchemaCache{resolver: resolver, cache: make(map[string]OptionSchema)}
}

// Get returns provider/modelID's schema, resolving and caching it on
// first use. On resolution failure it falls back to an empty schema
//, matching the original's except-and-continue
// behavior, and surfaces the error for logging.
func (c *SchemaCache) Get(provider, modelID string) (OptionSchema, error) {
	key := provider + ":" + modelID
	if schema, ok := c.cache[key]; ok {
		return schema, nil
	}
	schema, err := c.resolver.ResolveSchema(provider, modelID)
	if err != nil {
		c.cache[key] = OptionSchema{}
		return OptionSchema{}, err
	}
	c.cache[key] = schema
	return schema, nil
}

// ResolveModel splits an effective "provider:model_id" string, trying
// requestModelID first, falling back to chatModelID (already resolved by
// the caller from agent config / chat config / persisted chat model per
// the step 1's priority chain).
func ResolveModel(requestModelID, chatModelID string) (provider, modelID string, err error) {
	effective := strings.TrimSpace(requestModelID)
	if effective == "" {
		effective = strings.TrimSpace(chatModelID)
	}
	if effective == "" {
		return "", "", errkind.New(errkind.Resolution, "no model specified and chat has no configured model")
	}

	idx := strings.Index(effective, ":")
	if idx <= 0 || idx == len(effective)-1 {
		return "", "", errkind.Newf(errkind.Resolution, "invalid model id format: %q, expected 'provider:model_id'", effective)
	}

	provider = strings.TrimSpace(effective[:idx])
	modelID = strings.TrimSpace(effective[idx+1:])
	if provider == "" || modelID == "" {
		return "", "", errkind.Newf(errkind.Resolution, "invalid model id format: %q, expected 'provider:model_id'", effective)
	}
	return provider, modelID, nil
}

// Validate checks provided options against schema and returns a map
// filled with schema defaults for every omitted key.
func Validate(provided map[string]any, schema OptionSchema) (map[string]any, error) {
	if len(provided) > MaxOptionKeys {
		return nil, errkind.Newf(errkind.Validation, "too many option keys: %d > %d", len(provided), MaxOptionKeys)
	}

	encoded, err := json.Marshal(provided)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "options not serializable", err)
	}
	if len(encoded) > MaxPayloadBytes {
		return nil, errkind.Newf(errkind.Validation, "options payload too large: %d > %d bytes", len(encoded), MaxPayloadBytes)
	}

	allDefs := schema.allDefinitions()
	for key := range provided {
		if _, ok := allDefs[key]; !ok {
			return nil, errkind.Newf(errkind.Validation, "unknown option key: %s", key)
		}
	}

	validated := make(map[string]any, len(allDefs))
	for key, def := range allDefs {
		value, ok := provided[key]
		if !ok {
			validated[key] = def.Default
			continue
		}
		if err := validateValue(key, def, value); err != nil {
			return nil, err
		}
		validated[key] = value
	}
	return validated, nil
}

func validateValue(key string, def OptionDefinition, value any) error {
	switch def.Type {
	case "select":
		for _, choice := range def.Options {
			if choice.Value == value {
				return nil
			}
		}
		return errkind.Newf(errkind.Validation, "invalid value for %s: %v", key, value)
	case "number", "slider":
		num, ok := asFiniteFloat(value)
		if !ok {
			return errkind.Newf(errkind.Validation, "%s must be numeric", key)
		}
		if def.Min != nil && num < *def.Min {
			return errkind.Newf(errkind.Validation, "%s below minimum (%v)", key, *def.Min)
		}
		if def.Max != nil && num > *def.Max {
			return errkind.Newf(errkind.Validation, "%s above maximum (%v)", key, *def.Max)
		}
		return nil
	case "boolean":
		if _, ok := value.(bool); !ok {
			return errkind.Newf(errkind.Validation, "%s must be boolean", key)
		}
		return nil
	default:
		return nil
	}
}

func asFiniteFloat(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case bool:
		return 0, false
	default:
		return 0, false
	}
	return f, !math.IsInf(f, 0) && !math.IsNaN(f)
}

// MergeModelParams merges nodeParams over mappedOptions, accepting only
// keys in the allowlist {temperature, max_tokens, top_p,
// frequency_penalty, presence_penalty, stop} from nodeParams, with
// node-level values winning on conflict.
func MergeModelParams(nodeParams, mappedOptions map[string]any) map[string]any {
	result := make(map[string]any, len(mappedOptions)+len(nodeParams))
	for k, v := range mappedOptions {
		result[k] = v
	}
	for k, v := range nodeParams {
		if allowedNodeParams[k] && v != nil {
			result[k] = v
		}
	}
	return result
}

// SanitizeFinalKwargs rejects any key in the reserved set or starting
// with "_" before the kwargs reach provider model construction (the
// step 5).
func SanitizeFinalKwargs(kwargs map[string]any) (map[string]any, error) {
	for key := range kwargs {
		if reservedKwargs[key] || strings.HasPrefix(key, "_") {
			return nil, errkind.Newf(errkind.Validation, "reserved parameter in final kwargs: %s", key)
		}
	}
	return kwargs, nil
}

// validatorFromSchema is kept to exercise jsonschema-go per DESIGN.md's
// grounding even though optionvalidation's own per-type checks above
// cover every OptionDefinition kind the runtime defines; a caller with a
// richer, externally-authored option schema (e.g. an MCP tool's input
// schema surfaced through a node) can validate against it directly rather
// than reimplementing draft-07 semantics by hand.
func validatorFromSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("optionvalidation: invalid json schema: %w", err)
	}
	return &schema, nil
}
