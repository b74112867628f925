package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/covalt-run/flowruntime/optionvalidation"
)

var _ optionvalidation.SchemaResolver = (*Store)(nil)

// ResolveSchema loads provider's persisted OptionSchema. modelID is
// accepted for interface symmetry with the original's per-model overrides
// but every provider in provider_settings currently shares one schema
// across its models, matching model_schema_cache.py's provider-level
// cache key for any model lacking a model-specific override.
func (s *Store) ResolveSchema(provider, modelID string) (optionvalidation.OptionSchema, error) {
	var raw string
	err := s.db.QueryRow(`SELECT option_schema FROM provider_settings WHERE provider = ?`, provider).Scan(&raw)
	if err == sql.ErrNoRows {
		return optionvalidation.OptionSchema{}, nil
	}
	if err != nil {
		return optionvalidation.OptionSchema{}, fmt.Errorf("sqlite: resolve schema: %w", err)
	}
	var schema optionvalidation.OptionSchema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return optionvalidation.OptionSchema{}, fmt.Errorf("sqlite: unmarshal option schema: %w", err)
	}
	return schema, nil
}

// PutProviderSchema persists provider's option schema, for the admin-side
// command that seeds/updates provider_settings.
func (s *Store) PutProviderSchema(provider string, schema optionvalidation.OptionSchema) error {
	encoded, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("sqlite: marshal option schema: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO provider_settings (provider, option_schema) VALUES (?, ?)
		 ON CONFLICT(provider) DO UPDATE SET option_schema = excluded.option_schema`,
		provider, string(encoded),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put provider schema: %w", err)
	}
	return nil
}

// ModelValidator satisfies orchestrator.ModelValidator, wrapping
// optionvalidation's pure functions (ResolveModel/Validate/
// MergeModelParams/SanitizeFinalKwargs) around a chat's persisted model
// selection and this store's cached provider schemas.
type ModelValidator struct {
	chats ChatStore
	cache *optionvalidation.SchemaCache
}

// NewModelValidator constructs a ModelValidator over store, memoizing
// schema lookups in a cache scoped to this validator's lifetime.
func NewModelValidator(store *Store) *ModelValidator {
	return &ModelValidator{chats: Chats(store), cache: optionvalidation.NewSchemaCache(store)}
}

// Validate resolves the effective provider/model for chatID (requestModelID
// if given, else the chat's persisted selection), validates options
// against that model's cached schema filling in defaults, merges any
// node-level params already present in options, and sanitizes the result
// down to kwargs safe to hand a provider client.
func (v *ModelValidator) Validate(chatID, requestModelID string, options map[string]any) (map[string]any, error) {
	chatModelID, err := v.chats.ChatModelID(chatID)
	if err != nil {
		return nil, err
	}

	provider, modelID, err := optionvalidation.ResolveModel(requestModelID, chatModelID)
	if err != nil {
		return nil, err
	}

	schema, err := v.cache.Get(provider, modelID)
	if err != nil {
		return nil, err
	}

	validated, err := optionvalidation.Validate(options, schema)
	if err != nil {
		return nil, err
	}

	merged := optionvalidation.MergeModelParams(nil, validated)
	return optionvalidation.SanitizeFinalKwargs(merged)
}
