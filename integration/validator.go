package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Settings arrive from OAuth callbacks and settings forms as loosely-typed
// JSON. The validator pins that JSON to a per-provider schema before it is
// persisted, so resolution never has to guess at configuration shape.

const notificationTypeEnum = `{
	"type": "string",
	"enum": ["document_view", "dataroom_access", "document_download"]
}`

// channelSettingsSchema constrains settings for channel-scoped providers.
const channelSettingsSchema = `{
	"type": "object",
	"properties": {
		"channels": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"enabled": {"type": "boolean"},
					"notification_types": {"type": "array", "items": ` + notificationTypeEnum + `}
				},
				"required": ["id", "enabled", "notification_types"]
			}
		}
	},
	"required": ["channels"]
}`

// flatSettingsSchema constrains settings for flat providers.
const flatSettingsSchema = `{
	"type": "object",
	"properties": {
		"notification_types": {"type": "array", "items": ` + notificationTypeEnum + `}
	},
	"required": ["notification_types"]
}`

// Validator validates installation settings against per-provider JSON Schemas.
type Validator struct {
	once    sync.Once
	channel *jsonschema.Schema
	flat    *jsonschema.Schema
	initErr error
}

// NewValidator creates a settings validator. Schemas are compiled lazily on
// first use.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateSettings checks typed settings against the provider's schema.
func (v *Validator) ValidateSettings(p Provider, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("integration: marshal settings: %w", err)
	}
	return v.ValidateRawSettings(p, raw)
}

// ValidateRawSettings checks raw settings JSON against the provider's schema.
func (v *Validator) ValidateRawSettings(p Provider, raw []byte) error {
	if err := v.compile(); err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Field: "settings", Message: "invalid JSON: " + err.Error()}
	}

	schema := v.flat
	if p.ChannelScoped() {
		schema = v.channel
	}

	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Field: "settings", Message: err.Error()}
	}
	return nil
}

// ParseSettings validates raw settings JSON and decodes it.
func (v *Validator) ParseSettings(p Provider, raw []byte) (Settings, error) {
	if err := v.ValidateRawSettings(p, raw); err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("integration: decode settings: %w", err)
	}
	return s, nil
}

// compile builds both schemas once.
func (v *Validator) compile() error {
	v.once.Do(func() {
		v.channel, v.initErr = compileSchema("courier://settings/channel", channelSettingsSchema)
		if v.initErr != nil {
			return
		}
		v.flat, v.initErr = compileSchema("courier://settings/flat", flatSettingsSchema)
	})
	return v.initErr
}

func compileSchema(url, source string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(source)))
	if err != nil {
		return nil, fmt.Errorf("integration: parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("integration: add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("integration: compile schema: %w", err)
	}
	return compiled, nil
}
