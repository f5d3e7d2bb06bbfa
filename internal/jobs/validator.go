package jobs

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/submit.json
var submitSchema []byte

const submitSchemaID = "https://promptq.dev/schemas/submit.json"

// Validator checks job submissions against the embedded submit schema,
// with the prompt length capped at the configured maximum.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator(maxPromptLength int) (*Validator, error) {
	var doc map[string]any
	if err := json.Unmarshal(submitSchema, &doc); err != nil {
		return nil, fmt.Errorf("parse submit schema: %w", err)
	}
	props, _ := doc["properties"].(map[string]any)
	prompt, _ := props["prompt"].(map[string]any)
	if prompt == nil {
		return nil, fmt.Errorf("submit schema has no prompt property")
	}
	prompt["maxLength"] = maxPromptLength

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	schema, err := jsonschema.CompileString(submitSchemaID, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile submit schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidatePrompt rejects empty, blank and over-long prompts.
func (v *Validator) ValidatePrompt(prompt string) error {
	return v.validate(map[string]any{"prompt": prompt})
}

// ValidateRequest validates a raw submit request body.
func (v *Validator) ValidateRequest(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalidInput, err)
	}
	return v.validate(doc)
}

func (v *Validator) validate(doc any) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
