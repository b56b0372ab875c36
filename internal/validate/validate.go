// Package validate checks an inbound request body against a per-CLI-dialect
// JSON Schema before it enters the Failover Loop. A schema violation is a
// client_error surfaced as GW_INVALID_INPUT and never retries across
// providers.
package validate

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Dialect names the request shape a CLI sends.
type Dialect string

const (
	DialectClaudeMessages   Dialect = "claude"
	DialectOpenAIResponses  Dialect = "codex"
	DialectGeminiGenerate   Dialect = "gemini"
)

// Validator holds one compiled schema per dialect.
type Validator struct {
	schemas map[Dialect]*jsonschema.Schema
}

var dialectFiles = map[Dialect]string{
	DialectClaudeMessages:  "schemas/claude_messages.json",
	DialectOpenAIResponses: "schemas/openai_responses.json",
	DialectGeminiGenerate:  "schemas/gemini_generate.json",
}

// New compiles the embedded JSON Schema documents once at startup.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	schemas := make(map[Dialect]*jsonschema.Schema, len(dialectFiles))

	for dialect, path := range dialectFiles {
		data, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read embedded schema %s: %w", path, err)
		}
		url := "mem://" + path
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", path, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", path, err)
		}
		schemas[dialect] = schema
	}
	return &Validator{schemas: schemas}, nil
}

// Validate checks body (already-parsed to an any via encoding/json, as
// jsonschema/v5 expects) against dialect's schema.
func (v *Validator) Validate(dialect Dialect, body any) error {
	schema, ok := v.schemas[dialect]
	if !ok {
		return fmt.Errorf("no schema registered for dialect %q", dialect)
	}
	if err := schema.Validate(body); err != nil {
		return err
	}
	return nil
}
