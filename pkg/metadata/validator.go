// Package metadata validates the free-form metadata attached to proposals,
// votes, and sessions against per-kind JSON Schemas. Validation is advisory
// at write time and strict at export time.
package metadata

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind names a schema slot.
type Kind string

const (
	KindProposal Kind = "proposal"
	KindVote     Kind = "vote"
	KindSession  Kind = "session"
)

// Validator holds compiled schemas per kind. Kinds without a registered
// schema validate vacuously.
type Validator struct {
	schemas map[Kind]*jsonschema.Schema
}

// NewValidator returns an empty validator.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[Kind]*jsonschema.Schema)}
}

// Register compiles and installs a schema for a kind, replacing any
// previous one.
func (v *Validator) Register(kind Kind, schema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://plenum.schemas.local/metadata/%s.schema.json", kind)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("metadata schema %s: load: %w", kind, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("metadata schema %s: compile: %w", kind, err)
	}
	v.schemas[kind] = compiled
	return nil
}

// Validate checks metadata against the kind's schema. Nil metadata is
// treated as an empty object.
func (v *Validator) Validate(kind Kind, metadata map[string]any) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return nil
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	// Schema validation wants plain JSON types; map[string]any qualifies
	// as long as values came from a JSON round-trip, which the store
	// guarantees.
	input := make(map[string]any, len(metadata))
	for k, val := range metadata {
		input[k] = val
	}
	if err := schema.Validate(input); err != nil {
		return fmt.Errorf("metadata %s: %w", kind, err)
	}
	return nil
}

// DefaultProposalSchema is the baseline proposal metadata contract: an
// optional category from a fixed vocabulary plus free-form tags.
const DefaultProposalSchema = `{
  "type": "object",
  "properties": {
    "category": {
      "type": "string",
      "enum": ["infra", "policy", "finance", "membership"]
    },
    "tags": {
      "type": "array",
      "items": {"type": "string"}
    }
  }
}`
