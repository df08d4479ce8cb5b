package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// analysisResultSchema is the fixed contract from §6: the LLM response
// must match this shape or the client rejects it outright rather than
// guessing at a partial result.
const analysisResultSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["intent", "confidence", "requires_escalation", "customer_response", "summary", "state"],
	"properties": {
		"intent": {"type": "string", "minLength": 1},
		"ticket_type_id": {"type": ["integer", "null"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"requires_escalation": {"type": "boolean"},
		"customer_response": {"type": "string"},
		"supplier_action": {
			"type": ["object", "null"],
			"required": ["action", "message"],
			"properties": {
				"action": {"type": "string"},
				"message": {"type": "string"}
			}
		},
		"summary": {"type": "string"},
		"state": {"type": "object"}
	}
}`

// responseSchema wraps a compiled jsonschema.Schema for validating raw LLM
// responses before they are ever unmarshalled into models.AnalysisResult.
type responseSchema struct {
	schema *jsonschema.Schema
}

func compileResponseSchema() (*responseSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis_result.json", strings.NewReader(analysisResultSchema)); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	schema, err := compiler.Compile("analysis_result.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &responseSchema{schema: schema}, nil
}

// Validate checks raw JSON bytes against the AnalysisResult schema.
func (r *responseSchema) Validate(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("parsing response as JSON: %w", err)
	}
	if err := r.schema.Validate(v); err != nil {
		return fmt.Errorf("response does not match analysis schema: %w", err)
	}
	return nil
}
