package kb

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// compiled schemas keyed by action key
var schemaCache sync.Map

func documentSchema(actionKey string) map[string]any {
	boolValue := map[string]any{"enum": []any{0, 1}}
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"rules": map[string]any{
				"type": []any{"object", "null"},
				"patternProperties": map[string]any{
					`^\s*[-+]?[0-9]+\s*$`: map[string]any{"$ref": "#/definitions/rule"},
				},
				"additionalProperties": false,
			},
			"facts": map[string]any{
				"type":                 []any{"object", "null"},
				"additionalProperties": map[string]any{"type": []any{"string", "null"}},
			},
		},
		"definitions": map[string]any{
			"rule": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"if": map[string]any{
						"type":                 []any{"object", "null"},
						"additionalProperties": boolValue,
					},
					"then": map[string]any{
						"type": []any{"object", "null"},
						"properties": map[string]any{
							actionKey: map[string]any{"type": []any{"string", "null"}},
						},
						"additionalProperties": boolValue,
					},
				},
				"additionalProperties": false,
			},
		},
	}
}

func compiledSchema(actionKey string) (*gojsonschema.Schema, error) {
	if s, ok := schemaCache.Load(actionKey); ok {
		return s.(*gojsonschema.Schema), nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(documentSchema(actionKey)))
	if err != nil {
		return nil, fmt.Errorf("compile knowledge base schema: %w", err)
	}
	schemaCache.Store(actionKey, s)
	return s, nil
}

// validateDocument checks the generic form of a document against the
// knowledge base schema.
func validateDocument(doc any, actionKey string) ([]Issue, error) {
	s, err := compiledSchema(actionKey)
	if err != nil {
		return nil, err
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate knowledge base: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	issues := make([]Issue, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, Issue{Path: desc.Field(), Msg: desc.Description()})
	}
	return issues, nil
}
