package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"

	"medscan"
)

// ToolName is the only tool the first model call may invoke.
const ToolName = "lookup_medicine"

// ToolParameters describes the lookup_medicine parameters the model extracts from the packaging.
func ToolParameters() *jsonschema.Schema {
	minConfidence := 0.0
	maxConfidence := 1.0
	minName := 1
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"product_name": {
				Type:        "string",
				Description: "The single most prominent text on the packaging, exactly as printed.",
				MinLength:   &minName,
			},
			"active_ingredient": {
				Type:        "string",
				Description: "Active ingredient(s) as printed, empty if not visible.",
			},
			"strength": {
				Type:        "string",
				Description: "Strength as printed, e.g. 500mg, empty if not visible.",
			},
			"registration_number": {
				Type:        "string",
				Description: "Registration number as printed, empty if not visible.",
			},
			"packaging_description": {
				Type:        "string",
				Description: "Short description of the packaging form, colours and layout.",
			},
			"all_visible_text": {
				Type:        "string",
				Description: "All visible text, ordered from most to least prominent.",
			},
			"confidence": {
				Type:        "number",
				Description: "How certain you are of product_name, from 0 to 1.",
				Minimum:     &minConfidence,
				Maximum:     &maxConfidence,
			},
		},
		Required: []string{"product_name", "confidence"},
	}
}

// ToolCall is the envelope the first model call emits inside a fenced json block.
func ToolCall() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"tool_call": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"name":       {Type: "string", Enum: []any{ToolName}},
					"parameters": ToolParameters(),
				},
				Required: []string{"name", "parameters"},
			},
		},
		Required: []string{"tool_call"},
	}
}

// Report is the ten-field report the second model call returns.
func Report() *jsonschema.Schema {
	descriptions := map[string]string{
		"packaging_detected":  "What the packaging looks like and what is printed on it.",
		"medicine_name":       "Brand or product name, preferring the verified registry name.",
		"generic_name":        "Generic name of the active ingredient(s).",
		"purpose":             "What the medicine is used for.",
		"dosage_instructions": "Typical adult dosage, or what the packaging states.",
		"side_effects":        "Common and serious side effects.",
		"allergy_warning":     "Who should not take it because of allergies.",
		"drug_interactions":   "Notable interactions with other medicines, food or alcohol.",
		"safety_notes":        "Pregnancy, children, overdose and other precautions.",
		"storage":             "How to store it.",
	}

	props := make(map[string]*jsonschema.Schema, len(medscan.ReportFields))
	for _, field := range medscan.ReportFields {
		props[field] = &jsonschema.Schema{Type: "string", Description: descriptions[field]}
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   append([]string(nil), medscan.ReportFields...),
	}
}

// JSON renders a schema for embedding in a prompt.
func JSON(s *jsonschema.Schema) (string, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return string(b), nil
}

// Validate validates data against s.
func Validate(s *jsonschema.Schema, data []byte) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := validator.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
