package llm

import (
	"encoding/json"
	"slices"
	"strings"
)

// Schema describes the JSON object a structured call must return.
type Schema struct {
	Name string
	// Definition is a JSON Schema document.
	Definition map[string]any
}

// ObjectSchema builds a closed object schema with every property required.
func ObjectSchema(name string, properties map[string]any) Schema {
	required := make([]string, 0, len(properties))
	for k := range properties {
		required = append(required, k)
	}
	slices.Sort(required)
	return Schema{
		Name: name,
		Definition: map[string]any{
			"type":                 "object",
			"properties":           properties,
			"required":             required,
			"additionalProperties": false,
		},
	}
}

// StringProp is a plain string property.
func StringProp(description string) map[string]any {
	p := map[string]any{"type": "string"}
	if description != "" {
		p["description"] = description
	}
	return p
}

// EnumProp is a string property restricted to values.
func EnumProp(description string, values []string) map[string]any {
	p := StringProp(description)
	p["enum"] = values
	return p
}

// ArrayProp is an array of items.
func ArrayProp(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

// ObjectProp is a nested closed object.
func ObjectProp(properties map[string]any) map[string]any {
	return ObjectSchema("", properties).Definition
}

// instructions renders the schema as a system prompt suffix.
func (s Schema) instructions() string {
	doc, _ := json.MarshalIndent(s.Definition, "", "  ")
	var b strings.Builder
	b.WriteString("Respond with a single JSON object that conforms to the following JSON schema")
	if s.Name != "" {
		b.WriteString(" (")
		b.WriteString(s.Name)
		b.WriteString(")")
	}
	b.WriteString(". Output only the JSON object, with no prose and no code fences.\n")
	b.Write(doc)
	return b.String()
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
