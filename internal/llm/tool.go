package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Tool is a function the model may call, with the JSON schema of its arguments.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any

	schema *gojsonschema.Schema
}

// NewTool reflects the argument schema from T. Fields without omitempty are
// required and unknown properties are rejected. It panics if the reflected
// schema does not compile, which only happens for unsupported Go types.
func NewTool[T any](name, description string) Tool {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	params, err := schemaMap(reflector.Reflect(new(T)))
	if err != nil {
		panic(fmt.Sprintf("llm.NewTool %s: %v", name, err))
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		panic(fmt.Sprintf("llm.NewTool %s: compile schema: %v", name, err))
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  params,
		schema:      schema,
	}
}

func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m, nil
}

// Validate checks raw arguments against the tool schema.
func (t Tool) Validate(arguments string) error {
	if t.schema == nil {
		if !json.Valid([]byte(arguments)) {
			return fmt.Errorf("arguments are not valid JSON")
		}
		return nil
	}

	result, err := t.schema.Validate(gojsonschema.NewStringLoader(arguments))
	if err != nil {
		return fmt.Errorf("load arguments: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("arguments do not match schema:")
	for _, e := range result.Errors() {
		sb.WriteString("\n- ")
		sb.WriteString(e.String())
	}
	return fmt.Errorf("%s", sb.String())
}
