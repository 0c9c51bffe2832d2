package mcp

import (
	"encoding/json"
	"fmt"
)

// compiledSchema is a parsed JSON Schema restricted to the subset
// actually needed to validate tool-call arguments: object type,
// required properties, and per-property primitive type checks. Tool
// authors write full JSON Schema documents at registration time; this
// validator checks the invariants §4.4/§8 hold the router to
// (missing required field or wrongly typed property → -32602 naming
// the field; properties the schema does not declare are accepted)
// without depending on an unverified third-party schema engine.
type compiledSchema struct {
	raw        map[string]interface{}
	typ        string
	required   []string
	properties map[string]propertySchema
}

type propertySchema struct {
	typ string
}

// compileSchema parses a tool's JSON Schema input document. A nil or
// empty schema accepts any arguments (useful for zero-argument tools).
func compileSchema(raw json.RawMessage) (*compiledSchema, error) {
	if len(raw) == 0 {
		return &compiledSchema{typ: "object"}, nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("malformed schema document: %w", err)
	}

	cs := &compiledSchema{raw: doc, typ: "object", properties: map[string]propertySchema{}}
	if t, ok := doc["type"].(string); ok {
		cs.typ = t
	}
	if req, ok := doc["required"].([]interface{}); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				cs.required = append(cs.required, name)
			}
		}
	}
	if props, ok := doc["properties"].(map[string]interface{}); ok {
		for name, v := range props {
			propDoc, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			typ, _ := propDoc["type"].(string)
			cs.properties[name] = propertySchema{typ: typ}
		}
	}
	return cs, nil
}

// validateAgainstSchema checks arguments against the compiled schema,
// returning the first violating field name on failure so the router
// can populate error.data.field, satisfying §8 invariant 4: a schema
// failure never invokes the handler.
func validateAgainstSchema(schema *compiledSchema, arguments json.RawMessage) (field string, err error) {
	if schema == nil || schema.typ != "object" {
		return "", nil
	}

	var args map[string]interface{}
	if len(arguments) == 0 {
		args = map[string]interface{}{}
	} else if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("arguments must be a JSON object: %w", err)
	}

	for _, name := range schema.required {
		if _, present := args[name]; !present {
			return name, fmt.Errorf("missing required argument %q", name)
		}
	}

	for name, value := range args {
		prop, ok := schema.properties[name]
		if !ok || prop.typ == "" {
			continue
		}
		if !matchesJSONType(value, prop.typ) {
			return name, fmt.Errorf("argument %q must be of type %q", name, prop.typ)
		}
	}

	return "", nil
}

func matchesJSONType(value interface{}, typ string) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}
