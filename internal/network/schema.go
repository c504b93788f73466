package network

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const buildRequestSchema = `{
  "type": "object",
  "required": ["x", "y"],
  "properties": {
    "x": {"type": "integer"},
    "y": {"type": "integer"}
  }
}`

const speedRequestSchema = `{
  "type": "object",
  "required": ["intervalMs"],
  "properties": {
    "intervalMs": {"type": "integer"}
  }
}`

const commandSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["BUILD", "TICK", "SPEED", "RESET", "SNAPSHOT"]},
    "id": {"type": "string", "maxLength": 64},
    "building": {"type": "string", "minLength": 1, "maxLength": 32},
    "x": {"type": "integer"},
    "y": {"type": "integer"},
    "intervalMs": {"type": "integer"}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "BUILD"}}},
      "then": {"required": ["building", "x", "y"]}
    },
    {
      "if": {"properties": {"type": {"const": "SPEED"}}},
      "then": {"required": ["intervalMs"]}
    }
  ]
}`

var (
	buildRequestValidator = jsonschema.MustCompileString("colony://build.schema.json", buildRequestSchema)
	speedRequestValidator = jsonschema.MustCompileString("colony://speed.schema.json", speedRequestSchema)
	commandValidator      = jsonschema.MustCompileString("colony://command.schema.json", commandSchema)
)

// validator is satisfied by *jsonschema.Schema.
type validator interface {
	Validate(v interface{}) error
}

// decodeValidated checks raw against schema and then decodes it into dst.
func decodeValidated(schema validator, raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
