// Package schema performs structural pre-validation of statement payloads.
// The JSON Schema pass catches shape errors (wrong types, missing required
// properties) with precise pointers before the model layer decodes and
// applies the semantic rules it cannot express.
package schema

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const statementSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://skilltrace.dev/schemas/statement",
  "type": "object",
  "required": ["actor", "verb", "object"],
  "properties": {
    "id": {"type": "string"},
    "actor": {"$ref": "#/$defs/actor"},
    "verb": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string"},
        "display": {"$ref": "#/$defs/languageMap"}
      }
    },
    "object": {"type": "object"},
    "result": {"type": "object"},
    "context": {"type": "object"},
    "timestamp": {"type": "string"},
    "stored": {"type": "string"},
    "authority": {"$ref": "#/$defs/actor"},
    "version": {"type": "string"},
    "attachments": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["usageType", "display", "contentType", "length", "sha2"],
        "properties": {
          "usageType": {"type": "string"},
          "display": {"$ref": "#/$defs/languageMap"},
          "description": {"$ref": "#/$defs/languageMap"},
          "contentType": {"type": "string"},
          "length": {"type": "integer"},
          "sha2": {"type": "string"},
          "fileUrl": {"type": "string"}
        }
      }
    }
  },
  "$defs": {
    "actor": {
      "type": "object",
      "properties": {
        "objectType": {"enum": ["Agent", "Group"]},
        "name": {"type": "string"},
        "mbox": {"type": "string"},
        "mbox_sha1sum": {"type": "string"},
        "openid": {"type": "string"},
        "account": {
          "type": "object",
          "required": ["homePage", "name"],
          "properties": {
            "homePage": {"type": "string"},
            "name": {"type": "string"}
          }
        },
        "member": {"type": "array", "items": {"$ref": "#/$defs/actor"}}
      }
    },
    "languageMap": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

// Validator compiles the statement schema once and checks raw payloads.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded statement schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("statement.json", bytes.NewReader([]byte(statementSchema))); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	s, err := c.Compile("statement.json")
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// ValidateStatement checks one decoded generic statement value.
func (v *Validator) ValidateStatement(doc any) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("statement shape: %w", err)
	}
	return nil
}
