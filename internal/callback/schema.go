package callback

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const objectSchema = `{"type": "object"}`

// transcriptSchema accepts either the nested results form or the flattened channel form.
const transcriptSchema = `{
  "$defs": {
    "channel": {
      "type": "object",
      "required": ["alternatives"],
      "properties": {
        "alternatives": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["transcript"],
            "properties": {"transcript": {"type": "string"}}
          }
        }
      }
    }
  },
  "anyOf": [
    {
      "required": ["results"],
      "properties": {
        "results": {
          "type": "object",
          "required": ["channels"],
          "properties": {
            "channels": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/channel"}}
          }
        }
      }
    },
    {
      "required": ["channel"],
      "properties": {"channel": {"$ref": "#/$defs/channel"}}
    }
  ]
}`

var (
	bodySchema  = mustCompile("object.json", objectSchema)
	shapeSchema = mustCompile("transcript.json", transcriptSchema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(schema))); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return compiled
}

func decode(body []byte) (any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	return v, nil
}
