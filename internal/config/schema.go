package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// schemaPrinter formats schema validation error messages.
var schemaPrinter = message.NewPrinter(language.English)

// projectSchemaJSON is the JSON Schema for perfgate.yaml. Validation runs
// before unmarshaling so typos (an unknown section, a string port) surface
// as configuration errors instead of silently merging as zero values.
const projectSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "paths": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "subject_bin": {"type": "string"},
        "upstream_bin": {"type": "string"},
        "wrk_bin": {"type": "string"},
        "subject_config": {"type": "string"}
      }
    },
    "ports": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "subject": {"type": "integer", "minimum": 1, "maximum": 65535},
        "upstream": {"type": "integer", "minimum": 1, "maximum": 65535}
      }
    },
    "load": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "threads": {"type": "integer", "minimum": 1},
        "connections": {"type": "integer", "minimum": 1},
        "h2c_upstream": {"type": "boolean"}
      }
    },
    "report": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "retention": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

var projectSchema *jsonschema.Schema

func init() {
	projectSchema = mustCompileSchema(projectSchemaJSON, "perfgate.schema.json")
}

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(raw), &schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// ValidateProjectBytes validates raw perfgate.yaml content against the
// schema and returns human-readable error strings.
func ValidateProjectBytes(data []byte) []string {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("not valid YAML: %v", err)}
	}
	if doc == nil {
		return nil // an empty file means all defaults
	}

	if err := projectSchema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return flattenCauses(verr)
		}
		return []string{err.Error()}
	}
	return nil
}

// flattenCauses walks the validation error tree collecting leaf messages.
func flattenCauses(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = ""
			for _, seg := range verr.InstanceLocation {
				loc += "/" + seg
			}
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.ErrorKind.LocalizedString(schemaPrinter))}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, flattenCauses(c)...)
	}
	return out
}
