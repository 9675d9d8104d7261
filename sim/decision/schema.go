package decision

import (
	"embed"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	reqSchema   *jsonschema.Schema
	respSchema  *jsonschema.Schema
)

func loadSchemas() {
	reqSchema = mustCompile("schemas/decision_request.schema.json")
	respSchema = mustCompile("schemas/decision_response.schema.json")
}

// mustCompile panics on a broken embedded schema; that is a build defect, not input.
func mustCompile(name string) *jsonschema.Schema {
	b, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return jsonschema.MustCompileString(name, string(b))
}

func requestSchema() *jsonschema.Schema {
	schemasOnce.Do(loadSchemas)
	return reqSchema
}

func responseSchema() *jsonschema.Schema {
	schemasOnce.Do(loadSchemas)
	return respSchema
}

func validate(s *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
