package toolpipeline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each tool's parameter schema once and reuses it
// across calls, mirroring the teacher's plugin-manifest schema cache.
var schemaCache sync.Map // map[string]*jsonschema.Schema, keyed by raw schema bytes

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateArguments checks argumentsJSON against a tool's declared JSON
// Schema. A tool with no schema (empty Parameters) accepts any arguments.
func validateArguments(spec ToolSpec, argumentsJSON []byte) error {
	if len(spec.Parameters) == 0 {
		return nil
	}
	schema, err := compileSchema(spec.Parameters)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", spec.Name, err)
	}
	var decoded any
	if err := json.Unmarshal(argumentsJSON, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(decoded)
}
