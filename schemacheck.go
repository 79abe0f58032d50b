package toolthread

import (
	"bytes"
	"encoding/json"
	"fmt"

	sjs "github.com/santhosh-tekuri/jsonschema/v6"
)

// checkSchema compiles a tool's parameter schema against the JSON Schema meta-schema.
// A schema the model API would reject is a configuration error, reported at registration.
func checkSchema(name string, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSchema, name, err)
	}
	doc, err := sjs.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSchema, name, err)
	}
	url := "https://toolthread.local/tools/" + name + ".json"
	c := sjs.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSchema, name, err)
	}
	if _, err := c.Compile(url); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSchema, name, err)
	}
	return nil
}
