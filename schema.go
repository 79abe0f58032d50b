package toolthread

import (
	"encoding/json"
	"errors"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

var errNilSchema = errors.New("schema reflection returned nil")

// reflectSchema builds the parameter schema of argument type T as a plain map, the form
// sent to the model. Property descriptions come from `jsonschema` struct tags; an `enum`
// tag holds comma separated allowed values.
func reflectSchema[T any](strict bool) (map[string]any, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errNilSchema
	}
	raw, err := toMap(s)
	if err != nil {
		return nil, err
	}
	addEnums(raw, reflect.TypeFor[T]())
	if strict {
		applyStrictMode(raw)
	}
	return raw, nil
}

// toMap round-trips v through JSON, which also deep-copies maps.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func addEnums(schema map[string]any, typ reflect.Type) {
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return
	}
	props, _ := schema["properties"].(map[string]any)
	for i := range typ.NumField() {
		f := typ.Field(i)
		tag := f.Tag.Get("enum")
		if tag == "" {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		var values []any
		for v := range strings.SplitSeq(tag, ",") {
			values = append(values, strings.TrimSpace(v))
		}
		prop["enum"] = values
	}
}

// walkSchema calls visit for every object node of the schema tree.
func walkSchema(node map[string]any, visit func(map[string]any)) {
	visit(node)
	for _, v := range node {
		switch child := v.(type) {
		case map[string]any:
			walkSchema(child, visit)
		case []any:
			for _, item := range child {
				if m, ok := item.(map[string]any); ok {
					walkSchema(m, visit)
				}
			}
		}
	}
}

// applyStrictMode closes every object schema and marks all its properties required,
// as OpenAI structured outputs expect.
func applyStrictMode(schema map[string]any) {
	walkSchema(schema, func(n map[string]any) {
		props, ok := n["properties"].(map[string]any)
		if !ok {
			return
		}
		n["additionalProperties"] = false
		if len(props) == 0 {
			return
		}
		names := slices.Sorted(maps.Keys(props))
		required := make([]any, len(names))
		for i, k := range names {
			required[i] = k
		}
		n["required"] = required
	})
}

// compileSchema resolves schema for validation. Identifiers are dropped first so that
// resolution never tries to fetch them.
func compileSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	walkSchema(schema, func(n map[string]any) {
		delete(n, "id")
		delete(n, "$id")
	})
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}
