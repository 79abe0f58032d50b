package toolthread

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strconv"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validatable is implemented by argument structs with checks beyond the schema.
// Validate runs after schema validation and decoding.
type Validatable interface {
	Validate() error
}

// argSchema is a compiled parameter schema. It validates raw arguments and converts
// text values to the scalar types the schema declares.
type argSchema struct {
	raw      map[string]any
	resolved *jsonschema.Resolved
	// scalars maps top-level properties that do not accept strings to their JSON types.
	scalars map[string][]string
}

func newArgSchema(raw map[string]any) (*argSchema, error) {
	resolved, err := compileSchema(raw)
	if err != nil {
		return nil, err
	}
	return &argSchema{raw: raw, resolved: resolved, scalars: scalarProperties(raw)}, nil
}

func scalarProperties(schema map[string]any) map[string][]string {
	props, _ := schema["properties"].(map[string]any)
	out := make(map[string][]string)
	for name, p := range props {
		prop, ok := p.(map[string]any)
		if !ok {
			continue
		}
		var types []string
		switch t := prop["type"].(type) {
		case string:
			types = []string{t}
		case []any:
			for _, v := range t {
				if s, ok := v.(string); ok {
					types = append(types, s)
				}
			}
		}
		if len(types) > 0 && !slices.Contains(types, "string") {
			out[name] = types
		}
	}
	return out
}

// decode parses argsJSON, converts text values of scalar properties (XML tag
// attributes always arrive as text) and validates the result against the schema.
// It returns the arguments re-encoded as JSON. Failures are ClientErrors.
func (s *argSchema) decode(argsJSON []byte) ([]byte, error) {
	if len(argsJSON) == 0 {
		argsJSON = []byte("{}")
	}
	var v any
	if err := json.Unmarshal(argsJSON, &v); err != nil {
		return nil, wrapJSONParseError(err)
	}
	obj, ok := v.(map[string]any)
	if ok && s.coerce(obj) {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, &SystemError{Err: err}
		}
		argsJSON = data
		v = nil
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &SystemError{Err: err}
		}
	}
	if err := s.resolved.Validate(v); err != nil {
		return nil, &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return argsJSON, nil
}

// coerce rewrites text values in obj that parse as a declared scalar type and
// reports whether anything changed. Values that do not parse are left for validation
// to reject.
func (s *argSchema) coerce(obj map[string]any) bool {
	changed := false
	for name, types := range s.scalars {
		text, ok := obj[name].(string)
		if !ok {
			continue
		}
		if val, ok := parseScalar(text, types); ok {
			obj[name] = val
			changed = true
		}
	}
	return changed
}

func parseScalar(text string, types []string) (any, bool) {
	for _, t := range types {
		switch t {
		case "integer":
			if n, err := strconv.ParseInt(text, 10, 64); err == nil {
				return n, true
			}
		case "number":
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				return f, true
			}
		case "boolean":
			if b, err := strconv.ParseBool(text); err == nil {
				return b, true
			}
		case "null":
			if text == "" {
				return nil, true
			}
		}
	}
	return nil, false
}

// Extractor couples the generated schema of T with decoding and validation, for
// callers that need validated arguments without a Tool.
type Extractor[T any] struct {
	schema *argSchema
}

// NewExtractor generates the schema of T. In strict mode every object is closed and
// all properties are required.
func NewExtractor[T any](strict bool) (*Extractor[T], error) {
	raw, err := reflectSchema[T](strict)
	if err != nil {
		return nil, err
	}
	s, err := newArgSchema(raw)
	if err != nil {
		return nil, err
	}
	return &Extractor[T]{schema: s}, nil
}

// Schema returns a shallow copy of the parameter schema. Nested maps are shared.
func (e *Extractor[T]) Schema() map[string]any {
	return maps.Clone(e.schema.raw)
}

// ParseAndValidate decodes argsJSON into T after schema validation, then runs
// T's Validate method if it has one. Every failure is a ClientError the model can act on.
func (e *Extractor[T]) ParseAndValidate(argsJSON []byte) (T, error) {
	var zero T
	data, err := e.schema.decode(argsJSON)
	if err != nil {
		return zero, err
	}
	var args T
	if err := json.Unmarshal(data, &args); err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := validateArgs(&args); err != nil {
		if IsClientError(err) {
			return zero, err
		}
		return zero, &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return args, nil
}

// validateArgs calls Validate on *p when T implements Validatable, else on p when
// only *T does. Validate runs at most once.
func validateArgs[T any](p *T) error {
	if v, ok := any(*p).(Validatable); ok {
		if reflect.ValueOf(v).Kind() == reflect.Pointer && reflect.ValueOf(v).IsNil() {
			return nil
		}
		return v.Validate()
	}
	if v, ok := any(p).(Validatable); ok {
		return v.Validate()
	}
	return nil
}
