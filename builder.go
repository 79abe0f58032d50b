package toolthread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// tool is the internal implementation of Tool built by NewTool, NewStreamTool, or NewDynamicTool.
type tool struct {
	name        string
	description string
	schema      map[string]any
	execute     func(context.Context, []byte, func(Chunk) error) error
	opts        toolOptions
}

// NewTool builds a Tool from a typed function; the parameter schema is generated from T.
// Arguments given as text where the schema wants a number or boolean, as XML attributes
// are, get converted before validation. The result is yielded once: strings verbatim,
// anything else as JSON.
func NewTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...ToolOption,
) (Tool, error) {
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	ext, err := NewExtractor[T](o.strict)
	if err != nil {
		return nil, err
	}
	execute := func(ctx context.Context, argsJSON []byte, yield func(Chunk) error) error {
		args, err := ext.ParseAndValidate(argsJSON)
		if err != nil {
			return err
		}
		res, err := fn(ctx, args)
		if err != nil {
			return wrapHandlerError(err)
		}
		b, err := encodeResult(res)
		if err != nil {
			return &SystemError{Err: err}
		}
		if err := yield(Chunk{Event: EventResult, Data: b}); err != nil {
			return wrapYieldError(err)
		}
		return nil
	}
	return &tool{
		name:        name,
		description: description,
		schema:      ext.Schema(),
		execute:     execute,
		opts:        o,
	}, nil
}

// NewStreamTool builds a Tool from a typed streaming function. Same schema/validation as NewTool,
// but the handler receives yield and may call it multiple times. Zero chunks is valid (side-effects only).
// If yield returns an error, execution must stop and that error is returned as ErrStreamAborted.
func NewStreamTool[T any](
	name, description string,
	fn func(ctx context.Context, args T, yield func(Chunk) error) error,
	opts ...ToolOption,
) (Tool, error) {
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	ext, err := NewExtractor[T](o.strict)
	if err != nil {
		return nil, err
	}
	execute := func(ctx context.Context, argsJSON []byte, yield func(Chunk) error) error {
		yieldWrapped := func(c Chunk) error {
			if err := yield(c); err != nil {
				return wrapYieldError(err)
			}
			return nil
		}
		args, err := ext.ParseAndValidate(argsJSON)
		if err != nil {
			return err
		}
		if err := fn(ctx, args, yieldWrapped); err != nil {
			if errors.Is(err, ErrStreamAborted) {
				return err
			}
			return wrapHandlerError(err)
		}
		return nil
	}
	return &tool{
		name:        name,
		description: description,
		schema:      ext.Schema(),
		execute:     execute,
		opts:        o,
	}, nil
}

// NewDynamicTool creates a Tool from a hand-written JSON Schema and a function that receives
// the validated arguments as JSON and returns the output text. Text values of scalar
// properties are converted as for NewTool. schemaMap is copied, never mutated.
func NewDynamicTool(
	name, description string,
	schemaMap map[string]any,
	fn func(ctx context.Context, argsJSON []byte) (string, error),
	opts ...ToolOption,
) (Tool, error) {
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	if schemaMap == nil {
		return nil, fmt.Errorf("dynamic schema map must not be nil")
	}
	if fn == nil {
		return nil, fmt.Errorf("dynamic tool handler must not be nil")
	}
	schemaCopy, err := toMap(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("copy dynamic schema: %w", err)
	}
	if o.strict {
		applyStrictMode(schemaCopy)
	}
	args, err := newArgSchema(schemaCopy)
	if err != nil {
		return nil, fmt.Errorf("compile dynamic schema: %w", err)
	}
	execute := func(ctx context.Context, argsJSON []byte, yield func(Chunk) error) error {
		data, err := args.decode(argsJSON)
		if err != nil {
			return err
		}
		out, err := fn(ctx, data)
		if err != nil {
			return wrapHandlerError(err)
		}
		if err := yield(Chunk{Event: EventResult, Data: []byte(out)}); err != nil {
			return wrapYieldError(err)
		}
		return nil
	}
	return &tool{
		name:        name,
		description: description,
		schema:      schemaCopy,
		execute:     execute,
		opts:        o,
	}, nil
}

func (t *tool) Name() string        { return t.name }
func (t *tool) Description() string { return t.description }

// Parameters returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps (e.g. under "properties") are shared; callers must not mutate them.
func (t *tool) Parameters() map[string]any { return maps.Clone(t.schema) }

func (t *tool) Execute(ctx context.Context, argsJSON []byte, yield func(Chunk) error) error {
	return t.execute(ctx, argsJSON, yield)
}

func (t *tool) Timeout() time.Duration { return t.opts.timeout }
func (t *tool) IsDangerous() bool      { return t.opts.dangerous }

func (t *tool) XMLSchema() XMLSchema {
	s := t.opts.xml
	if s.TagName != "" {
		s.FunctionName = t.name
	}
	s.Mappings = append([]XMLMapping(nil), s.Mappings...)
	return s
}

// encodeResult yields strings and byte slices verbatim and JSON for everything else.
func encodeResult(v any) ([]byte, error) {
	switch r := v.(type) {
	case string:
		return []byte(r), nil
	case []byte:
		return r, nil
	default:
		return json.Marshal(r)
	}
}

// wrapHandlerError passes through ClientError and ToolFailure; wraps other errors as SystemError.
func wrapHandlerError(err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsToolFailure(err) {
		return err
	}
	return &SystemError{Err: err}
}

var (
	_ Tool         = (*tool)(nil)
	_ ToolMetadata = (*tool)(nil)
	_ XMLTool      = (*tool)(nil)
)
