package toolthread

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewArgs struct {
	Path   string  `json:"path"`
	Depth  int     `json:"depth,omitempty"`
	Ratio  float64 `json:"ratio,omitempty"`
	Hidden bool    `json:"hidden,omitempty"`
}

func TestExtractor_ConvertsTextScalars(t *testing.T) {
	ext, err := NewExtractor[viewArgs](false)
	require.NoError(t, err)

	args, err := ext.ParseAndValidate([]byte(`{"path":"/testbed","depth":"3","ratio":"0.5","hidden":"true"}`))
	require.NoError(t, err)
	assert.Equal(t, viewArgs{Path: "/testbed", Depth: 3, Ratio: 0.5, Hidden: true}, args)
}

func TestExtractor_UnparsableTextFailsValidation(t *testing.T) {
	ext, err := NewExtractor[viewArgs](false)
	require.NoError(t, err)

	_, err = ext.ParseAndValidate([]byte(`{"path":"/testbed","depth":"deep"}`))
	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExtractor_StringPropertiesStayText(t *testing.T) {
	ext, err := NewExtractor[viewArgs](false)
	require.NoError(t, err)

	args, err := ext.ParseAndValidate([]byte(`{"path":"42"}`))
	require.NoError(t, err)
	assert.Equal(t, "42", args.Path)
}

func TestExtractor_ParseErrors(t *testing.T) {
	ext, err := NewExtractor[viewArgs](false)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
	}{
		{"invalid json", `{invalid`},
		{"missing required", `{}`},
		{"wrong type", `{"path": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ext.ParseAndValidate([]byte(tt.in))
			require.Error(t, err)
			assert.True(t, IsClientError(err))
		})
	}
}

func TestExtractor_EmptyInputIsEmptyObject(t *testing.T) {
	type opt struct {
		Note string `json:"note,omitempty"`
	}
	ext, err := NewExtractor[opt](false)
	require.NoError(t, err)
	args, err := ext.ParseAndValidate(nil)
	require.NoError(t, err)
	assert.Empty(t, args.Note)
}

func TestExtractor_StrictRequiresEverything(t *testing.T) {
	type args struct {
		A string `json:"a"`
		B string `json:"b,omitempty"`
	}
	ext, err := NewExtractor[args](true)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, ext.Schema()["required"])

	_, err = ext.ParseAndValidate([]byte(`{"a":"x"}`))
	require.Error(t, err)
}

type lineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

var errBackwards = errors.New("end before start")

func (r lineRange) Validate() error {
	if r.End < r.Start {
		return errBackwards
	}
	return nil
}

type pageRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (r *pageRange) Validate() error {
	if r.To < r.From {
		return &ClientError{Reason: "to must not precede from", Err: ErrValidation}
	}
	return nil
}

func TestExtractor_Validatable(t *testing.T) {
	t.Run("value receiver", func(t *testing.T) {
		ext, err := NewExtractor[lineRange](false)
		require.NoError(t, err)
		_, err = ext.ParseAndValidate([]byte(`{"start":"1","end":"9"}`))
		require.NoError(t, err)

		_, err = ext.ParseAndValidate([]byte(`{"start":9,"end":1}`))
		var ce *ClientError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "end before start", ce.Reason)
		assert.ErrorIs(t, err, ErrValidation)
	})
	t.Run("pointer receiver keeps client error", func(t *testing.T) {
		ext, err := NewExtractor[pageRange](false)
		require.NoError(t, err)
		_, err = ext.ParseAndValidate([]byte(`{"from":5,"to":2}`))
		var ce *ClientError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "to must not precede from", ce.Reason)
	})
	t.Run("pointer type argument", func(t *testing.T) {
		ext, err := NewExtractor[*pageRange](false)
		require.NoError(t, err)
		got, err := ext.ParseAndValidate([]byte(`{"from":1,"to":2}`))
		require.NoError(t, err)
		assert.Equal(t, 2, got.To)
	})
}

type countingArgs struct {
	N int `json:"n"`
}

var validateCalls int

func (countingArgs) Validate() error {
	validateCalls++
	return nil
}

func TestExtractor_ValidateRunsOnce(t *testing.T) {
	validateCalls = 0
	ext, err := NewExtractor[countingArgs](false)
	require.NoError(t, err)
	_, err = ext.ParseAndValidate([]byte(`{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, validateCalls)
}

func TestScalarProperties(t *testing.T) {
	got := scalarProperties(map[string]any{
		"properties": map[string]any{
			"depth":        map[string]any{"type": []any{"integer", "string"}},
			"limit":        map[string]any{"type": "integer"},
			"force":        map[string]any{"type": []any{"boolean", "null"}},
			"path":         map[string]any{"type": "string"},
			"replacements": map[string]any{"type": []any{"array", "object", "string"}},
			"free":         map[string]any{},
		},
	})
	assert.Equal(t, map[string][]string{
		"limit": {"integer"},
		"force": {"boolean", "null"},
	}, got)
}

func TestDynamicTool_ConvertsTextScalars(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
		"required": []any{"count"},
	}
	var got string
	tool, err := NewDynamicTool("repeat", "Repeat", schema, func(_ context.Context, args []byte) (string, error) {
		got = string(args)
		return "ok", nil
	})
	require.NoError(t, err)
	require.NoError(t, tool.Execute(context.Background(), []byte(`{"count":"4"}`), func(Chunk) error { return nil }))
	assert.JSONEq(t, `{"count":4}`, got)
}
