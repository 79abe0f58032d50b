// Package testutil provides test helpers for toolthread: a configurable mock tool,
// a test registry and a scripted model client.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skosovsky/toolthread"
)

// MockTool is a configurable Tool implementation for tests.
type MockTool struct {
	NameVal   string
	DescVal   string
	ParamsVal map[string]any
	// XMLSchemaVal makes the tool callable with an XML tag when TagName is set.
	XMLSchemaVal toolthread.XMLSchema
	ExecuteFn    func(ctx context.Context, args []byte, yield func(toolthread.Chunk) error) error
}

// Name returns the tool name.
func (m *MockTool) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Description returns the tool description.
func (m *MockTool) Description() string {
	return m.DescVal
}

// Parameters returns the parameters schema (or an empty object schema).
func (m *MockTool) Parameters() map[string]any {
	if m.ParamsVal != nil {
		return m.ParamsVal
	}
	return map[string]any{"type": "object"}
}

// XMLSchema returns XMLSchemaVal with FunctionName defaulted to the tool name.
func (m *MockTool) XMLSchema() toolthread.XMLSchema {
	s := m.XMLSchemaVal
	if s.TagName != "" && s.FunctionName == "" {
		s.FunctionName = m.Name()
	}
	return s
}

// Execute runs ExecuteFn if set, otherwise returns nil.
func (m *MockTool) Execute(ctx context.Context, args []byte, yield func(toolthread.Chunk) error) error {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, args, yield)
	}
	return nil
}

// Reply returns an ExecuteFn that yields text once.
func Reply(text string) func(context.Context, []byte, func(toolthread.Chunk) error) error {
	return func(_ context.Context, _ []byte, yield func(toolthread.Chunk) error) error {
		return yield(toolthread.Chunk{Event: toolthread.EventResult, Data: []byte(text)})
	}
}

var (
	_ toolthread.Tool    = (*MockTool)(nil)
	_ toolthread.XMLTool = (*MockTool)(nil)
)

// NewTestRegistry returns a Registry with a long timeout and panic recovery enabled,
// with tools registered. It fails tb on registration errors.
func NewTestRegistry(tb testing.TB, tools ...toolthread.Tool) *toolthread.Registry {
	tb.Helper()
	reg := toolthread.NewRegistry(
		toolthread.WithDefaultTimeout(30*time.Second),
		toolthread.WithRecoverPanics(true),
	)
	for _, t := range tools {
		require.NoError(tb, reg.Register(t))
	}
	return reg
}
