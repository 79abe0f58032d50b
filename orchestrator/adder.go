package orchestrator

import (
	"context"
	"fmt"

	"github.com/skosovsky/toolthread"
	"github.com/skosovsky/toolthread/thread"
)

// Turn is what a model answer contributed to the thread.
type Turn struct {
	// Content is the visible text, tool tags removed.
	Content string
	// Raw is the text as the model wrote it.
	Raw   string
	Calls []thread.ToolCall
}

// ResultsAdder writes a turn back to the thread in the shape of its calling convention.
type ResultsAdder interface {
	// AddAssistant appends the assistant message of the turn.
	AddAssistant(ctx context.Context, threadID string, turn Turn) (thread.Message, error)
	// AddResult appends the tool message answering one call.
	AddResult(ctx context.Context, threadID string, result toolthread.ToolResult) (thread.Message, error)
}

type resultWriter struct {
	store thread.Store
}

func (w resultWriter) add(ctx context.Context, threadID string, msg thread.Message) (thread.Message, error) {
	if err := w.store.Append(ctx, threadID, msg); err != nil {
		return thread.Message{}, fmt.Errorf("append %s message: %w", msg.Role, err)
	}
	return msg, nil
}

// AddResult renders result as a tool message linked to its call.
func (w resultWriter) AddResult(ctx context.Context, threadID string, result toolthread.ToolResult) (thread.Message, error) {
	return w.add(ctx, threadID, thread.ToolMessage(result.CallID, result.ToolName, result.String()))
}

// NativeResultsAdder records the visible text with structured tool calls.
type NativeResultsAdder struct {
	resultWriter
}

// NewNativeResultsAdder returns an adder writing to store.
func NewNativeResultsAdder(store thread.Store) *NativeResultsAdder {
	return &NativeResultsAdder{resultWriter{store: store}}
}

// AddAssistant implements ResultsAdder.
func (a *NativeResultsAdder) AddAssistant(ctx context.Context, threadID string, turn Turn) (thread.Message, error) {
	return a.add(ctx, threadID, thread.AssistantMessage(turn.Content, turn.Calls...))
}

// XMLResultsAdder keeps the tool tags in the assistant text, so the model sees its
// calls as it wrote them, and records the recognized calls alongside.
type XMLResultsAdder struct {
	resultWriter
}

// NewXMLResultsAdder returns an adder writing to store.
func NewXMLResultsAdder(store thread.Store) *XMLResultsAdder {
	return &XMLResultsAdder{resultWriter{store: store}}
}

// AddAssistant implements ResultsAdder.
func (a *XMLResultsAdder) AddAssistant(ctx context.Context, threadID string, turn Turn) (thread.Message, error) {
	return a.add(ctx, threadID, thread.AssistantMessage(turn.Raw, turn.Calls...))
}

var (
	_ ResultsAdder = (*NativeResultsAdder)(nil)
	_ ResultsAdder = (*XMLResultsAdder)(nil)
)
