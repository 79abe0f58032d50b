// Package orchestrator drives conversation turns: it sends a thread to the model,
// recognizes tool calls in the answer (native or XML), executes them and writes the
// assistant message and the tool results back to the thread.
package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/skosovsky/toolthread"
	"github.com/skosovsky/toolthread/thread"
)

// EventKind tells what an Event carries.
type EventKind int

const (
	// EventContent is visible model text.
	EventContent EventKind = iota + 1
	// EventToolCall is a completely recognized tool call.
	EventToolCall
	// EventAssistant is the persisted assistant message of the turn.
	EventAssistant
	// EventToolResult is a tool outcome and its persisted tool message.
	EventToolResult
)

func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventToolCall:
		return "tool_call"
	case EventAssistant:
		return "assistant"
	case EventToolResult:
		return "tool_result"
	}
	return "unknown"
}

// Event is one processed output item of a turn.
type Event struct {
	Kind    EventKind
	Content string
	Call    *thread.ToolCall
	Result  *toolthread.ToolResult
	Message *thread.Message
}

func contentEvent(text string) Event { return Event{Kind: EventContent, Content: text} }

func callEvent(c thread.ToolCall) Event { return Event{Kind: EventToolCall, Call: &c} }

// execCall converts a recorded tool call into an execution request.
func execCall(tc thread.ToolCall) toolthread.ToolCall {
	args := json.RawMessage(tc.Function.Arguments)
	if strings.TrimSpace(tc.Function.Arguments) == "" {
		args = json.RawMessage("{}")
	}
	return toolthread.ToolCall{ID: tc.ID, ToolName: tc.Function.Name, Args: args}
}

func execCalls(calls []thread.ToolCall) []toolthread.ToolCall {
	out := make([]toolthread.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = execCall(c)
	}
	return out
}
