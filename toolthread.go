package toolthread

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event type constants for Chunk. EventProgress is for intermediate UI status;
// EventResult is for final data or a stream chunk.
const (
	EventProgress = "progress"
	EventResult   = "result"
)

// Tool is the contract for one model-callable function.
// It is provider-agnostic (no knowledge of OpenAI, Anthropic, etc.).
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a valid JSON Schema as map (compatible with LLM tool definitions).
	Parameters() map[string]any
	// Execute runs the tool and streams chunks via yield. The tool may call yield
	// once (simple response) or multiple times (streaming). If yield returns an error,
	// execution must stop and that error is returned (wrapped as ErrStreamAborted).
	Execute(ctx context.Context, argsJSON []byte, yield func(Chunk) error) error
}

// ToolMetadata is implemented by tools built with NewTool, NewStreamTool and NewDynamicTool.
// A non-zero Timeout overrides the registry default. IsDangerous marks tools with side
// effects outside the process, such as shell commands.
type ToolMetadata interface {
	Timeout() time.Duration
	IsDangerous() bool
}

// XMLTool is implemented by tools that can be called with XML tags embedded in free text.
type XMLTool interface {
	XMLSchema() XMLSchema
}

// ToolCall is a single execution request (as produced by the LLM or the XML parser).
// ID is unique within the assistant message that requested it.
type ToolCall struct {
	ID       string
	ToolName string
	Args     json.RawMessage // JSON object of arguments
}

// Arguments decodes Args into a map. Empty or invalid JSON yields an empty map.
func (c ToolCall) Arguments() map[string]any {
	out := map[string]any{}
	if len(c.Args) == 0 {
		return out
	}
	_ = json.Unmarshal(c.Args, &out)
	return out
}

// Chunk is a single stream event from a tool execution. Registry sets CallID and ToolName
// when forwarding; tools may set only Data and optionally Event, IsError, Metadata.
type Chunk struct {
	CallID   string
	ToolName string
	Event    string // EventProgress or EventResult
	Data     []byte
	IsError  bool           // true if Data contains error message text
	Metadata map[string]any // optional: progress 0-100, etc.
}

// ToolResult is the outcome of one ToolCall. It is always produced, even on failure.
type ToolResult struct {
	CallID   string
	ToolName string
	Success  bool
	Output   string
	// Error is the underlying failure, if any. It is not persisted; Output carries
	// the text the model sees.
	Error error
}

// String renders the result in the form stored as tool message content:
// ToolResult(success=True, output='...'). The output is quoted with single quotes,
// or double quotes when it contains single quotes only.
func (r ToolResult) String() string {
	success := "False"
	if r.Success {
		success = "True"
	}
	return fmt.Sprintf("ToolResult(success=%s, output=%s)", success, quoteOutput(r.Output))
}

func quoteOutput(s string) string {
	q := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		q = '"'
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(q)
	for _, c := range s {
		switch {
		case c == '\\' || c == rune(q):
			b.WriteByte('\\')
			b.WriteRune(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte(q)
	return b.String()
}

// ExecutionSummary is passed to the after-execution hook (WithOnAfterExecute) when a tool
// execution finishes (success or error). ChunksDelivered and TotalBytes count only chunks
// with !IsError (successfully delivered result chunks).
type ExecutionSummary struct {
	CallID          string
	ToolName        string
	Error           error
	ChunksDelivered int
	TotalBytes      int64
}
