package toolthread

import (
	"errors"
	"fmt"
)

// Sentinel errors for toolthread. Use errors.Is to check.
var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrTimeout       = errors.New("tool execution timeout")
	ErrValidation    = errors.New("validation failed")
	ErrShutdown      = errors.New("registry is shutting down")
	ErrStreamAborted = errors.New("stream aborted by consumer")
	ErrDuplicateTool = errors.New("function name already registered by another provider")
	ErrInvalidSchema = errors.New("invalid tool schema")
)

// ClientError is an error that should be sent back to the LLM for self-correction
// (e.g. invalid JSON, schema validation failure, bad enum value).
// Do not expose stack traces or internal details to the LLM.
// Err optionally wraps a sentinel (e.g. ErrValidation) for errors.Is/errors.As.
type ClientError struct {
	Reason string
	// Retryable is set by the application. When true, the orchestrator
	// may retry the same call without changing arguments (e.g. transient rate limit).
	Retryable bool
	Err       error // wrapped sentinel for errors.Is/errors.As
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("invalid tool input: %s", e.Reason)
}

// Unwrap supports errors.Is/errors.As on wrapped chains (e.g. errors.Is(err, ErrValidation)).
func (e *ClientError) Unwrap() error { return e.Err }

// SystemError represents an internal failure (container down, panic, etc.).
// The LLM should not see the underlying error message or stack.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal system error during tool execution"
}

func (e *SystemError) Unwrap() error { return e.Err }

// IsClientError returns true if err is or wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsSystemError returns true if err is or wraps a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// wrapJSONParseError returns a ClientError for JSON unmarshal failures.
func wrapJSONParseError(err error) error {
	return &ClientError{Reason: "json parse error: " + err.Error()}
}

// wrapYieldError marks a consumer-side yield failure so callers can tell it apart from tool faults.
func wrapYieldError(err error) error {
	if errors.Is(err, ErrStreamAborted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStreamAborted, err)
}

// failureText renders err as the output text of a failed ToolResult.
// SystemError hides its cause; everything else is shown to the model.
func failureText(toolName string, err error) string {
	switch {
	case errors.Is(err, ErrToolNotFound):
		return fmt.Sprintf("Function %q is not registered", toolName)
	case errors.Is(err, ErrTimeout):
		return fmt.Sprintf("Function %q timed out", toolName)
	case IsClientError(err):
		return err.Error()
	case IsToolFailure(err):
		var tf *ToolFailure
		errors.As(err, &tf)
		return tf.Message
	default:
		return fmt.Sprintf("Error executing %s: %s", toolName, err.Error())
	}
}

// ToolFailure is a domain failure reported by a tool (e.g. "file is not open").
// Its message is shown to the model verbatim.
type ToolFailure struct {
	Message string
}

func (e *ToolFailure) Error() string { return e.Message }

// Fail returns a ToolFailure with a formatted message.
func Fail(format string, args ...any) error {
	return &ToolFailure{Message: fmt.Sprintf(format, args...)}
}

// IsToolFailure returns true if err is or wraps a ToolFailure.
func IsToolFailure(err error) bool {
	var tf *ToolFailure
	return errors.As(err, &tf)
}
