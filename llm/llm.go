// Package llm is the model transport: one chat completion request answered either by a
// complete response or by a stream of fragments.
package llm

import (
	"context"
	"errors"

	"github.com/skosovsky/toolthread/thread"
)

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ErrEmptyResponse is returned when the model answers with no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is one completion request.
type Request struct {
	Model    string
	Messages []thread.Message
	// Temperature is left to the provider when nil.
	Temperature *float64
	MaxTokens   int
	Stop        []string
	// Tools are structured schemas in the OpenAI tool format (see toolthread.Registry.Schemas).
	Tools      []map[string]any
	ToolChoice string
}

// Response is a complete model answer. Message has the assistant role.
type Response struct {
	Message      thread.Message
	FinishReason string
}

// ToolCallDelta is a piece of a native tool call. Index identifies the call inside the
// response; ID and Name usually arrive with the first delta only.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Fragment is one streamed piece of a response.
type Fragment struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// Stream is a finite, non-restartable sequence of fragments.
type Stream interface {
	Next() bool
	Current() Fragment
	Err() error
	Close() error
}

// Client sends requests to a model.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }

// SliceStream is a Stream over fixed fragments.
type SliceStream struct {
	fragments []Fragment
	pos       int
	err       error
	closed    bool
}

// NewSliceStream returns a stream that yields fragments and then ends with err.
func NewSliceStream(err error, fragments ...Fragment) *SliceStream {
	return &SliceStream{fragments: fragments, err: err}
}

// Next implements Stream.
func (s *SliceStream) Next() bool {
	if s.closed || s.pos >= len(s.fragments) {
		return false
	}
	s.pos++
	return true
}

// Current implements Stream.
func (s *SliceStream) Current() Fragment {
	if s.pos == 0 {
		return Fragment{}
	}
	return s.fragments[s.pos-1]
}

// Err implements Stream. The error is reported once all fragments are consumed.
func (s *SliceStream) Err() error {
	if s.pos < len(s.fragments) && !s.closed {
		return nil
	}
	return s.err
}

// Close implements Stream.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool { return s.closed }
