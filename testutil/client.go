package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/skosovsky/toolthread/llm"
	"github.com/skosovsky/toolthread/thread"
)

// ErrScriptExhausted is returned when a ScriptedClient has no turns left.
var ErrScriptExhausted = errors.New("testutil: no scripted turns left")

// Turn is one canned model answer. Complete returns Response; Stream yields Fragments
// and then reports StreamErr. Err fails the request itself.
type Turn struct {
	Response  *llm.Response
	Fragments []llm.Fragment
	StreamErr error
	Err       error
}

// TextTurn answers with text, both as a response and as fragments of at most size bytes.
func TextTurn(text string, size int, calls ...thread.ToolCall) Turn {
	return Turn{
		Response:  &llm.Response{Message: thread.AssistantMessage(text, calls...), FinishReason: "stop"},
		Fragments: Chunked(text, size),
	}
}

// Chunked splits text into content fragments of at most size bytes.
func Chunked(text string, size int) []llm.Fragment {
	if size <= 0 {
		size = len(text)
	}
	var out []llm.Fragment
	for len(text) > 0 {
		n := min(size, len(text))
		out = append(out, llm.Fragment{Content: text[:n]})
		text = text[n:]
	}
	return out
}

// ScriptedClient is an llm.Client that replays turns in order and records requests.
type ScriptedClient struct {
	mu       sync.Mutex
	turns    []Turn
	requests []llm.Request
	streams  []*llm.SliceStream
}

var _ llm.Client = (*ScriptedClient)(nil)

// NewScriptedClient returns a client answering with turns, one per request.
func NewScriptedClient(turns ...Turn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

func (c *ScriptedClient) next(req llm.Request) (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.turns) == 0 {
		return Turn{}, ErrScriptExhausted
	}
	t := c.turns[0]
	c.turns = c.turns[1:]
	return t, t.Err
}

// Complete implements llm.Client.
func (c *ScriptedClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	t, err := c.next(req)
	if err != nil {
		return nil, err
	}
	if t.Response == nil {
		return nil, llm.ErrEmptyResponse
	}
	return t.Response, nil
}

// Stream implements llm.Client.
func (c *ScriptedClient) Stream(_ context.Context, req llm.Request) (llm.Stream, error) {
	t, err := c.next(req)
	if err != nil {
		return nil, err
	}
	s := llm.NewSliceStream(t.StreamErr, t.Fragments...)
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
	return s, nil
}

// Requests returns the requests received so far.
func (c *ScriptedClient) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

// AllStreamsClosed reports whether every stream handed out has been closed.
func (c *ScriptedClient) AllStreamsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.streams {
		if !s.Closed() {
			return false
		}
	}
	return true
}
