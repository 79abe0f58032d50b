package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skosovsky/toolthread/thread"
)

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("", "")
	require.Error(t, err)

	c, err := NewOpenAIClient("", "sk-test")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func paramsJSON(t *testing.T, req Request) map[string]any {
	t.Helper()
	params, err := newParams(req)
	require.NoError(t, err)
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestNewParams_ConvertsConversation(t *testing.T) {
	user := thread.UserMessage("look").WithImages(thread.Image{ContentType: "image/png", Data: []byte{1, 2}})
	req := Request{
		Model: "gpt-test",
		Messages: []thread.Message{
			thread.SystemMessage("be brief"),
			user,
			thread.AssistantMessage("", thread.NewToolCall("call_1", "add", `{"a":1}`)),
			thread.ToolMessage("call_1", "add", "ToolResult(success=True, output='1')"),
		},
		Temperature: Float(0.2),
		MaxTokens:   256,
		Stop:        []string{"</stop>"},
		Tools: []map[string]any{{
			"type": "function",
			"function": map[string]any{
				"name":        "add",
				"description": "adds",
				"parameters":  map[string]any{"type": "object"},
			},
		}},
		ToolChoice: ToolChoiceAuto,
	}
	got := paramsJSON(t, req)

	assert.Equal(t, "gpt-test", got["model"])
	assert.InDelta(t, 0.2, got["temperature"], 1e-9)
	assert.InDelta(t, 256, got["max_tokens"], 0)
	assert.Equal(t, []any{"</stop>"}, got["stop"])
	assert.Equal(t, "auto", got["tool_choice"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	parts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,AQI=", img["url"])
	assert.Equal(t, "high", img["detail"])

	calls := msgs[2].(map[string]any)["tool_calls"].([]any)
	require.Len(t, calls, 1)
	call := calls[0].(map[string]any)
	assert.Equal(t, "call_1", call["id"])
	assert.Equal(t, "add", call["function"].(map[string]any)["name"])

	assert.Equal(t, "call_1", msgs[3].(map[string]any)["tool_call_id"])

	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].(map[string]any)["function"].(map[string]any)["name"])
}

func TestNewParams_OmitsUnsetFields(t *testing.T) {
	got := paramsJSON(t, Request{Model: "m", Messages: []thread.Message{thread.UserMessage("hi")}, ToolChoice: ToolChoiceAuto})
	assert.NotContains(t, got, "temperature")
	assert.NotContains(t, got, "tools")
	assert.NotContains(t, got, "tool_choice")
}

func TestNewParams_RejectsUnknownRole(t *testing.T) {
	_, err := newParams(Request{Messages: []thread.Message{{Role: "narrator", Content: thread.Text("x")}}})
	require.Error(t, err)
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClient(srv.URL, "sk-test")
	require.NoError(t, err)
	return c
}

func TestOpenAIClient_Complete(t *testing.T) {
	var body map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"adding",
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"add","arguments":"{\"a\":1}"}}]}}]}`)
	})

	resp, err := c.Complete(context.Background(), Request{Model: "m", Messages: []thread.Message{thread.UserMessage("1+0?")}})
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, thread.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "adding", resp.Message.Content.String())
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, thread.NewToolCall("call_1", "add", `{"a":1}`), resp.Message.ToolCalls[0])
	assert.Equal(t, "m", body["model"])
}

func TestOpenAIClient_CompleteNoChoices(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	})
	_, err := c.Complete(context.Background(), Request{Model: "m"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClient_Stream(t *testing.T) {
	chunks := []string{
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"add","arguments":"{\"a\""}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":1}"}}]},"finish_reason":"tool_calls"}]}`,
	}
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ch := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", ch)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	stream, err := c.Stream(context.Background(), Request{Model: "m", Messages: []thread.Message{thread.UserMessage("hi")}})
	require.NoError(t, err)
	defer stream.Close()

	var frags []Fragment
	for stream.Next() {
		frags = append(frags, stream.Current())
	}
	require.NoError(t, stream.Err())
	require.Len(t, frags, 4)
	assert.Equal(t, "Hel", frags[0].Content)
	assert.Equal(t, "lo", frags[1].Content)
	assert.Equal(t, []ToolCallDelta{{Index: 0, ID: "call_1", Name: "add", Arguments: `{"a"`}}, frags[2].ToolCalls)
	assert.Equal(t, ":1}", frags[3].ToolCalls[0].Arguments)
	assert.Equal(t, "tool_calls", frags[3].FinishReason)
}

func TestSliceStream(t *testing.T) {
	boom := errors.New("boom")
	s := NewSliceStream(boom, Fragment{Content: "a"}, Fragment{Content: "b"})
	assert.Equal(t, Fragment{}, s.Current())

	require.True(t, s.Next())
	assert.NoError(t, s.Err())
	assert.Equal(t, "a", s.Current().Content)
	require.True(t, s.Next())
	assert.Equal(t, "b", s.Current().Content)
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), boom)

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
}
