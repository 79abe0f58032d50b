package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/skosovsky/toolthread/thread"
)

// DefaultBaseURL is the OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(c *OpenAIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestOptions passes extra options to the underlying SDK client.
func WithRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(c *OpenAIClient) {
		c.extra = append(c.extra, opts...)
	}
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client openai.Client
	logger *slog.Logger
	extra  []option.RequestOption
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for baseURL (DefaultBaseURL when empty).
func NewOpenAIClient(baseURL, apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &OpenAIClient{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	reqOpts := append([]option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	}, c.extra...)
	c.client = openai.NewClient(reqOpts...)
	return c, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := newParams(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("completion request", "model", req.Model, "messages", len(req.Messages), "tools", len(req.Tools))
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	msg := thread.AssistantMessage(choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, thread.NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return &Response{Message: msg, FinishReason: string(choice.FinishReason)}, nil
}

// Stream implements Client. Transport errors surface through the stream's Err.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	params, err := newParams(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("streaming request", "model", req.Model, "messages", len(req.Messages), "tools", len(req.Tools))
	return &openAIStream{chunks: c.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

type openAIStream struct {
	chunks chunkStream
	cur    Fragment
}

func (s *openAIStream) Next() bool {
	for s.chunks.Next() {
		chunk := s.chunks.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		s.cur = fragmentFromChunk(chunk.Choices[0])
		return true
	}
	return false
}

func (s *openAIStream) Current() Fragment { return s.cur }

func (s *openAIStream) Err() error {
	if err := s.chunks.Err(); err != nil {
		return fmt.Errorf("openai streaming: %w", err)
	}
	return nil
}

func (s *openAIStream) Close() error { return s.chunks.Close() }

func fragmentFromChunk(choice openai.ChatCompletionChunkChoice) Fragment {
	f := Fragment{Content: choice.Delta.Content, FinishReason: string(choice.FinishReason)}
	for _, tc := range choice.Delta.ToolCalls {
		f.ToolCalls = append(f.ToolCalls, ToolCallDelta{
			Index:     int(tc.Index),
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return f
}

func newParams(req Request) (openai.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(req.Model),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		if req.ToolChoice != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(req.ToolChoice)}
		}
	}
	return params, nil
}

// convertTools maps {"type":"function","function":{...}} schemas to SDK tool params.
// Entries without a function name are skipped.
func convertTools(schemas []map[string]any) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		fn, _ := s["function"].(map[string]any)
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		def := openai.FunctionDefinitionParam{Name: name}
		if desc, _ := fn["description"].(string); desc != "" {
			def.Description = openai.String(desc)
		}
		if params, ok := fn["parameters"].(map[string]any); ok {
			def.Parameters = openai.FunctionParameters(params)
		}
		out = append(out, openai.ChatCompletionFunctionTool(def))
	}
	return out
}

func convertMessages(msgs []thread.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case thread.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content.String()))
		case thread.RoleUser:
			out = append(out, userMessage(m.Content))
		case thread.RoleAssistant:
			out = append(out, assistantMessage(m))
		case thread.RoleTool:
			out = append(out, openai.ToolMessage(m.Content.String(), m.ToolCallID))
		default:
			return nil, fmt.Errorf("llm: message %d: unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

func userMessage(c thread.Content) openai.ChatCompletionMessageParamUnion {
	if !c.Multipart() {
		return openai.UserMessage(c.Text)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch {
		case p.Type == thread.PartText:
			parts = append(parts, openai.TextContentPart(p.Text))
		case p.Type == thread.PartImage && p.ImageURL != nil:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    p.ImageURL.URL,
				Detail: p.ImageURL.Detail,
			}))
		}
	}
	return openai.UserMessage(parts)
}

// assistantMessage sends text only; image parts are not accepted on assistant turns.
func assistantMessage(m thread.Message) openai.ChatCompletionMessageParamUnion {
	text := m.Content.String()
	if len(m.ToolCalls) == 0 {
		return openai.AssistantMessage(text)
	}
	calls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}
