package thread

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Regular reports whether r is one of the canonical conversation roles.
func (r Role) Regular() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Part types.
const (
	PartText  = "text"
	PartImage = "image_url"
)

// ImageURL is an image reference; inline images use a data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Part is one element of multi-part content.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Image is an attachment added to a user or assistant message.
type Image struct {
	ContentType string
	Data        []byte
}

// Part renders the image as an image_url part with an inline data URL.
func (img Image) Part() Part {
	url := fmt.Sprintf("data:%s;base64,%s", img.ContentType, base64.StdEncoding.EncodeToString(img.Data))
	return Part{Type: PartImage, ImageURL: &ImageURL{URL: url, Detail: "high"}}
}

// Content is either plain text or an ordered list of parts. It encodes as a JSON
// string or a JSON array accordingly.
type Content struct {
	Text  string
	Parts []Part
}

// Text returns plain text content.
func Text(s string) Content { return Content{Text: s} }

// Multipart reports whether the content is a part list.
func (c Content) Multipart() bool { return c.Parts != nil }

// String returns the text of the content. For part lists the text parts are joined with newlines.
func (c Content) String() string {
	if !c.Multipart() {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Multipart() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON implements json.Unmarshaler. null decodes to empty text.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = Content{}
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '[':
		parts := []Part{}
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("content parts: %w", err)
		}
		c.Parts = parts
		return nil
	default:
		return json.Unmarshal(data, &c.Text)
	}
}

// FunctionCall names the function and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool call request on an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one entry of a thread log.
type Message struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// UserMessage returns a user message with text content.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: Text(text)} }

// SystemMessage returns a system message with text content.
func SystemMessage(text string) Message { return Message{Role: RoleSystem, Content: Text(text)} }

// AssistantMessage returns an assistant message with text content and optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: Text(text), ToolCalls: calls}
}

// ToolMessage returns the tool-role message answering callID.
func ToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: Text(content), ToolCallID: callID, Name: name}
}

// NewToolCall builds a function tool call request.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: arguments}}
}

// WithImages returns a copy of m whose content is a part list ending with the images.
// Text content becomes the first part; empty text is dropped.
func (m Message) WithImages(images ...Image) Message {
	if len(images) == 0 {
		return m
	}
	parts := make([]Part, 0, len(m.Content.Parts)+len(images)+1)
	if m.Content.Multipart() {
		parts = append(parts, m.Content.Parts...)
	} else if m.Content.Text != "" {
		parts = append(parts, Part{Type: PartText, Text: m.Content.Text})
	}
	for _, img := range images {
		parts = append(parts, img.Part())
	}
	m.Content = Content{Parts: parts}
	return m
}

// clone returns a deep enough copy for callers to mutate slices without touching the store.
func (m Message) clone() Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.Content.Parts != nil {
		m.Content.Parts = append([]Part(nil), m.Content.Parts...)
	}
	return m
}

func cloneAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}
