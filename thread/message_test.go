package thread

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_JSON(t *testing.T) {
	data, err := json.Marshal(UserMessage("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(data))

	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"open_file","arguments":"{}"}}]}`), &m))
	assert.Equal(t, RoleAssistant, m.Role)
	assert.Empty(t, m.Content.String())
	require.Len(t, m.ToolCalls, 1)
	assert.Equal(t, "open_file", m.ToolCalls[0].Function.Name)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AA==","detail":"high"}}]}`), &m))
	require.True(t, m.Content.Multipart())
	assert.Equal(t, "look", m.Content.String())
	assert.Equal(t, "data:image/png;base64,AA==", m.Content.Parts[1].ImageURL.URL)
}

func TestMessage_WithImages(t *testing.T) {
	m := UserMessage("what is this?").WithImages(Image{ContentType: "image/png", Data: []byte{0x89, 0x50}})
	require.True(t, m.Content.Multipart())
	require.Len(t, m.Content.Parts, 2)
	assert.Equal(t, Part{Type: PartText, Text: "what is this?"}, m.Content.Parts[0])
	img := m.Content.Parts[1]
	assert.Equal(t, PartImage, img.Type)
	assert.Equal(t, "data:image/png;base64,iVA=", img.ImageURL.URL)
	assert.Equal(t, "high", img.ImageURL.Detail)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content":[{"type":"text"`)

	same := UserMessage("plain").WithImages()
	assert.False(t, same.Content.Multipart())
}

func TestRole_Regular(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant, RoleTool} {
		assert.True(t, r.Regular(), r)
	}
	assert.False(t, Role("browser_state").Regular())
}
