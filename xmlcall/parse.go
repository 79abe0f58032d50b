// Package xmlcall recognizes tool calls written as XML tags inside free model text.
//
// Tags are matched against the XML schemas of the registered tools. A call is committed
// only when its closing tag (or the self-closing form) has been seen, so partially
// streamed tags never surface as calls or as visible text.
package xmlcall

import (
	"encoding/json"
	"html"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/skosovsky/toolthread"
)

// Call is one recognized tag.
type Call struct {
	ID       string
	ToolName string
	Tag      string
	Args     map[string]any
	// Raw is the full tag text as written by the model.
	Raw string
}

// ToolCall converts c into an execution request.
func (c Call) ToolCall() toolthread.ToolCall {
	args, err := json.Marshal(c.Args)
	if err != nil {
		args = []byte("{}")
	}
	return toolthread.ToolCall{ID: c.ID, ToolName: c.ToolName, Args: args}
}

// Parse returns every complete tool tag in text, in order of appearance.
// Incomplete tags are ignored.
func Parse(text string, schemas []toolthread.XMLSchema) []Call {
	s := NewScanner(schemas)
	events := append(s.Feed(text), s.Close()...)
	var calls []Call
	for _, ev := range events {
		if ev.Call != nil {
			calls = append(calls, *ev.Call)
		}
	}
	return calls
}

var attrPattern = regexp.MustCompile(`([A-Za-z_][\w:.\-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// parseAttributes reads name="value" and name='value' pairs; values are HTML-unescaped.
func parseAttributes(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(s, -1) {
		v := m[2]
		if v == "" {
			v = m[3]
		}
		out[m[1]] = html.UnescapeString(v)
	}
	return out
}

// tagEnd returns the index of the '>' closing the start tag that begins at s[0],
// skipping quoted attribute values, or -1 if it is not there yet.
func tagEnd(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		}
	}
	return -1
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isDelim(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '>' || c == '/'
}

// element is one parsed tag: s[start:end] is the whole element and body its inner text.
type element struct {
	name        string
	attrs       string
	body        string
	selfClosing bool
	end         int
}

// readElement parses the element named name that starts at s[0]. ok is false while
// the start tag or the matching close tag is missing.
func readElement(s, name string) (element, bool) {
	gt := tagEnd(s)
	if gt < 0 {
		return element{}, false
	}
	start := s[:gt+1]
	attrs := strings.TrimSpace(strings.TrimSuffix(start[1+len(name):gt], "/"))
	if strings.HasSuffix(start[:gt], "/") {
		return element{name: name, attrs: attrs, selfClosing: true, end: gt + 1}, true
	}
	closeAt, closeEnd := matchClose(s, gt+1, name)
	if closeAt < 0 {
		return element{}, false
	}
	return element{name: name, attrs: attrs, body: s[gt+1 : closeAt], end: closeEnd}, true
}

// matchClose finds the </name> that balances the element opened before from,
// counting nested elements of the same name.
func matchClose(s string, from int, name string) (int, int) {
	open, closing := "<"+name, "</"+name+">"
	depth := 1
	i := from
	for i < len(s) {
		j := strings.IndexByte(s[i:], '<')
		if j < 0 {
			return -1, -1
		}
		i += j
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "<![CDATA["):
			k := strings.Index(rest, "]]>")
			if k < 0 {
				return -1, -1
			}
			i += k + 3
			continue
		case strings.HasPrefix(rest, closing):
			depth--
			if depth == 0 {
				return i, i + len(closing)
			}
			i += len(closing)
			continue
		case strings.HasPrefix(rest, open) && len(rest) > len(open) && isDelim(rest[len(open)]):
			if gt := tagEnd(rest); gt >= 0 && !strings.HasSuffix(rest[:gt], "/") {
				depth++
			}
		}
		i++
	}
	return -1, -1
}

// children splits body into its top-level elements. mixed reports non-whitespace
// text between them.
func children(body string) (nodes []element, mixed bool) {
	i := 0
	for i < len(body) {
		j := strings.IndexByte(body[i:], '<')
		if j < 0 {
			mixed = mixed || strings.TrimSpace(body[i:]) != ""
			break
		}
		if strings.TrimSpace(body[i:i+j]) != "" {
			mixed = true
		}
		i += j
		rest := body[i:]
		if strings.HasPrefix(rest, "<![CDATA[") {
			mixed = true
			k := strings.Index(rest, "]]>")
			if k < 0 {
				break
			}
			i += k + 3
			continue
		}
		n := 1
		for n < len(rest) && isNameByte(rest[n]) {
			n++
		}
		if n == 1 || n == len(rest) || !isDelim(rest[n]) {
			mixed = true
			i++
			continue
		}
		el, ok := readElement(rest, rest[1:n])
		if !ok {
			mixed = true
			i++
			continue
		}
		nodes = append(nodes, el)
		i += el.end
	}
	return nodes, mixed
}

// elementValue turns an element body into a value: text for leaves and mixed content,
// a list when every child has the same name, and a map otherwise. Children named in
// text are kept as raw text.
func elementValue(body string, text []string) any {
	if s, ok := cdata(body); ok {
		return s
	}
	nodes, mixed := children(body)
	if len(nodes) == 0 || mixed {
		return body
	}
	value := func(n element) any {
		if slices.Contains(text, n.name) {
			return textValue(n.body)
		}
		return elementValue(n.body, text)
	}
	same := true
	for _, n := range nodes[1:] {
		if n.name != nodes[0].name {
			same = false
			break
		}
	}
	if same && !slices.Contains(text, nodes[0].name) {
		list := make([]any, 0, len(nodes))
		for _, n := range nodes {
			list = append(list, value(n))
		}
		return list
	}
	obj := make(map[string]any, len(nodes))
	for _, n := range nodes {
		v := value(n)
		switch prev := obj[n.name].(type) {
		case nil:
			obj[n.name] = v
		case []any:
			obj[n.name] = append(prev, v)
		default:
			obj[n.name] = []any{prev, v}
		}
	}
	return obj
}

// textValue is the raw body of a text field, unwrapped when it is one CDATA section.
func textValue(body string) string {
	if s, ok := cdata(body); ok {
		return s
	}
	return body
}

func cdata(body string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "<![CDATA[") && strings.HasSuffix(trimmed, "]]>") {
		return trimmed[len("<![CDATA[") : len(trimmed)-len("]]>")], true
	}
	return "", false
}

// trimOuterNewline drops one newline right after the start tag and one before the end tag.
func trimOuterNewline(s string) string {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "\r\n"), "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// extractArgs applies the schema's mappings to a parsed tool tag. Missing
// parameters are left out.
func extractArgs(schema toolthread.XMLSchema, el element) map[string]any {
	args := make(map[string]any, len(schema.Mappings))
	var attrs map[string]string
	var nodes []element
	nodesRead := false
	for _, m := range schema.Mappings {
		switch m.NodeType {
		case toolthread.XMLAttribute:
			if attrs == nil {
				attrs = parseAttributes(el.attrs)
			}
			if v, ok := attrs[m.Source()]; ok {
				args[m.ParamName] = v
			}
		case toolthread.XMLContent:
			if !el.selfClosing {
				args[m.ParamName] = trimOuterNewline(el.body)
			}
		case toolthread.XMLElement:
			if !nodesRead {
				nodes, _ = children(el.body)
				nodesRead = true
			}
			for _, n := range nodes {
				if n.name != m.Source() {
					continue
				}
				if slices.Contains(m.TextFields, n.name) {
					args[m.ParamName] = textValue(n.body)
				} else {
					args[m.ParamName] = elementValue(n.body, m.TextFields)
				}
				break
			}
		}
	}
	return args
}

func newCallID() string { return uuid.NewString() }
