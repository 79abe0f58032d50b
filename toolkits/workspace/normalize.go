package workspace

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Replacement is one literal substitution applied by edit_file.
type Replacement struct {
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

var replacementTags = regexp.MustCompile(`(?s)<old_string>(.*?)</old_string>\s*<new_string>(.*?)</new_string>`)

// NormalizeReplacements accepts the shapes models produce for edit replacements and
// returns them as a flat list. It never fails: unrecognized input yields nothing, and
// a pair whose strings are not text is kept with its values rendered as JSON.
//
// Accepted: a Replacement or a slice of them; a map with old_string and new_string;
// a map wrapping them under "replacement" or "replacements"; a list of any of these;
// JSON text of any of these; text with <old_string>/<new_string> tag pairs.
func NormalizeReplacements(v any) []Replacement {
	switch x := v.(type) {
	case nil:
		return nil
	case Replacement:
		return []Replacement{x}
	case []Replacement:
		return append([]Replacement(nil), x...)
	case json.RawMessage:
		return normalizeText(string(x))
	case []byte:
		return normalizeText(string(x))
	case string:
		return normalizeText(x)
	case map[string]any:
		return normalizeMap(x)
	case []any:
		var out []Replacement
		for _, item := range x {
			out = append(out, NormalizeReplacements(item)...)
		}
		return out
	case []map[string]any:
		var out []Replacement
		for _, item := range x {
			out = append(out, normalizeMap(item)...)
		}
		return out
	}
	return nil
}

func normalizeMap(m map[string]any) []Replacement {
	oldVal, hasOld := m["old_string"]
	newVal, hasNew := m["new_string"]
	if hasOld && hasNew {
		return []Replacement{{OldString: textOf(oldVal), NewString: textOf(newVal)}}
	}
	for _, key := range []string{"replacement", "replacements"} {
		if inner, ok := m[key]; ok {
			return NormalizeReplacements(inner)
		}
	}
	return nil
}

// textOf renders a pair value as text. Values that are not strings are written as
// JSON so the pair is kept and fails to match instead of disappearing.
func textOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func normalizeText(s string) []Replacement {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return NormalizeReplacements(v)
		}
	}
	var out []Replacement
	for _, m := range replacementTags.FindAllStringSubmatch(s, -1) {
		out = append(out, Replacement{OldString: m[1], NewString: m[2]})
	}
	return out
}
