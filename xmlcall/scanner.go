package xmlcall

import (
	"strings"

	"github.com/skosovsky/toolthread"
)

// Event is one scanner output: visible text, or a completed call when Call is set.
type Event struct {
	Text string
	Call *Call
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithIDGenerator replaces the uuid call id generator.
func WithIDGenerator(fn func() string) ScannerOption {
	return func(s *Scanner) {
		s.newID = fn
	}
}

// Scanner consumes model output fragment by fragment. Text is released as soon as it
// cannot be the start of a tool tag; tool tags are held back until complete.
// A Scanner is not safe for concurrent use.
type Scanner struct {
	schemas map[string]toolthread.XMLSchema
	newID   func() string
	buf     string
	dropped string
}

// NewScanner creates a Scanner that recognizes the tags of schemas.
func NewScanner(schemas []toolthread.XMLSchema, opts ...ScannerOption) *Scanner {
	s := &Scanner{schemas: make(map[string]toolthread.XMLSchema, len(schemas)), newID: newCallID}
	for _, sc := range schemas {
		if sc.TagName != "" {
			s.schemas[sc.TagName] = sc
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed adds a fragment and returns the events it completes.
func (s *Scanner) Feed(fragment string) []Event {
	s.buf += fragment
	return s.drain(false)
}

// Close flushes the end of the stream. A tool tag still open at this point is not a
// call and is not released as text either; see Dropped.
func (s *Scanner) Close() []Event {
	return s.drain(true)
}

// Dropped returns the unfinished tool tag discarded by Close, if any.
func (s *Scanner) Dropped() string { return s.dropped }

type tagMatch int

const (
	noTag tagMatch = iota
	maybeTag
	isTag
)

// matchTag checks whether buf (starting with '<') opens a known tool tag.
func (s *Scanner) matchTag(buf string) (string, tagMatch) {
	state := noTag
	best := ""
	for tag := range s.schemas {
		p := "<" + tag
		if len(buf) <= len(p) {
			if strings.HasPrefix(p, buf) {
				state = maybeTag
			}
			continue
		}
		if strings.HasPrefix(buf, p) && isDelim(buf[len(p)]) && len(tag) > len(best) {
			best = tag
		}
	}
	if best != "" {
		return best, isTag
	}
	return "", state
}

func (s *Scanner) drain(final bool) []Event {
	var events []Event
	emit := func(text string) {
		if text == "" {
			return
		}
		if n := len(events); n > 0 && events[n-1].Call == nil {
			events[n-1].Text += text
			return
		}
		events = append(events, Event{Text: text})
	}
	for s.buf != "" {
		i := strings.IndexByte(s.buf, '<')
		if i < 0 {
			emit(s.buf)
			s.buf = ""
			break
		}
		emit(s.buf[:i])
		s.buf = s.buf[i:]

		tag, state := s.matchTag(s.buf)
		switch state {
		case noTag:
			emit("<")
			s.buf = s.buf[1:]
			continue
		case maybeTag:
			if final {
				emit(s.buf)
				s.buf = ""
			}
			return events
		}

		el, ok := readElement(s.buf, tag)
		if !ok {
			if final {
				s.dropped = s.buf
				s.buf = ""
			}
			return events
		}
		schema := s.schemas[tag]
		name := schema.FunctionName
		if name == "" {
			name = tag
		}
		events = append(events, Event{Call: &Call{
			ID:       s.newID(),
			ToolName: name,
			Tag:      tag,
			Args:     extractArgs(schema, el),
			Raw:      s.buf[:el.end],
		}})
		s.buf = s.buf[el.end:]
	}
	return events
}
