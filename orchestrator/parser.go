package orchestrator

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/skosovsky/toolthread"
	"github.com/skosovsky/toolthread/llm"
	"github.com/skosovsky/toolthread/thread"
	"github.com/skosovsky/toolthread/xmlcall"
)

// Parsed is a complete model answer split into visible text and tool calls.
type Parsed struct {
	Content string
	Calls   []thread.ToolCall
}

// ToolParser recognizes tool calls in model output.
type ToolParser interface {
	// Parse handles a complete assistant message.
	Parse(msg thread.Message) Parsed
	// NewStream returns a recognizer for one streamed answer.
	NewStream() StreamParser
}

// StreamParser consumes the fragments of one answer. It returns EventContent and
// EventToolCall events in output order. Not safe for concurrent use.
type StreamParser interface {
	Feed(f llm.Fragment) []Event
	// Close flushes the end of the answer.
	Close() []Event
}

func newCallID() string { return "call_" + uuid.NewString() }

// NativeParser trusts the model API's structured tool calls.
type NativeParser struct{}

var _ ToolParser = NativeParser{}

// Parse implements ToolParser. Calls without an id get a generated one.
func (NativeParser) Parse(msg thread.Message) Parsed {
	p := Parsed{Content: msg.Content.String()}
	for _, tc := range msg.ToolCalls {
		p.Calls = append(p.Calls, normalizeCall(tc))
	}
	return p
}

// NewStream implements ToolParser.
func (NativeParser) NewStream() StreamParser {
	return &nativeStream{calls: make(map[int]*thread.ToolCall)}
}

func normalizeCall(tc thread.ToolCall) thread.ToolCall {
	if tc.ID == "" {
		tc.ID = newCallID()
	}
	if tc.Type == "" {
		tc.Type = "function"
	}
	return tc
}

// nativeStream assembles tool call deltas by index. A call is complete once a
// delta for a later index arrives, or at the finish reason or end of stream.
type nativeStream struct {
	calls map[int]*thread.ToolCall
	open  []int
}

func (s *nativeStream) Feed(f llm.Fragment) []Event {
	var events []Event
	if f.Content != "" {
		events = append(events, contentEvent(f.Content))
	}
	for _, d := range f.ToolCalls {
		tc, ok := s.calls[d.Index]
		if !ok {
			events = append(events, s.flushBelow(d.Index)...)
			tc = &thread.ToolCall{Type: "function"}
			s.calls[d.Index] = tc
			s.open = append(s.open, d.Index)
		}
		if d.ID != "" {
			tc.ID = d.ID
		}
		if d.Name != "" {
			tc.Function.Name = d.Name
		}
		tc.Function.Arguments += d.Arguments
	}
	if f.FinishReason != "" {
		events = append(events, s.Close()...)
	}
	return events
}

func (s *nativeStream) Close() []Event {
	return s.flushBelow(math.MaxInt)
}

// flushBelow completes open calls with an index lower than idx, in index order.
func (s *nativeStream) flushBelow(idx int) []Event {
	sort.Ints(s.open)
	var events []Event
	keep := s.open[:0]
	for _, i := range s.open {
		if i >= idx {
			keep = append(keep, i)
			continue
		}
		events = append(events, callEvent(normalizeCall(*s.calls[i])))
	}
	s.open = keep
	return events
}

// XMLParser recognizes tool tags in the answer text.
type XMLParser struct {
	schemas []toolthread.XMLSchema
	opts    []xmlcall.ScannerOption
}

var _ ToolParser = (*XMLParser)(nil)

// NewXMLParser returns a parser for the tags of schemas.
func NewXMLParser(schemas []toolthread.XMLSchema, opts ...xmlcall.ScannerOption) *XMLParser {
	return &XMLParser{schemas: schemas, opts: opts}
}

// Parse implements ToolParser. Content is the text with tool tags removed.
func (p *XMLParser) Parse(msg thread.Message) Parsed {
	s := p.NewStream()
	events := append(s.Feed(llm.Fragment{Content: msg.Content.String()}), s.Close()...)
	var out Parsed
	for _, ev := range events {
		switch ev.Kind {
		case EventContent:
			out.Content += ev.Content
		case EventToolCall:
			out.Calls = append(out.Calls, *ev.Call)
		}
	}
	return out
}

// NewStream implements ToolParser.
func (p *XMLParser) NewStream() StreamParser {
	return &xmlStream{scanner: xmlcall.NewScanner(p.schemas, p.opts...)}
}

type xmlStream struct {
	scanner *xmlcall.Scanner
}

func (s *xmlStream) Feed(f llm.Fragment) []Event {
	if f.Content == "" {
		return nil
	}
	return convertScan(s.scanner.Feed(f.Content))
}

func (s *xmlStream) Close() []Event {
	return convertScan(s.scanner.Close())
}

func convertScan(in []xmlcall.Event) []Event {
	out := make([]Event, 0, len(in))
	for _, ev := range in {
		if ev.Call == nil {
			out = append(out, contentEvent(ev.Text))
			continue
		}
		args, err := json.Marshal(ev.Call.Args)
		if err != nil {
			args = []byte("{}")
		}
		out = append(out, callEvent(thread.NewToolCall(ev.Call.ID, ev.Call.ToolName, string(args))))
	}
	return out
}
