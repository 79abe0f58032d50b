package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/skosovsky/toolthread"
	"github.com/skosovsky/toolthread/llm"
)

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithExecuteTools turns tool execution on or off (default on). When off, recognized
// calls are recorded on the assistant message only.
func WithExecuteTools(enable bool) ProcessorOption {
	return func(p *Processor) {
		p.executeTools = enable
	}
}

// WithExecuteOnStream dispatches each streamed call as soon as it is complete
// instead of after the stream ends.
func WithExecuteOnStream(enable bool) ProcessorOption {
	return func(p *Processor) {
		p.executeOnStream = enable
	}
}

// WithExecutor sets the tool executor (default sequential). Calls dispatched during a
// stream run one at a time unless e is a *toolthread.ParallelExecutor.
func WithExecutor(e toolthread.Executor) ProcessorOption {
	return func(p *Processor) {
		if e != nil {
			p.executor = e
		}
	}
}

// WithProcessorLogger sets the logger; nil means slog.Default().
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Processor turns one model answer into thread messages: the assistant message first,
// then one tool message per call in call order.
type Processor struct {
	parser          ToolParser
	adder           ResultsAdder
	executor        toolthread.Executor
	functions       toolthread.Functions
	executeTools    bool
	executeOnStream bool
	logger          *slog.Logger
}

// NewProcessor returns a processor that recognizes calls with parser, runs them against
// functions and writes through adder.
func NewProcessor(parser ToolParser, adder ResultsAdder, functions toolthread.Functions, opts ...ProcessorOption) *Processor {
	p := &Processor{
		parser:       parser,
		adder:        adder,
		executor:     toolthread.NewSequentialExecutor(),
		functions:    functions,
		executeTools: true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// sink forwards events until the consumer stops pulling.
type sink struct {
	yield   func(Event, error) bool
	stopped bool
}

func (s *sink) send(ev Event) {
	if !s.stopped && !s.yield(ev, nil) {
		s.stopped = true
	}
}

func (s *sink) fail(err error) {
	if !s.stopped {
		s.yield(Event{}, err)
		s.stopped = true
	}
}

// ProcessResponse handles a complete answer. The turn is written to the thread even
// if the consumer stops early; calls are then left unexecuted.
func (p *Processor) ProcessResponse(ctx context.Context, threadID string, resp *llm.Response) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		out := &sink{yield: yield}
		parsed := p.parser.Parse(resp.Message)
		if parsed.Content != "" {
			out.send(contentEvent(parsed.Content))
		}
		for _, c := range parsed.Calls {
			out.send(callEvent(c))
		}
		turn := Turn{Content: parsed.Content, Raw: resp.Message.Content.String(), Calls: parsed.Calls}
		p.finish(ctx, threadID, turn, make([]*pendingCall, len(turn.Calls)), out)
	}
}

// ProcessStream consumes stream lazily. Visible text is yielded as it arrives; tool
// calls are yielded once complete. When the consumer stops, no more fragments are
// read and the turn received so far is written. A transport failure is yielded as an
// error and nothing is written.
func (p *Processor) ProcessStream(ctx context.Context, threadID string, stream llm.Stream) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer func() { _ = stream.Close() }()
		out := &sink{yield: yield}
		sp := p.parser.NewStream()

		var (
			turn       Turn
			visible    strings.Builder
			raw        strings.Builder
			dispatched []*pendingCall
			last       *pendingCall
		)
		handle := func(events []Event) {
			for _, ev := range events {
				switch ev.Kind {
				case EventContent:
					visible.WriteString(ev.Content)
				case EventToolCall:
					turn.Calls = append(turn.Calls, *ev.Call)
					var pc *pendingCall
					if p.executeTools && p.executeOnStream && !out.stopped {
						pc = p.dispatch(ctx, ev, last)
						last = pc
					}
					dispatched = append(dispatched, pc)
				}
				out.send(ev)
			}
		}

		for !out.stopped && stream.Next() {
			f := stream.Current()
			raw.WriteString(f.Content)
			handle(sp.Feed(f))
		}
		if !out.stopped {
			if err := stream.Err(); err != nil {
				wait(dispatched)
				p.logger.Error("model stream failed", "thread_id", threadID, "error", err)
				out.fail(fmt.Errorf("model stream: %w", err))
				return
			}
		}
		handle(sp.Close())

		turn.Content = visible.String()
		turn.Raw = raw.String()
		p.finish(ctx, threadID, turn, dispatched, out)
	}
}

type pendingCall struct {
	done   chan struct{}
	result toolthread.ToolResult
}

func wait(calls []*pendingCall) {
	for _, pc := range calls {
		if pc != nil {
			<-pc.done
		}
	}
}

// dispatch runs ev's call in the background. With a sequential executor the call
// starts after prev has finished.
func (p *Processor) dispatch(ctx context.Context, ev Event, prev *pendingCall) *pendingCall {
	pc := &pendingCall{done: make(chan struct{})}
	call := execCall(*ev.Call)
	_, parallel := p.executor.(*toolthread.ParallelExecutor)
	go func() {
		defer close(pc.done)
		if prev != nil && !parallel {
			<-prev.done
		}
		if res := p.executor.ExecuteCalls(ctx, []toolthread.ToolCall{call}, p.functions, nil); len(res) == 1 {
			pc.result = res[0]
		}
	}()
	return pc
}

// finish writes the assistant message, completes execution and writes the results in
// call order. dispatched is index-aligned with turn.Calls.
func (p *Processor) finish(ctx context.Context, threadID string, turn Turn, dispatched []*pendingCall, out *sink) {
	runQueued := !out.stopped
	msg, err := p.adder.AddAssistant(ctx, threadID, turn)
	if err != nil {
		wait(dispatched)
		out.fail(err)
		return
	}
	out.send(Event{Kind: EventAssistant, Message: &msg})
	if !p.executeTools || len(turn.Calls) == 0 {
		return
	}

	results := p.collect(ctx, turn, dispatched, runQueued)
	written := 0
	for i, res := range results {
		if res == nil {
			continue
		}
		tm, err := p.adder.AddResult(ctx, threadID, *res)
		if err != nil {
			out.fail(err)
			return
		}
		written++
		out.send(Event{Kind: EventToolResult, Call: &turn.Calls[i], Result: res, Message: &tm})
	}
	p.logger.Info("tool calls processed", "thread_id", threadID, "calls", len(turn.Calls), "results", written)
}

// collect gathers dispatched results and, when runQueued, executes the remaining calls
// with the dispatched ids marked as already executed.
func (p *Processor) collect(ctx context.Context, turn Turn, dispatched []*pendingCall, runQueued bool) []*toolthread.ToolResult {
	results := make([]*toolthread.ToolResult, len(turn.Calls))
	executed := make(map[string]bool)
	for i, pc := range dispatched {
		if pc == nil {
			continue
		}
		<-pc.done
		results[i] = &pc.result
		executed[turn.Calls[i].ID] = true
	}
	if !runQueued || len(executed) == len(turn.Calls) {
		return results
	}
	batch := p.executor.ExecuteCalls(ctx, execCalls(turn.Calls), p.functions, executed)
	j := 0
	for i, c := range turn.Calls {
		if executed[c.ID] || j >= len(batch) {
			continue
		}
		results[i] = &batch[j]
		j++
	}
	return results
}
