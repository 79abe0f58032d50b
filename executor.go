package toolthread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Executor dispatches tool calls to the available functions and collects one
// ToolResult per dispatched call. Calls whose ID is in executed are skipped and
// produce no result; the returned slice is index-aligned with the remaining calls.
// Failures of any kind (unknown function, tool error, panic, timeout) become failed
// results and never abort the batch.
type Executor interface {
	ExecuteCalls(ctx context.Context, calls []ToolCall, available Functions, executed map[string]bool) []ToolResult
}

// ExecutorOption configures the sequential and parallel executors.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	timeout        time.Duration
	maxConcurrency int
	logger         *slog.Logger
}

// WithCallTimeout sets the default timeout of each call. Tools with their own timeout (WithTimeout) keep it.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(o *executorOptions) {
		o.timeout = d
	}
}

// WithParallelism limits how many calls the parallel executor runs at once. 0 means unlimited.
func WithParallelism(n int) ExecutorOption {
	return func(o *executorOptions) {
		o.maxConcurrency = n
	}
}

// WithExecutorLogger sets the logger for per-call events.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(o *executorOptions) {
		o.logger = logger
	}
}

func newExecutorOptions(opts []ExecutorOption) executorOptions {
	o := executorOptions{timeout: 2 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// SequentialExecutor runs calls strictly in request order, one at a time.
type SequentialExecutor struct {
	opts executorOptions
}

// NewSequentialExecutor creates a SequentialExecutor.
func NewSequentialExecutor(opts ...ExecutorOption) *SequentialExecutor {
	return &SequentialExecutor{opts: newExecutorOptions(opts)}
}

// ExecuteCalls implements Executor.
func (e *SequentialExecutor) ExecuteCalls(ctx context.Context, calls []ToolCall, available Functions, executed map[string]bool) []ToolResult {
	pending := pendingCalls(calls, executed)
	results := make([]ToolResult, 0, len(pending))
	for _, call := range pending {
		results = append(results, invoke(ctx, available[call.ToolName], call, e.opts))
	}
	return results
}

// ParallelExecutor dispatches all calls concurrently. Results keep request order,
// not completion order, so they can be matched positionally to their calls.
type ParallelExecutor struct {
	opts executorOptions
}

// NewParallelExecutor creates a ParallelExecutor.
func NewParallelExecutor(opts ...ExecutorOption) *ParallelExecutor {
	return &ParallelExecutor{opts: newExecutorOptions(opts)}
}

// ExecuteCalls implements Executor.
func (e *ParallelExecutor) ExecuteCalls(ctx context.Context, calls []ToolCall, available Functions, executed map[string]bool) []ToolResult {
	pending := pendingCalls(calls, executed)
	results := make([]ToolResult, len(pending))
	var sem chan struct{}
	if e.opts.maxConcurrency > 0 {
		sem = make(chan struct{}, e.opts.maxConcurrency)
	}
	var wg sync.WaitGroup
	for i, call := range pending {
		wg.Go(func() {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[i] = newResult(call, "", ctx.Err())
					return
				}
			}
			results[i] = invoke(ctx, available[call.ToolName], call, e.opts)
		})
	}
	wg.Wait()
	return results
}

// NewExecutor returns the parallel executor when parallel is set, otherwise the sequential one.
func NewExecutor(parallel bool, opts ...ExecutorOption) Executor {
	if parallel {
		return NewParallelExecutor(opts...)
	}
	return NewSequentialExecutor(opts...)
}

func pendingCalls(calls []ToolCall, executed map[string]bool) []ToolCall {
	if len(executed) == 0 {
		return calls
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.ID != "" && executed[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

type invocation struct {
	output string
	err    error
}

// invoke runs one tool with its timeout and panic recovery. A tool that ignores
// cancellation is abandoned when its deadline passes; its late output is dropped.
func invoke(ctx context.Context, t Tool, call ToolCall, o executorOptions) ToolResult {
	if t == nil {
		o.logger.Warn("tool call for unregistered function", "tool", call.ToolName, "call_id", call.ID)
		return newResult(call, "", ErrToolNotFound)
	}
	if err := ctx.Err(); err != nil {
		return newResult(call, "", err)
	}
	timeout := o.timeout
	if tm, ok := t.(ToolMetadata); ok && tm.Timeout() > 0 {
		timeout = tm.Timeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan invocation, 1)
	go func() {
		var res invocation
		defer func() {
			if p := recover(); p != nil {
				res.err = &SystemError{Err: &panicError{p: p}}
			}
			done <- res
		}()
		var out strings.Builder
		collect := func(c Chunk) error {
			if c.Event == EventProgress {
				return nil
			}
			out.Write(c.Data)
			return nil
		}
		if b, ok := t.(*boundTool); ok {
			res.err = b.executeCall(ctx, call, collect)
		} else {
			res.err = t.Execute(ctx, call.Args, collect)
		}
		res.output = out.String()
	}()

	var res invocation
	select {
	case res = <-done:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(res.err, ErrTimeout) {
			res.err = fmt.Errorf("%w: %w", ErrTimeout, res.err)
		}
	case <-ctx.Done():
		res.err = ctx.Err()
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = ErrTimeout
		}
	}
	result := newResult(call, res.output, res.err)
	o.logger.Debug("tool call finished",
		"tool", call.ToolName, "call_id", call.ID, "success", result.Success, "duration", time.Since(start))
	return result
}

// newResult builds the ToolResult of a finished call. A failed call's output is the
// failure text the model sees.
func newResult(call ToolCall, output string, err error) ToolResult {
	res := ToolResult{CallID: call.ID, ToolName: call.ToolName, Success: err == nil, Output: output, Error: err}
	if err != nil {
		res.Output = failureText(call.ToolName, err)
	}
	return res
}
