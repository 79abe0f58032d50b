package toolthread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Registry holds the functions exposed by capability providers and projects them as
// structured schemas (native calling), XML tag schemas (XML calling) and an
// available-functions map. It also executes single calls with timeout, semaphore and
// optional panic recovery. The registry is effectively read-only after setup.
type Registry struct {
	tools       map[string]Tool   // wrapped with middlewares, used by Execute
	rawTools    map[string]Tool   // unwrapped, used by Use() to re-apply middlewares from scratch
	owners      map[string]string // function name -> provider name
	sem         chan struct{}
	opts        registryOptions
	done        chan struct{}
	running     sync.WaitGroup
	mu          sync.Mutex
	middlewares []Middleware
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{
		timeout:        5 * time.Second,
		maxConcurrency: 10,
		recoverPanics:  true,
		checkSchemas:   true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	return &Registry{
		tools:    make(map[string]Tool),
		rawTools: make(map[string]Tool),
		owners:   make(map[string]string),
		sem:      sem,
		opts:     o,
		done:     make(chan struct{}),
	}
}

// Register adds a standalone tool (its own provider). See RegisterProvider for the rules.
func (r *Registry) Register(t Tool) error {
	return r.RegisterProvider(NewProvider(t.Name(), t))
}

// RegisterProvider exposes the functions of p. When names is non-empty only those
// functions are exposed; otherwise all of them. Registering the same provider again
// with another subset is additive. A name already owned by a different provider is
// rejected with ErrDuplicateTool, and nothing from this call is registered.
// Stored middlewares (see Use) are applied to every tool.
func (r *Registry) RegisterProvider(p Provider, names ...string) error {
	available := make(map[string]Tool)
	for _, t := range p.Tools() {
		available[t.Name()] = t
	}
	selected := p.Tools()
	if len(names) > 0 {
		selected = selected[:0:0]
		var missing []string
		for _, name := range names {
			t, ok := available[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			selected = append(selected, t)
		}
		if len(missing) > 0 {
			return fmt.Errorf("provider %s: %w: %s", p.Name(), ErrToolNotFound, strings.Join(missing, ", "))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range selected {
		if owner, ok := r.owners[t.Name()]; ok && owner != p.Name() {
			return fmt.Errorf("%w: %s (provider %s, already provided by %s)", ErrDuplicateTool, t.Name(), p.Name(), owner)
		}
		if r.opts.checkSchemas {
			if err := checkSchema(t.Name(), t.Parameters()); err != nil {
				return err
			}
		}
	}
	for _, t := range selected {
		name := t.Name()
		r.owners[name] = p.Name()
		r.rawTools[name] = t
		for i := len(r.middlewares) - 1; i >= 0; i-- {
			t = r.middlewares[i](t)
		}
		r.tools[name] = t
	}
	r.opts.logger.Debug("provider registered", "provider", p.Name(), "functions", len(selected))
	return nil
}

// GetAllTools returns all registered tools (e.g. for exporting to LLM providers), sorted by name for deterministic order.
func (r *Registry) GetAllTools() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// GetTool returns the tool with the given name (after middlewares are applied), or (nil, false) if not found.
func (r *Registry) GetTool(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns the structured schemas for native function calling in the
// OpenAI tool format, sorted by function name.
func (r *Registry) Schemas() []map[string]any {
	tools := r.GetAllTools()
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return out
}

// XMLSchemas returns the XML tag schemas of tools that declare one, sorted by function name.
func (r *Registry) XMLSchemas() []XMLSchema {
	var out []XMLSchema
	for _, t := range r.GetAllTools() {
		xt, ok := t.(XMLTool)
		if !ok {
			continue
		}
		if s := xt.XMLSchema(); s.TagName != "" {
			out = append(out, s)
		}
	}
	return out
}

// XMLExamples joins the usage examples of all XML-callable tools.
func (r *Registry) XMLExamples() string {
	return XMLExamples(r.XMLSchemas())
}

// AvailableFunctions returns a snapshot of the exposed functions. XML-callable tools are
// additionally reachable by tag name when it differs from the function name. Calls
// made through the snapshot go through Execute, so the registry's timeout, concurrency
// limit, hooks and shutdown apply.
func (r *Registry) AvailableFunctions() Functions {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Functions, len(r.tools))
	for name, t := range r.tools {
		out[name] = &boundTool{toolBase: toolBase{next: t}, reg: r}
	}
	for name, t := range r.tools {
		xt, ok := t.(XMLTool)
		if !ok {
			continue
		}
		tag := xt.XMLSchema().TagName
		if _, taken := out[tag]; tag != "" && !taken {
			out[tag] = out[name]
		}
	}
	return out
}

// boundTool is a registered tool whose calls run through its registry.
type boundTool struct {
	toolBase
	reg *Registry
}

func (b *boundTool) Execute(ctx context.Context, args []byte, yield func(Chunk) error) error {
	return b.executeCall(ctx, ToolCall{ToolName: b.Name(), Args: args}, yield)
}

func (b *boundTool) executeCall(ctx context.Context, call ToolCall, yield func(Chunk) error) error {
	call.ToolName = b.Name()
	return b.reg.Execute(ctx, call, yield)
}

// Execute runs one tool call and streams chunks to yield. Returns on first yield error or tool error.
// The after-execution hook (WithOnAfterExecute) is always invoked via defer with ExecutionSummary.
func (r *Registry) Execute(ctx context.Context, call ToolCall, yield func(Chunk) error) (err error) {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return ErrShutdown
	default:
	}
	tool, ok := r.tools[call.ToolName]
	if !ok {
		r.mu.Unlock()
		return ErrToolNotFound
	}
	r.running.Add(1)
	r.mu.Unlock()

	if err = r.acquireSemaphore(ctx); err != nil {
		r.running.Done()
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
	defer r.releaseSemaphore()
	defer r.running.Done()

	timeout := r.opts.timeout
	if tm, ok := tool.(ToolMetadata); ok && tm.Timeout() > 0 {
		timeout = tm.Timeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var summary ExecutionSummary
	summary.CallID = call.ID
	summary.ToolName = call.ToolName
	start := time.Now()
	// Recover defer is registered after onAfter so it runs first on panic and sets summary.Error before the hook runs.
	defer func() {
		dur := time.Since(start)
		if r.opts.onAfter != nil {
			r.opts.onAfter(ctx, call, summary, dur)
		}
	}()
	if r.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				summary.Error = &SystemError{Err: &panicError{p: p}}
				err = summary.Error
			}
		}()
	}

	if r.opts.onBefore != nil {
		r.opts.onBefore(ctx, call)
	}

	// Wrap yield to tag chunks, count them and their bytes.
	yieldWrapped := func(c Chunk) error {
		c.CallID = call.ID
		c.ToolName = call.ToolName
		err := yield(c)
		if err == nil && !c.IsError {
			summary.ChunksDelivered++
			summary.TotalBytes += int64(len(c.Data))
		}
		return err
	}

	summary.Error = tool.Execute(ctx, call.Args, yieldWrapped)
	if summary.Error != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(summary.Error, ErrStreamAborted) {
		summary.Error = fmt.Errorf("%w: %w", ErrTimeout, summary.Error)
	}
	return summary.Error
}

// Run executes one call and folds its chunks into a ToolResult. It never returns an
// error: unknown functions, timeouts, panics and tool errors become failed results.
func (r *Registry) Run(ctx context.Context, call ToolCall) ToolResult {
	var out strings.Builder
	err := r.Execute(ctx, call, func(c Chunk) error {
		if c.Event == EventProgress {
			return nil
		}
		out.Write(c.Data)
		return nil
	})
	return newResult(call, out.String(), err)
}

func (r *Registry) acquireSemaphore(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) releaseSemaphore() {
	if r.sem != nil {
		<-r.sem
	}
}

// Shutdown closes the registry for new calls and waits for in-flight executions or ctx to cancel.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return nil
	default:
		close(r.done)
	}
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// panicError wraps a recovered panic value for SystemError; used by Registry and executors.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
