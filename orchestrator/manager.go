package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/skosovsky/toolthread"
	"github.com/skosovsky/toolthread/llm"
	"github.com/skosovsky/toolthread/thread"
)

// ContinuePrompt is sent, without being stored, when the thread ends with an assistant message.
const ContinuePrompt = "Continue! You must always use a tool."

var (
	// ErrConflictingToolCalling is returned when native and XML tool calling are both enabled.
	ErrConflictingToolCalling = errors.New("cannot use native and XML tool calling at the same time")
	// ErrImagesNotAllowed is returned when images are attached to a system or tool message.
	ErrImagesNotAllowed = errors.New("images are only allowed on user and assistant messages")
)

// Status tags a RunThread result.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the outcome of RunThread. Model and thread faults are reported here with
// StatusError instead of as a Go error.
type Result struct {
	Status  Status
	Message string
	Err     error
	// Response is the model answer of a non-streaming run.
	Response *llm.Response
	// Events are the processed events of a non-streaming run.
	Events []Event
	// Stream drives a streaming run and must be consumed to complete the turn.
	Stream iter.Seq2[Event, error]
}

func errorResult(err error) *Result {
	return &Result{Status: StatusError, Message: err.Error(), Err: err}
}

// RunConfig selects the model, the calling convention and the execution mode of one turn.
type RunConfig struct {
	// SystemMessage is prepended to the request and never stored. Empty role means none.
	SystemMessage thread.Message
	Model         string
	Temperature   float64
	MaxTokens     int
	ToolChoice    string
	// TemporaryMessage is appended to the request only.
	TemporaryMessage *thread.Message
	StopSequences    []string

	NativeToolCalling     bool
	XMLToolCalling        bool
	ExecuteTools          bool
	Stream                bool
	ExecuteToolsOnStream  bool
	ParallelToolExecution bool

	// Parser, Executor and Adder replace the defaults of the calling convention.
	Parser   ToolParser
	Executor toolthread.Executor
	Adder    ResultsAdder
}

// NewRunConfig returns a config for model with tool execution on and automatic tool choice.
func NewRunConfig(model string, system thread.Message) RunConfig {
	return RunConfig{
		SystemMessage: system,
		Model:         model,
		ToolChoice:    llm.ToolChoiceAuto,
		ExecuteTools:  true,
	}
}

// Validate checks the combination of options.
func (c RunConfig) Validate() error {
	if c.NativeToolCalling && c.XMLToolCalling {
		return ErrConflictingToolCalling
	}
	return nil
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRegistry sets the tool registry (default: a new Registry).
func WithRegistry(r *toolthread.Registry) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithExecutorOptions sets the options of the executors the manager creates.
func WithExecutorOptions(opts ...toolthread.ExecutorOption) ManagerOption {
	return func(m *Manager) {
		m.executorOpts = append(m.executorOpts, opts...)
	}
}

// Manager owns a thread store, a tool registry and a model client, and runs turns.
type Manager struct {
	store        thread.Store
	registry     *toolthread.Registry
	client       llm.Client
	logger       *slog.Logger
	executorOpts []toolthread.ExecutorOption
}

// NewManager returns a manager over store and client.
func NewManager(store thread.Store, client llm.Client, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = toolthread.NewRegistry(toolthread.WithRegistryLogger(m.logger))
	}
	m.executorOpts = append([]toolthread.ExecutorOption{toolthread.WithExecutorLogger(m.logger)}, m.executorOpts...)
	return m
}

// Registry returns the tool registry.
func (m *Manager) Registry() *toolthread.Registry { return m.registry }

// AddTool registers the functions of p; all of them when names is empty.
func (m *Manager) AddTool(p toolthread.Provider, names ...string) error {
	return m.registry.RegisterProvider(p, names...)
}

// CreateThread creates an empty thread.
func (m *Manager) CreateThread(ctx context.Context) (string, error) {
	return m.store.Create(ctx)
}

// AddMessage appends msg, attaching images as image parts.
func (m *Manager) AddMessage(ctx context.Context, threadID string, msg thread.Message, images ...thread.Image) error {
	if len(images) > 0 {
		if msg.Role != thread.RoleUser && msg.Role != thread.RoleAssistant {
			return fmt.Errorf("%w: role %s", ErrImagesNotAllowed, msg.Role)
		}
		msg = msg.WithImages(images...)
	}
	return m.store.Append(ctx, threadID, msg)
}

// ListMessages returns the active log of the thread through opts.
func (m *Manager) ListMessages(ctx context.Context, threadID string, opts thread.ListOptions) ([]thread.Message, error) {
	return m.store.List(ctx, threadID, opts)
}

// ModifyMessage replaces the message at index.
func (m *Manager) ModifyMessage(ctx context.Context, threadID string, index int, msg thread.Message) error {
	return m.store.ModifyAt(ctx, threadID, index, msg)
}

// RemoveMessage deletes the message at index.
func (m *Manager) RemoveMessage(ctx context.Context, threadID string, index int) error {
	return m.store.RemoveAt(ctx, threadID, index)
}

// ResetMessages clears the active log and keeps the history.
func (m *Manager) ResetMessages(ctx context.Context, threadID string) error {
	return m.store.Reset(ctx, threadID)
}

// AddToHistoryOnly appends msg to the history log only.
func (m *Manager) AddToHistoryOnly(ctx context.Context, threadID string, msg thread.Message) error {
	return m.store.AppendHistory(ctx, threadID, msg)
}

// History returns the full history log.
func (m *Manager) History(ctx context.Context, threadID string) ([]thread.Message, error) {
	return m.store.History(ctx, threadID)
}

// AddMessageAndRunTools appends msg and runs its tool calls. A user message gets the
// tool outputs appended to its content and its tool calls removed; any other message
// is stored as is and followed by one tool message per call.
func (m *Manager) AddMessageAndRunTools(ctx context.Context, threadID string, msg thread.Message) error {
	if len(msg.ToolCalls) == 0 {
		return m.store.Append(ctx, threadID, msg)
	}
	executor := toolthread.NewSequentialExecutor(m.executorOpts...)
	functions := m.registry.AvailableFunctions()

	if msg.Role == thread.RoleUser {
		results := executor.ExecuteCalls(ctx, execCalls(msg.ToolCalls), functions, nil)
		outputs := make([]string, len(results))
		for i, r := range results {
			outputs[i] = fmt.Sprintf("\nTool %s output: %s", r.ToolName, r.String())
		}
		msg = appendText(msg, strings.Join(outputs, "\n"))
		msg.ToolCalls = nil
		return m.store.Append(ctx, threadID, msg)
	}

	if err := m.store.Append(ctx, threadID, msg); err != nil {
		return err
	}
	adder := NewNativeResultsAdder(m.store)
	for _, r := range executor.ExecuteCalls(ctx, execCalls(msg.ToolCalls), functions, nil) {
		if _, err := adder.AddResult(ctx, threadID, r); err != nil {
			return err
		}
	}
	return nil
}

func appendText(msg thread.Message, text string) thread.Message {
	if !msg.Content.Multipart() {
		msg.Content = thread.Text(msg.Content.Text + text)
		return msg
	}
	parts := append([]thread.Part(nil), msg.Content.Parts...)
	msg.Content = thread.Content{Parts: append(parts, thread.Part{Type: thread.PartText, Text: text})}
	return msg
}

// ExecuteToolAndAddMessage runs one registered tool and appends its rendered result
// as a message with role.
func (m *Manager) ExecuteToolAndAddMessage(ctx context.Context, threadID string, role thread.Role, toolName string, args map[string]any) error {
	functions := m.registry.AvailableFunctions()
	if _, ok := functions[toolName]; !ok {
		return fmt.Errorf("%w: %s is not registered", toolthread.ErrToolNotFound, toolName)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	call := toolthread.ToolCall{ID: uuid.NewString(), ToolName: toolName, Args: raw}
	res := toolthread.NewSequentialExecutor(m.executorOpts...).ExecuteCalls(ctx, []toolthread.ToolCall{call}, functions, nil)
	return m.store.Append(ctx, threadID, thread.Message{Role: role, Content: thread.Text(res[0].String())})
}

// RunThread sends the thread to the model and processes the answer. An invalid cfg is
// returned as an error before the model is called; every later failure is reported in
// the Result. A streaming Result does nothing until its Stream is consumed.
func (m *Manager) RunThread(ctx context.Context, threadID string, cfg RunConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := m.logger.With("thread_id", threadID, "model", cfg.Model)

	req, err := m.prepareRequest(ctx, threadID, cfg)
	if err != nil {
		log.Error("run thread failed", "error", err)
		return errorResult(err), nil
	}
	proc := m.newProcessor(cfg)

	if cfg.Stream {
		stream, err := m.client.Stream(ctx, req)
		if err != nil {
			log.Error("run thread failed", "error", err)
			return errorResult(fmt.Errorf("model request: %w", err)), nil
		}
		return &Result{Status: StatusOK, Stream: proc.ProcessStream(ctx, threadID, stream)}, nil
	}

	resp, err := m.client.Complete(ctx, req)
	if err != nil {
		log.Error("run thread failed", "error", err)
		return errorResult(fmt.Errorf("model request: %w", err)), nil
	}
	res := &Result{Status: StatusOK, Response: resp}
	for ev, err := range proc.ProcessResponse(ctx, threadID, resp) {
		if err != nil {
			log.Error("processing response failed", "error", err)
			out := errorResult(err)
			out.Response, out.Events = resp, res.Events
			return out, nil
		}
		res.Events = append(res.Events, ev)
	}
	log.Debug("turn complete", "events", len(res.Events))
	return res, nil
}

func (m *Manager) prepareRequest(ctx context.Context, threadID string, cfg RunConfig) (llm.Request, error) {
	msgs, err := m.store.List(ctx, threadID, thread.ListOptions{})
	if err != nil {
		return llm.Request{}, fmt.Errorf("list messages: %w", err)
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == thread.RoleAssistant {
		msgs = append(msgs, thread.UserMessage(ContinuePrompt))
	}
	prepared := make([]thread.Message, 0, len(msgs)+2)
	if cfg.SystemMessage.Role != "" {
		prepared = append(prepared, cfg.SystemMessage)
	}
	prepared = append(prepared, msgs...)
	if cfg.TemporaryMessage != nil {
		prepared = append(prepared, *cfg.TemporaryMessage)
	}

	req := llm.Request{
		Model:       cfg.Model,
		Messages:    prepared,
		Temperature: llm.Float(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Stop:        cfg.StopSequences,
	}
	if cfg.NativeToolCalling {
		req.Tools = m.registry.Schemas()
		req.ToolChoice = cfg.ToolChoice
	}
	return req, nil
}

func (m *Manager) newProcessor(cfg RunConfig) *Processor {
	var (
		parser    ToolParser = NativeParser{}
		adder     ResultsAdder
		functions = toolthread.Functions{}
	)
	if cfg.XMLToolCalling {
		parser = NewXMLParser(m.registry.XMLSchemas())
		adder = NewXMLResultsAdder(m.store)
	} else {
		adder = NewNativeResultsAdder(m.store)
	}
	if cfg.NativeToolCalling || cfg.XMLToolCalling {
		functions = m.registry.AvailableFunctions()
	}
	if cfg.Parser != nil {
		parser = cfg.Parser
	}
	if cfg.Adder != nil {
		adder = cfg.Adder
	}
	executor := cfg.Executor
	if executor == nil {
		executor = toolthread.NewExecutor(cfg.ParallelToolExecution, m.executorOpts...)
	}
	return NewProcessor(parser, adder, functions,
		WithExecutor(executor),
		WithExecuteTools(cfg.ExecuteTools),
		WithExecuteOnStream(cfg.ExecuteToolsOnStream),
		WithProcessorLogger(m.logger),
	)
}
