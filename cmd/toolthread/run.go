package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/skosovsky/toolthread"
	"github.com/skosovsky/toolthread/config"
	"github.com/skosovsky/toolthread/orchestrator"
	"github.com/skosovsky/toolthread/thread"
	"github.com/skosovsky/toolthread/toolkits/workspace"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		prompt   string
		maxTurns int
	)
	cmd := &cobra.Command{
		Use:   "run <thread-id>",
		Short: "Run model turns on a thread",
		Long: `Run model turns on a thread until the model submits its solution or
--max-turns is reached. When workspace.container is configured the repository
tools are registered and a fresh workspace snapshot accompanies every turn.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), args[0], prompt, maxTurns)
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "User message appended before the first turn")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 1, "Maximum number of model turns")
	return cmd
}

// session is one run: a manager with its tools and, optionally, a workspace.
type session struct {
	manager *orchestrator.Manager
	ws      *workspace.Workspace
	closers []func() error
}

func (s *session) close() {
	for _, c := range s.closers {
		_ = c()
	}
}

func (a *app) newSession(ctx context.Context) (*session, error) {
	client, err := a.newClient(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	var reg *toolthread.Registry
	reg = toolthread.NewRegistry(
		toolthread.WithDefaultTimeout(a.cfg.Run.ToolTimeout),
		toolthread.WithMaxConcurrency(a.cfg.Run.MaxConcurrency),
		toolthread.WithRecoverPanics(true),
		toolthread.WithRegistryLogger(a.logger),
		toolthread.WithOnBeforeExecute(func(ctx context.Context, call toolthread.ToolCall) {
			if t, ok := reg.GetTool(call.ToolName); ok {
				if m, ok := t.(toolthread.ToolMetadata); ok && m.IsDangerous() {
					a.logger.WarnContext(ctx, "running dangerous tool", "tool", call.ToolName, "call_id", call.ID, "args", string(call.Args))
				}
			}
		}),
		toolthread.WithOnAfterExecute(func(ctx context.Context, call toolthread.ToolCall, sum toolthread.ExecutionSummary, d time.Duration) {
			a.logger.Log(ctx, config.LevelTrace, "tool output",
				"tool", call.ToolName, "call_id", call.ID, "chunks", sum.ChunksDelivered, "bytes", sum.TotalBytes, "duration", d)
		}),
	)
	reg.Use(
		toolthread.WithTracing(otel.GetTracerProvider()),
		toolthread.WithLogging(a.logger),
	)
	s := &session{manager: orchestrator.NewManager(a.store, client,
		orchestrator.WithRegistry(reg),
		orchestrator.WithLogger(a.logger),
	)}

	wc := a.cfg.Workspace
	if wc.Container == "" {
		return s, nil
	}
	repoRunner, err := workspace.NewDockerRunner(wc.Container,
		workspace.WithCommandTimeout(wc.CommandTimeout),
		workspace.WithRunnerLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, repoRunner.Close)
	bashRunner, err := workspace.NewDockerRunner(wc.Container,
		workspace.WithSetup(workspace.GitSetup),
		workspace.WithCommandTimeout(wc.CommandTimeout),
		workspace.WithRunnerLogger(a.logger),
	)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, bashRunner.Close)

	s.ws = workspace.New(repoRunner, workspace.NewStateStore(wc.StateFile),
		workspace.WithRoot(wc.Root),
		workspace.WithLogger(a.logger),
	)
	repo, err := s.ws.Provider()
	if err != nil {
		s.close()
		return nil, err
	}
	bash, err := workspace.NewBashProvider(bashRunner)
	if err != nil {
		s.close()
		return nil, err
	}
	for _, p := range []toolthread.Provider{repo, bash} {
		if err := s.manager.AddTool(p); err != nil {
			s.close()
			return nil, err
		}
	}
	if err := s.ws.Init(ctx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// runConfig maps the loaded configuration onto one turn.
func (a *app) runConfig(system thread.Message) orchestrator.RunConfig {
	rc := orchestrator.NewRunConfig(a.cfg.Model.Name, system)
	rc.Temperature = a.cfg.Model.Temperature
	rc.MaxTokens = a.cfg.Model.MaxTokens
	if a.cfg.Model.ToolChoice != "" {
		rc.ToolChoice = a.cfg.Model.ToolChoice
	}
	rc.NativeToolCalling = a.cfg.Run.Convention == config.ConventionNative
	rc.XMLToolCalling = a.cfg.Run.Convention == config.ConventionXML
	rc.Stream = a.cfg.Run.Stream
	rc.ExecuteToolsOnStream = a.cfg.Run.ExecuteOnStream
	rc.ParallelToolExecution = a.cfg.Run.Parallel
	return rc
}

func (a *app) systemMessage(reg *toolthread.Registry) (thread.Message, error) {
	var text string
	if path := a.cfg.Run.SystemPromptFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return thread.Message{}, fmt.Errorf("read system prompt: %w", err)
		}
		text = string(data)
	}
	if a.cfg.Run.Convention == config.ConventionXML {
		if examples := reg.XMLExamples(); examples != "" {
			if text != "" {
				text += "\n\n"
			}
			text += examples
		}
	}
	if text == "" {
		return thread.Message{}, nil
	}
	return thread.SystemMessage(text), nil
}

func (a *app) run(ctx context.Context, out io.Writer, threadID, prompt string, maxTurns int) error {
	s, err := a.newSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	if prompt != "" {
		if err := s.manager.AddMessage(ctx, threadID, thread.UserMessage(prompt)); err != nil {
			return err
		}
	}
	system, err := a.systemMessage(s.manager.Registry())
	if err != nil {
		return err
	}

	for turn := 1; turn <= maxTurns; turn++ {
		rc := a.runConfig(system)
		if s.ws != nil {
			snapshot, err := s.ws.Render(ctx)
			if err != nil {
				return err
			}
			tmp := thread.UserMessage(snapshot)
			rc.TemporaryMessage = &tmp
		}
		a.logger.Info("turn started", "thread_id", threadID, "turn", turn)
		submitted, err := a.turn(ctx, out, s.manager, threadID, rc)
		if err != nil {
			return err
		}
		if submitted {
			a.logger.Info("solution submitted", "thread_id", threadID, "turn", turn)
			return nil
		}
	}
	return nil
}

// turn runs one model turn, printing events as they arrive, and reports whether
// the submit tool was called.
func (a *app) turn(ctx context.Context, out io.Writer, m *orchestrator.Manager, threadID string, rc orchestrator.RunConfig) (bool, error) {
	res, err := m.RunThread(ctx, threadID, rc)
	if err != nil {
		return false, err
	}
	if res.Status == orchestrator.StatusError {
		return false, fmt.Errorf("turn failed: %s", res.Message)
	}

	submitted := false
	show := func(ev orchestrator.Event) {
		switch ev.Kind {
		case orchestrator.EventContent:
			fmt.Fprint(out, ev.Content)
		case orchestrator.EventToolCall:
			fmt.Fprintf(out, "\n[tool call] %s %s\n", ev.Call.Function.Name, ev.Call.Function.Arguments)
			if ev.Call.Function.Name == workspace.SubmitToolName {
				submitted = true
			}
		case orchestrator.EventToolResult:
			fmt.Fprintf(out, "[tool result] %s success=%t\n", ev.Result.ToolName, ev.Result.Success)
		}
	}

	if res.Stream == nil {
		for _, ev := range res.Events {
			show(ev)
		}
		fmt.Fprintln(out)
		return submitted, nil
	}
	for ev, err := range res.Stream {
		if err != nil {
			return submitted, fmt.Errorf("turn failed: %w", err)
		}
		show(ev)
	}
	fmt.Fprintln(out)
	return submitted, nil
}
