package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/skosovsky/toolthread/config"
	"github.com/skosovsky/toolthread/llm"
	"github.com/skosovsky/toolthread/thread"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app holds what the subcommands share once the config is loaded.
type app struct {
	cfgPath  string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
	store  thread.Store
	closer func() error

	// newClient builds the model transport; replaced in tests.
	newClient func(cfg *config.Config, logger *slog.Logger) (llm.Client, error)
}

func newApp() *app {
	return &app{newClient: openAIClient}
}

func openAIClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	return llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, llm.WithLogger(logger))
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "toolthread",
		Short: "Run tool-using conversation threads",
		Long: `toolthread keeps conversation threads in a durable store and runs model turns
over them. Tool calls in model answers, native or as XML tags, are executed and
their results appended to the thread.

Quick Start:
  toolthread create                          # create a thread, prints its id
  toolthread add <thread-id> "Fix the bug"   # append a user message
  toolthread run <thread-id> --max-turns 20  # let the model work`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level (trace, debug, info, warn, error)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newCreateCmd(a),
		newAddCmd(a),
		newListCmd(a),
		newHistoryCmd(a),
		newResetCmd(a),
		newRunCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logger, err := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger

	switch cfg.Store.Backend {
	case config.BackendSQLite:
		s, err := thread.NewSQLiteStore(cfg.Store.SQLitePath, thread.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.store, a.closer = s, s.Close
	default:
		s, err := thread.NewFileStore(cfg.Store.Dir, thread.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.store = s
	}
	logger.Debug("store opened", "backend", cfg.Store.Backend)
	return nil
}

func (a *app) close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer()
	a.closer = nil
	return err
}
