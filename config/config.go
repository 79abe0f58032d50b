// Package config loads toolthread settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Tool calling conventions.
const (
	ConventionNative = "native"
	ConventionXML    = "xml"
	ConventionNone   = "none"
)

// Environment variables that override file values.
const (
	EnvAPIKey       = "TOOLTHREAD_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvBaseURL      = "TOOLTHREAD_BASE_URL"
)

// Config is the top-level configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Model     ModelConfig     `yaml:"model"`
	Run       RunConfig       `yaml:"run"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	LogLevel  string          `yaml:"log_level"`
}

// StoreConfig selects where threads are kept.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // file, sqlite
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// ModelConfig describes the model endpoint and sampling settings.
type ModelConfig struct {
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	ToolChoice  string  `yaml:"tool_choice"` // auto, none, required
}

// RunConfig controls how a turn is processed.
type RunConfig struct {
	Convention       string        `yaml:"convention"` // native, xml, none
	Stream           bool          `yaml:"stream"`
	ExecuteOnStream  bool          `yaml:"execute_on_stream"`
	Parallel         bool          `yaml:"parallel"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
	SystemPromptFile string        `yaml:"system_prompt_file"`
}

// WorkspaceConfig enables the container tools when Container is set.
type WorkspaceConfig struct {
	Container      string        `yaml:"container"`
	Root           string        `yaml:"root"`
	StateFile      string        `yaml:"state_file"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:    BackendFile,
			Dir:        "threads",
			SQLitePath: "threads.db",
		},
		Model: ModelConfig{
			Name:        "gpt-4o",
			Temperature: 0,
			MaxTokens:   4096,
			ToolChoice:  "auto",
		},
		Run: RunConfig{
			Convention:     ConventionXML,
			Stream:         true,
			ToolTimeout:    150 * time.Second,
			MaxConcurrency: 4,
		},
		Workspace: WorkspaceConfig{
			Root:           "/testbed",
			StateFile:      "workspace.yaml",
			CommandTimeout: 120 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads path over Default, expands ${VAR} references, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if key := getenv(EnvAPIKey); key != "" {
		c.Model.APIKey = key
	} else if key := getenv(EnvOpenAIAPIKey); key != "" && c.Model.APIKey == "" {
		c.Model.APIKey = key
	}
	if url := getenv(EnvBaseURL); url != "" {
		c.Model.BaseURL = url
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file backend"))
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of file, sqlite", c.Store.Backend))
	}
	switch c.Run.Convention {
	case ConventionNative, ConventionXML, ConventionNone:
	default:
		errs = append(errs, fmt.Errorf("run.convention %q is not one of native, xml, none", c.Run.Convention))
	}
	switch c.Model.ToolChoice {
	case "", "auto", "none", "required":
	default:
		errs = append(errs, fmt.Errorf("model.tool_choice %q is not one of auto, none, required", c.Model.ToolChoice))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.MaxTokens < 0 {
		errs = append(errs, errors.New("model.max_tokens must not be negative"))
	}
	if c.Run.MaxConcurrency < 0 {
		errs = append(errs, errors.New("run.max_concurrency must not be negative"))
	}
	if c.Run.ExecuteOnStream && !c.Run.Stream {
		errs = append(errs, errors.New("run.execute_on_stream requires run.stream"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
