package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/kballard/go-shellquote"
)

// DefaultRoot is the repository checkout inside the container.
const DefaultRoot = "/testbed"

// Limits applied when rendering open files.
const (
	maxFileChars     = 100000
	maxTestFileChars = 30000
)

const fileTruncated = "\n... File content truncated due to length ... \n"

// DefaultExcludedDirs are top-level folders never opened automatically by Init.
var DefaultExcludedDirs = []string{
	"tests", "doc", "docs", "examples", "utils", "tools", "egg-info", "build", "dist",
	"__pycache__", ".git", ".github", "licenses", "scripts", "script", "extras", "properties",
	"asv", "ci", "extern", "lib", "galleries", "requirements", "tmp", ".devcontainer", "ext",
	".binder", "design_notes", "bench", "changelog", ".circleci", ".spin", "benchmark", "bin",
	"data", "release",
}

// listingExcludes are file suffixes hidden from folder listings.
var listingExcludes = []string{"*.rst", "*.pyc"}

// Option configures a Workspace.
type Option func(*Workspace)

// WithRoot sets the repository root (default DefaultRoot).
func WithRoot(root string) Option {
	return func(w *Workspace) {
		if root != "" {
			w.root = strings.TrimSuffix(root, "/")
		}
	}
}

// WithExcludedDirs replaces DefaultExcludedDirs.
func WithExcludedDirs(dirs ...string) Option {
	return func(w *Workspace) {
		w.excluded = dirs
	}
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workspace) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Workspace tracks what the model has open in a repository and renders it.
type Workspace struct {
	runner   Runner
	state    *StateStore
	root     string
	excluded []string
	logger   *slog.Logger
}

// New returns a workspace that runs commands with runner and keeps its state in state.
func New(runner Runner, state *StateStore, opts ...Option) *Workspace {
	w := &Workspace{
		runner:   runner,
		state:    state,
		root:     DefaultRoot,
		excluded: DefaultExcludedDirs,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns a copy of the current workspace state.
func (w *Workspace) State() (State, error) {
	return w.state.Snapshot()
}

// Init opens the root at depth 1, the tests folder at depth 2 when present, and
// the main source folder at depth 2 when exactly one candidate remains after
// exclusions. It does nothing on an already initialized workspace.
func (w *Workspace) Init(ctx context.Context) error {
	st, err := w.state.Snapshot()
	if err != nil {
		return err
	}
	if st.Initialized {
		return nil
	}
	res, err := w.runner.Run(ctx, "ls -d "+shellquote.Join(w.root)+"/*/", nil)
	if err != nil {
		return fmt.Errorf("workspace: list root: %w", err)
	}

	var dirs, candidates []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		dir := strings.TrimSuffix(strings.TrimSpace(line), "/")
		if dir == "" {
			continue
		}
		dirs = append(dirs, dir)
		if !w.isExcluded(path.Base(dir)) {
			candidates = append(candidates, dir)
		}
	}

	return w.state.Update(func(s *State) {
		s.Initialized = true
		s.OpenFolder(w.root, 1)
		if tests := w.root + "/tests"; slices.Contains(dirs, tests) {
			s.OpenFolder(tests, 2)
		}
		if len(candidates) == 1 {
			s.OpenFolder(candidates[0], 2)
		} else {
			s.Failures = append(s.Failures, "Error finding main source code folder: "+strings.TrimSpace(res.Stderr))
		}
		w.logger.Info("workspace initialized", "root", w.root, "folders", len(s.Folders))
	})
}

func (w *Workspace) isExcluded(name string) bool {
	for _, ex := range w.excluded {
		if name == ex || strings.HasSuffix(name, "."+ex) {
			return true
		}
	}
	return false
}

// Render produces the <workspace> snapshot: folder listings, tracked trials, open
// files (most recent last), the terminal session with pending failures, and the
// current git diff. Rendering consumes the terminal session and the failures.
func (w *Workspace) Render(ctx context.Context) (string, error) {
	st, err := w.state.Snapshot()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<workspace>\n")
	for _, f := range st.Folders {
		listing, err := w.listFolder(ctx, f.Path, f.Depth)
		if err != nil {
			w.logger.Debug("folder listing skipped", "path", f.Path, "error", err)
			continue
		}
		b.WriteString(listing + "\n")
	}

	if len(st.Trials) > 0 {
		b.WriteString("<implementation_trials>\n")
		for _, t := range st.Trials {
			fmt.Fprintf(&b, "<implementation_trial id=%q status=%q>\n%s\n</implementation_trial>\n", t.ID, t.Status, t.Note)
		}
		b.WriteString("</implementation_trials>\n")
	}

	for _, file := range slices.Backward(st.Files) {
		res, err := w.runner.Run(ctx, "cat "+shellquote.Join(file), nil)
		switch {
		case err != nil:
			fmt.Fprintf(&b, "<!-- Error reading file %s: %v -->\n", file, err)
		case res.ExitCode != 0:
			fmt.Fprintf(&b, "<!-- Error reading file %s: %s -->\n", file, strings.TrimSpace(res.Stderr))
		default:
			fmt.Fprintf(&b, "<file path=%q>\n%s\n</file>\n", file, w.truncateFile(file, res.Stdout))
		}
	}

	diff, err := w.runner.Run(ctx, "git diff", nil)
	if err != nil {
		return "", fmt.Errorf("workspace: git diff: %w", err)
	}

	b.WriteString("<last_try>\n<last_terminal_session>\n")
	for _, e := range st.Terminal {
		fmt.Fprintf(&b, "<bash_command_executed command=%q>\n%s\n</bash_command_executed>\n", e.Command, e.Output)
	}
	if len(st.Failures) > 0 {
		b.WriteString("<latest_failures>\n")
		for _, f := range st.Failures {
			b.WriteString("<failure>" + f + "</failure>\n")
		}
		b.WriteString("</latest_failures>\n")
	}
	b.WriteString("</last_terminal_session>\n")
	b.WriteString("<git_diff>" + diff.Stdout + "</git_diff>\n")
	b.WriteString("</last_try>\n</workspace>\n")

	rendered, failures := len(st.Terminal), len(st.Failures)
	err = w.state.Update(func(s *State) {
		s.Terminal = s.Terminal[min(rendered, len(s.Terminal)):]
		s.Failures = s.Failures[min(failures, len(s.Failures)):]
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// truncateFile caps file content; paths mentioning "test" below the root get a
// smaller budget.
func (w *Workspace) truncateFile(file, content string) string {
	limit := maxFileChars
	if strings.Contains(strings.TrimPrefix(file, w.root), "test") {
		limit = maxTestFileChars
	}
	if len(content) <= limit {
		return content
	}
	return content[:limit] + fileTruncated
}

// listFolder lists path to depth levels, skipping hidden entries and listingExcludes.
func (w *Workspace) listFolder(ctx context.Context, dir string, depth int) (string, error) {
	if depth < 1 {
		depth = 1
	}
	quoted := shellquote.Join(dir)
	cmd := fmt.Sprintf("test -d %s && find %s -mindepth 1 -maxdepth %d -not -path '*/.*'", quoted, quoted, depth)
	for _, pattern := range listingExcludes {
		cmd += " -not -name " + shellquote.Join(pattern)
	}
	cmd += " | sort"
	res, err := w.runner.Run(ctx, cmd, nil)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stderr) != "" {
		return "", fmt.Errorf("fetch folder contents: %s", strings.TrimSpace(res.Stderr))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<directory path=%q>\n", dir)
	if out := strings.TrimSpace(res.Stdout); out != "" {
		b.WriteString(out + "\n")
	}
	b.WriteString("</directory>")
	return b.String(), nil
}

// recordFailure appends msg to the failures shown on the next render.
func (w *Workspace) recordFailure(msg string) {
	if err := w.state.Update(func(s *State) { s.Failures = append(s.Failures, msg) }); err != nil {
		w.logger.Warn("failure not recorded", "error", err)
	}
}

// recordCommand appends a terminal entry shown on the next render.
func (w *Workspace) recordCommand(command, output string, success bool) error {
	return w.state.Update(func(s *State) {
		s.Terminal = append(s.Terminal, TerminalEntry{Command: command, Output: output, Success: success})
	})
}
