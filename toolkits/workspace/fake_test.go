package workspace

import (
	"context"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
)

// fakeRunner emulates the few shell commands the workspace issues against an
// in-memory file tree. Other commands are answered from commands.
type fakeRunner struct {
	mu       sync.Mutex
	files    map[string]string
	dirs     []string
	diff     string
	commands map[string]ExecResult
	calls    []string
	err      error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{files: map[string]string{}, commands: map[string]ExecResult{}}
}

func lastArg(cmd string) string {
	words, err := shellquote.Split(cmd)
	if err != nil || len(words) == 0 {
		return ""
	}
	return words[len(words)-1]
}

func (f *fakeRunner) Run(_ context.Context, cmd string, stdin []byte) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if f.err != nil {
		return ExecResult{}, f.err
	}
	if res, ok := f.commands[cmd]; ok {
		return res, nil
	}
	switch {
	case strings.HasPrefix(cmd, "ls -d "):
		var b strings.Builder
		for _, d := range f.dirs {
			b.WriteString(d + "/\n")
		}
		return ExecResult{Stdout: b.String()}, nil
	case strings.Contains(cmd, "cat > "):
		f.files[lastArg(cmd)] = string(stdin)
		return ExecResult{}, nil
	case strings.HasPrefix(cmd, "cat "):
		path := lastArg(cmd)
		content, ok := f.files[path]
		if !ok {
			return ExecResult{Stderr: "cat: " + path + ": No such file or directory\n", ExitCode: 1}, nil
		}
		return ExecResult{Stdout: content}, nil
	case strings.HasPrefix(cmd, "test -d "):
		words, _ := shellquote.Split(cmd)
		root := words[2]
		var b strings.Builder
		for p := range f.files {
			if strings.HasPrefix(p, root+"/") {
				b.WriteString(p + "\n")
			}
		}
		if b.Len() == 0 {
			return ExecResult{ExitCode: 1}, nil
		}
		return ExecResult{Stdout: b.String()}, nil
	case cmd == "git diff":
		return ExecResult{Stdout: f.diff}, nil
	}
	return ExecResult{}, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
