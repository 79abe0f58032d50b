package workspace

import (
	"context"
	"strings"
	"time"

	"github.com/skosovsky/toolthread"
)

// commandTimeout leaves the runner room to report its own timeout first.
const commandTimeout = DefaultTimeout + 15*time.Second

const bashDescription = "Execute a bash shell command in the repository environment with explanatory output.\n" +
	"**Notes:**\n" +
	"- The working directory is `/testbed`.\n" +
	"- The environment is set up with `conda activate testbed`.\n" +
	"- When running pytest, use `grep` to filter the output and only show failed testcases.\n"

const bashExample = `<!-- Execute a bash command; the command goes between the tags -->
<bash-command>ls -la</bash-command>
<bash-command>python -m pytest test_file.py | grep -A 5 "FAILED"</bash-command>
<bash-command>git status && git diff</bash-command>`

type bashArgs struct {
	Command string `json:"command" jsonschema:"The bash command to execute."`
}

// NewBashProvider returns the "bash" provider with a single bash_command tool. A
// non-zero exit status is reported as a failed result carrying stdout and stderr.
func NewBashProvider(runner Runner) (toolthread.Provider, error) {
	tool, err := toolthread.NewTool("bash_command", bashDescription,
		func(ctx context.Context, a bashArgs) (string, error) {
			return bashCommand(ctx, runner, a.Command)
		},
		toolthread.WithXMLSchema("bash-command", bashExample, toolthread.ContentParam("command")),
		toolthread.WithTimeout(commandTimeout),
		toolthread.WithDangerous(),
	)
	if err != nil {
		return nil, err
	}
	return toolthread.NewProvider("bash", tool), nil
}

func bashCommand(ctx context.Context, runner Runner, command string) (string, error) {
	res, err := runner.Run(ctx, command, nil)
	if err != nil {
		return "", toolthread.Fail("Command executed: `%s`\nError executing bash command: %v", command, err)
	}
	var b strings.Builder
	b.WriteString("\nCommand executed: `" + command + "`\n")
	stdout := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 {
		b.WriteString("<output>" + stdout + "\n" + strings.TrimSpace(res.Stderr) + "</output>")
		return "", toolthread.Fail("%s", b.String())
	}
	if stdout == "" {
		stdout = "No output."
	}
	b.WriteString("<output>" + stdout + "</output>")
	return b.String(), nil
}
