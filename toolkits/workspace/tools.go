package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"

	"github.com/skosovsky/toolthread"
)

// Output truncation for run_bash.
const (
	maxOutputChars = 15000
	keepHeadChars  = 5000
	keepTailChars  = 10000
)

const (
	outputTruncated = "\n\n...LENGTHY OUTPUT TRUNCATED...\n\n"
	noOutput        = "Command completed successfully but produced no output"
	defaultDepth    = 2
)

// SubmitToolName ends the run when called.
const SubmitToolName = "SUBMIT_FINAL_SOLUTION_ONLY_IF_ALL_TESTS_PASS"

type pathArgs struct {
	Path string `json:"path" jsonschema:"The file path to add to the workspace."`
}

type createArgs struct {
	Path    string `json:"path" jsonschema:"The file path to create."`
	Content string `json:"content" jsonschema:"The content to write into the file."`
}

type commandArgs struct {
	Command string `json:"command" jsonschema:"The shell command to execute."`
}

type trialArgs struct {
	ID     string `json:"id" jsonschema:"Unique identifier for the implementation trial (e.g. 'A', 'B')."`
	Status string `json:"status" jsonschema:"Status of the trial (e.g. 'not tried', 'currently implementing', 'tried; not working')."`
	Note   string `json:"note,omitempty" jsonschema:"Optional note with code snippets or analysis."`
}

type submitArgs struct{}

var viewFolderSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path": map[string]any{"type": "string", "description": "The directory path to add to the workspace."},
		"depth": map[string]any{
			"type":        []any{"integer", "string"},
			"description": "The maximum directory depth to search for contents.",
			"default":     defaultDepth,
		},
	},
	"required": []any{"path"},
}

var editFileSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path": map[string]any{"type": "string", "description": "The file path to edit."},
		"replacements": map[string]any{
			"type":        []any{"array", "object", "string"},
			"description": "List of string replacements, each with old_string and new_string.",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"old_string": map[string]any{"type": "string"},
					"new_string": map[string]any{"type": "string"},
				},
			},
		},
	},
	"required": []any{"path", "replacements"},
}

// Provider returns the "repository" provider with the workspace tools. Failures of
// these tools are also recorded for the next Render.
func (w *Workspace) Provider() (toolthread.Provider, error) {
	var tools []toolthread.Tool
	add := func(t toolthread.Tool, err error) error {
		if err != nil {
			return err
		}
		tools = append(tools, t)
		return nil
	}

	steps := []func() error{
		func() error {
			return add(toolthread.NewDynamicTool("view_folder", "Add a directory to the workspace to view its contents.",
				viewFolderSchema, w.viewFolder,
				toolthread.WithXMLSchema("view_folder", `<view_folder path="/testbed" depth="2" />`,
					toolthread.AttributeParam("path"), toolthread.AttributeParam("depth")),
			))
		},
		func() error {
			return add(toolthread.NewTool("open_file", "Add a file to the workspace to view its content.",
				w.openFile,
				toolthread.WithXMLSchema("open_file", `<open_file path="/testbed/.../example.py" />`,
					toolthread.AttributeParam("path")),
			))
		},
		func() error {
			return add(toolthread.NewTool("create_file",
				"Create a new file with the specified content and add it to the workspace state. Do not create new test files.",
				w.createFile,
				toolthread.WithXMLSchema("create_file", "<create_file path=\"/testbed/.../new_file.py\">\nprint(\"Hello, World!\")\n</create_file>",
					toolthread.AttributeParam("path"), toolthread.ContentParam("content")),
				toolthread.WithTimeout(commandTimeout),
			))
		},
		func() error {
			return add(toolthread.NewDynamicTool("edit_file", "Edit an existing open file by replacing specified strings.",
				editFileSchema, w.editFile,
				toolthread.WithXMLSchema("edit_file", editExample,
					toolthread.AttributeParam("path"), toolthread.ElementParam("replacements", ".", "old_string", "new_string")),
				toolthread.WithTimeout(2*commandTimeout),
			))
		},
		func() error {
			return add(toolthread.NewTool("run_bash", "Run a shell command in the terminal and update the workspace state.",
				w.runBash,
				toolthread.WithXMLSchema("run_bash", `<run_bash command="python -m pytest /testbed/.../test_example.py -q --tb=short -rFE" />`,
					toolthread.AttributeParam("command")),
				toolthread.WithTimeout(commandTimeout),
				toolthread.WithDangerous(),
			))
		},
		func() error {
			return add(toolthread.NewTool("track_implementation", "Track implementation trials with IDs, statuses, and optional notes.",
				w.trackImplementation,
				toolthread.WithXMLSchema("track_implementation", "<track_implementation id=\"A\" status=\"not tried\">\n[Approach and analysis]\n</track_implementation>",
					toolthread.AttributeParam("id"), toolthread.AttributeParam("status"), toolthread.ContentParam("note")),
			))
		},
		func() error {
			return add(toolthread.NewTool(SubmitToolName,
				"Use this tool only if all test files are working including edge cases, and existing tests pass, and you are confident that the issue is resolved.",
				func(context.Context, submitArgs) (string, error) { return "Task terminated, Agent stopped!", nil },
				toolthread.WithXMLSchema(SubmitToolName, "<"+SubmitToolName+" />"),
			))
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return toolthread.NewProvider("repository", tools...), nil
}

const editExample = `<edit_file path="/testbed/.../example.py">
    <replacements>
        <replacement>
            <old_string>old text</old_string>
            <new_string>new text</new_string>
        </replacement>
    </replacements>
</edit_file>`

// fail records msg for the next render and returns it as a tool failure.
func (w *Workspace) fail(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	w.recordFailure(msg)
	return toolthread.Fail("%s", msg)
}

func (w *Workspace) viewFolder(_ context.Context, argsJSON []byte) (string, error) {
	var args struct {
		Path  string `json:"path"`
		Depth any    `json:"depth"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return "", w.fail("Error adding folder to workspace: %v", err)
	}
	depth := parseDepth(args.Depth)
	var added bool
	if err := w.state.Update(func(s *State) { added = s.OpenFolder(args.Path, depth) }); err != nil {
		return "", w.fail("Error adding folder %s to workspace: %v", args.Path, err)
	}
	if !added {
		return fmt.Sprintf("Folder %s is already open in the workspace.", args.Path), nil
	}
	return fmt.Sprintf("Folder %s added to workspace.", args.Path), nil
}

// parseDepth accepts a number or a numeric string; anything else means defaultDepth.
func parseDepth(v any) int {
	var d int
	switch x := v.(type) {
	case float64:
		d = int(x)
	case string:
		d, _ = strconv.Atoi(strings.TrimSpace(x))
	}
	if d <= 0 {
		return defaultDepth
	}
	return d
}

func (w *Workspace) openFile(_ context.Context, a pathArgs) (string, error) {
	var added bool
	if err := w.state.Update(func(s *State) { added = s.OpenFile(a.Path) }); err != nil {
		return "", w.fail("Error adding file %s to workspace: %v, please provide a valid file path. "+
			"You may use view_folder to explore the folder structure.", a.Path, err)
	}
	if !added {
		return fmt.Sprintf("File %s is already open in the workspace.", a.Path), nil
	}
	return fmt.Sprintf("File %s added to workspace.", a.Path), nil
}

func (w *Workspace) createFile(ctx context.Context, a createArgs) (string, error) {
	quoted := shellquote.Join(a.Path)
	res, err := w.runner.Run(ctx, `mkdir -p "$(dirname `+quoted+`)" && cat > `+quoted, []byte(a.Content))
	if err != nil {
		return "", w.fail("Error creating file %s: %v", a.Path, err)
	}
	if res.ExitCode != 0 {
		return "", w.fail("Failed to create file %s: %s", a.Path, strings.TrimSpace(res.Stderr))
	}
	if err := w.state.Update(func(s *State) { s.OpenFile(a.Path) }); err != nil {
		return "", w.fail("Error creating file %s: %v", a.Path, err)
	}
	return fmt.Sprintf("File %s created successfully.", a.Path), nil
}

func (w *Workspace) editFile(ctx context.Context, argsJSON []byte) (string, error) {
	var args struct {
		Path         string          `json:"path"`
		Replacements json.RawMessage `json:"replacements"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return "", w.fail("Error editing file: %v", err)
	}
	st, err := w.state.Snapshot()
	if err != nil {
		return "", w.fail("Error editing file %s: %v", args.Path, err)
	}
	if !slices.Contains(st.Files, args.Path) {
		return "", w.fail("File %s is not open. Please open the file before editing.", args.Path)
	}

	quoted := shellquote.Join(args.Path)
	read, err := w.runner.Run(ctx, "cat "+quoted, nil)
	if err != nil {
		return "", w.fail("Error editing file %s: %v", args.Path, err)
	}
	if read.ExitCode != 0 {
		return "", w.fail("Failed to read file %s: %s", args.Path, strings.TrimSpace(read.Stderr))
	}

	var raw any
	if err := json.Unmarshal(args.Replacements, &raw); err != nil {
		raw = args.Replacements
	}
	replacements := NormalizeReplacements(raw)
	if len(replacements) == 0 {
		return "", w.fail("No valid replacements provided.")
	}

	content := read.Stdout
	for _, r := range replacements {
		if !strings.Contains(content, r.OldString) {
			return "", w.fail("The string to replace '%s' was not found in the file. Please check your old_string: "+
				"Indentation really matters! When editing a file, make sure to insert appropriate indentation before each line!", r.OldString)
		}
		content = strings.ReplaceAll(content, r.OldString, r.NewString)
	}

	write, err := w.runner.Run(ctx, "cat > "+quoted, []byte(content))
	if err != nil {
		return "", w.fail("Error editing file %s: %v", args.Path, err)
	}
	if write.ExitCode != 0 {
		return "", w.fail("Failed to write to file %s: %s", args.Path, strings.TrimSpace(write.Stderr))
	}
	return fmt.Sprintf("File %s edited successfully.", args.Path), nil
}

func (w *Workspace) runBash(ctx context.Context, a commandArgs) (string, error) {
	res, err := w.runner.Run(ctx, a.Command, nil)
	if err != nil {
		return "", w.fail("Error executing command: %v", err)
	}
	out := truncateOutput(res.Stdout + res.Stderr)
	if err := w.recordCommand(a.Command, out, res.ExitCode == 0); err != nil {
		return "", w.fail("Error executing command: %v", err)
	}
	return "Command executed:\n" + out, nil
}

// truncateOutput keeps the head and tail of long command output. Cuts fall on rune
// boundaries.
func truncateOutput(out string) string {
	if out == "" {
		return noOutput
	}
	if len(out) <= maxOutputChars {
		return out
	}
	head := keepHeadChars
	for head > 0 && !utf8.RuneStart(out[head]) {
		head--
	}
	tail := len(out) - keepTailChars
	for tail < len(out) && !utf8.RuneStart(out[tail]) {
		tail++
	}
	return out[:head] + outputTruncated + out[tail:]
}

func (w *Workspace) trackImplementation(_ context.Context, a trialArgs) (string, error) {
	if err := w.state.Update(func(s *State) { s.TrackTrial(Trial(a)) }); err != nil {
		return "", w.fail("Error tracking implementation trial '%s': %v", a.ID, err)
	}
	return fmt.Sprintf("Implementation trial '%s' status updated to '%s'.", a.ID, a.Status), nil
}
