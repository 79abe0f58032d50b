// Package workspace provides capability providers that operate on a repository
// checked out inside a container: plain bash execution and a set of workspace tools
// (folders, files, edits, terminal, implementation trials) whose state is rendered
// into a <workspace> snapshot for the model.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DefaultTimeout bounds a single container command.
const DefaultTimeout = 120 * time.Second

// DefaultSetup activates the test environment and enters the repository root
// before every command.
const DefaultSetup = ". /opt/miniconda3/etc/profile.d/conda.sh && conda activate testbed && cd /testbed && "

// GitSetup extends DefaultSetup so git never pages and trusts the mounted repository.
const GitSetup = DefaultSetup +
	"git config --global --add safe.directory /testbed && " +
	"git config --global core.pager cat && "

// ExecResult is the outcome of one command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Runner executes a bash command, optionally feeding stdin. A non-zero exit code is
// not an error; errors are reserved for failures to run the command at all.
type Runner interface {
	Run(ctx context.Context, command string, stdin []byte) (ExecResult, error)
}

// execAPI is the part of the Docker client used by DockerRunner.
type execAPI interface {
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// RunnerOption configures a DockerRunner.
type RunnerOption func(*DockerRunner)

// WithSetup replaces the shell prefix run before each command. It must end with "&& "
// or be empty.
func WithSetup(setup string) RunnerOption {
	return func(r *DockerRunner) {
		r.setup = setup
	}
}

// WithCommandTimeout sets the per-command timeout (default DefaultTimeout).
func WithCommandTimeout(d time.Duration) RunnerOption {
	return func(r *DockerRunner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRunnerLogger sets the logger; nil means slog.Default().
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *DockerRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// DockerRunner runs commands with "bash -c" inside a running container through the
// Docker exec API.
type DockerRunner struct {
	api       execAPI
	container string
	setup     string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDockerRunner connects to the Docker daemon configured by the environment
// (DOCKER_HOST and friends) and targets containerName.
func NewDockerRunner(containerName string, opts ...RunnerOption) (*DockerRunner, error) {
	if containerName == "" {
		return nil, errors.New("workspace: container name is required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("workspace: docker client: %w", err)
	}
	return newDockerRunner(cli, containerName, opts...), nil
}

func newDockerRunner(api execAPI, containerName string, opts ...RunnerOption) *DockerRunner {
	r := &DockerRunner{
		api:       api,
		container: containerName,
		setup:     DefaultSetup,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.api.Close()
}

// Run executes command in the container. When the timeout passes the result has
// TimedOut set, exit code 1 and a timeout message on stderr.
func (r *DockerRunner) Run(ctx context.Context, command string, stdin []byte) (ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	full := r.setup + "set -o pipefail && " + command
	created, err := r.api.ContainerExecCreate(ctx, r.container, container.ExecOptions{
		Cmd:          []string{"/bin/bash", "-c", full},
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return r.interrupted(ctx, command, fmt.Errorf("exec create: %w", err))
	}
	resp, err := r.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return r.interrupted(ctx, command, fmt.Errorf("exec attach: %w", err))
	}
	defer resp.Close()

	if stdin != nil {
		go func() {
			if _, err := resp.Conn.Write(stdin); err != nil {
				r.logger.Debug("stdin write failed", "container", r.container, "error", err)
			}
			_ = resp.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader)
		done <- err
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		resp.Close()
		<-done
		return r.interrupted(ctx, command, ctx.Err())
	}
	if err != nil {
		return ExecResult{}, fmt.Errorf("workspace: read output: %w", err)
	}

	inspect, err := r.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return r.interrupted(ctx, command, fmt.Errorf("exec inspect: %w", err))
	}
	r.logger.Debug("container command finished", "container", r.container, "exit_code", inspect.ExitCode)
	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// interrupted turns a deadline into a timed-out result and anything else into an error.
func (r *DockerRunner) interrupted(ctx context.Context, command string, err error) (ExecResult, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("container command timed out", "container", r.container, "command", command, "timeout", r.timeout)
		return ExecResult{
			Stderr:   "Command execution timed out after " + humanDuration(r.timeout),
			ExitCode: 1,
			TimedOut: true,
		}, nil
	}
	return ExecResult{}, fmt.Errorf("workspace: %w", err)
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		if m := int(d / time.Minute); m > 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	}
	return d.String()
}
