package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/image-jobs/internal/jobs"
)

// waitDelay bounds how long a killed tool may hold its output pipes open
const waitDelay = 2 * time.Second

// ToolArgs are the inputs of one upscaler invocation
type ToolArgs struct {
	Input     string
	Output    string
	Factor    int
	ModelsDir string
	Model     string
}

// Tool runs the external upscaler
type Tool interface {
	Run(ctx context.Context, args ToolArgs) error
}

// ToolFunc adapts a function to Tool
type ToolFunc func(ctx context.Context, args ToolArgs) error

// Run implements Tool
func (f ToolFunc) Run(ctx context.Context, args ToolArgs) error { return f(ctx, args) }

// ExecTool runs the upscaler binary as a subprocess
type ExecTool struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecTool creates an ExecTool. A zero timeout leaves the run unbounded.
func NewExecTool(binary string, timeout time.Duration, logger *slog.Logger) *ExecTool {
	return &ExecTool{
		binary:  binary,
		timeout: timeout,
		logger:  logger,
	}
}

// Args builds the command line. -g -1 forces CPU execution.
func (a ToolArgs) Args() []string {
	return []string{
		"-i", a.Input,
		"-o", a.Output,
		"-s", strconv.Itoa(a.Factor),
		"-g", "-1",
		"-m", a.ModelsDir,
		"-n", a.Model,
	}
}

// Run implements Tool
func (t *ExecTool) Run(ctx context.Context, args ToolArgs) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.binary, args.Args()...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = waitDelay

	start := time.Now()
	t.logger.Info("Running upscaler",
		slog.String("binary", t.binary),
		slog.String("args", strings.Join(args.Args(), " ")),
	)

	err := cmd.Run()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %q is not installed or not on PATH; install the upscaler or set worker.upscaler.binary", jobs.ErrToolNotInstalled, t.binary)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: timed out after %s: %v", jobs.ErrToolExecutionFailed, time.Since(start).Round(time.Millisecond), ctx.Err())
		}
		return fmt.Errorf("%w: %v: %s", jobs.ErrToolExecutionFailed, err, strings.TrimSpace(output.String()))
	}

	t.logger.Info("Upscaler finished",
		slog.String("output", args.Output),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}
