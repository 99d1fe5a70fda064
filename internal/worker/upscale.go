package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/image-jobs/internal/jobs"
)

// Progress milestones reported by an upscale run
const (
	ProgressStarted     = 5
	ProgressInputStored = 10
	ProgressToolDone    = 90
	ProgressDone        = 100
)

const outputMimeType = "image/png"

// Upscaler runs one upscale task through the external tool
type Upscaler struct {
	tool      Tool
	scratch   *Scratch
	modelsDir string
	logger    *slog.Logger
}

// NewUpscaler creates an Upscaler
func NewUpscaler(tool Tool, scratch *Scratch, modelsDir string, logger *slog.Logger) *Upscaler {
	return &Upscaler{
		tool:      tool,
		scratch:   scratch,
		modelsDir: modelsDir,
		logger:    logger,
	}
}

// Run executes task and stores the encoded image as the job result.
// Scratch files are removed on every path out of Run.
func (u *Upscaler) Run(ctx context.Context, exec jobs.Execution, task jobs.UpscaleTask) error {
	jobID := exec.JobID()
	paths := u.scratch.Paths(jobID, task.FileName)
	defer u.scratch.Cleanup(paths)

	u.logger.Info("Upscaling image",
		slog.String("job_id", jobID),
		slog.String("file_name", task.FileName),
		slog.Int("factor", task.UpscaleFactor),
		slog.String("model", task.Model),
	)

	if err := exec.UpdateProgress(ctx, ProgressStarted); err != nil {
		return err
	}

	if err := os.WriteFile(paths.Input, task.Image, 0o600); err != nil {
		return fmt.Errorf("%w: write input: %v", jobs.ErrIO, err)
	}
	if err := exec.UpdateProgress(ctx, ProgressInputStored); err != nil {
		return err
	}

	err := u.tool.Run(ctx, ToolArgs{
		Input:     paths.Input,
		Output:    paths.Output,
		Factor:    task.UpscaleFactor,
		ModelsDir: u.modelsDir,
		Model:     task.Model,
	})
	if err != nil {
		return err
	}
	if err := exec.UpdateProgress(ctx, ProgressToolDone); err != nil {
		return err
	}

	out, err := os.ReadFile(paths.Output)
	if err != nil {
		return fmt.Errorf("%w: read output: %v", jobs.ErrIO, err)
	}

	result, err := json.Marshal(jobs.UpscaleResult{
		Success:  true,
		FileName: task.FileName,
		MimeType: outputMimeType,
		Factor:   task.UpscaleFactor,
		Model:    task.Model,
		Base64:   fmt.Sprintf("data:%s;base64,%s", outputMimeType, base64.StdEncoding.EncodeToString(out)),
	})
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := exec.UpdateProgress(ctx, ProgressDone); err != nil {
		return err
	}
	if err := exec.SetResult(ctx, result); err != nil {
		return err
	}

	u.logger.Info("Finished upscaling",
		slog.String("job_id", jobID),
		slog.String("file_name", task.FileName),
		slog.Int("output_size", len(out)),
	)

	return nil
}
