package worker

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Scratch names and removes the temporary files handed to the upscaler.
// Names are scoped by job id so lanes never collide in the shared directory.
type Scratch struct {
	dir    string
	logger *slog.Logger
}

// Artifact is the input/output file pair owned by one worker invocation
type Artifact struct {
	Input  string
	Output string
}

// NewScratch creates the scratch directory if needed
func NewScratch(dir string, logger *slog.Logger) (*Scratch, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "image-jobs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Scratch{dir: dir, logger: logger}, nil
}

// Dir returns the scratch directory
func (s *Scratch) Dir() string {
	return s.dir
}

// Paths derives the artifact paths for jobID and the uploaded file name.
// The output is always PNG.
func (s *Scratch) Paths(jobID, fileName string) Artifact {
	id := safeName(jobID)
	base := safeName(filepath.Base(fileName))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "image"
	}
	return Artifact{
		Input:  filepath.Join(s.dir, fmt.Sprintf("upscale-%s-in-%s", id, base)),
		Output: filepath.Join(s.dir, fmt.Sprintf("upscale-%s-out-%s.png", id, stem)),
	}
}

// Prefix is the file name prefix shared by every artifact of jobID
func (s *Scratch) Prefix(jobID string) string {
	return fmt.Sprintf("upscale-%s-", safeName(jobID))
}

// Cleanup removes both files. Failures are logged and never returned.
func (s *Scratch) Cleanup(a Artifact) {
	for _, path := range []string{a.Input, a.Output} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to remove scratch file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// safeName keeps names inside the scratch directory
func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}
