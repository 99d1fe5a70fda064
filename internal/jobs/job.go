package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the lifecycle state of a job as seen by this service
type State string

// Job states. Transitions only go waiting → active → completed|failed.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether no further transition can happen
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is a raw job record read from the job store
type Job struct {
	ID       string
	Name     string
	Payload  []byte
	State    State
	Progress int
	Result   json.RawMessage
	Error    string
}

// StatusView is the read-only projection returned to status and stream callers.
// It is computed fresh on every query.
type StatusView struct {
	ID                     string          `json:"id"`
	State                  State           `json:"state"`
	Progress               int             `json:"progress"`
	Position               *int            `json:"position"`
	TotalWaiting           int             `json:"totalWaiting"`
	EstimatedTimeRemaining int             `json:"estimatedTimeRemaining"`
	Result                 json.RawMessage `json:"result"`
	Error                  string          `json:"error,omitempty"`
}

// Handle is returned to the submitter once a job is enqueued
type Handle struct {
	JobID string `json:"jobId"`
}

// Kind discriminates the task variants carried by the queue
type Kind string

const (
	// KindUpscale is the resolution upscaling task
	KindUpscale Kind = "upscale"
)

// Upscale limits and defaults
const (
	MinUpscaleFactor     = 2
	MaxUpscaleFactor     = 4
	DefaultUpscaleFactor = 2
	DefaultUpscaleModel  = "remacri"
)

// Task is a decoded queue payload. Exactly one concrete variant exists per Kind,
// plus UnknownTask for names this build does not handle.
type Task interface {
	Kind() Kind
}

// UpscaleTask is the payload of an upscale job
type UpscaleTask struct {
	FileName      string `json:"fileName"`
	UpscaleFactor int    `json:"upscaleFactor"`
	Model         string `json:"model"`
	MimeType      string `json:"mimeType"`
	Image         []byte `json:"image"`
}

// Kind implements Task
func (UpscaleTask) Kind() Kind { return KindUpscale }

// Validate checks the payload is queueable
func (t UpscaleTask) Validate() error {
	if strings.TrimSpace(t.FileName) == "" {
		return fmt.Errorf("%w: file name is required", ErrValidation)
	}
	if len(t.Image) == 0 {
		return fmt.Errorf("%w: file is required", ErrValidation)
	}
	if t.UpscaleFactor < MinUpscaleFactor || t.UpscaleFactor > MaxUpscaleFactor {
		return fmt.Errorf("%w: factor must be between %d and %d, got %d",
			ErrValidation, MinUpscaleFactor, MaxUpscaleFactor, t.UpscaleFactor)
	}
	if strings.TrimSpace(t.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrValidation)
	}
	return nil
}

// UnknownTask carries a queue entry whose name has no handler
type UnknownTask struct {
	Name string
}

// Kind implements Task
func (t UnknownTask) Kind() Kind { return Kind(t.Name) }

// UpscaleResult is stored as the job result of a successful upscale
type UpscaleResult struct {
	Success  bool   `json:"success"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Factor   int    `json:"factor"`
	Model    string `json:"model"`
	Base64   string `json:"base64"`
}

// DecodeTask turns a queue name and payload into a typed Task
func DecodeTask(name string, payload []byte) (Task, error) {
	switch Kind(name) {
	case KindUpscale:
		var t UpscaleTask
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("%w: decode upscale payload: %v", ErrValidation, err)
		}
		return t, nil
	default:
		return UnknownTask{Name: name}, nil
	}
}

// EncodeTask serialises a task for the queue
func EncodeTask(t Task) (string, []byte, error) {
	switch v := t.(type) {
	case UpscaleTask:
		data, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode upscale payload: %w", err)
		}
		return string(KindUpscale), data, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported task kind %q", ErrValidation, t.Kind())
	}
}
