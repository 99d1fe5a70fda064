package jobs

import "errors"

var (
	// ErrValidation is returned for malformed or out-of-range submissions. No job is created.
	ErrValidation = errors.New("validation failed")

	// ErrQueueUnavailable is returned when the job store cannot be reached or rejects a call
	ErrQueueUnavailable = errors.New("job queue unavailable")

	// ErrJobNotFound is returned when a job id is absent from the job store
	ErrJobNotFound = errors.New("job not found")

	// ErrToolNotInstalled is returned when the upscaler binary cannot be located
	ErrToolNotInstalled = errors.New("upscaler binary not found")

	// ErrToolExecutionFailed is returned when the upscaler ran but did not produce an image
	ErrToolExecutionFailed = errors.New("upscaler execution failed")

	// ErrIO is returned when a scratch file cannot be written or read
	ErrIO = errors.New("scratch file i/o failed")
)
