package queue

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger routes asynq's internal logging into slog
type Logger struct {
	logger *slog.Logger
}

// NewLogger wraps logger for asynq
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger.With(slog.String("component", "asynq"))}
}

func (l *Logger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }

func (l *Logger) Info(args ...any) { l.logger.Info(fmt.Sprint(args...)) }

func (l *Logger) Warn(args ...any) { l.logger.Warn(fmt.Sprint(args...)) }

func (l *Logger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }

// Fatal logs and exits, as asynq expects
func (l *Logger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
