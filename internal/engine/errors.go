package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable indicates the audit engine could not be started
	ErrEngineUnavailable = errors.New("audit engine unavailable")
)

// EngineError represents a failure reported by the audit engine
type EngineError struct {
	ExitCode int
	Message  string
	Err      error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audit engine error (exit %d): %s: %v", e.ExitCode, e.Message, e.Err)
	}
	return fmt.Sprintf("audit engine error (exit %d): %s", e.ExitCode, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
