package service

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotRunning = errors.New("job is not running")
	ErrJobNotPending = errors.New("job is not pending")
	ErrCancelled     = errors.New("cancelled by user")
)

// NotRunningError is returned when cancelling a job which is not running.
type NotRunningError struct {
	Status Status
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("Job is not running (current status: %s)", e.Status)
}

func (e *NotRunningError) Is(target error) bool {
	return target == ErrJobNotRunning
}
