package service

import "fmt"

// Status of a job. Completed and Failed are terminal.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition is the whole lifecycle: pending jobs start, running jobs
// end, nothing leaves a terminal state.
func (s Status) canTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
