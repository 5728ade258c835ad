package history

import (
	"errors"
	"time"
)

type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
	StatusAborted     Status = "aborted"
)

// Terminal reports whether s ends a submission's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusInterrupted, StatusAborted:
		return true
	}
	return false
}

// Entry is one row of the submission log.
type Entry struct {
	ID            string     `json:"id"`
	Command       string     `json:"command"`
	CommandDigest string     `json:"command_digest"`
	Targets       []int      `json:"targets"`
	Blocking      bool       `json:"blocking"`
	Status        Status     `json:"status"`
	Error         *string    `json:"error,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

var ErrEntryNotFound = errors.New("submission not found")
