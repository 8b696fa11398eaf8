package election

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrPrerequisiteMissing = errors.New("prerequisite missing")
	ErrVotingClosed        = errors.New("voting closed")
	ErrAlreadyVoted        = errors.New("already voted")
	ErrDuplicateSelection  = errors.New("duplicate selection")
	ErrNotOnBallot         = errors.New("not on ballot")
	ErrVoterNotFound       = errors.New("voter not found")
	ErrTimeout             = errors.New("timeout")
	ErrUnavailable         = errors.New("unavailable")
)

// Retryable reports whether err left no partial state and the same request
// may be sent again unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
