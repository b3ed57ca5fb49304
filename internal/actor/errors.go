package actor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is matched by every error caused by talking to a stopped actor.
	ErrNotRunning  = errors.New("actor is not running")
	ErrMailboxFull = errors.New("actor mailbox is full")
	ErrKilled      = errors.New("actor was killed")
)

// StoppedError is returned when a message cannot be delivered or answered
// because the actor has terminated.
type StoppedError struct {
	Actor  string
	Reason error
}

func (e *StoppedError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("actor %s is not running: %v", e.Actor, e.Reason)
	}
	return fmt.Sprintf("actor %s is not running", e.Actor)
}

func (e *StoppedError) Is(target error) bool { return target == ErrNotRunning }
func (e *StoppedError) Unwrap() error        { return e.Reason }

// StartupError wraps a failed OnStart hook.
type StartupError struct {
	Actor string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("actor %s failed to start: %v", e.Actor, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// PanicError is the termination reason of an actor whose handler panicked.
type PanicError struct {
	Actor string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("actor %s panicked: %v", e.Actor, e.Value)
}

// LinkDiedError is the termination reason of an actor killed because a
// linked peer terminated abnormally.
type LinkDiedError struct {
	Peer   string
	Reason error
}

func (e *LinkDiedError) Error() string {
	return fmt.Sprintf("linked actor %s died: %v", e.Peer, e.Reason)
}

func (e *LinkDiedError) Unwrap() error { return e.Reason }
