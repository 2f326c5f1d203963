package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing or invalid persona and rule definitions.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidState marks an operation the current lesson state forbids.
	ErrInvalidState = errors.New("invalid lesson state")
	// ErrAlreadyStarted marks a start request on a lesson that has left not_started.
	ErrAlreadyStarted = errors.New("lesson already started")
	// ErrTransientStorage marks a persistence failure; the whole request may be retried.
	ErrTransientStorage = errors.New("transient storage failure")

	ErrUnknownPersona = errors.New("unknown persona")
	ErrInvalidScore   = errors.New("score must be within [0, 1]")
	ErrInvalidKey     = errors.New("invalid key")
)

// ConfigurationError reports a broken persona or rule definition.
type ConfigurationError struct {
	Component string
	Detail    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Detail)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// InvalidStateError reports an operation attempted from a state that forbids it.
type InvalidStateError struct {
	Key   Key
	Op    string
	State LessonState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s lesson %s in state %s", e.Op, e.Key, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// AlreadyStartedError reports a start without restart on a lesson that is not not_started.
type AlreadyStartedError struct {
	Key   Key
	State LessonState
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("lesson %s already started (state %s); pass restart to begin again", e.Key, e.State)
}

func (e *AlreadyStartedError) Is(target error) bool { return target == ErrAlreadyStarted }

// TransientStorageError wraps a persistence failure. No partial mutation was applied.
type TransientStorageError struct {
	Op  string
	Key Key
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

func (e *TransientStorageError) Is(target error) bool { return target == ErrTransientStorage }
