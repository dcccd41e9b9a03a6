package chat

import (
	"errors"
	"fmt"
)

// Kind classifies a failed stage by how the request reacts to it.
type Kind string

const (
	// KindResolution is a session that no longer exists, such as one deleted
	// while its request was running.
	KindResolution Kind = "resolution"
	// KindAcquisition is a sandbox that could not be created or set up. It
	// ends the request.
	KindAcquisition Kind = "acquisition"
	// KindAugmentation is a retrieval failure. The request carries on
	// without context.
	KindAugmentation Kind = "augmentation"
	// KindUnclassified is any other failure. It ends the request.
	KindUnclassified Kind = "unclassified"
)

var ErrSessionNotFound = errors.New("session not found")

// StageError is the failure of one pipeline stage.
type StageError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error ends the request.
func (e *StageError) Fatal() bool {
	return e.Kind != KindAugmentation
}

// fatal reports whether err ends the request. Errors that are not a
// [StageError] always do.
func fatal(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Fatal()
	}
	return true
}

func stageError(kind Kind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the kind of err, or [KindUnclassified] when err is not a
// [StageError].
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnclassified
}
