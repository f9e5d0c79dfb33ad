package core

import (
	"errors"
	"fmt"
)

// ErrGenerationTimeout is returned when the outer deadline of an AI
// generation attempt expires. The conversation's turn is left with the
// assistant still owing a response; only an explicit turn reset (or the next
// successful trigger) recovers it.
var ErrGenerationTimeout = errors.New("generation timed out")

// ErrConversationNotFound is returned by stores when no conversation exists
// for the given id.
var ErrConversationNotFound = errors.New("conversation not found")

// TurnViolationError reports a message sent out of turn. It is rejected
// locally, surfaced to the caller, and never retried.
type TurnViolationError struct {
	UserID        string
	NextSpeakerID string
}

func (e *TurnViolationError) Error() string {
	if e.NextSpeakerID == "" {
		return fmt.Sprintf("not your turn: %s may not speak now", e.UserID)
	}
	return fmt.Sprintf("not your turn: %s may not speak, next speaker is %s", e.UserID, e.NextSpeakerID)
}

// IsTurnViolation reports whether err is (or wraps) a TurnViolationError.
func IsTurnViolation(err error) bool {
	var tv *TurnViolationError
	return errors.As(err, &tv)
}

// BackendErrorKind splits AI backend failures into retry classes.
type BackendErrorKind int

const (
	// BackendTransient covers network, timeout, 5xx and 429 failures that
	// are safe to retry.
	BackendTransient BackendErrorKind = iota
	// BackendPermanent covers malformed responses, auth failures and other
	// 4xx conditions that retrying cannot fix.
	BackendPermanent
)

// BackendError wraps a failure from the AI generation backend with its retry
// classification and, when known, the HTTP status that produced it.
type BackendError struct {
	Kind   BackendErrorKind
	Status int
	Err    error
}

func (e *BackendError) Error() string {
	kind := "transient"
	if e.Kind == BackendPermanent {
		kind = "permanent"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s backend error (status %d): %v", kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s backend error: %v", kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewTransientBackendError wraps err as retryable.
func NewTransientBackendError(status int, err error) *BackendError {
	return &BackendError{Kind: BackendTransient, Status: status, Err: err}
}

// NewPermanentBackendError wraps err as non-retryable.
func NewPermanentBackendError(status int, err error) *BackendError {
	return &BackendError{Kind: BackendPermanent, Status: status, Err: err}
}

// ClassifyStatus maps an HTTP status from the backend to a BackendError.
// 429 and 5xx are transient; everything else is permanent.
func ClassifyStatus(status int, err error) *BackendError {
	if status == 429 || status >= 500 {
		return NewTransientBackendError(status, err)
	}
	return NewPermanentBackendError(status, err)
}

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == BackendTransient
}

// StorageError wraps an event log / persistence failure. Fatal for the
// current operation: the caller must abort before broadcasting a transition
// that never committed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
