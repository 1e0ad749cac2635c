package flow

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown or purged session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrWrongStep is returned for an operation the current flow step does not allow.
	ErrWrongStep = errors.New("operation not allowed at the current step")
	// ErrDocumentsIncomplete is returned when continuing to assessment before
	// every required document has been processed.
	ErrDocumentsIncomplete = errors.New("required documents are not complete")
)
