package models

import "errors"

// Pipeline error taxonomy. Callers wrap these with fmt.Errorf("...: %w", Err...)
// and match with errors.Is.
var (
	ErrProfileNotFound     = errors.New("profile not found")
	ErrInvalidTransition   = errors.New("invalid job status transition")
	ErrCollaboratorFailure = errors.New("model execution collaborator failure")
	ErrPersistenceFailure  = errors.New("persistence failure")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrBundleCancelled     = errors.New("bundle cancelled")
	ErrNotFound            = errors.New("not found")
)
