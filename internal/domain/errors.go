package domain

import "errors"

var (
	ErrNotFound = errors.New("task not found")

	// ErrVersionConflict is returned by conditional writes whose expected
	// version no longer matches. It is an expected race outcome, not a failure.
	ErrVersionConflict = errors.New("version conflict")

	// ErrPoisonEvent marks an event that can never be processed successfully.
	ErrPoisonEvent = errors.New("poison event")
)
