package domain

import "errors"

var (
	// ErrInvalidConfiguration is returned when batch creation input violates
	// a constraint. Rejected synchronously: no scripts are dispatched and no
	// events are published.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrBatchNotFound is returned when a batch id does not resolve.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrProjectNotFound is returned when a project id does not resolve.
	ErrProjectNotFound = errors.New("project not found")

	// ErrBatchTerminal is returned for operations on a batch that already
	// reached its terminal state.
	ErrBatchTerminal = errors.New("batch already completed")
)
