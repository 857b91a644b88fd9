// Package errors wraps github.com/cockroachdb/errors and defines the error
// kinds the orchestrator distinguishes.
//
//	if err := store.Insert(ctx, job); err != nil {
//	    return errors.Wrap(err, "create job")
//	}
//
//	if errors.IsNotFound(err) {
//	    // 404
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// Details and hints
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Error kinds. Mark errors with these and test with errors.Is.
var (
	// ErrValidation marks a malformed request the caller can fix
	ErrValidation = New("validation failed")

	// ErrNotFound marks an unknown job or run id
	ErrNotFound = New("not found")

	// ErrLaunch marks a worker process that could not be started
	ErrLaunch = New("worker launch failed")

	// ErrStore marks a failure reading or writing the job store
	ErrStore = New("store failure")

	// ErrWorkerFailure marks a run that finished without a booking
	ErrWorkerFailure = New("worker failure")

	// ErrConflict marks a run id that is already in flight
	ErrConflict = New("conflict")
)

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrValidation)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrNotFound)
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrConflict)
}

// MarkStore wraps err with context and marks it as a store failure
func MarkStore(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(crdb.WrapWithDepth(1, err, context), ErrStore)
}

// MarkLaunch wraps err with context and marks it as a launch failure
func MarkLaunch(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(crdb.WrapWithDepth(1, err, context), ErrLaunch)
}

// IsValidation checks if an error is marked as a validation error
func IsValidation(err error) bool { return err != nil && Is(err, ErrValidation) }

// IsNotFound checks if an error is marked as not found
func IsNotFound(err error) bool { return err != nil && Is(err, ErrNotFound) }

// IsLaunch checks if an error is marked as a launch failure
func IsLaunch(err error) bool { return err != nil && Is(err, ErrLaunch) }

// IsStore checks if an error is marked as a store failure
func IsStore(err error) bool { return err != nil && Is(err, ErrStore) }

// IsConflict checks if an error is marked as a conflict
func IsConflict(err error) bool { return err != nil && Is(err, ErrConflict) }
