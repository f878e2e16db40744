// Package model holds the domain types shared by the reservation core and
// the error values every layer uses to report typed outcomes. Handlers map
// these sentinels onto HTTP status codes with errors.Is.
package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSeatUnavailable is returned when a hold is attempted on a seat that
	// is not free. Callers should search again.
	ErrSeatUnavailable = errors.New("seat unavailable")

	// ErrHoldExpired is returned when a confirmation arrives after the hold
	// TTL or after the hold lost its seats to a release.
	ErrHoldExpired = errors.New("hold expired")

	// ErrHoldNotFound is returned for an unknown hold id.
	ErrHoldNotFound = errors.New("hold not found")

	// ErrNotFound is returned for any other unknown identifier.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals that the current state forbids the operation, such
	// as resetting a carriage that still has held or booked seats.
	ErrConflict = errors.New("conflict")

	// ErrValidation marks caller input errors. It is never retried.
	ErrValidation = errors.New("validation failed")
)

// SeatUnavailableError lists the seats that were not free.
type SeatUnavailableError struct {
	ScheduleID string
	SeatIDs    []string
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat unavailable: schedule %s seats [%s]", e.ScheduleID, strings.Join(e.SeatIDs, ","))
}

func (e *SeatUnavailableError) Is(target error) bool { return target == ErrSeatUnavailable }

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
