// Package inventory is the authoritative record of every seat on every
// schedule. All status changes go through CompareAndSet or
// BulkCompareAndSet so that exactly one caller wins each race for a seat.
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// Transition moves one seat from (From, FromOwner) to (To, ToOwner). The
// owner of a free seat is always the empty string.
type Transition struct {
	SeatID    string
	From      model.SeatStatus
	FromOwner string
	To        model.SeatStatus
	ToOwner   string
}

func (t Transition) String() string {
	return fmt.Sprintf("%s %s(%s)->%s(%s)", t.SeatID, t.From, t.FromOwner, t.To, t.ToOwner)
}

// Option tunes a single compare-and-set call.
type Option func(*casOptions)

type casOptions struct {
	deadline time.Time
}

// WithDeadline makes the store reject the whole transition with
// model.ErrHoldExpired when its clock has reached t. The check happens
// inside the same atomic section as the status compare.
func WithDeadline(t time.Time) Option {
	return func(o *casOptions) { o.deadline = t }
}

func buildOptions(opts []Option) casOptions {
	var o casOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ConflictError reports the seats whose status or owner did not match the
// expected values. It matches model.ErrConflict.
type ConflictError struct {
	ScheduleID string
	SeatIDs    []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("inventory conflict: schedule %s seats [%s]", e.ScheduleID, strings.Join(e.SeatIDs, ","))
}

func (e *ConflictError) Is(target error) bool { return target == model.ErrConflict }

// Change is one seat status change. An empty From means the seat was
// created and an empty To means it was removed.
type Change struct {
	SeatID string
	Class  model.CarriageClass
	From   model.SeatStatus
	To     model.SeatStatus
}

// ChangeEvent groups the changes committed by one store call.
type ChangeEvent struct {
	ScheduleID string
	Changes    []Change
}

// Observer is notified after every committed change, outside any store
// lock. Observers must not block.
type Observer interface {
	OnChange(ev ChangeEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev ChangeEvent)

func (f ObserverFunc) OnChange(ev ChangeEvent) { f(ev) }

// Store is implemented by MemoryStore and MySQLStore.
type Store interface {
	// Seats returns every seat of the schedule ordered by carriage then
	// row-major position.
	Seats(ctx context.Context, scheduleID string) ([]model.Seat, error)
	Seat(ctx context.Context, scheduleID, seatID string) (model.Seat, error)
	Statuses(ctx context.Context, scheduleID string, seatIDs []string) (map[string]model.SeatStatus, error)
	CompareAndSet(ctx context.Context, scheduleID string, t Transition, opts ...Option) error
	// BulkCompareAndSet applies every transition or none of them.
	BulkCompareAndSet(ctx context.Context, scheduleID string, ts []Transition, opts ...Option) error
	// ReplaceCarriageSeats swaps the seat set of one carriage and fails with
	// model.ErrConflict while any existing seat of it is not free.
	ReplaceCarriageSeats(ctx context.Context, scheduleID, carriageID string, seats []model.Seat) error
	Subscribe(o Observer)
}

func validateBatch(scheduleID string, ts []Transition) error {
	if scheduleID == "" {
		return model.Invalid("schedule_id", "is required")
	}
	if len(ts) == 0 {
		return model.Invalid("seat_ids", "at least one seat is required")
	}
	seen := make(map[string]bool, len(ts))
	for _, t := range ts {
		if t.SeatID == "" {
			return model.Invalid("seat_ids", "empty seat id")
		}
		if seen[t.SeatID] {
			return model.Invalid("seat_ids", "seat %s listed twice", t.SeatID)
		}
		seen[t.SeatID] = true
		if (t.To == model.SeatFree) != (t.ToOwner == "") {
			return model.Invalid("owner", "seat %s: free seats have no owner and taken seats need one", t.SeatID)
		}
	}
	return nil
}

func expiredErr(deadline time.Time) error {
	return fmt.Errorf("%w: deadline %s passed", model.ErrHoldExpired, deadline.UTC().Format(time.RFC3339))
}

func validateSeats(scheduleID, carriageID string, seats []model.Seat) error {
	seen := make(map[string]bool, len(seats))
	for _, seat := range seats {
		if seat.ScheduleID != scheduleID || seat.CarriageID != carriageID {
			return model.Invalid("seats", "seat %s does not belong to schedule %s carriage %s", seat.SeatID, scheduleID, carriageID)
		}
		if seen[seat.SeatID] {
			return model.Invalid("seats", "seat %s listed twice", seat.SeatID)
		}
		seen[seat.SeatID] = true
	}
	return nil
}
