// Package reservation turns holds into bookings and bookings back into free
// seats. Every seat change it makes is a single bulk compare-and-set on the
// inventory store.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/train-seat-reservation/internal/hold"
	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/model"
	"github.com/iliyamo/train-seat-reservation/internal/queue"
)

// EventPublisher delivers booking events. Failures are logged by the
// engine and never fail the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// Engine orchestrates hold -> confirm and confirm -> cancel.
type Engine struct {
	store    inventory.Store
	holds    *hold.Manager
	bookings Repository
	events   EventPublisher
	now      func() time.Time
	log      *log.Helper

	inflight singleflight.Group
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithPublisher(p EventPublisher) Option { return func(e *Engine) { e.events = p } }

func NewEngine(store inventory.Store, holds *hold.Manager, bookings Repository, logger log.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		holds:    holds,
		bookings: bookings,
		events:   nopPublisher{},
		now:      time.Now,
		log:      log.NewHelper(log.With(logger, "module", "reservation")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartRequest asks for a hold on SeatIDs, one passenger per seat in the
// same order.
type StartRequest struct {
	ScheduleID string
	SeatIDs    []string
	Passengers []model.Passenger
	SessionID  string
}

func (r StartRequest) validate() error {
	if r.ScheduleID == "" {
		return model.Invalid("schedule_id", "is required")
	}
	if r.SessionID == "" {
		return model.Invalid("session_id", "is required")
	}
	if len(r.SeatIDs) == 0 {
		return model.Invalid("seat_ids", "at least one seat is required")
	}
	if len(r.Passengers) != len(r.SeatIDs) {
		return model.Invalid("passengers", "got %d passengers for %d seats", len(r.Passengers), len(r.SeatIDs))
	}
	seen := make(map[string]bool, len(r.SeatIDs))
	for _, id := range r.SeatIDs {
		if seen[id] {
			return model.Invalid("seat_ids", "seat %s requested twice", id)
		}
		seen[id] = true
	}
	for i, p := range r.Passengers {
		if strings.TrimSpace(p.Name) == "" {
			return model.Invalid("passengers", "passenger %d has no name", i+1)
		}
	}
	return nil
}

// StartBooking validates the request and places a hold. Seats that are not
// on the schedule are a validation error; seats that are taken yield
// model.ErrSeatUnavailable.
func (e *Engine) StartBooking(ctx context.Context, req StartRequest) (*model.Hold, error) {
	if err := req.validate(); err != nil {
		bookingOps.WithLabelValues("start", "invalid").Inc()
		return nil, err
	}
	if _, err := e.store.Statuses(ctx, req.ScheduleID, req.SeatIDs); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			bookingOps.WithLabelValues("start", "invalid").Inc()
			return nil, model.Invalid("seat_ids", "%v", err)
		}
		return nil, err
	}
	h, err := e.holds.PlaceHold(ctx, req.ScheduleID, req.SeatIDs, req.SessionID, req.Passengers)
	if err != nil {
		bookingOps.WithLabelValues("start", result(err)).Inc()
		return nil, err
	}
	bookingOps.WithLabelValues("start", "ok").Inc()
	return h, nil
}

// ConfirmBooking converts a live hold into a booking. The expiry check is
// repeated inside the seat transition itself, so a hold that expires or is
// swept while this call runs never produces booked seats. Confirming an
// already confirmed hold returns the existing booking, and concurrent calls
// for one hold share a single attempt.
func (e *Engine) ConfirmBooking(ctx context.Context, holdID string) (*model.Booking, error) {
	start := time.Now()
	defer func() { confirmLatency.Observe(time.Since(start).Seconds()) }()

	v, err, shared := e.inflight.Do(holdID, func() (any, error) { return e.confirm(ctx, holdID) })
	bookingOps.WithLabelValues("confirm", result(err)).Inc()
	if err != nil {
		return nil, err
	}
	b := v.(*model.Booking)
	if shared {
		b = b.Clone()
	}
	return b, nil
}

// bookedFrom returns the booking already made from h, if any, and records
// the hold as confirmed when its record still says otherwise.
func (e *Engine) bookedFrom(ctx context.Context, h *model.Hold) *model.Booking {
	b, err := e.bookings.GetByHold(ctx, h.ID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			e.log.Warnf("look up booking of hold %s: %v", h.ID, err)
		}
		return nil
	}
	if h.Status == model.HoldActive {
		if err := e.holds.MarkConfirmed(ctx, h.ID, b.ID); err != nil && !errors.Is(err, model.ErrConflict) {
			e.log.Errorf("record hold %s as confirmed by %s: %v", h.ID, b.ID, err)
		}
	}
	return b
}

func (e *Engine) confirm(ctx context.Context, holdID string) (*model.Booking, error) {
	h, err := e.holds.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	switch h.Status {
	case model.HoldConfirmed:
		return e.bookings.Get(ctx, h.BookingID)
	case model.HoldReleased, model.HoldExpired:
		if b := e.bookedFrom(ctx, h); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("hold %s is %s: %w", h.ID, strings.ToLower(string(h.Status)), model.ErrHoldExpired)
	}
	now := e.now()
	if h.Expired(now) {
		if b := e.bookedFrom(ctx, h); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("hold %s expired at %s: %w", h.ID, h.ExpiresAt.Format(time.RFC3339), model.ErrHoldExpired)
	}

	bookingID := uuid.NewString()
	ts := make([]inventory.Transition, len(h.SeatIDs))
	for i, id := range h.SeatIDs {
		ts[i] = inventory.Transition{SeatID: id, From: model.SeatHeld, FromOwner: h.ID, To: model.SeatBooked, ToOwner: bookingID}
	}
	if err := e.store.BulkCompareAndSet(ctx, h.ScheduleID, ts, inventory.WithDeadline(h.ExpiresAt)); err != nil {
		if errors.Is(err, model.ErrHoldExpired) {
			return nil, fmt.Errorf("hold %s: %w", h.ID, err)
		}
		if errors.Is(err, model.ErrConflict) {
			// the seats left the hold: swept, released, or confirmed by a
			// concurrent call
			if fresh, gerr := e.holds.Get(ctx, h.ID); gerr == nil && fresh.Status == model.HoldConfirmed {
				return e.bookings.Get(ctx, fresh.BookingID)
			}
			if b := e.bookedFrom(ctx, h); b != nil {
				return b, nil
			}
			return nil, fmt.Errorf("hold %s lost its seats: %w", h.ID, model.ErrHoldExpired)
		}
		return nil, err
	}

	b := &model.Booking{
		ID:         bookingID,
		Reference:  bookingReference(now, bookingID),
		ScheduleID: h.ScheduleID,
		HoldID:     h.ID,
		OwnerID:    h.OwnerID,
		Seats:      make([]model.BookedSeat, len(h.SeatIDs)),
		Status:     model.BookingConfirmed,
		CreatedAt:  now,
	}
	for i, id := range h.SeatIDs {
		b.Seats[i] = model.BookedSeat{SeatID: id}
		if i < len(h.Passengers) {
			b.Seats[i].Passenger = h.Passengers[i]
		}
	}
	if err := e.bookings.Create(ctx, b); err != nil {
		// hand the seats back to the still-active hold
		back := make([]inventory.Transition, len(ts))
		for i, t := range ts {
			back[i] = inventory.Transition{SeatID: t.SeatID, From: model.SeatBooked, FromOwner: bookingID, To: model.SeatHeld, ToOwner: h.ID}
		}
		if rerr := e.store.BulkCompareAndSet(context.WithoutCancel(ctx), h.ScheduleID, back); rerr != nil {
			e.log.Errorf("return seats of unsaved booking %s to hold %s: %v", bookingID, h.ID, rerr)
		}
		return nil, fmt.Errorf("persist booking: %w", err)
	}
	if err := e.holds.MarkConfirmed(ctx, h.ID, bookingID); err != nil {
		e.log.Errorf("record hold %s as confirmed by %s: %v", h.ID, bookingID, err)
	}

	e.publish(ctx, queue.TopicBookingConfirmed, queue.BookingConfirmedEvent{
		BookingID:   b.ID,
		Reference:   b.Reference,
		ScheduleID:  b.ScheduleID,
		HoldID:      b.HoldID,
		OwnerID:     b.OwnerID,
		SeatIDs:     b.SeatIDs(),
		Passengers:  passengerNames(b),
		ConfirmedAt: now.UTC().Format(time.RFC3339),
	})
	e.log.Infof("booking %s (%s) confirmed from hold %s seats=%v", b.ID, b.Reference, h.ID, b.SeatIDs())
	return b, nil
}

// CancelBooking frees the seats of a booking. Cancelling an already
// cancelled booking succeeds without side effects.
func (e *Engine) CancelBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := e.cancel(ctx, bookingID)
	bookingOps.WithLabelValues("cancel", result(err)).Inc()
	return b, err
}

func (e *Engine) cancel(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := e.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == model.BookingCancelled {
		return b, nil
	}
	ts := make([]inventory.Transition, len(b.Seats))
	for i, s := range b.Seats {
		ts[i] = inventory.Transition{SeatID: s.SeatID, From: model.SeatBooked, FromOwner: b.ID, To: model.SeatFree}
	}
	// A conflict means an earlier attempt already freed the seats but did
	// not get to record the cancellation.
	if err := e.store.BulkCompareAndSet(ctx, b.ScheduleID, ts); err != nil && !errors.Is(err, model.ErrConflict) {
		return nil, err
	}

	now := e.now()
	if err := e.bookings.Cancel(ctx, b.ID, now); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return e.bookings.Get(ctx, b.ID)
		}
		return nil, err
	}
	b.Status = model.BookingCancelled
	b.CancelledAt = &now

	e.publish(ctx, queue.TopicBookingCancelled, queue.BookingCancelledEvent{
		BookingID:   b.ID,
		Reference:   b.Reference,
		ScheduleID:  b.ScheduleID,
		SeatIDs:     b.SeatIDs(),
		CancelledAt: now.UTC().Format(time.RFC3339),
	})
	e.log.Infof("booking %s cancelled, seats %v free", b.ID, b.SeatIDs())
	return b, nil
}

func (e *Engine) GetBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	return e.bookings.Get(ctx, bookingID)
}

func (e *Engine) ListBookings(ctx context.Context, scheduleID string) ([]*model.Booking, error) {
	return e.bookings.ListBySchedule(ctx, scheduleID)
}

func (e *Engine) publish(ctx context.Context, topic string, ev any) {
	if err := e.events.Publish(context.WithoutCancel(ctx), topic, ev); err != nil {
		e.log.Warnf("publish %s: %v", topic, err)
	}
}

func bookingReference(now time.Time, bookingID string) string {
	return fmt.Sprintf("TRN-%d-%s", now.Year(), strings.ToUpper(strings.ReplaceAll(bookingID, "-", "")[:8]))
}

func passengerNames(b *model.Booking) []string {
	out := make([]string, len(b.Seats))
	for i, s := range b.Seats {
		out[i] = s.Passenger.Name
	}
	return out
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrSeatUnavailable):
		return "unavailable"
	case errors.Is(err, model.ErrHoldExpired):
		return "expired"
	case errors.Is(err, model.ErrHoldNotFound), errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrValidation):
		return "invalid"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
