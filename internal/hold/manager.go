// Package hold grants short-lived exclusive holds on seats and reclaims
// them when they expire. Holds have a fixed TTL and cannot be extended.
package hold

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// Outcome is the result of releasing a hold.
type Outcome int

const (
	Released Outcome = iota
	AlreadyTerminal
)

func (o Outcome) String() string {
	if o == Released {
		return "released"
	}
	return "already_terminal"
}

// Config holds the hold TTL and the sweep tuning.
type Config struct {
	TTL             time.Duration
	SweepInterval   time.Duration
	SweepBatch      int
	MaxSweepRetries int
}

func DefaultConfig() Config {
	return Config{
		TTL:             10 * time.Minute,
		SweepInterval:   5 * time.Second,
		SweepBatch:      500,
		MaxSweepRetries: 10,
	}
}

// Manager places, releases and expires holds. Every seat change goes
// through the inventory store's bulk compare-and-set, so a release, the
// sweep and a confirmation racing on one hold have exactly one winner.
type Manager struct {
	store inventory.Store
	repo  Repository
	cfg   Config
	now   func() time.Time
	log   *log.Helper

	onExpired func(ctx context.Context, h *model.Hold)
	bookingOf BookingLookup

	mu    sync.Mutex
	queue expiryQueue
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithExpiryHook registers fn to run after the sweep expires a hold.
func WithExpiryHook(fn func(ctx context.Context, h *model.Hold)) Option {
	return func(m *Manager) { m.onExpired = fn }
}

// BookingLookup returns the id of the booking made from holdID, or "" when
// there is none.
type BookingLookup func(ctx context.Context, holdID string) (string, error)

// WithBookingLookup lets the sweep recognise a hold whose seats went to a
// booking that never got recorded on the hold.
func WithBookingLookup(fn BookingLookup) Option {
	return func(m *Manager) { m.bookingOf = fn }
}

func NewManager(store inventory.Store, repo Repository, cfg Config, logger log.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.MaxSweepRetries <= 0 {
		cfg.MaxSweepRetries = def.MaxSweepRetries
	}
	m := &Manager{
		store: store,
		repo:  repo,
		cfg:   cfg,
		now:   time.Now,
		log:   log.NewHelper(log.With(logger, "module", "hold")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL is the fixed lifetime of every hold.
func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

func seatTransitions(seatIDs []string, from model.SeatStatus, fromOwner string, to model.SeatStatus, toOwner string) []inventory.Transition {
	ts := make([]inventory.Transition, len(seatIDs))
	for i, id := range seatIDs {
		ts[i] = inventory.Transition{SeatID: id, From: from, FromOwner: fromOwner, To: to, ToOwner: toOwner}
	}
	return ts
}

// PlaceHold moves every requested seat from FREE to HELD under a new hold,
// or none of them. A seat that is not free yields a
// *model.SeatUnavailableError.
func (m *Manager) PlaceHold(ctx context.Context, scheduleID string, seatIDs []string, ownerID string, passengers []model.Passenger) (*model.Hold, error) {
	if ownerID == "" {
		return nil, model.Invalid("owner_id", "is required")
	}
	if len(seatIDs) == 0 {
		return nil, model.Invalid("seat_ids", "at least one seat is required")
	}
	now := m.now()
	h := &model.Hold{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		SeatIDs:    append([]string(nil), seatIDs...),
		OwnerID:    ownerID,
		Passengers: append([]model.Passenger(nil), passengers...),
		Status:     model.HoldActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.TTL),
	}

	ts := seatTransitions(h.SeatIDs, model.SeatFree, "", model.SeatHeld, h.ID)
	if err := m.store.BulkCompareAndSet(ctx, scheduleID, ts); err != nil {
		var ce *inventory.ConflictError
		if errors.As(err, &ce) {
			holdsPlaced.WithLabelValues("unavailable").Inc()
			return nil, &model.SeatUnavailableError{ScheduleID: scheduleID, SeatIDs: ce.SeatIDs}
		}
		holdsPlaced.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := m.repo.Create(ctx, h); err != nil {
		// the seats are owned by a hold id nobody else knows yet
		back := seatTransitions(h.SeatIDs, model.SeatHeld, h.ID, model.SeatFree, "")
		if rerr := m.store.BulkCompareAndSet(context.WithoutCancel(ctx), scheduleID, back); rerr != nil {
			m.log.Errorf("return seats of unsaved hold %s: %v", h.ID, rerr)
		}
		holdsPlaced.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("persist hold: %w", err)
	}

	m.schedule(expiryItem{holdID: h.ID, expiresAt: h.ExpiresAt})
	holdsPlaced.WithLabelValues("placed").Inc()
	m.log.Debugf("hold %s placed on schedule %s seats=%v owner=%s expires=%s",
		h.ID, scheduleID, h.SeatIDs, ownerID, h.ExpiresAt.Format(time.RFC3339))
	return h.Clone(), nil
}

// Get returns the hold record.
func (m *Manager) Get(ctx context.Context, holdID string) (*model.Hold, error) {
	return m.repo.Get(ctx, holdID)
}

// ReleaseHold frees the seats of an active hold. Releasing a hold that is
// already confirmed, released or expired is a no-op reported as
// AlreadyTerminal.
func (m *Manager) ReleaseHold(ctx context.Context, holdID string) (Outcome, error) {
	h, err := m.repo.Get(ctx, holdID)
	if err != nil {
		return AlreadyTerminal, err
	}
	if h.Status.Terminal() {
		return AlreadyTerminal, nil
	}
	won, err := m.terminate(ctx, h, model.HoldReleased)
	if err != nil {
		return AlreadyTerminal, err
	}
	if !won {
		return AlreadyTerminal, nil
	}
	return Released, nil
}

// MarkConfirmed records that the hold's seats now belong to bookingID.
func (m *Manager) MarkConfirmed(ctx context.Context, holdID, bookingID string) error {
	if err := m.repo.Resolve(ctx, holdID, model.HoldConfirmed, bookingID, m.now()); err != nil {
		return err
	}
	holdsResolved.WithLabelValues(string(model.HoldConfirmed)).Inc()
	return nil
}

// terminate frees the hold's seats and records the terminal status. won is
// false when the seats no longer belonged to the hold.
func (m *Manager) terminate(ctx context.Context, h *model.Hold, status model.HoldStatus) (won bool, err error) {
	ts := seatTransitions(h.SeatIDs, model.SeatHeld, h.ID, model.SeatFree, "")
	if err := m.store.BulkCompareAndSet(ctx, h.ScheduleID, ts); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	holdsResolved.WithLabelValues(string(status)).Inc()
	if err := m.repo.Resolve(ctx, h.ID, status, "", m.now()); err != nil {
		// the seats are free; the next sweep writes the record
		m.log.Errorf("record hold %s as %s: %v", h.ID, status, err)
		m.schedule(expiryItem{holdID: h.ID, expiresAt: m.now(), resolveAs: status})
	}
	return true, nil
}

func (m *Manager) schedule(it expiryItem) {
	m.mu.Lock()
	heap.Push(&m.queue, it)
	pendingExpiries.Set(float64(m.queue.Len()))
	m.mu.Unlock()
}

// Pending reports how many entries wait in the expiry index.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Recover loads every active hold into the expiry index. It is meant for
// startup, before the sweeper runs.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	holds, err := m.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, h := range holds {
		m.schedule(expiryItem{holdID: h.ID, expiresAt: h.ExpiresAt})
	}
	return len(holds), nil
}

// Sweep expires every hold whose TTL has passed at the manager's clock and
// returns how many it released. A hold whose seats were taken by a racing
// confirmation or release is re-checked on the next sweep until its record
// shows a terminal status.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := m.now()
	m.mu.Lock()
	due := m.queue.popDue(now, m.cfg.SweepBatch)
	pendingExpiries.Set(float64(m.queue.Len()))
	m.mu.Unlock()

	expired := 0
	for i, it := range due {
		if err := ctx.Err(); err != nil {
			for _, rest := range due[i:] {
				m.schedule(rest)
			}
			return expired, err
		}
		res, err := m.expire(ctx, it, now)
		if err != nil {
			m.log.Warnf("expire hold %s (attempt %d): %v", it.holdID, it.attempts+1, err)
		}
		switch res {
		case sweepExpired:
			expired++
		case sweepRetry:
			it.attempts++
			it.expiresAt = now
			m.schedule(it)
		}
	}
	if expired > 0 {
		m.log.Infof("sweep expired %d holds", expired)
	}
	return expired, nil
}

type sweepResult int

const (
	sweepExpired sweepResult = iota
	sweepSkipped
	sweepRetry
)

func (m *Manager) expire(ctx context.Context, it expiryItem, now time.Time) (sweepResult, error) {
	if it.resolveAs != "" {
		return m.finishRecord(ctx, it)
	}
	h, err := m.repo.Get(ctx, it.holdID)
	if errors.Is(err, model.ErrHoldNotFound) {
		return sweepSkipped, err
	}
	if err != nil {
		return sweepRetry, err
	}
	if h.Status.Terminal() {
		return sweepSkipped, nil
	}
	if h.ExpiresAt.After(now) {
		m.schedule(expiryItem{holdID: h.ID, expiresAt: h.ExpiresAt})
		return sweepSkipped, nil
	}

	won, err := m.terminate(ctx, h, model.HoldExpired)
	if err != nil {
		return sweepRetry, err
	}
	if won {
		if m.onExpired != nil {
			h.Status = model.HoldExpired
			m.onExpired(ctx, h)
		}
		return sweepExpired, nil
	}

	// Lost the race. The winner records its outcome right after moving the
	// seats, so a fresh read normally shows it.
	fresh, err := m.repo.Get(ctx, h.ID)
	if err == nil && fresh.Status.Terminal() {
		return sweepSkipped, nil
	}
	if m.bookingOf != nil {
		bookingID, err := m.bookingOf(ctx, h.ID)
		if err != nil {
			return sweepRetry, err
		}
		if bookingID != "" {
			if err := m.MarkConfirmed(ctx, h.ID, bookingID); err != nil && !errors.Is(err, model.ErrConflict) {
				return sweepRetry, err
			}
			m.log.Warnf("hold %s was booked as %s without a recorded outcome; marked confirmed", h.ID, bookingID)
			return sweepSkipped, nil
		}
	}
	if it.attempts+1 >= m.cfg.MaxSweepRetries && !m.ownsSeats(ctx, h) {
		if err := m.repo.Resolve(ctx, h.ID, model.HoldExpired, "", m.now()); err != nil && !errors.Is(err, model.ErrConflict) {
			return sweepRetry, err
		}
		m.log.Warnf("hold %s lost its seats without a recorded outcome; marked expired", h.ID)
		return sweepSkipped, nil
	}
	return sweepRetry, nil
}

// finishRecord writes a terminal status whose seat change already happened.
func (m *Manager) finishRecord(ctx context.Context, it expiryItem) (sweepResult, error) {
	err := m.repo.Resolve(ctx, it.holdID, it.resolveAs, "", m.now())
	switch {
	case err == nil, errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrHoldNotFound):
		return sweepSkipped, nil
	case it.attempts+1 >= m.cfg.MaxSweepRetries:
		m.log.Errorf("giving up recording hold %s as %s: %v", it.holdID, it.resolveAs, err)
		return sweepSkipped, err
	}
	return sweepRetry, err
}

func (m *Manager) ownsSeats(ctx context.Context, h *model.Hold) bool {
	for _, id := range h.SeatIDs {
		seat, err := m.store.Seat(ctx, h.ScheduleID, id)
		if err != nil || seat.OwnerID == h.ID {
			return true
		}
	}
	return false
}
