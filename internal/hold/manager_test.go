package hold

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *inventory.MemoryStore
	repo  *MemoryRepository
	clock *fakeClock
	m     *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := inventory.NewMemoryStore(clock.Now)
	seats := make([]model.Seat, 4)
	for i := range seats {
		code := fmt.Sprintf("1%c", 'A'+i)
		seats[i] = model.Seat{ScheduleID: "sch", SeatID: code, CarriageID: "c1", CarriageNo: 1, Code: code, Row: 1, Column: i + 1, Class: model.ClassExecutive}
	}
	require.NoError(t, store.ReplaceCarriageSeats(context.Background(), "sch", "c1", seats))
	repo := NewMemoryRepository()
	return &fixture{
		store: store,
		repo:  repo,
		clock: clock,
		m:     NewManager(store, repo, cfg, log.DefaultLogger, WithClock(clock.Now)),
	}
}

func (f *fixture) seat(t *testing.T, id string) model.Seat {
	t.Helper()
	s, err := f.store.Seat(context.Background(), "sch", id)
	require.NoError(t, err)
	return s
}

func TestPlaceHoldClaimsAllSeats(t *testing.T) {
	f := newFixture(t, Config{TTL: 10 * time.Minute})
	h, err := f.m.PlaceHold(context.Background(), "sch", []string{"1A", "1B"}, "session-1", nil)
	require.NoError(t, err)

	assert.Equal(t, model.HoldActive, h.Status)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), h.ExpiresAt)
	for _, id := range []string{"1A", "1B"} {
		s := f.seat(t, id)
		assert.Equal(t, model.SeatHeld, s.Status)
		assert.Equal(t, h.ID, s.OwnerID)
	}
	assert.Equal(t, 1, f.m.Pending())
}

func TestConcurrentHoldsOnOneSeat(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	var wg sync.WaitGroup
	results := make([]error, 2)
	holds := make([]*model.Hold, 2)
	for i, owner := range []string{"ownerX", "ownerY"} {
		wg.Add(1)
		go func(i int, owner string) {
			defer wg.Done()
			holds[i], results[i] = f.m.PlaceHold(context.Background(), "sch", []string{"1A"}, owner, nil)
		}(i, owner)
	}
	wg.Wait()

	var winner *model.Hold
	failures := 0
	for i, err := range results {
		if err == nil {
			winner = holds[i]
			continue
		}
		assert.ErrorIs(t, err, model.ErrSeatUnavailable)
		failures++
	}
	require.NotNil(t, winner)
	assert.Equal(t, 1, failures)
	s := f.seat(t, "1A")
	assert.Equal(t, model.SeatHeld, s.Status)
	assert.Equal(t, winner.ID, s.OwnerID)
}

func TestPlaceHoldNeverHoldsASubset(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	_, err := f.m.PlaceHold(ctx, "sch", []string{"1B"}, "someone-else", nil)
	require.NoError(t, err)

	_, err = f.m.PlaceHold(ctx, "sch", []string{"1A", "1B"}, "me", nil)
	var sue *model.SeatUnavailableError
	require.True(t, errors.As(err, &sue))
	assert.Equal(t, []string{"1B"}, sue.SeatIDs)
	assert.Equal(t, model.SeatFree, f.seat(t, "1A").Status)
}

func TestReleaseHoldIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	h, err := f.m.PlaceHold(ctx, "sch", []string{"1A", "1C"}, "s", nil)
	require.NoError(t, err)

	out, err := f.m.ReleaseHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, Released, out)
	out, err = f.m.ReleaseHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, AlreadyTerminal, out)

	got, err := f.m.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, got.Status)
	assert.Equal(t, model.SeatFree, f.seat(t, "1A").Status)
	assert.Equal(t, model.SeatFree, f.seat(t, "1C").Status)

	_, err = f.m.ReleaseHold(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrHoldNotFound)
}

func TestReleaseAfterConfirmReportsAlreadyTerminal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	h, err := f.m.PlaceHold(ctx, "sch", []string{"1A"}, "s", nil)
	require.NoError(t, err)

	// a confirmation moved the seats but has not recorded its outcome yet
	require.NoError(t, f.store.CompareAndSet(ctx, "sch", inventory.Transition{
		SeatID: "1A", From: model.SeatHeld, FromOwner: h.ID, To: model.SeatBooked, ToOwner: "b1"}))

	out, err := f.m.ReleaseHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, AlreadyTerminal, out)
	assert.Equal(t, model.SeatBooked, f.seat(t, "1A").Status)
}

func TestSweepExpiresAbandonedHold(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})
	ctx := context.Background()
	var hooked []string
	f.m.onExpired = func(_ context.Context, h *model.Hold) { hooked = append(hooked, h.ID) }

	h, err := f.m.PlaceHold(ctx, "sch", []string{"1A"}, "ownerX", nil)
	require.NoError(t, err)

	n, err := f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not yet due")

	f.clock.Advance(time.Minute)
	n, err = f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.SeatFree, f.seat(t, "1A").Status)
	assert.Equal(t, []string{h.ID}, hooked)

	got, _ := f.m.Get(ctx, h.ID)
	assert.Equal(t, model.HoldExpired, got.Status)

	_, err = f.m.PlaceHold(ctx, "sch", []string{"1A"}, "ownerY", nil)
	require.NoError(t, err)
	out, err := f.m.ReleaseHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, AlreadyTerminal, out)
}

func TestSweepSkipsResolvedHolds(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})
	ctx := context.Background()
	h, err := f.m.PlaceHold(ctx, "sch", []string{"1A"}, "s", nil)
	require.NoError(t, err)
	_, err = f.m.ReleaseHold(ctx, h.ID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	n, err := f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.m.Pending())
}

func TestSweepRetriesUntilRacingConfirmRecordsOutcome(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})
	ctx := context.Background()
	h, err := f.m.PlaceHold(ctx, "sch", []string{"1A", "1B"}, "s", nil)
	require.NoError(t, err)

	require.NoError(t, f.store.BulkCompareAndSet(ctx, "sch", []inventory.Transition{
		{SeatID: "1A", From: model.SeatHeld, FromOwner: h.ID, To: model.SeatBooked, ToOwner: "b1"},
		{SeatID: "1B", From: model.SeatHeld, FromOwner: h.ID, To: model.SeatBooked, ToOwner: "b1"},
	}))
	f.clock.Advance(time.Minute)

	n, err := f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.m.Pending(), "hold stays queued while its record is active")
	assert.Equal(t, model.SeatBooked, f.seat(t, "1A").Status)

	require.NoError(t, f.m.MarkConfirmed(ctx, h.ID, "b1"))
	n, err = f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.m.Pending())

	got, _ := f.m.Get(ctx, h.ID)
	assert.Equal(t, model.HoldConfirmed, got.Status)
	assert.Equal(t, "b1", got.BookingID)
}

func TestSweepFinalizesHoldThatLostItsSeats(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute, MaxSweepRetries: 2})
	ctx := context.Background()
	h, err := f.m.PlaceHold(ctx, "sch", []string{"1A"}, "s", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.CompareAndSet(ctx, "sch", inventory.Transition{
		SeatID: "1A", From: model.SeatHeld, FromOwner: h.ID, To: model.SeatFree}))
	f.clock.Advance(time.Minute)

	_, err = f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.m.Pending())
	_, err = f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.m.Pending())

	got, _ := f.m.Get(ctx, h.ID)
	assert.Equal(t, model.HoldExpired, got.Status)
}

type failingRepo struct{ *MemoryRepository }

func (failingRepo) Create(context.Context, *model.Hold) error { return errors.New("disk full") }

func TestPlaceHoldReturnsSeatsWhenRecordFails(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	m := NewManager(f.store, failingRepo{NewMemoryRepository()}, DefaultConfig(), log.DefaultLogger)

	_, err := m.PlaceHold(context.Background(), "sch", []string{"1A"}, "s", nil)
	require.Error(t, err)
	assert.Equal(t, model.SeatFree, f.seat(t, "1A").Status)
	assert.Zero(t, m.Pending())
}

func TestRecoverRebuildsExpiryIndex(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})
	ctx := context.Background()
	_, err := f.m.PlaceHold(ctx, "sch", []string{"1A"}, "s", nil)
	require.NoError(t, err)

	restarted := NewManager(f.store, f.repo, Config{TTL: time.Minute}, log.DefaultLogger, WithClock(f.clock.Now))
	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.clock.Advance(time.Minute)
	expired, err := restarted.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, model.SeatFree, f.seat(t, "1A").Status)
}

func TestPlaceHoldValidatesInput(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	_, err := f.m.PlaceHold(ctx, "sch", nil, "s", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.m.PlaceHold(ctx, "sch", []string{"1A"}, "", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.m.PlaceHold(ctx, "sch", []string{"1A", "1A"}, "s", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

type flakyResolveRepo struct {
	*MemoryRepository
	mu    sync.Mutex
	fails int
}

func (r *flakyResolveRepo) Resolve(ctx context.Context, id string, to model.HoldStatus, bookingID string, at time.Time) error {
	r.mu.Lock()
	if r.fails > 0 {
		r.fails--
		r.mu.Unlock()
		return errors.New("db timeout")
	}
	r.mu.Unlock()
	return r.MemoryRepository.Resolve(ctx, id, to, bookingID, at)
}

func TestSweepRecordsExpiryAfterFailedWrite(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})
	ctx := context.Background()
	repo := &flakyResolveRepo{MemoryRepository: NewMemoryRepository(), fails: 1}
	m := NewManager(f.store, repo, Config{TTL: time.Minute}, log.DefaultLogger, WithClock(f.clock.Now))
	h, err := m.PlaceHold(ctx, "sch", []string{"1A"}, "s", nil)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.SeatFree, f.seat(t, "1A").Status)
	got, _ := m.Get(ctx, h.ID)
	assert.Equal(t, model.HoldActive, got.Status)
	assert.Equal(t, 1, m.Pending())

	n, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, m.Pending())
	got, _ = m.Get(ctx, h.ID)
	assert.Equal(t, model.HoldExpired, got.Status)
}

func TestSweepRecordsReleaseAfterFailedWrite(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})
	ctx := context.Background()
	repo := &flakyResolveRepo{MemoryRepository: NewMemoryRepository()}
	m := NewManager(f.store, repo, Config{TTL: time.Minute}, log.DefaultLogger, WithClock(f.clock.Now))
	h, err := m.PlaceHold(ctx, "sch", []string{"1A"}, "s", nil)
	require.NoError(t, err)

	repo.fails = 1
	out, err := m.ReleaseHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, Released, out)
	assert.Equal(t, model.SeatFree, f.seat(t, "1A").Status)

	_, err = m.Sweep(ctx)
	require.NoError(t, err)
	got, _ := m.Get(ctx, h.ID)
	assert.Equal(t, model.HoldReleased, got.Status)
}

func TestSweepConfirmsHoldWhoseSeatsWereBooked(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})
	ctx := context.Background()
	var h *model.Hold
	m := NewManager(f.store, f.repo, Config{TTL: time.Minute}, log.DefaultLogger, WithClock(f.clock.Now),
		WithBookingLookup(func(_ context.Context, holdID string) (string, error) {
			if h != nil && holdID == h.ID {
				return "b1", nil
			}
			return "", nil
		}))
	h, err := m.PlaceHold(ctx, "sch", []string{"1A"}, "s", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.CompareAndSet(ctx, "sch", inventory.Transition{
		SeatID: "1A", From: model.SeatHeld, FromOwner: h.ID, To: model.SeatBooked, ToOwner: "b1"}))

	f.clock.Advance(time.Minute)
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, m.Pending())

	got, _ := m.Get(ctx, h.ID)
	assert.Equal(t, model.HoldConfirmed, got.Status)
	assert.Equal(t, "b1", got.BookingID)
	assert.Equal(t, model.SeatBooked, f.seat(t, "1A").Status)
}
