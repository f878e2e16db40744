package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

func testSeats(scheduleID, carriageID string, carriageNo, n int) []model.Seat {
	seats := make([]model.Seat, n)
	for i := range seats {
		code := fmt.Sprintf("%d%c", i/4+1, 'A'+i%4)
		seats[i] = model.Seat{
			ScheduleID: scheduleID,
			SeatID:     model.SeatKey(carriageNo, code),
			CarriageID: carriageID,
			CarriageNo: carriageNo,
			Code:       code,
			Row:        i/4 + 1,
			Column:     i%4 + 1,
			Class:      model.ClassEconomy,
		}
	}
	return seats
}

func newSeededStore(t *testing.T, now func() time.Time) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(now)
	require.NoError(t, s.ReplaceCarriageSeats(context.Background(), "sch", "car1", testSeats("sch", "car1", 1, 4)))
	return s
}

func hold(seatID, owner string) Transition {
	return Transition{SeatID: seatID, From: model.SeatFree, To: model.SeatHeld, ToOwner: owner}
}

func TestMemoryStoreCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t, nil)

	require.NoError(t, s.CompareAndSet(ctx, "sch", hold("1-1A", "h1")))
	seat, err := s.Seat(ctx, "sch", "1-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, seat.Status)
	assert.Equal(t, "h1", seat.OwnerID)
	assert.Equal(t, uint32(2), seat.Version)

	err = s.CompareAndSet(ctx, "sch", hold("1-1A", "h2"))
	assert.ErrorIs(t, err, model.ErrConflict)

	// wrong owner on the way back is a conflict too
	err = s.CompareAndSet(ctx, "sch", Transition{SeatID: "1-1A", From: model.SeatHeld, FromOwner: "h2", To: model.SeatFree})
	assert.ErrorIs(t, err, model.ErrConflict)

	require.NoError(t, s.CompareAndSet(ctx, "sch", Transition{SeatID: "1-1A", From: model.SeatHeld, FromOwner: "h1", To: model.SeatFree}))
	st, err := s.Statuses(ctx, "sch", []string{"1-1A", "1-1B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]model.SeatStatus{"1-1A": model.SeatFree, "1-1B": model.SeatFree}, st)
}

func TestMemoryStoreBulkIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t, nil)
	require.NoError(t, s.CompareAndSet(ctx, "sch", hold("1-1B", "other")))

	err := s.BulkCompareAndSet(ctx, "sch", []Transition{hold("1-1A", "mine"), hold("1-1B", "mine"), hold("1-1C", "mine")})
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"1-1B"}, ce.SeatIDs)

	st, err := s.Statuses(ctx, "sch", []string{"1-1A", "1-1C"})
	require.NoError(t, err)
	assert.Equal(t, model.SeatFree, st["1-1A"])
	assert.Equal(t, model.SeatFree, st["1-1C"])
}

func TestMemoryStoreRejectsBadBatches(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t, nil)

	cases := map[string][]Transition{
		"empty":      nil,
		"duplicate":  {hold("1-1A", "x"), hold("1-1A", "x")},
		"no owner":   {hold("1-1A", "")},
		"free+owner": {{SeatID: "1-1A", From: model.SeatHeld, FromOwner: "x", To: model.SeatFree, ToOwner: "x"}},
		"blank seat": {hold("", "x")},
	}
	for name, ts := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.BulkCompareAndSet(ctx, "sch", ts), model.ErrValidation)
		})
	}
	assert.ErrorIs(t, s.CompareAndSet(ctx, "sch", hold("9-9Z", "x")), model.ErrNotFound)
	assert.ErrorIs(t, s.CompareAndSet(ctx, "nope", hold("1-1A", "x")), model.ErrNotFound)
}

func TestMemoryStoreDeadlineIsCheckedAtomically(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := newSeededStore(t, clock)
	require.NoError(t, s.CompareAndSet(ctx, "sch", hold("1-1A", "h1")))

	book := Transition{SeatID: "1-1A", From: model.SeatHeld, FromOwner: "h1", To: model.SeatBooked, ToOwner: "b1"}
	err := s.CompareAndSet(ctx, "sch", book, WithDeadline(now))
	assert.ErrorIs(t, err, model.ErrHoldExpired)

	seat, _ := s.Seat(ctx, "sch", "1-1A")
	assert.Equal(t, model.SeatHeld, seat.Status)

	require.NoError(t, s.CompareAndSet(ctx, "sch", book, WithDeadline(now.Add(time.Second))))
}

func TestMemoryStoreConcurrentHoldsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t, nil)

	const callers = 32
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := s.BulkCompareAndSet(ctx, "sch", []Transition{hold("1-1A", fmt.Sprint("h", i)), hold("1-1B", fmt.Sprint("h", i))})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
	a, _ := s.Seat(ctx, "sch", "1-1A")
	b, _ := s.Seat(ctx, "sch", "1-1B")
	assert.Equal(t, a.OwnerID, b.OwnerID)
}

func TestMemoryStoreReplaceCarriageSeats(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t, nil)
	require.NoError(t, s.ReplaceCarriageSeats(ctx, "sch", "car2", testSeats("sch", "car2", 2, 2)))

	require.NoError(t, s.CompareAndSet(ctx, "sch", hold("1-1D", "h1")))
	err := s.ReplaceCarriageSeats(ctx, "sch", "car1", testSeats("sch", "car1", 1, 8))
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"1-1D"}, ce.SeatIDs)

	require.NoError(t, s.CompareAndSet(ctx, "sch", Transition{SeatID: "1-1D", From: model.SeatHeld, FromOwner: "h1", To: model.SeatFree}))
	require.NoError(t, s.ReplaceCarriageSeats(ctx, "sch", "car1", testSeats("sch", "car1", 1, 8)))

	seats, err := s.Seats(ctx, "sch")
	require.NoError(t, err)
	require.Len(t, seats, 10)
	assert.Equal(t, "1-1A", seats[0].SeatID)
	assert.Equal(t, "1-2D", seats[7].SeatID)
	assert.Equal(t, "2-1A", seats[8].SeatID)
	for _, seat := range seats {
		assert.Equal(t, model.SeatFree, seat.Status)
	}

	err = s.ReplaceCarriageSeats(ctx, "sch", "car1", testSeats("other", "car1", 1, 1))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestMemoryStoreNotifiesObserversAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	var events []ChangeEvent
	s.Subscribe(ObserverFunc(func(ev ChangeEvent) {
		// reading back inside the callback must not deadlock
		_, err := s.Seats(ctx, ev.ScheduleID)
		assert.NoError(t, err)
		events = append(events, ev)
	}))

	require.NoError(t, s.ReplaceCarriageSeats(ctx, "sch", "car1", testSeats("sch", "car1", 1, 2)))
	require.NoError(t, s.CompareAndSet(ctx, "sch", hold("1-1A", "h1")))
	_ = s.CompareAndSet(ctx, "sch", hold("1-1A", "h2"))

	require.Len(t, events, 2)
	assert.Len(t, events[0].Changes, 2)
	assert.Equal(t, Change{SeatID: "1-1A", Class: model.ClassEconomy, From: model.SeatFree, To: model.SeatHeld}, events[1].Changes[0])
}
