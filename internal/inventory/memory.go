package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// MemoryStore keeps seats in process memory. Each schedule is a shard with
// its own mutex, so calls on different schedules never contend. The mutex
// is held only for the compare and the apply; observers run after it is
// released.
type MemoryStore struct {
	observers

	mu     sync.RWMutex
	shards map[string]*shard

	now func() time.Time
}

type shard struct {
	mu    sync.Mutex
	seats map[string]*model.Seat
	order []string
}

// NewMemoryStore returns an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{shards: make(map[string]*shard), now: now}
}

func (s *MemoryStore) shard(scheduleID string, create bool) *shard {
	s.mu.RLock()
	sh := s.shards[scheduleID]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shards[scheduleID]; sh == nil {
		sh = &shard{seats: make(map[string]*model.Seat)}
		s.shards[scheduleID] = sh
	}
	return sh
}

func (s *MemoryStore) Seats(_ context.Context, scheduleID string) ([]model.Seat, error) {
	sh := s.shard(scheduleID, false)
	if sh == nil {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]model.Seat, 0, len(sh.order))
	for _, id := range sh.order {
		out = append(out, *sh.seats[id])
	}
	return out, nil
}

func (s *MemoryStore) Seat(_ context.Context, scheduleID, seatID string) (model.Seat, error) {
	sh := s.shard(scheduleID, false)
	if sh == nil {
		return model.Seat{}, fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	seat, ok := sh.seats[seatID]
	if !ok {
		return model.Seat{}, fmt.Errorf("seat %s on schedule %s: %w", seatID, scheduleID, model.ErrNotFound)
	}
	return *seat, nil
}

func (s *MemoryStore) Statuses(_ context.Context, scheduleID string, seatIDs []string) (map[string]model.SeatStatus, error) {
	sh := s.shard(scheduleID, false)
	if sh == nil {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make(map[string]model.SeatStatus, len(seatIDs))
	for _, id := range seatIDs {
		seat, ok := sh.seats[id]
		if !ok {
			return nil, fmt.Errorf("seat %s on schedule %s: %w", id, scheduleID, model.ErrNotFound)
		}
		out[id] = seat.Status
	}
	return out, nil
}

func (s *MemoryStore) CompareAndSet(ctx context.Context, scheduleID string, t Transition, opts ...Option) error {
	return s.BulkCompareAndSet(ctx, scheduleID, []Transition{t}, opts...)
}

// BulkCompareAndSet checks every transition before applying any of them,
// all under the shard lock, so a conflict leaves nothing to roll back.
func (s *MemoryStore) BulkCompareAndSet(ctx context.Context, scheduleID string, ts []Transition, opts ...Option) (err error) {
	defer func() { observeCAS("memory", len(ts), err) }()
	if err := validateBatch(scheduleID, ts); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	o := buildOptions(opts)
	sh := s.shard(scheduleID, false)
	if sh == nil {
		return fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}

	sh.mu.Lock()
	now := s.now()
	if !o.deadline.IsZero() && !now.Before(o.deadline) {
		sh.mu.Unlock()
		return expiredErr(o.deadline)
	}
	var conflicts []string
	for _, t := range ts {
		seat, ok := sh.seats[t.SeatID]
		if !ok {
			sh.mu.Unlock()
			return fmt.Errorf("seat %s on schedule %s: %w", t.SeatID, scheduleID, model.ErrNotFound)
		}
		if seat.Status != t.From || seat.OwnerID != t.FromOwner {
			conflicts = append(conflicts, t.SeatID)
		}
	}
	if len(conflicts) > 0 {
		sh.mu.Unlock()
		return &ConflictError{ScheduleID: scheduleID, SeatIDs: conflicts}
	}
	ev := ChangeEvent{ScheduleID: scheduleID, Changes: make([]Change, 0, len(ts))}
	for _, t := range ts {
		seat := sh.seats[t.SeatID]
		ev.Changes = append(ev.Changes, Change{SeatID: t.SeatID, Class: seat.Class, From: seat.Status, To: t.To})
		seat.Status = t.To
		seat.OwnerID = t.ToOwner
		seat.Version++
		seat.UpdatedAt = now
	}
	sh.mu.Unlock()

	s.notify(ev)
	return nil
}

func (s *MemoryStore) ReplaceCarriageSeats(_ context.Context, scheduleID, carriageID string, seats []model.Seat) error {
	if err := validateSeats(scheduleID, carriageID, seats); err != nil {
		return err
	}
	sh := s.shard(scheduleID, true)

	sh.mu.Lock()
	var occupied []string
	for _, id := range sh.order {
		if seat := sh.seats[id]; seat.CarriageID == carriageID && seat.Status != model.SeatFree {
			occupied = append(occupied, id)
		}
	}
	if len(occupied) > 0 {
		sh.mu.Unlock()
		return &ConflictError{ScheduleID: scheduleID, SeatIDs: occupied}
	}
	for _, seat := range seats {
		if old, ok := sh.seats[seat.SeatID]; ok && old.CarriageID != carriageID {
			sh.mu.Unlock()
			return fmt.Errorf("seat id %s already used by carriage %s: %w", seat.SeatID, old.CarriageID, model.ErrConflict)
		}
	}

	ev := ChangeEvent{ScheduleID: scheduleID}
	kept := sh.order[:0]
	for _, id := range sh.order {
		seat := sh.seats[id]
		if seat.CarriageID == carriageID {
			ev.Changes = append(ev.Changes, Change{SeatID: id, Class: seat.Class, From: seat.Status})
			delete(sh.seats, id)
			continue
		}
		kept = append(kept, id)
	}
	sh.order = kept
	now := s.now()
	for _, seat := range seats {
		cp := seat
		cp.Status = model.SeatFree
		cp.OwnerID = ""
		cp.Version = 1
		cp.UpdatedAt = now
		sh.seats[cp.SeatID] = &cp
		sh.order = append(sh.order, cp.SeatID)
		ev.Changes = append(ev.Changes, Change{SeatID: cp.SeatID, Class: cp.Class, To: model.SeatFree})
	}
	sort.SliceStable(sh.order, func(i, j int) bool {
		a, b := sh.seats[sh.order[i]], sh.seats[sh.order[j]]
		if a.CarriageNo != b.CarriageNo {
			return a.CarriageNo < b.CarriageNo
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Column < b.Column
	})
	sh.mu.Unlock()

	s.notify(ev)
	return nil
}
