package reservation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// Repository persists bookings. Create rejects a second booking for the
// same hold with model.ErrConflict.
type Repository interface {
	Create(ctx context.Context, b *model.Booking) error
	Get(ctx context.Context, id string) (*model.Booking, error)
	// GetByHold returns the booking created from holdID, or
	// model.ErrNotFound.
	GetByHold(ctx context.Context, holdID string) (*model.Booking, error)
	// Cancel moves a confirmed booking to cancelled. It fails with
	// model.ErrConflict when the booking is already cancelled.
	Cancel(ctx context.Context, id string, at time.Time) error
	ListBySchedule(ctx context.Context, scheduleID string) ([]*model.Booking, error)
}

// MemoryRepository is the in-process Repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*model.Booking
	byHold map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*model.Booking), byHold: make(map[string]string)}
}

func (r *MemoryRepository) Create(_ context.Context, b *model.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[b.ID]; ok {
		return fmt.Errorf("booking %s: %w", b.ID, model.ErrConflict)
	}
	if other, ok := r.byHold[b.HoldID]; ok {
		return fmt.Errorf("hold %s already booked as %s: %w", b.HoldID, other, model.ErrConflict)
	}
	r.byID[b.ID] = b.Clone()
	r.byHold[b.HoldID] = b.ID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*model.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	return b.Clone(), nil
}

func (r *MemoryRepository) GetByHold(_ context.Context, holdID string) (*model.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHold[holdID]
	if !ok {
		return nil, fmt.Errorf("booking for hold %s: %w", holdID, model.ErrNotFound)
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) Cancel(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	if b.Status == model.BookingCancelled {
		return fmt.Errorf("booking %s already cancelled: %w", id, model.ErrConflict)
	}
	b.Status = model.BookingCancelled
	t := at
	b.CancelledAt = &t
	return nil
}

func (r *MemoryRepository) ListBySchedule(_ context.Context, scheduleID string) ([]*model.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Booking
	for _, b := range r.byID {
		if b.ScheduleID == scheduleID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
