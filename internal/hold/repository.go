package hold

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// Repository persists hold records. Resolve moves a hold out of ACTIVE
// exactly once; a second attempt fails with model.ErrConflict.
type Repository interface {
	Create(ctx context.Context, h *model.Hold) error
	Get(ctx context.Context, id string) (*model.Hold, error)
	Resolve(ctx context.Context, id string, to model.HoldStatus, bookingID string, at time.Time) error
	ListActive(ctx context.Context) ([]*model.Hold, error)
}

// MemoryRepository is the in-process Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	holds map[string]*model.Hold
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{holds: make(map[string]*model.Hold)}
}

func (r *MemoryRepository) Create(_ context.Context, h *model.Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holds[h.ID]; ok {
		return fmt.Errorf("hold %s: %w", h.ID, model.ErrConflict)
	}
	r.holds[h.ID] = h.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*model.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.holds[id]
	if !ok {
		return nil, fmt.Errorf("hold %s: %w", id, model.ErrHoldNotFound)
	}
	return h.Clone(), nil
}

func (r *MemoryRepository) Resolve(_ context.Context, id string, to model.HoldStatus, bookingID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok {
		return fmt.Errorf("hold %s: %w", id, model.ErrHoldNotFound)
	}
	if h.Status.Terminal() {
		return fmt.Errorf("hold %s already %s: %w", id, h.Status, model.ErrConflict)
	}
	h.Status = to
	h.BookingID = bookingID
	t := at
	h.ResolvedAt = &t
	return nil
}

func (r *MemoryRepository) ListActive(_ context.Context) ([]*model.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Hold
	for _, h := range r.holds {
		if h.Status == model.HoldActive {
			out = append(out, h.Clone())
		}
	}
	return out, nil
}
