// Package catalog manages trains, carriages and schedules, and is the only
// writer of a schedule's carriage snapshots.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// Repository persists catalog data. Lookups of unknown ids fail with
// model.ErrNotFound and uniqueness violations with model.ErrConflict.
type Repository interface {
	CreateTrain(ctx context.Context, t *model.Train) error
	GetTrain(ctx context.Context, id string) (*model.Train, error)

	CreateCarriage(ctx context.Context, c *model.Carriage) error
	GetCarriage(ctx context.Context, id string) (*model.Carriage, error)
	ListCarriages(ctx context.Context, trainID string) ([]model.Carriage, error)
	UpdateCarriageQuota(ctx context.Context, id string, quota int) (*model.Carriage, error)

	CreateSchedule(ctx context.Context, s *model.Schedule) error
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	ListSchedules(ctx context.Context) ([]model.Schedule, error)
	// AttachCarriage stores c as a snapshot on the schedule.
	AttachCarriage(ctx context.Context, scheduleID string, c model.Carriage) error
	DetachCarriage(ctx context.Context, scheduleID, carriageID string) error
}

type MemoryRepository struct {
	mu        sync.RWMutex
	trains    map[string]*model.Train
	carriages map[string]*model.Carriage
	schedules map[string]*model.Schedule
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		trains:    make(map[string]*model.Train),
		carriages: make(map[string]*model.Carriage),
		schedules: make(map[string]*model.Schedule),
	}
}

func (r *MemoryRepository) CreateTrain(_ context.Context, t *model.Train) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.trains {
		if other.Code == t.Code {
			return fmt.Errorf("train code %s: %w", t.Code, model.ErrConflict)
		}
	}
	cp := *t
	r.trains[t.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetTrain(_ context.Context, id string) (*model.Train, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trains[id]
	if !ok {
		return nil, fmt.Errorf("train %s: %w", id, model.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) CreateCarriage(_ context.Context, c *model.Carriage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.carriages {
		if other.TrainID == c.TrainID && other.Number == c.Number {
			return fmt.Errorf("carriage %d of train %s: %w", c.Number, c.TrainID, model.ErrConflict)
		}
	}
	cp := *c
	r.carriages[c.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetCarriage(_ context.Context, id string) (*model.Carriage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carriages[id]
	if !ok {
		return nil, fmt.Errorf("carriage %s: %w", id, model.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) ListCarriages(_ context.Context, trainID string) ([]model.Carriage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Carriage
	for _, c := range r.carriages {
		if c.TrainID == trainID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *MemoryRepository) UpdateCarriageQuota(_ context.Context, id string, quota int) (*model.Carriage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carriages[id]
	if !ok {
		return nil, fmt.Errorf("carriage %s: %w", id, model.ErrNotFound)
	}
	c.Quota = quota
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) CreateSchedule(_ context.Context, s *model.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[s.ID]; ok {
		return fmt.Errorf("schedule %s: %w", s.ID, model.ErrConflict)
	}
	cp := s.Clone()
	r.schedules[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetSchedule(_ context.Context, id string) (*model.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, model.ErrNotFound)
	}
	cp := s.Clone()
	return &cp, nil
}

func (r *MemoryRepository) ListSchedules(_ context.Context) ([]model.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DepartsAt.Equal(out[j].DepartsAt) {
			return out[i].DepartsAt.Before(out[j].DepartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) AttachCarriage(_ context.Context, scheduleID string, c model.Carriage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[scheduleID]
	if !ok {
		return fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	for _, have := range s.Carriages {
		if have.ID == c.ID || have.Number == c.Number {
			return fmt.Errorf("carriage %d already attached to schedule %s: %w", c.Number, scheduleID, model.ErrConflict)
		}
	}
	s.Carriages = append(s.Carriages, c)
	return nil
}

func (r *MemoryRepository) DetachCarriage(_ context.Context, scheduleID, carriageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[scheduleID]
	if !ok {
		return fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	for i, have := range s.Carriages {
		if have.ID == carriageID {
			s.Carriages = append(s.Carriages[:i:i], s.Carriages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("carriage %s on schedule %s: %w", carriageID, scheduleID, model.ErrNotFound)
}
