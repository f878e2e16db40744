package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/iliyamo/train-seat-reservation/internal/availability"
	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/layout"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// NewTrain is the input of CreateTrain.
type NewTrain struct {
	Code  string `json:"code" validate:"required,max=32"`
	Name  string `json:"name" validate:"required,max=120"`
	Class string `json:"class" validate:"max=32"`
}

// NewCarriage is the input of AddCarriage.
type NewCarriage struct {
	Number int    `json:"number" validate:"required,min=1"`
	Class  string `json:"class" validate:"required"`
	Quota  int    `json:"quota" validate:"required,min=1,max=200"`
}

// NewSchedule is the input of CreateSchedule.
type NewSchedule struct {
	TrainID     string    `json:"train_id" validate:"required"`
	Origin      string    `json:"origin" validate:"required,max=80"`
	Destination string    `json:"destination" validate:"required,max=80"`
	DepartsAt   time.Time `json:"departs_at" validate:"required"`
	ArrivesAt   time.Time `json:"arrives_at" validate:"required"`
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service is the admin write surface of the core.
type Service struct {
	repo  Repository
	store inventory.Store
	gen   *layout.Generator
	index *availability.Index
	now   func() time.Time
	log   *log.Helper
}

// NewService wires the catalog. index may be nil.
func NewService(repo Repository, store inventory.Store, gen *layout.Generator, index *availability.Index, logger log.Logger, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		store: store,
		gen:   gen,
		index: index,
		now:   time.Now,
		log:   log.NewHelper(log.With(logger, "module", "catalog")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) CreateTrain(ctx context.Context, in NewTrain) (*model.Train, error) {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return nil, model.Invalid("train", "code and name are required")
	}
	t := &model.Train{ID: uuid.NewString(), Code: code, Name: name, Class: strings.TrimSpace(in.Class), CreatedAt: s.now().UTC()}
	if err := s.repo.CreateTrain(ctx, t); err != nil {
		return nil, err
	}
	s.log.Infof("train %s created (%s)", t.Code, t.ID)
	return t, nil
}

func (s *Service) GetTrain(ctx context.Context, id string) (*model.Train, error) {
	return s.repo.GetTrain(ctx, id)
}

// AddCarriage creates a carriage on a train. Numbers are unique per train.
func (s *Service) AddCarriage(ctx context.Context, trainID string, in NewCarriage) (*model.Carriage, error) {
	class, err := model.ParseCarriageClass(in.Class)
	if err != nil {
		return nil, err
	}
	if in.Number <= 0 {
		return nil, model.Invalid("number", "must be positive")
	}
	if in.Quota <= 0 {
		return nil, model.Invalid("quota", "must be positive")
	}
	if _, err := s.repo.GetTrain(ctx, trainID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &model.Carriage{ID: uuid.NewString(), TrainID: trainID, Number: in.Number, Class: class, Quota: in.Quota,
		CreatedAt: now, UpdatedAt: now}
	if err := s.repo.CreateCarriage(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListCarriages(ctx context.Context, trainID string) ([]model.Carriage, error) {
	if _, err := s.repo.GetTrain(ctx, trainID); err != nil {
		return nil, err
	}
	return s.repo.ListCarriages(ctx, trainID)
}

// UpdateCarriageQuota changes the quota of a carriage. It is refused with
// model.ErrConflict while any schedule holds a booked seat in that
// carriage. Existing schedules keep their snapshot; only later attachments
// see the new quota.
func (s *Service) UpdateCarriageQuota(ctx context.Context, carriageID string, quota int) (*model.Carriage, error) {
	if quota <= 0 {
		return nil, model.Invalid("quota", "must be positive")
	}
	if _, err := s.repo.GetCarriage(ctx, carriageID); err != nil {
		return nil, err
	}
	booked, err := s.hasBookedSeats(ctx, carriageID)
	if err != nil {
		return nil, err
	}
	if booked {
		return nil, fmt.Errorf("carriage %s has booked seats: %w", carriageID, model.ErrConflict)
	}
	c, err := s.repo.UpdateCarriageQuota(ctx, carriageID, quota)
	if err != nil {
		return nil, err
	}
	s.log.Infof("carriage %s quota set to %d", carriageID, quota)
	return c, nil
}

func (s *Service) hasBookedSeats(ctx context.Context, carriageID string) (bool, error) {
	schedules, err := s.repo.ListSchedules(ctx)
	if err != nil {
		return false, err
	}
	for _, sch := range schedules {
		if _, ok := sch.Carriage(carriageID); !ok {
			continue
		}
		seats, err := s.store.Seats(ctx, sch.ID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		for _, seat := range seats {
			if seat.CarriageID == carriageID && seat.Status == model.SeatBooked {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Service) CreateSchedule(ctx context.Context, in NewSchedule) (*model.Schedule, error) {
	origin, dest := strings.TrimSpace(in.Origin), strings.TrimSpace(in.Destination)
	if origin == "" || dest == "" {
		return nil, model.Invalid("route", "origin and destination are required")
	}
	if strings.EqualFold(origin, dest) {
		return nil, model.Invalid("route", "origin and destination must differ")
	}
	if in.DepartsAt.IsZero() || !in.ArrivesAt.After(in.DepartsAt) {
		return nil, model.Invalid("arrives_at", "must be after departs_at")
	}
	train, err := s.repo.GetTrain(ctx, in.TrainID)
	if err != nil {
		return nil, err
	}
	sch := &model.Schedule{
		ID:          uuid.NewString(),
		TrainID:     train.ID,
		TrainCode:   train.Code,
		TrainName:   train.Name,
		Origin:      origin,
		Destination: dest,
		DepartsAt:   in.DepartsAt.UTC(),
		ArrivesAt:   in.ArrivesAt.UTC(),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateSchedule(ctx, sch); err != nil {
		return nil, err
	}
	if s.index != nil {
		s.index.Track(*sch)
	}
	s.log.Infof("schedule %s created: %s %s -> %s at %s", sch.ID, train.Code, origin, dest, sch.DepartsAt.Format(time.RFC3339))
	return sch, nil
}

func (s *Service) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	return s.repo.ListSchedules(ctx)
}

// AttachCarriageToSchedule snapshots the carriage onto the schedule and
// generates its seats. The carriage must belong to the schedule's train.
// When generation fails the snapshot is removed again.
func (s *Service) AttachCarriageToSchedule(ctx context.Context, scheduleID, carriageID string) (*model.Schedule, []model.Seat, error) {
	sch, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.repo.GetCarriage(ctx, carriageID)
	if err != nil {
		return nil, nil, err
	}
	if c.TrainID != sch.TrainID {
		return nil, nil, model.Invalid("carriage_id", "carriage %s does not belong to train %s", carriageID, sch.TrainCode)
	}
	if _, ok := sch.Carriage(carriageID); ok {
		return nil, nil, fmt.Errorf("carriage %d already attached to schedule %s: %w", c.Number, scheduleID, model.ErrConflict)
	}

	snapshot := *c
	if err := s.repo.AttachCarriage(ctx, scheduleID, snapshot); err != nil {
		return nil, nil, err
	}
	seats, err := s.gen.Generate(ctx, scheduleID, snapshot)
	if err != nil {
		if derr := s.repo.DetachCarriage(ctx, scheduleID, carriageID); derr != nil {
			s.log.Errorf("detach carriage %s from schedule %s after failed generation: %v", carriageID, scheduleID, derr)
		}
		return nil, nil, err
	}
	sch.Carriages = append(sch.Carriages, snapshot)
	if s.index != nil {
		s.index.Track(*sch)
	}
	return sch, seats, nil
}

// ResetCarriageSeats regenerates the seats of an attached carriage from its
// snapshot. It fails with model.ErrConflict while any of them is held or
// booked.
func (s *Service) ResetCarriageSeats(ctx context.Context, scheduleID, carriageID string) ([]model.Seat, error) {
	sch, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	c, ok := sch.Carriage(carriageID)
	if !ok {
		return nil, fmt.Errorf("carriage %s on schedule %s: %w", carriageID, scheduleID, model.ErrNotFound)
	}
	seats, err := s.gen.Generate(ctx, scheduleID, c)
	if err != nil {
		s.log.Warnf("reset carriage %d on schedule %s refused: %v", c.Number, scheduleID, err)
		return nil, err
	}
	return seats, nil
}
