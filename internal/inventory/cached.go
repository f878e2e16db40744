package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// CachedReader serves seat snapshots for display from Redis. Entries expire
// after ttl and are dropped whenever the store commits a change for the
// schedule, so staleness is bounded by ttl even if an invalidation is lost.
// Allocation never reads through this type.
type CachedReader struct {
	store  Store
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *log.Helper
}

// NewCachedReader subscribes the reader to store for invalidation. A nil
// rdb turns it into a pass-through.
func NewCachedReader(store Store, rdb *redis.Client, ttl time.Duration, logger log.Logger) *CachedReader {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	r := &CachedReader{
		store:  store,
		rdb:    rdb,
		ttl:    ttl,
		prefix: "seats",
		log:    log.NewHelper(log.With(logger, "module", "inventory/cache")),
	}
	if rdb != nil {
		store.Subscribe(r)
	}
	return r
}

func (r *CachedReader) key(scheduleID string) string { return r.prefix + ":" + scheduleID }

// Seats returns the schedule's seats, possibly slightly stale.
func (r *CachedReader) Seats(ctx context.Context, scheduleID string) ([]model.Seat, error) {
	if r.rdb == nil {
		return r.store.Seats(ctx, scheduleID)
	}
	if bs, err := r.rdb.Get(ctx, r.key(scheduleID)).Bytes(); err == nil {
		var seats []model.Seat
		if err := json.Unmarshal(bs, &seats); err == nil {
			snapshotCache.WithLabelValues("hit").Inc()
			return seats, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warnf("redis get %s: %v", r.key(scheduleID), err)
	}
	snapshotCache.WithLabelValues("miss").Inc()

	seats, err := r.store.Seats(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if bs, err := json.Marshal(seats); err == nil {
		if err := r.rdb.Set(ctx, r.key(scheduleID), bs, r.ttl).Err(); err != nil {
			r.log.Warnf("redis set %s: %v", r.key(scheduleID), err)
		}
	}
	return seats, nil
}

// Statuses is getStatus served from the snapshot.
func (r *CachedReader) Statuses(ctx context.Context, scheduleID string, seatIDs []string) (map[string]model.SeatStatus, error) {
	seats, err := r.Seats(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.SeatStatus, len(seats))
	for _, s := range seats {
		byID[s.SeatID] = s.Status
	}
	out := make(map[string]model.SeatStatus, len(seatIDs))
	for _, id := range seatIDs {
		st, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("seat %s on schedule %s: %w", id, scheduleID, model.ErrNotFound)
		}
		out[id] = st
	}
	return out, nil
}

func (r *CachedReader) OnChange(ev ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.rdb.Del(ctx, r.key(ev.ScheduleID)).Err(); err != nil {
		r.log.Warnf("redis invalidate %s: %v", r.key(ev.ScheduleID), err)
	}
}
