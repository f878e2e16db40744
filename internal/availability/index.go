// Package availability keeps an eventually consistent count of free seats
// per schedule and class, fed by inventory change events, and answers
// route searches from it. Exact seat truth always comes from the store at
// hold time.
package availability

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

type entry struct {
	schedule *model.Schedule
	free     map[model.CarriageClass]int
}

// Index implements inventory.Observer.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]*entry)}
}

func (x *Index) entry(id string) *entry {
	e, ok := x.entries[id]
	if !ok {
		e = &entry{free: make(map[model.CarriageClass]int)}
		x.entries[id] = e
	}
	return e
}

// Track registers or refreshes the schedule's searchable data. Counts are
// left untouched.
func (x *Index) Track(s model.Schedule) {
	cp := s.Clone()
	x.mu.Lock()
	x.entry(s.ID).schedule = &cp
	x.mu.Unlock()
}

// Seed replaces the schedule's counts with those derived from seats.
func (x *Index) Seed(scheduleID string, seats []model.Seat) {
	free := make(map[model.CarriageClass]int)
	for _, s := range seats {
		if s.Status == model.SeatFree {
			free[s.Class]++
		}
	}
	x.mu.Lock()
	x.entry(scheduleID).free = free
	x.mu.Unlock()
}

// Rebuild tracks every schedule and seeds it from the store.
func (x *Index) Rebuild(ctx context.Context, store inventory.Store, schedules []model.Schedule) error {
	for _, s := range schedules {
		x.Track(s)
		seats, err := store.Seats(ctx, s.ID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return err
		}
		x.Seed(s.ID, seats)
	}
	return nil
}

func (x *Index) OnChange(ev inventory.ChangeEvent) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e := x.entry(ev.ScheduleID)
	for _, c := range ev.Changes {
		if c.From == model.SeatFree {
			e.free[c.Class]--
		}
		if c.To == model.SeatFree {
			e.free[c.Class]++
		}
	}
}

// Available returns the free-seat counts of one schedule.
func (x *Index) Available(scheduleID string) map[model.CarriageClass]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[model.CarriageClass]int)
	if e, ok := x.entries[scheduleID]; ok {
		for c, n := range e.free {
			out[c] = n
		}
	}
	return out
}

// TimeOfDay narrows results to a part of the departure day.
type TimeOfDay string

const (
	AnyTime   TimeOfDay = ""
	Morning   TimeOfDay = "morning"   // 00:00-11:59
	Afternoon TimeOfDay = "afternoon" // 12:00-17:59
	Evening   TimeOfDay = "evening"   // 18:00-23:59
)

func (t TimeOfDay) matches(at time.Time) bool {
	h := at.Hour()
	switch t {
	case Morning:
		return h < 12
	case Afternoon:
		return h >= 12 && h < 18
	case Evening:
		return h >= 18
	}
	return true
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Query is a route search. Date matches the departure's calendar day in
// Date's location.
type Query struct {
	From      string
	To        string
	Date      time.Time
	Class     model.CarriageClass
	MinSeats  int
	TimeOfDay TimeOfDay
	Page      int
	PageSize  int
}

func (q *Query) normalize() error {
	q.From, q.To = strings.TrimSpace(q.From), strings.TrimSpace(q.To)
	if q.From == "" || q.To == "" {
		return model.Invalid("route", "from and to are required")
	}
	if q.Date.IsZero() {
		return model.Invalid("date", "is required")
	}
	if q.Class != "" && !q.Class.Valid() {
		return model.Invalid("class", "unknown carriage class %q", q.Class)
	}
	switch q.TimeOfDay {
	case AnyTime, Morning, Afternoon, Evening:
	default:
		return model.Invalid("time_of_day", "unknown value %q", q.TimeOfDay)
	}
	if q.MinSeats <= 0 {
		q.MinSeats = 1
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return nil
}

// Result is one matching schedule with its free seats per class.
type Result struct {
	Schedule  model.Schedule              `json:"schedule"`
	Available map[model.CarriageClass]int `json:"available"`
}

// Page is one page of results ordered by departure time.
type Page struct {
	Items    []Result `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// Search returns the schedules on the route and day that have at least
// MinSeats free seats in Class, or in total when Class is empty.
func (x *Index) Search(q Query) (Page, error) {
	if err := q.normalize(); err != nil {
		return Page{}, err
	}
	loc := q.Date.Location()
	y, m, d := q.Date.Date()

	x.mu.RLock()
	var matches []Result
	for _, e := range x.entries {
		s := e.schedule
		if s == nil || !strings.EqualFold(s.Origin, q.From) || !strings.EqualFold(s.Destination, q.To) {
			continue
		}
		dep := s.DepartsAt.In(loc)
		if dy, dm, dd := dep.Date(); dy != y || dm != m || dd != d || !q.TimeOfDay.matches(dep) {
			continue
		}
		avail := make(map[model.CarriageClass]int, len(e.free))
		total := 0
		for c, n := range e.free {
			if n < 0 {
				n = 0
			}
			avail[c] = n
			total += n
		}
		enough := total >= q.MinSeats
		if q.Class != "" {
			enough = avail[q.Class] >= q.MinSeats
		}
		if !enough {
			continue
		}
		matches = append(matches, Result{Schedule: s.Clone(), Available: avail})
	}
	x.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].Schedule, matches[j].Schedule
		if !a.DepartsAt.Equal(b.DepartsAt) {
			return a.DepartsAt.Before(b.DepartsAt)
		}
		return a.ID < b.ID
	})

	page := Page{Total: len(matches), Page: q.Page, PageSize: q.PageSize, Items: []Result{}}
	// compare page numbers before multiplying so a huge page cannot overflow
	if pages := (len(matches) + q.PageSize - 1) / q.PageSize; q.Page <= pages {
		from := (q.Page - 1) * q.PageSize
		to := from + q.PageSize
		if to > len(matches) {
			to = len(matches)
		}
		page.Items = matches[from:to]
	}
	return page, nil
}
