package model

import "time"

// HoldStatus is the lifecycle state of a hold. Every status other than
// HoldActive is terminal.
type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"
	HoldConfirmed HoldStatus = "CONFIRMED"
	HoldReleased  HoldStatus = "RELEASED"
	HoldExpired   HoldStatus = "EXPIRED"
)

// Terminal reports whether the hold has reached its single final outcome.
func (s HoldStatus) Terminal() bool { return s != HoldActive }

// Hold is a time-limited exclusive claim over one or more seats of one
// schedule. The seats record the hold id as their owner while it is active.
type Hold struct {
	ID         string      `json:"id"`
	ScheduleID string      `json:"schedule_id"`
	SeatIDs    []string    `json:"seat_ids"`
	OwnerID    string      `json:"owner_id"` // booking-attempt / session identifier
	Passengers []Passenger `json:"passengers,omitempty"`
	Status     HoldStatus  `json:"status"`
	BookingID  string      `json:"booking_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

// Expired reports whether the hold's TTL has elapsed at now.
func (h *Hold) Expired(now time.Time) bool { return !now.Before(h.ExpiresAt) }

// Clone returns a deep copy of h.
func (h *Hold) Clone() *Hold {
	out := *h
	out.SeatIDs = append([]string(nil), h.SeatIDs...)
	out.Passengers = append([]Passenger(nil), h.Passengers...)
	if h.ResolvedAt != nil {
		t := *h.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}
