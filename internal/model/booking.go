package model

import "time"

// BookingStatus is the state of a durable booking.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Passenger is the traveller assigned to one seat of a booking.
type Passenger struct {
	Name       string `json:"name" validate:"required,max=120"`
	DocumentID string `json:"document_id,omitempty" validate:"max=64"`
}

// BookedSeat maps exactly one seat to exactly one passenger.
type BookedSeat struct {
	SeatID    string    `json:"seat_id"`
	Passenger Passenger `json:"passenger"`
}

// Booking is created only by confirming a live hold and changes afterwards
// only through cancellation.
type Booking struct {
	ID          string        `json:"id"`
	Reference   string        `json:"reference"`
	ScheduleID  string        `json:"schedule_id"`
	HoldID      string        `json:"hold_id"`
	OwnerID     string        `json:"owner_id"`
	Seats       []BookedSeat  `json:"seats"`
	Status      BookingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
}

// SeatIDs returns the booked seat ids in booking order.
func (b *Booking) SeatIDs() []string {
	out := make([]string, len(b.Seats))
	for i, s := range b.Seats {
		out[i] = s.SeatID
	}
	return out
}

// Clone returns a deep copy of b.
func (b *Booking) Clone() *Booking {
	out := *b
	out.Seats = append([]BookedSeat(nil), b.Seats...)
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		out.CancelledAt = &t
	}
	return &out
}
