// Package queue carries booking lifecycle events over RabbitMQ and keeps
// an audit trail of them.
package queue

// Queue names. Each event type has its own durable queue.
const (
	TopicBookingConfirmed = "booking.confirmed"
	TopicBookingCancelled = "booking.cancelled"
	TopicHoldExpired      = "hold.expired"
)

// BookingConfirmedEvent is published when a hold is converted into a
// booking. It carries enough for downstream consumers to log or notify
// without querying the reservation store.
type BookingConfirmedEvent struct {
	BookingID   string   `json:"booking_id"`
	Reference   string   `json:"reference"`
	ScheduleID  string   `json:"schedule_id"`
	HoldID      string   `json:"hold_id"`
	OwnerID     string   `json:"owner_id"`
	SeatIDs     []string `json:"seats"`
	Passengers  []string `json:"passengers"`
	ConfirmedAt string   `json:"confirmed_at"`
}

// BookingCancelledEvent is published once per booking, on the call that
// actually cancels it.
type BookingCancelledEvent struct {
	BookingID   string   `json:"booking_id"`
	Reference   string   `json:"reference"`
	ScheduleID  string   `json:"schedule_id"`
	SeatIDs     []string `json:"seats"`
	CancelledAt string   `json:"cancelled_at"`
}

// HoldExpiredEvent is published when the sweep reclaims an abandoned hold.
type HoldExpiredEvent struct {
	HoldID     string   `json:"hold_id"`
	ScheduleID string   `json:"schedule_id"`
	OwnerID    string   `json:"owner_id"`
	SeatIDs    []string `json:"seats"`
	ExpiredAt  string   `json:"expired_at"`
}
