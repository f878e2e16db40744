package model

import (
	"fmt"
	"time"
)

// SeatStatus is the allocation state of a seat on a schedule.
type SeatStatus string

const (
	SeatFree   SeatStatus = "FREE"
	SeatHeld   SeatStatus = "HELD"
	SeatBooked SeatStatus = "BOOKED"
)

// SeatPosition describes where a seat sits relative to the aisle.
type SeatPosition string

const (
	PositionWindow SeatPosition = "WINDOW"
	PositionAisle  SeatPosition = "AISLE"
	PositionMiddle SeatPosition = "MIDDLE"
)

// Seat is the unit of allocation and of locking. OwnerID is empty for a free
// seat, the hold id for a held seat and the booking id for a booked seat.
//
// Fields:
//  SeatID   – unique within the schedule, "<carriage number>-<code>".
//  Code     – unique within the carriage, "<row><column letter>".
//  Version  – bumped on every status change.
type Seat struct {
	ScheduleID string        `json:"schedule_id"`
	SeatID     string        `json:"seat_id"`
	CarriageID string        `json:"carriage_id"`
	CarriageNo int           `json:"carriage_no"`
	Code       string        `json:"code"`
	Row        int           `json:"row"`
	Column     int           `json:"column"`
	Position   SeatPosition  `json:"position"`
	Class      CarriageClass `json:"class"`
	Status     SeatStatus    `json:"status"`
	OwnerID    string        `json:"-"`
	Version    uint32        `json:"version"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// SeatKey builds the schedule-wide seat id for a seat code in a carriage.
func SeatKey(carriageNo int, code string) string {
	return fmt.Sprintf("%d-%s", carriageNo, code)
}
