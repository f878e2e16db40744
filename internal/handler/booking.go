package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-reservation/internal/hold"
	"github.com/iliyamo/train-seat-reservation/internal/middleware"
	"github.com/iliyamo/train-seat-reservation/internal/model"
	"github.com/iliyamo/train-seat-reservation/internal/reservation"
)

// BookingHandler drives the hold, confirm and cancel flow. Holds and
// bookings are visible only to the session that created them; other
// sessions get 404.
type BookingHandler struct {
	Engine *reservation.Engine
	Holds  *hold.Manager
}

func NewBookingHandler(engine *reservation.Engine, holds *hold.Manager) *BookingHandler {
	return &BookingHandler{Engine: engine, Holds: holds}
}

type startHoldRequest struct {
	SeatIDs    []string          `json:"seat_ids" validate:"required,min=1,max=8,dive,required"`
	Passengers []model.Passenger `json:"passengers" validate:"required,min=1,max=8,dive"`
}

// StartHold handles POST /v1/schedules/:id/holds.
func (h *BookingHandler) StartHold(c echo.Context) error {
	var body startHoldRequest
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	held, err := h.Engine.StartBooking(c.Request().Context(), reservation.StartRequest{
		ScheduleID: c.Param("id"),
		SeatIDs:    body.SeatIDs,
		Passengers: body.Passengers,
		SessionID:  middleware.SessionID(c),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, held)
}

// ownHold loads the hold and hides it from other sessions.
func (h *BookingHandler) ownHold(c echo.Context) (*model.Hold, error) {
	id := c.Param("id")
	held, err := h.Holds.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if held.OwnerID != middleware.SessionID(c) {
		return nil, fmt.Errorf("hold %s: %w", id, model.ErrHoldNotFound)
	}
	return held, nil
}

// GetHold handles GET /v1/holds/:id.
func (h *BookingHandler) GetHold(c echo.Context) error {
	held, err := h.ownHold(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, held)
}

// ReleaseHold handles DELETE /v1/holds/:id. Releasing a hold that already
// ended is not an error.
func (h *BookingHandler) ReleaseHold(c echo.Context) error {
	held, err := h.ownHold(c)
	if err != nil {
		return fail(c, err)
	}
	outcome, err := h.Holds.ReleaseHold(c.Request().Context(), held.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"hold_id": held.ID, "outcome": outcome.String()})
}

// Confirm handles POST /v1/holds/:id/confirm. It is called once payment
// has been captured and is safe to retry.
func (h *BookingHandler) Confirm(c echo.Context) error {
	held, err := h.ownHold(c)
	if err != nil {
		return fail(c, err)
	}
	b, err := h.Engine.ConfirmBooking(c.Request().Context(), held.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *BookingHandler) ownBooking(c echo.Context) (*model.Booking, error) {
	id := c.Param("id")
	b, err := h.Engine.GetBooking(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != middleware.SessionID(c) {
		return nil, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	return b, nil
}

// GetBooking handles GET /v1/bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	b, err := h.ownBooking(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// CancelBooking handles DELETE /v1/bookings/:id. Cancelling twice returns
// the cancelled booking both times.
func (h *BookingHandler) CancelBooking(c echo.Context) error {
	b, err := h.ownBooking(c)
	if err != nil {
		return fail(c, err)
	}
	b, err = h.Engine.CancelBooking(c.Request().Context(), b.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
