package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-reservation/internal/catalog"
)

// AdminHandler exposes the catalog write surface. Routes are mounted
// behind JWTAuth and RequireRole(ADMIN).
type AdminHandler struct {
	Catalog *catalog.Service
}

func NewAdminHandler(svc *catalog.Service) *AdminHandler { return &AdminHandler{Catalog: svc} }

// CreateTrain handles POST /v1/admin/trains.
func (h *AdminHandler) CreateTrain(c echo.Context) error {
	var body catalog.NewTrain
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	t, err := h.Catalog.CreateTrain(c.Request().Context(), body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// AddCarriage handles POST /v1/admin/trains/:id/carriages.
func (h *AdminHandler) AddCarriage(c echo.Context) error {
	var body catalog.NewCarriage
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	car, err := h.Catalog.AddCarriage(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, car)
}

// ListCarriages handles GET /v1/admin/trains/:id/carriages.
func (h *AdminHandler) ListCarriages(c echo.Context) error {
	list, err := h.Catalog.ListCarriages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": list})
}

type quotaRequest struct {
	Quota int `json:"quota" validate:"required,min=1,max=200"`
}

// UpdateCarriage handles PATCH /v1/admin/carriages/:id.
func (h *AdminHandler) UpdateCarriage(c echo.Context) error {
	var body quotaRequest
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	car, err := h.Catalog.UpdateCarriageQuota(c.Request().Context(), c.Param("id"), body.Quota)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, car)
}

// CreateSchedule handles POST /v1/admin/schedules.
func (h *AdminHandler) CreateSchedule(c echo.Context) error {
	var body catalog.NewSchedule
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	s, err := h.Catalog.CreateSchedule(c.Request().Context(), body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

type attachRequest struct {
	CarriageID string `json:"carriage_id" validate:"required"`
}

// AttachCarriage handles POST /v1/admin/schedules/:id/carriages.
func (h *AdminHandler) AttachCarriage(c echo.Context) error {
	var body attachRequest
	if err := bind(c, &body); err != nil {
		return fail(c, err)
	}
	s, seats, err := h.Catalog.AttachCarriageToSchedule(c.Request().Context(), c.Param("id"), body.CarriageID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"schedule": s, "seats_generated": len(seats)})
}

// ResetCarriage handles POST /v1/admin/schedules/:id/carriages/:carriage_id/reset.
func (h *AdminHandler) ResetCarriage(c echo.Context) error {
	seats, err := h.Catalog.ResetCarriageSeats(c.Request().Context(), c.Param("id"), c.Param("carriage_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": seats})
}
