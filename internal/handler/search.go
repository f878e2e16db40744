package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-reservation/internal/availability"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// SeatReader reads a schedule's seat map.
type SeatReader interface {
	Seats(ctx context.Context, scheduleID string) ([]model.Seat, error)
}

// ScheduleReader looks up schedules.
type ScheduleReader interface {
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
}

// SearchHandler serves the anonymous browse endpoints.
type SearchHandler struct {
	Index     *availability.Index
	Schedules ScheduleReader
	Seats     SeatReader
	Location  *time.Location
}

func NewSearchHandler(index *availability.Index, schedules ScheduleReader, seats SeatReader, loc *time.Location) *SearchHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &SearchHandler{Index: index, Schedules: schedules, Seats: seats, Location: loc}
}

// Search handles GET /v1/search?from=&to=&date=YYYY-MM-DD&class=&min_seats=&time=&page=&page_size=.
func (h *SearchHandler) Search(c echo.Context) error {
	q := availability.Query{
		From:      c.QueryParam("from"),
		To:        c.QueryParam("to"),
		TimeOfDay: availability.TimeOfDay(strings.ToLower(strings.TrimSpace(c.QueryParam("time")))),
	}
	if raw := strings.TrimSpace(c.QueryParam("date")); raw != "" {
		d, err := time.ParseInLocation(time.DateOnly, raw, h.Location)
		if err != nil {
			return fail(c, model.Invalid("date", "expected YYYY-MM-DD"))
		}
		q.Date = d
	}
	if raw := strings.TrimSpace(c.QueryParam("class")); raw != "" {
		class, err := model.ParseCarriageClass(raw)
		if err != nil {
			return fail(c, err)
		}
		q.Class = class
	}
	q.MinSeats, _ = strconv.Atoi(c.QueryParam("min_seats"))
	q.Page, _ = strconv.Atoi(c.QueryParam("page"))
	q.PageSize, _ = strconv.Atoi(c.QueryParam("page_size"))

	page, err := h.Index.Search(q)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":      page.Items,
		"total":     page.Total,
		"page":      page.Page,
		"page_size": page.PageSize,
	})
}

// GetSchedule handles GET /v1/schedules/:id.
func (h *SearchHandler) GetSchedule(c echo.Context) error {
	s, err := h.Schedules.GetSchedule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"schedule":  s,
		"available": h.Index.Available(s.ID),
	})
}

type seatRow struct {
	Row   int          `json:"row"`
	Seats []model.Seat `json:"seats"`
}

type carriageMap struct {
	Number int                 `json:"number"`
	Class  model.CarriageClass `json:"class"`
	Free   int                 `json:"free"`
	Rows   []seatRow           `json:"rows"`
}

// GetSeats handles GET /v1/schedules/:id/seats. Seats are grouped by
// carriage and row. ?carriage=N limits the map to one carriage and
// ?status=FREE|HELD|BOOKED filters seats.
func (h *SearchHandler) GetSeats(c echo.Context) error {
	scheduleID := c.Param("id")
	ctx := c.Request().Context()
	if _, err := h.Schedules.GetSchedule(ctx, scheduleID); err != nil {
		return fail(c, err)
	}

	carriageNo := 0
	if raw := c.QueryParam("carriage"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fail(c, model.Invalid("carriage", "must be a positive number"))
		}
		carriageNo = n
	}
	status := model.SeatStatus(strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))))
	switch status {
	case "", model.SeatFree, model.SeatHeld, model.SeatBooked:
	default:
		return fail(c, model.Invalid("status", "unknown seat status %q", status))
	}

	seats, err := h.Seats.Seats(ctx, scheduleID)
	if err != nil {
		return fail(c, err)
	}

	// Seats arrive ordered by carriage, row, column.
	var out []carriageMap
	for _, s := range seats {
		if carriageNo != 0 && s.CarriageNo != carriageNo {
			continue
		}
		if len(out) == 0 || out[len(out)-1].Number != s.CarriageNo {
			out = append(out, carriageMap{Number: s.CarriageNo, Class: s.Class})
		}
		cm := &out[len(out)-1]
		if s.Status == model.SeatFree {
			cm.Free++
		}
		if status != "" && s.Status != status {
			continue
		}
		if len(cm.Rows) == 0 || cm.Rows[len(cm.Rows)-1].Row != s.Row {
			cm.Rows = append(cm.Rows, seatRow{Row: s.Row})
		}
		r := &cm.Rows[len(cm.Rows)-1]
		r.Seats = append(r.Seats, s)
	}
	if out == nil {
		out = []carriageMap{}
	}
	return c.JSON(http.StatusOK, echo.Map{"schedule_id": scheduleID, "carriages": out})
}
