package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&model.SeatUnavailableError{ScheduleID: "s", SeatIDs: []string{"1-1A"}}, http.StatusConflict},
		{&inventory.ConflictError{ScheduleID: "s", SeatIDs: []string{"1-1A"}}, http.StatusConflict},
		{fmt.Errorf("confirm: %w", model.ErrHoldExpired), http.StatusGone},
		{model.ErrHoldNotFound, http.StatusNotFound},
		{fmt.Errorf("schedule x: %w", model.ErrNotFound), http.StatusNotFound},
		{model.Invalid("seat_ids", "empty"), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func TestFailBodies(t *testing.T) {
	e := echo.New()
	render := func(err error) (int, map[string]any) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		require.NoError(t, fail(c, err))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := render(&model.SeatUnavailableError{ScheduleID: "s", SeatIDs: []string{"1-1A"}})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "seat_unavailable", body["error"])
	assert.Equal(t, []any{"1-1A"}, body["unavailable"])

	code, body = render(errors.New("dsn user:password@tcp"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", body["message"])

	_, body = render(model.Invalid("date", "bad"))
	assert.Equal(t, "date", body["field"])
}

func TestValidatorReportsJSONFieldNames(t *testing.T) {
	v := NewValidator()
	err := v.Validate(&startHoldRequest{SeatIDs: []string{"1-1A"}, Passengers: []model.Passenger{{Name: ""}}})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "passengers[0].name", ve.Field)

	assert.NoError(t, v.Validate(&startHoldRequest{SeatIDs: []string{"1-1A"}, Passengers: []model.Passenger{{Name: "Ana"}}}))
}
