// Package handler exposes the booking core over HTTP. Handlers translate
// requests into core operations and core errors into status codes; they
// hold no business rules of their own.
package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// Validator adapts validator/v10 to echo.Validator.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i any) error {
	if err := cv.v.Struct(i); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			field := fe.Namespace()
			if i := strings.IndexByte(field, '.'); i >= 0 {
				field = field[i+1:]
			}
			return model.Invalid(field, "failed %q validation", fe.Tag())
		}
		return model.Invalid("body", "%v", err)
	}
	return nil
}

// bind decodes the request body into dst and validates it.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return model.Invalid("body", "invalid request body")
	}
	return c.Validate(dst)
}

// statusOf maps core errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrSeatUnavailable), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrHoldExpired):
		return http.StatusGone
	case errors.Is(err, model.ErrHoldNotFound), errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func codeOf(status int) string {
	switch status {
	case http.StatusConflict:
		return "conflict"
	case http.StatusGone:
		return "hold_expired"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "validation_failed"
	}
	return "internal_error"
}

// fail writes err as JSON. Internal errors are logged and hidden from the
// client.
func fail(c echo.Context, err error) error {
	status := statusOf(err)
	body := echo.Map{"error": codeOf(status)}
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		body["message"] = "internal error"
		return c.JSON(status, body)
	}
	body["message"] = err.Error()

	var su *model.SeatUnavailableError
	var ce *inventory.ConflictError
	var ve *model.ValidationError
	switch {
	case errors.As(err, &su):
		body["error"] = "seat_unavailable"
		body["unavailable"] = su.SeatIDs
	case errors.As(err, &ce):
		body["seats"] = ce.SeatIDs
	case errors.As(err, &ve):
		body["field"] = ve.Field
	}
	return c.JSON(status, body)
}
