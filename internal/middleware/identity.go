package middleware

// identity.go resolves who is calling. Passengers are anonymous and send
// an opaque X-Session-ID; admins are identified by their token subject.

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// HeaderSessionID carries the passenger's booking session.
const HeaderSessionID = "X-Session-ID"

const maxSessionIDLen = 64

// SessionID returns the caller's session id, falling back to the token
// subject and finally to "anon".
func SessionID(c echo.Context) string {
	if s := strings.TrimSpace(c.Request().Header.Get(HeaderSessionID)); s != "" {
		if len(s) > maxSessionIDLen {
			s = s[:maxSessionIDLen]
		}
		return s
	}
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
