package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/train-seat-reservation/internal/auth"
	"github.com/iliyamo/train-seat-reservation/internal/config"
	"github.com/iliyamo/train-seat-reservation/internal/handler"
	"github.com/iliyamo/train-seat-reservation/internal/middleware"
)

// Deps bundles what the routes need. Redis may be nil, in which case the
// response cache is off and rate limiting is per process.
type Deps struct {
	Search    *handler.SearchHandler
	Bookings  *handler.BookingHandler
	Admin     *handler.AdminHandler
	JWTSecret string
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
}

// New builds the echo instance with the shared middleware chain.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Metrics())
	e.Use(echomw.LoggerWithConfig(echomw.LoggerConfig{Skipper: func(c echo.Context) bool {
		return c.Path() == "/healthz" || c.Path() == "/metrics"
	}}))
	return e
}

// RegisterRoutes registers routes that need no authentication or rate
// limiting.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers the anonymous browse and booking endpoints
// under /v1. Passengers identify themselves with X-Session-ID.
func RegisterPublic(e *echo.Echo, d Deps) {
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)
	cache := middleware.NewRedisCache(d.Cache, d.Redis)

	v1 := e.Group("/v1", limit)
	v1.GET("/search", d.Search.Search, cache)
	v1.GET("/schedules/:id", d.Search.GetSchedule, cache)
	// The seat map has its own short-lived snapshot cache behind the reader.
	v1.GET("/schedules/:id/seats", d.Search.GetSeats)

	v1.POST("/schedules/:id/holds", d.Bookings.StartHold)
	v1.GET("/holds/:id", d.Bookings.GetHold)
	v1.DELETE("/holds/:id", d.Bookings.ReleaseHold)
	v1.POST("/holds/:id/confirm", d.Bookings.Confirm)
	v1.GET("/bookings/:id", d.Bookings.GetBooking)
	v1.DELETE("/bookings/:id", d.Bookings.CancelBooking)
}

// RegisterAdmin registers the catalog routes under /v1/admin. Every route
// requires a valid JWT with the ADMIN role.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/v1/admin", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole(auth.RoleAdmin))
	g.POST("/trains", d.Admin.CreateTrain)
	g.POST("/trains/:id/carriages", d.Admin.AddCarriage)
	g.GET("/trains/:id/carriages", d.Admin.ListCarriages)
	g.PATCH("/carriages/:id", d.Admin.UpdateCarriage)
	g.POST("/schedules", d.Admin.CreateSchedule)
	g.POST("/schedules/:id/carriages", d.Admin.AttachCarriage)
	g.POST("/schedules/:id/carriages/:carriage_id/reset", d.Admin.ResetCarriage)
}

// Register wires every route group.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e)
	RegisterPublic(e, d)
	RegisterAdmin(e, d)
}
