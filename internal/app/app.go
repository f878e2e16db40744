// Package app assembles the reservation core, its stores and the HTTP
// surface from configuration, and runs the long-lived workers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/train-seat-reservation/internal/availability"
	"github.com/iliyamo/train-seat-reservation/internal/catalog"
	"github.com/iliyamo/train-seat-reservation/internal/config"
	"github.com/iliyamo/train-seat-reservation/internal/handler"
	"github.com/iliyamo/train-seat-reservation/internal/hold"
	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/layout"
	"github.com/iliyamo/train-seat-reservation/internal/model"
	"github.com/iliyamo/train-seat-reservation/internal/queue"
	"github.com/iliyamo/train-seat-reservation/internal/reservation"
	"github.com/iliyamo/train-seat-reservation/internal/router"
)

// Deps are the external resources. DB is required for the mysql driver;
// Redis and Publisher are optional.
type Deps struct {
	DB        *sql.DB
	Redis     *redis.Client
	Publisher reservation.EventPublisher
	Now       func() time.Time
}

type App struct {
	Config   config.Config
	Store    inventory.Store
	Index    *availability.Index
	Holds    *hold.Manager
	Sweeper  *hold.Sweeper
	Engine   *reservation.Engine
	Catalog  *catalog.Service
	Echo     *echo.Echo
	Consumer *queue.AuditConsumer

	log *log.Helper
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// New wires every component. Nothing is started.
func New(cfg config.Config, logger log.Logger, d Deps) (*App, error) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Publisher == nil {
		d.Publisher = nopPublisher{}
	}
	rules, err := layout.LoadRules(cfg.LayoutRulesFile)
	if err != nil {
		return nil, fmt.Errorf("layout rules: %w", err)
	}

	var (
		store    inventory.Store
		holdRepo hold.Repository
		bookRepo reservation.Repository
		catRepo  catalog.Repository
	)
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		if d.DB == nil {
			return nil, errors.New("mysql driver selected without a database handle")
		}
		store = inventory.NewMySQLStore(d.DB, d.Now)
		holdRepo = hold.NewMySQLRepository(d.DB)
		bookRepo = reservation.NewMySQLRepository(d.DB)
		catRepo = catalog.NewMySQLRepository(d.DB)
	default:
		store = inventory.NewMemoryStore(d.Now)
		holdRepo = hold.NewMemoryRepository()
		bookRepo = reservation.NewMemoryRepository()
		catRepo = catalog.NewMemoryRepository()
	}

	a := &App{Config: cfg, Store: store, log: log.NewHelper(log.With(logger, "module", "app"))}

	a.Index = availability.NewIndex()
	store.Subscribe(a.Index)
	seats := inventory.NewCachedReader(store, d.Redis, cfg.SeatSnapshotTTL, logger)

	a.Holds = hold.NewManager(store, holdRepo, hold.Config{
		TTL:             cfg.HoldTTL,
		SweepInterval:   cfg.SweepInterval,
		SweepBatch:      cfg.SweepBatch,
		MaxSweepRetries: cfg.MaxSweepRetries,
	}, logger, hold.WithClock(d.Now), hold.WithBookingLookup(func(ctx context.Context, holdID string) (string, error) {
		b, err := bookRepo.GetByHold(ctx, holdID)
		if errors.Is(err, model.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return b.ID, nil
	}), hold.WithExpiryHook(func(ctx context.Context, h *model.Hold) {
		ev := queue.HoldExpiredEvent{
			HoldID:     h.ID,
			ScheduleID: h.ScheduleID,
			OwnerID:    h.OwnerID,
			SeatIDs:    h.SeatIDs,
			ExpiredAt:  d.Now().UTC().Format(time.RFC3339),
		}
		if err := d.Publisher.Publish(ctx, queue.TopicHoldExpired, ev); err != nil {
			a.log.Warnf("publish %s: %v", queue.TopicHoldExpired, err)
		}
	}))
	a.Sweeper = hold.NewSweeper(a.Holds, cfg.SweepInterval, logger)
	a.Engine = reservation.NewEngine(store, a.Holds, bookRepo, logger,
		reservation.WithClock(d.Now), reservation.WithPublisher(d.Publisher))
	a.Catalog = catalog.NewService(catRepo, store, layout.NewGenerator(store, rules, logger), a.Index, logger,
		catalog.WithClock(d.Now))

	if cfg.ConsumerEnabled {
		a.Consumer = queue.NewAuditConsumer(cfg.RabbitMQURL, cfg.AuditLogDir, logger)
	}

	a.Echo = router.New()
	router.Register(a.Echo, router.Deps{
		Search:    handler.NewSearchHandler(a.Index, a.Catalog, seats, time.UTC),
		Bookings:  handler.NewBookingHandler(a.Engine, a.Holds),
		Admin:     handler.NewAdminHandler(a.Catalog),
		JWTSecret: cfg.JWTSecret,
		Redis:     d.Redis,
		RateLimit: cfg.RateLimit,
		Cache:     cfg.Cache,
	})
	return a, nil
}

// Restore reloads the expiry queue from active holds and seeds the
// availability index from the store. Call it once before serving.
func (a *App) Restore(ctx context.Context) error {
	n, err := a.Holds.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover holds: %w", err)
	}
	schedules, err := a.Catalog.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	if err := a.Index.Rebuild(ctx, a.Store, schedules); err != nil {
		return fmt.Errorf("rebuild availability: %w", err)
	}
	a.log.Infof("restored %d active holds and %d schedules", n, len(schedules))
	return nil
}

// Run serves HTTP and runs the sweeper and the optional audit consumer
// until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Sweeper.Run(ctx) })
	if a.Consumer != nil {
		g.Go(func() error { return a.Consumer.Run(ctx) })
	}

	addr := ":" + a.Config.Port
	g.Go(func() error {
		a.log.Infof("listening on %s (env=%s, store=%s)", addr, a.Config.Env, a.Config.StoreDriver)
		if err := a.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
