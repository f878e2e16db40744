package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cobra"

	"github.com/iliyamo/train-seat-reservation/internal/app"
	"github.com/iliyamo/train-seat-reservation/internal/auth"
	"github.com/iliyamo/train-seat-reservation/internal/config"
	"github.com/iliyamo/train-seat-reservation/internal/database"
	"github.com/iliyamo/train-seat-reservation/internal/queue"
)

const serviceName = "train-seat-reservation"

var envFile string

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Train seat inventory and reservation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.AddCommand(serveCmd(), migrateCmd(), adminTokenCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) log.Logger {
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service", serviceName,
	)
	return log.NewFilter(logger, log.FilterLevel(log.ParseLevel(cfg.LogLevel)))
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if cfg.StoreDriver != config.DriverMySQL {
		return nil, nil
	}
	return database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the hold sweeper and the optional audit consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			helper := log.NewHelper(log.With(logger, "module", "main"))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDB(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if db != nil {
				defer db.Close()
				if migrate {
					if err := database.Migrate(ctx, db); err != nil {
						return err
					}
				}
			}

			rdb := config.NewRedisClient()
			if rdb == nil {
				helper.Warn("redis unavailable: response cache off, rate limiting per process")
			} else {
				defer rdb.Close()
			}

			deps := app.Deps{DB: db, Redis: rdb}
			if cfg.EventsEnabled {
				deps.Publisher = queue.NewPublisher(cfg.RabbitMQURL, logger)
			}
			a, err := app.New(cfg, logger, deps)
			if err != nil {
				return err
			}
			if err := a.Restore(ctx); err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving (mysql driver only)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the MySQL tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.DriverMySQL {
				return fmt.Errorf("migrate requires STORE_DRIVER=mysql, got %q", cfg.StoreDriver)
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.NewHelper(newLogger(cfg)).Infof("applied %d schema statements", len(database.Schema))
			return nil
		},
	}
}

func adminTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Print a signed ADMIN token for the catalog routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.AdminTokenTTL
			}
			tok, err := auth.NewAccessToken(cfg.JWTSecret, subject, auth.RoleAdmin, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.Exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ADMIN_TOKEN_TTL)")
	return cmd
}
