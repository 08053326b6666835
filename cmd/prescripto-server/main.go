package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Vikaumar/Prescripto/internal/config"
	"github.com/Vikaumar/Prescripto/internal/domain/prescription"
	"github.com/Vikaumar/Prescripto/internal/domain/reminder"
	"github.com/Vikaumar/Prescripto/internal/platform/auth"
	"github.com/Vikaumar/Prescripto/internal/platform/db"
	"github.com/Vikaumar/Prescripto/internal/platform/jobs"
	"github.com/Vikaumar/Prescripto/internal/platform/middleware"
	"github.com/Vikaumar/Prescripto/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "prescripto-server",
		Short: "Medication reminder and adherence API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the dose sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (postgres store only)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver != config.StorePostgres {
		return nil, nil, fmt.Errorf("migrations apply to the %q store only, STORE_DRIVER is %q", config.StorePostgres, cfg.StoreDriver)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the dose sweep once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := cmd.Context()
			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.close()

			loc, _ := cfg.Location()
			svc := reminder.NewService(st.reminders, st.doses, loc, logger)
			res, err := reminder.NewSweeper(svc, cfg.SweepMissedAfter, logger).Run(ctx)

			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			return err
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// store bundles the repositories of the configured backend.
type store struct {
	reminders reminder.ReminderRepository
	doses     reminder.DoseRepository
	health    db.HealthCheck
	close     func()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := db.NewMongoClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		database := client.Database(cfg.MongoDatabase)
		if err := reminder.EnsureMongoIndexes(ctx, database); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("ensure mongodb indexes: %w", err)
		}
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongodb")
		return &store{
			reminders: reminder.NewReminderRepoMongo(database),
			doses:     reminder.NewDoseRepoMongo(database),
			health:    db.MongoCheck(client),
			close:     func() { _ = client.Disconnect(context.Background()) },
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info().Msg("connected to database")
		return &store{
			reminders: reminder.NewReminderRepoPG(pool),
			doses:     reminder.NewDoseRepoPG(pool),
			health:    db.PostgresCheck(pool),
			close:     pool.Close,
		}, nil
	}
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}

// authMiddleware verifies bearer tokens. In development requests without a
// token fall through to the dev identity.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}

	if cfg.IsDev() {
		if len(jwtCfg.SigningKey) == 0 && jwtCfg.JWKSURL == "" {
			return auth.DevAuthMiddleware(nil)
		}
		return auth.DevAuthMiddleware(auth.JWTMiddleware(jwtCfg))
	}
	return auth.JWTMiddleware(jwtCfg)
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

func newServer(cfg *config.Config, driver string, health db.HealthCheck, logger zerolog.Logger, handlers ...routeRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.ErrorReport())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(authMiddleware(cfg))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	for _, h := range handlers {
		h.RegisterRoutes(apiV1)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(driver, health))

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			Release:     "prescripto@" + version,
		}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed, error reporting disabled")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Storage
	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.close()

	loc, _ := cfg.Location()
	svc := reminder.NewService(st.reminders, st.doses, loc, logger)

	// Dose sweep
	sweeper := reminder.NewSweeper(svc, cfg.SweepMissedAfter, logger)
	runner := jobs.NewRunner(loc, logger)
	sweep := func(ctx context.Context) error {
		_, err := sweeper.Run(ctx)
		return err
	}
	if cfg.SweepSchedule != "" {
		if err := runner.Add("dose-sweep", cfg.SweepSchedule, sweep); err != nil {
			return err
		}
	}
	runner.RunNow("dose-sweep", sweep)
	runner.Start()

	// Prescription analysis
	var analyzer prescription.Analyzer
	if cfg.AIEnabled() {
		analyzer = prescription.NewOpenAIAnalyzer(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
		logger.Info().Str("model", cfg.AIModel).Msg("prescription analyzer enabled")
	}

	e := newServer(cfg, cfg.StoreDriver, st.health, logger,
		reminder.NewHandler(svc, logger),
		prescription.NewHandler(analyzer, loc, logger),
	)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("job runner did not stop cleanly")
	}
	logger.Info().Msg("server stopped")
	return nil
}
