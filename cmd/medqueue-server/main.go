package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/medqueue/medqueue/internal/config"
	"github.com/medqueue/medqueue/internal/domain/directory"
	"github.com/medqueue/medqueue/internal/domain/scheduling"
	"github.com/medqueue/medqueue/internal/platform/auth"
	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/internal/platform/middleware"
	"github.com/medqueue/medqueue/internal/platform/notification"
	"github.com/medqueue/medqueue/internal/platform/validation"
	"github.com/medqueue/medqueue/internal/platform/websocket"
	"github.com/medqueue/medqueue/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medqueue-server",
		Short: "Hospital schedule and queue API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// migrationFiles returns the embedded migrations, or dir when one is given.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations (Postgres) or create indexes (Mongo)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)
			ctx := context.Background()

			if cfg.StoreDriver == config.DriverMongo {
				client, err := db.NewMongoClient(ctx, cfg.MongoURL)
				if err != nil {
					return err
				}
				defer client.Disconnect(context.Background())

				specs := append(directory.IndexSpecs(), scheduling.IndexSpecs()...)
				if err := db.EnsureIndexes(ctx, client.Database(cfg.MongoDatabase), specs...); err != nil {
					return fmt.Errorf("ensure indexes: %w", err)
				}
				fmt.Printf("Ensured indexes on %d collection(s) in %s.\n", len(specs), cfg.MongoDatabase)
				return nil
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.DriverPostgres {
				fmt.Printf("STORE_DRIVER=%s has no SQL migrations; run \"migrate up\" to ensure indexes.\n", cfg.StoreDriver)
				return nil
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, newLogger(cfg.Env))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
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
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

// stores holds the repositories of the configured driver.
type stores struct {
	polyclinics directory.PolyclinicRepository
	doctors     directory.DoctorRepository
	patients    directory.PatientRepository
	schedules   scheduling.ScheduleRepository
	queues      scheduling.QueueRepository
	health      db.Checker
	close       func()
}

func postgresStores(pool *pgxpool.Pool) *stores {
	return &stores{
		polyclinics: directory.NewPolyclinicRepoPG(pool),
		doctors:     directory.NewDoctorRepoPG(pool),
		patients:    directory.NewPatientRepoPG(pool),
		schedules:   scheduling.NewScheduleRepoPG(pool),
		queues:      scheduling.NewQueueRepoPG(pool),
		health:      db.PostgresChecker(pool),
		close:       pool.Close,
	}
}

func mongoStores(client *mongo.Client, database string) *stores {
	mdb := client.Database(database)
	return &stores{
		polyclinics: directory.NewPolyclinicRepoMongo(mdb),
		doctors:     directory.NewDoctorRepoMongo(mdb),
		patients:    directory.NewPatientRepoMongo(mdb),
		schedules:   scheduling.NewScheduleRepoMongo(client, mdb),
		queues:      scheduling.NewQueueRepoMongo(client, mdb),
		health:      db.MongoChecker(client),
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		},
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := db.NewMongoClient(ctx, cfg.MongoURL)
		if err != nil {
			return nil, err
		}
		return mongoStores(client, cfg.MongoDatabase), nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
		if err != nil {
			return nil, err
		}
		return postgresStores(pool), nil
	}
}

// newNotifier publishes through Redis when REDIS_URL is set so that every
// instance's websocket clients see each event. The returned relay is nil
// for the in-process notifier.
func newNotifier(ctx context.Context, cfg *config.Config, hub *websocket.Hub, logger zerolog.Logger) (notification.Notifier, *notification.Relay, func(), error) {
	if cfg.RedisURL == "" {
		return notification.NewHubNotifier(hub, notification.QueueRoom), nil, func() {}, nil
	}
	client, err := notification.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	notifier := notification.NewRedisNotifier(client, cfg.NotifyChannel, notification.QueueRoom, hub)
	relay := notification.NewRelay(client, cfg.NotifyChannel, notifier.Origin(), hub, logger)
	return notifier, relay, func() { _ = client.Close() }, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to connect to store")
	}
	defer st.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to store")

	// Notifications
	hub := websocket.NewHub(logger)
	notifier, relay, closeNotifier, err := newNotifier(ctx, cfg, hub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeNotifier()
	if relay != nil {
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("notification relay stopped")
			}
		}()
	}

	// Services
	directorySvc := directory.NewService(st.polyclinics, st.doctors, st.patients)
	scheduleSvc := scheduling.NewService(st.schedules, st.queues, directorySvc, loc)
	booking := scheduling.NewBooking(st.queues, directorySvc, notifier, logger, loc)

	e := newEcho(cfg, logger)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.health))
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group("", socketAuthMiddleware(cfg)))

	apiV1 := e.Group("/api/v1", authMiddleware(cfg))
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	directory.NewHandler(directorySvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(scheduleSvc, booking).RegisterRoutes(apiV1)

	// Start server
	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	booking.Wait()
	return nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.Audit(logger))
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	return jwtMiddleware(cfg, auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: []byte(cfg.JWTSecret)})
}

// socketAuthMiddleware also accepts ?token= since browsers cannot set
// headers on a websocket handshake.
func socketAuthMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	return jwtMiddleware(cfg, auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSecret),
		QueryParam: "token",
	})
}

func jwtMiddleware(cfg *config.Config, jwtCfg auth.JWTConfig) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}
