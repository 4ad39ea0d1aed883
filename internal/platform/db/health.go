package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Checker pings one backing store.
type Checker interface {
	Name() string
	Ping(ctx context.Context) error
	Details() interface{}
}

type pgChecker struct{ pool *pgxpool.Pool }

// PostgresChecker reports pool statistics alongside the ping result.
func PostgresChecker(pool *pgxpool.Pool) Checker { return pgChecker{pool: pool} }

func (p pgChecker) Name() string                   { return "postgres" }
func (p pgChecker) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }
func (p pgChecker) Details() interface{}           { return GetPoolStats(p.pool) }

type mongoChecker struct{ client *mongo.Client }

func MongoChecker(client *mongo.Client) Checker { return mongoChecker{client: client} }

func (m mongoChecker) Name() string { return "mongo" }
func (m mongoChecker) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
func (m mongoChecker) Details() interface{} {
	return map[string]int{"sessions_in_progress": m.client.NumberSessionsInProgress()}
}

// HealthHandler returns a handler for the store health check endpoint.
func HealthHandler(checker Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := checker.Ping(ctx)
		body := map[string]interface{}{
			"store":   checker.Name(),
			"details": checker.Details(),
		}

		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		body["status"] = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}
