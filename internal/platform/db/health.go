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

const healthTimeout = 5 * time.Second

// HealthCheck pings a store and returns driver-specific details for the
// health response.
type HealthCheck func(ctx context.Context) (details interface{}, err error)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

func PostgresCheck(pool *pgxpool.Pool) HealthCheck {
	return func(ctx context.Context) (interface{}, error) {
		err := pool.Ping(ctx)
		return GetPoolStats(pool), err
	}
}

func MongoCheck(client *mongo.Client) HealthCheck {
	return func(ctx context.Context) (interface{}, error) {
		start := time.Now()
		err := client.Ping(ctx, readpref.Primary())
		return map[string]string{"ping": time.Since(start).String()}, err
	}
}

// HealthHandler serves /health/db: 200 when check succeeds, 503 otherwise.
func HealthHandler(driver string, check HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		details, err := check(ctx)
		body := map[string]interface{}{
			"status": "healthy",
			"driver": driver,
			driver:   details,
		}
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
