package infra

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Dependency status values reported by Check.
const (
	StatusOK     = "ok"
	StatusMemory = "memory"
)

const readinessTimeout = 2 * time.Second

// Readiness is the state of each backing store.
type Readiness struct {
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
}

// Ready reports whether the service can take logins. An in-memory account
// store counts as ready.
func (r Readiness) Ready() bool {
	return (r.Postgres == StatusOK || r.Postgres == StatusMemory) && r.Redis == StatusOK
}

// Check pings both stores. A nil pool means accounts are held in memory.
func Check(ctx context.Context, db *pgxpool.Pool, cache *redis.Client) Readiness {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	r := Readiness{Postgres: StatusMemory, Redis: StatusOK}
	if db != nil {
		r.Postgres = StatusOK
		if err := db.Ping(ctx); err != nil {
			r.Postgres = err.Error()
		}
	}
	if cache == nil {
		r.Redis = "not configured"
	} else if err := cache.Ping(ctx).Err(); err != nil {
		r.Redis = err.Error()
	}
	return r
}
