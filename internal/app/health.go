package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/db/redis"
	"github.com/kailas-cloud/memex/internal/db/sqldb"
	"github.com/kailas-cloud/memex/internal/domain"
	healthuc "github.com/kailas-cloud/memex/internal/usecase/health"
	"github.com/kailas-cloud/memex/internal/vector"
)

// newHealth registers the metadata and vector stores as critical and the
// embedding provider and shared Redis as optional.
func newHealth(db *sqldb.DB, store vector.Store, embedder domain.Embedder, kv *redis.Store, logger *zap.Logger) *healthuc.Service {
	h := healthuc.New(logger).WithCritical("metadata", healthuc.CheckFunc(db.Ping))

	if p, ok := store.(vector.Pinger); ok {
		h.WithCritical("vector", healthuc.CheckFunc(p.Ping))
	} else {
		h.WithCritical("vector", healthuc.CheckFunc(func(context.Context) error { return nil }))
	}
	if hc, ok := embedder.(domain.HealthChecker); ok {
		h.WithOptional("embedding", hc)
	}
	if kv != nil {
		h.WithOptional("redis", healthuc.CheckFunc(kv.Ping))
	}
	return h
}
