package storage

import (
	"context"
	"fmt"
	"strings"

	"Mansoor88-6/driver-agent/internal/config"
	"Mansoor88-6/driver-agent/internal/database"

	"go.uber.org/zap"
)

// Keys owned by the agent components. Each key is written by exactly one component.
const (
	KeyTripQueue    = "driverTripQueue"
	KeyTripCache    = "driverTripCache"
	KeyToken        = "jwtToken"
	KeyTrackedTrips = "trackedTrips"
	KeySummaryETag  = "driverSummaryEtag"
	KeySummaryCache = "driverSummaryCache"
)

// Store is the durable key-value storage the queue and caches are persisted in.
// Values are opaque strings read and written wholesale.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Open builds the store selected by cfg.Storage.Driver. db may be nil unless the driver is sqlite.
func Open(ctx context.Context, cfg *config.Config, db *database.DB, logger *zap.Logger) (Store, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite":
		if db == nil {
			return nil, nil, fmt.Errorf("sqlite store requires a database")
		}
		return NewSQLiteStore(db.DB, logger), noop, nil
	case "redis":
		rs, err := NewRedisStore(ctx, cfg.Storage.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	case "memory":
		return NewMemoryStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
