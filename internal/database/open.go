package database

import (
	"context"
	"fmt"

	"github.com/bryan-buckman/instarelay/internal/config"
)

// Open returns the backend selected by cfg.DBDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite, "":
		return New(cfg.DBPath)
	case config.DriverPostgres:
		return NewPostgres(cfg.DatabaseURL)
	case config.DriverRedis:
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}
