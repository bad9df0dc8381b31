package courier

import (
	"log/slog"
	"os"

	"github.com/supermarkhq/courier/store"
	"github.com/supermarkhq/courier/store/noop"
	"github.com/supermarkhq/courier/store/redis"
	"github.com/supermarkhq/courier/store/sqlite"
)

// Environment variables consulted by OpenStoreFromEnv, in priority order.
const (
	// EnvRedisURL selects the Redis backend.
	EnvRedisURL = "COURIER_REDIS_URL"

	// EnvRedisURLFallback is the conventional shared variable, honored when
	// the courier-specific one is unset.
	EnvRedisURLFallback = "REDIS_URL"

	// EnvSQLitePath selects the SQLite backend.
	EnvSQLitePath = "COURIER_SQLITE_PATH"
)

// OpenStoreFromEnv selects a backend from the environment: Redis when a
// Redis URL is set, SQLite when a database path is set, and the log-and-drop
// noop store when neither is. Selection happens once, here; the rest of the
// courier never asks which backend it is on.
func OpenStoreFromEnv(logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if url := firstEnv(EnvRedisURL, EnvRedisURLFallback); url != "" {
		s, err := redis.Open(url)
		if err != nil {
			return nil, err
		}
		logger.Info("courier store: redis")
		return s, nil
	}

	if path := os.Getenv(EnvSQLitePath); path != "" {
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		logger.Info("courier store: sqlite", "path", path)
		return s, nil
	}

	logger.Warn("courier store: none configured, notifications will be dropped")
	return noop.New(logger), nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
