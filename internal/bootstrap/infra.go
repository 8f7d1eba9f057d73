// Package bootstrap connects the backing services and assembles the services
// shared by the API server and the worker manager.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arthouse/internal/api"
	"arthouse/internal/common/config"
	"arthouse/internal/common/database"
	"arthouse/internal/store"
)

// Infra holds the live connections. Search is nil when Elasticsearch is not configured.
type Infra struct {
	Postgres *database.PostgresClient
	Redis    *database.RedisClient
	Search   *database.ElasticsearchClient
}

// RetryWithBackoff attempts operation up to maxRetries times, doubling the delay each time.
func RetryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// Connect dials Postgres, Redis and, when configured, Elasticsearch, retrying
// while the containers come up. The collection tables exist on return.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Infra, error) {
	infra := &Infra{}

	err := RetryWithBackoff(func() error {
		var err error
		infra.Postgres, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return infra.Postgres.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	log.Info("PostgreSQL connected successfully")

	if err := store.EnsureSchema(ctx, infra.Postgres.DB); err != nil {
		infra.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	err = RetryWithBackoff(func() error {
		var err error
		infra.Redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return infra.Redis.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		infra.Close()
		return nil, err
	}
	log.Info("Redis connected successfully")

	if !cfg.Database.Elasticsearch.Enabled() {
		log.Info("Elasticsearch not configured, filtered listings scan the store")
		return infra, nil
	}

	err = RetryWithBackoff(func() error {
		var err error
		infra.Search, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return infra.Search.Ping(ctx)
	}, 15, 2*time.Second, log, "Elasticsearch connection")
	if err != nil {
		infra.Close()
		return nil, err
	}
	log.Info("Elasticsearch connected successfully")

	return infra, nil
}

// Checks are the readiness checks for every live connection.
func (i *Infra) Checks() map[string]api.Check {
	checks := map[string]api.Check{
		"postgres": i.Postgres.Ping,
		"redis":    i.Redis.Ping,
	}
	if i.Search != nil {
		checks["elasticsearch"] = i.Search.Ping
	}
	return checks
}

func (i *Infra) Close() {
	if i.Postgres != nil {
		i.Postgres.Close()
	}
	if i.Redis != nil {
		i.Redis.Close()
	}
}
