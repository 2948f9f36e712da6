package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newsletter-worker/internal/company"
	"github.com/sells-group/newsletter-worker/internal/pipeline"
	"github.com/sells-group/newsletter-worker/internal/progress"
	"github.com/sells-group/newsletter-worker/internal/store"
	"github.com/sells-group/newsletter-worker/pkg/extract"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "newsletter.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPublisher connects to redis when an address is configured; otherwise
// progress events are discarded.
func initPublisher(ctx context.Context) progress.Publisher {
	if cfg.Redis.Addr == "" {
		return progress.Noop{}
	}
	pub, err := progress.NewRedis(ctx, cfg.Redis)
	if err != nil {
		zap.L().Warn("redis unavailable, progress broadcasting disabled", zap.Error(err))
		return progress.Noop{}
	}
	return pub
}

// initProcessor wires the full pipeline against st. The scheduler is nil for
// CLI runs, where a follow-up is just another invocation.
func initProcessor(st store.Store, publisher progress.Publisher, scheduler pipeline.Scheduler) *pipeline.Processor {
	extractor := extract.NewClient(cfg.Anthropic.Key, extract.Config{
		Model:             cfg.Anthropic.Model,
		MaxTokens:         cfg.Anthropic.MaxTokens,
		RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
	})
	resolver := company.NewResolver(st)
	return pipeline.NewProcessor(st, extractor, resolver, publisher, scheduler, cfg.Pipeline)
}
