package cli

import (
	"context"
	"fmt"

	"github.com/bryan-buckman/instarelay/internal/config"
	"github.com/bryan-buckman/instarelay/internal/database"
	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/media"
	"github.com/bryan-buckman/instarelay/internal/monitor"
	"github.com/bryan-buckman/instarelay/internal/registry"
	"github.com/bryan-buckman/instarelay/internal/relay"
	"github.com/bryan-buckman/instarelay/internal/sink/telegram"
	"github.com/bryan-buckman/instarelay/internal/source"
	"github.com/bryan-buckman/instarelay/internal/watermark"
)

// storage is the persistent half of the stack: enough for account
// management and status without talking to Telegram.
type storage struct {
	store      database.Store
	registry   *registry.Registry
	watermarks *watermark.Store
}

func openStorage(ctx context.Context, cfg *config.Config, logger logging.Logger) (*storage, error) {
	store, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.WithField("backend", store.DatabaseType()).Debug("Database ready")
	return &storage{
		store:      store,
		registry:   registry.New(store),
		watermarks: watermark.Open(ctx, store, logger),
	}, nil
}

func (s *storage) Close() error {
	return s.store.Close()
}

// statusCycle returns a cycle that can only report status.
func (s *storage) statusCycle(logger logging.Logger) *monitor.Cycle {
	return monitor.NewCycle(monitor.CycleConfig{
		Registry:   s.registry,
		Watermarks: s.watermarks,
		Logger:     logger,
	})
}

// engine is the fully wired relay.
type engine struct {
	*storage
	sink    *telegram.Sink
	metrics *monitor.Metrics
	cycle   *monitor.Cycle
	control *monitor.Control
}

func buildEngine(ctx context.Context, cfg *config.Config, logger logging.Logger) (*engine, error) {
	policy, err := monitor.ParsePolicy(cfg.Overlap)
	if err != nil {
		return nil, err
	}
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	fetcher := media.NewHTTPFetcher(cfg.HTTPTimeout, cfg.MediaMaxBytes)
	tg, err := telegram.New(telegram.Config{
		Token:       cfg.BotToken,
		APIEndpoint: cfg.TelegramAPIURL,
		Fetcher:     fetcher,
		Logger:      logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	metrics := monitor.NewMetrics()
	pipeline := relay.New(relay.Config{
		Sink:     tg,
		Fetcher:  fetcher,
		Logger:   logger,
		Recorder: metrics,
	})
	src := source.NewFeedSource(source.FeedConfig{
		BaseURL:     cfg.SourceBaseURL,
		PostsPath:   cfg.SourcePostsPath,
		StoriesPath: cfg.SourceStoriesPath,
		Timeout:     cfg.HTTPTimeout,
	})
	cycle := monitor.NewCycle(monitor.CycleConfig{
		Registry:   st.registry,
		Source:     src,
		Relay:      pipeline,
		Watermarks: st.watermarks,
		Posts:      cfg.EnablePosts,
		Stories:    cfg.EnableStories,
		Logger:     logger,
		Metrics:    metrics,
		Policy:     policy,
	})

	return &engine{
		storage: st,
		sink:    tg,
		metrics: metrics,
		cycle:   cycle,
		control: monitor.NewControl(st.registry, cycle),
	}, nil
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
