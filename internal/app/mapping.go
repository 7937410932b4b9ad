package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/config"
	"taskbot/internal/jobs"
	"taskbot/internal/reminder"
	"taskbot/internal/storage"
	"taskbot/internal/task/engine"
	telegram "taskbot/internal/transport/telegram/adapter"
	"taskbot/internal/transport/telegram/router"
	logx "taskbot/pkg/logx"
)

// Config values reach here already validated, so the Must helpers only
// fill defaults.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File:    cfg.Logging.File,
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		return storage.Config{
			Driver:      "sqlite",
			Path:        path,
			BusyTimeout: config.MustDuration(sc.BusyTimeout, 5*time.Second),
		}, nil
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN, MaxOpenConns: sc.MaxOpenConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngine(cfg *config.Config) engine.Config {
	ec := cfg.Engine
	queue := ec.QueueSize
	if queue <= 0 {
		queue = 256
	}
	history := ec.HistorySize
	if history <= 0 {
		history = 200
	}
	retry := ec.RetryMax
	if retry == 0 {
		retry = 3
	}
	return engine.Config{
		Enabled:        true,
		Workers:        ec.Workers,
		QueueSize:      queue,
		DefaultTimeout: config.MustDuration(ec.DefaultTimeout, time.Minute),
		HistorySize:    history,
		RetryMax:       retry,
		RetryBase:      config.MustDuration(ec.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:  config.MustDuration(ec.RetryMaxDelay, 15*time.Second),
	}
}

func mapAdapter(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout, 10*time.Second),
		SendRate:    cfg.Telegram.SendRate,
	}
}

func mapRouter(cfg *config.Config) router.Config {
	return router.Config{Workers: cfg.Telegram.Workers}
}

func mapReminders(cfg *config.Config) reminder.Config {
	return reminder.Config{SendTimeout: config.MustDuration(cfg.Reminders.SendTimeout, 30*time.Second)}
}

// buildSources returns the enabled job boards in a stable order.
func buildSources(cfg *config.Config) []jobs.Source {
	var out []jobs.Source
	if d := cfg.Jobs.DevKG; d.Enabled {
		out = append(out, jobs.NewDevKG(jobs.DevKGConfig{
			BaseURL:  d.BaseURL,
			Pages:    d.Pages,
			Interval: config.MustDuration(d.Interval, 0),
		}))
	}
	if h := cfg.Jobs.HeadHunter; h.Enabled {
		out = append(out, jobs.NewHeadHunter(jobs.HeadHunterConfig{
			BaseURL:  h.BaseURL,
			Area:     h.Area,
			Pages:    h.Pages,
			PerPage:  h.PerPage,
			Interval: config.MustDuration(h.Interval, 0),
		}))
	}
	return out
}

// buildCache returns nil when caching is off. An unreachable redis is
// reported but still used; the aggregator treats cache errors as misses.
func buildCache(ctx context.Context, cfg *config.Config, log logx.Logger) (jobs.Cache, time.Duration, error) {
	cc := cfg.Jobs.Cache
	ttl := config.MustDuration(cc.TTL, 15*time.Minute)
	switch strings.ToLower(strings.TrimSpace(cc.Driver)) {
	case "", "none":
		return nil, 0, nil
	case "memory":
		return jobs.NewMemoryCache(), ttl, nil
	case "redis":
		rc := jobs.NewRedisCache(jobs.RedisOptions{
			Addr:     cc.Addr,
			Password: cc.Password,
			DB:       cc.DB,
			Prefix:   cc.Prefix,
		})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rc.Ping(pctx); err != nil {
			log.Warn("redis cache unreachable", logx.String("addr", cc.Addr), logx.Err(err))
		}
		return rc, ttl, nil
	default:
		return nil, 0, fmt.Errorf("unknown jobs.cache.driver: %s", cc.Driver)
	}
}
