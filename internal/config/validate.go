package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/internal/task/scheduler"
)

// Defaults fills optional fields that have a single sensible value.
func Defaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.Path == "" {
		cfg.Storage.Path = "taskbot.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Reminders.Timezone == "" {
		cfg.Reminders.Timezone = "Local"
	}
	if cfg.Digest.At == "" {
		cfg.Digest.At = "09:00"
	}
	if cfg.Jobs.Watch.Cron == "" {
		cfg.Jobs.Watch.Cron = "0 */6 * * *"
	}
	if cfg.Jobs.Cache.Driver != "" && cfg.Jobs.Cache.TTL == "" {
		cfg.Jobs.Cache.TTL = "15m"
	}
}

// Validate applies Defaults and reports every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	Defaults(cfg)

	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(field, raw string) {
		if _, err := Duration(field, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		bad("telegram.token: required (or set %sTELEGRAM_TOKEN)", envPrefix)
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Telegram.SendRate < 0 {
		bad("telegram.send_rate: must be >= 0")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "", "console", "json":
	default:
		bad("logging.format: want console or json, got %q", cfg.Logging.Format)
	}

	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			bad("storage.dsn: required for postgres")
		}
	default:
		bad("storage.driver: want sqlite or postgres, got %q", cfg.Storage.Driver)
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if _, err := time.LoadLocation(cfg.Reminders.Timezone); err != nil {
		bad("reminders.timezone: %v", err)
	}
	dur("reminders.send_timeout", cfg.Reminders.SendTimeout)

	dur("engine.default_timeout", cfg.Engine.DefaultTimeout)
	dur("engine.retry_base", cfg.Engine.RetryBase)
	dur("engine.retry_max_delay", cfg.Engine.RetryMaxDelay)
	if cfg.Engine.Workers < 0 || cfg.Engine.QueueSize < 0 || cfg.Engine.HistorySize < 0 {
		bad("engine: sizes must be >= 0")
	}

	dur("jobs.devkg.interval", cfg.Jobs.DevKG.Interval)
	dur("jobs.hh.interval", cfg.Jobs.HeadHunter.Interval)
	dur("jobs.cache.ttl", cfg.Jobs.Cache.TTL)
	switch cfg.Jobs.Cache.Driver {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Jobs.Cache.Addr) == "" {
			bad("jobs.cache.addr: required for redis")
		}
	default:
		bad("jobs.cache.driver: want memory or redis, got %q", cfg.Jobs.Cache.Driver)
	}
	if cfg.Jobs.Watch.Enabled {
		if _, err := cron.ParseStandard(cfg.Jobs.Watch.Cron); err != nil {
			bad("jobs.watch.cron: %v", err)
		}
		if len(cfg.Jobs.Watch.Queries) == 0 {
			bad("jobs.watch.queries: at least one query required")
		}
		if !cfg.Jobs.DevKG.Enabled && !cfg.Jobs.HeadHunter.Enabled {
			bad("jobs.watch: no source enabled")
		}
	}

	if _, _, err := scheduler.ParseHHMM(cfg.Digest.At); err != nil {
		bad("digest.at: %v", err)
	}
	return errors.Join(errs...)
}
