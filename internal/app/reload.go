package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"taskbot/internal/config"
	"taskbot/internal/task/scheduler"
	logx "taskbot/pkg/logx"
)

// Sections that are read once at startup.
var restartSections = []string{"telegram", "storage", "reminders", "engine"}

type scheduleSetter interface {
	AddDaily(name, atHHMM string, timeout time.Duration, job scheduler.Job, opts ...scheduler.CronOption) error
	AddCron(name, spec string, timeout time.Duration, job scheduler.Job, opts ...scheduler.CronOption) error
	Remove(name string) bool
}

// applySchedules registers or removes the digest and vacancy watch to
// match cfg.
func applySchedules(s scheduleSetter, cfg *config.Config, digest func(context.Context) error, watch func([]string) func(context.Context) error, log logx.Logger) {
	if cfg.Digest.Enabled {
		if err := s.AddDaily(digestSchedule, cfg.Digest.At, time.Minute, digest); err != nil {
			log.Warn("digest not scheduled", logx.Err(err))
		} else {
			log.Info("digest scheduled", logx.String("at", cfg.Digest.At))
		}
	} else {
		s.Remove(digestSchedule)
	}

	w := cfg.Jobs.Watch
	if w.Enabled && len(w.Queries) > 0 {
		// Both boards down: back off instead of scraping every tick.
		err := s.AddCron(watchSchedule, w.Cron, 5*time.Minute, watch(slices.Clone(w.Queries)),
			scheduler.WithCircuitBreaker(3, time.Hour, 24*time.Hour),
		)
		if err != nil {
			log.Warn("vacancy watch not scheduled", logx.Err(err))
		} else {
			log.Info("vacancy watch scheduled", logx.String("cron", w.Cron), logx.Strings("queries", w.Queries))
		}
	} else {
		s.Remove(watchSchedule)
	}
}

// reloadLoop applies hot-reloadable sections of each new config. Bursts of
// reloads are coalesced to the latest.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-sub:
			if next == nil {
				continue
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	changed := config.Changes(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if restart := restartRequired(changed); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}
	if slices.Contains(changed, "logging") {
		a.logs.Apply(mapLogging(next))
	}
	if slices.Contains(changed, "digest") || slices.Contains(changed, "jobs") {
		applySchedules(a.sched, next, a.bot.Digest, a.bot.Watch, a.log)
	}
	a.log.Info("config applied", logx.String("changed", strings.Join(changed, ",")))
}

func restartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if slices.Contains(restartSections, s) {
			out = append(out, s)
		}
	}
	return out
}
