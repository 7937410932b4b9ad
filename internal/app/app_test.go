package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbot/internal/config"
	"taskbot/internal/jobs"
	"taskbot/internal/task/engine"
	"taskbot/internal/task/scheduler"
	logx "taskbot/pkg/logx"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Telegram.Token = "123:abc"
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestMapStorage(t *testing.T) {
	cfg := validConfig(t)
	sc, err := mapStorage(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "taskbot.db", sc.Path)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	cfg.Storage.BusyTimeout = "250ms"
	sc, err = mapStorage(cfg)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, sc.BusyTimeout)

	cfg.Storage = config.StorageConfig{Driver: "postgres", DSN: "postgres://u@h/db", MaxOpenConns: 4}
	sc, err = mapStorage(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Driver)
	assert.Equal(t, 4, sc.MaxOpenConns)

	cfg.Storage = config.StorageConfig{Driver: "postgres"}
	_, err = mapStorage(cfg)
	assert.Error(t, err)

	cfg.Storage = config.StorageConfig{Driver: "mongo"}
	_, err = mapStorage(cfg)
	assert.Error(t, err)
}

func TestMapEngineDefaults(t *testing.T) {
	ec := mapEngine(validConfig(t))
	assert.True(t, ec.Enabled)
	assert.Equal(t, 256, ec.QueueSize)
	assert.Equal(t, 200, ec.HistorySize)
	assert.Equal(t, 3, ec.RetryMax)
	assert.Equal(t, time.Minute, ec.DefaultTimeout)

	cfg := validConfig(t)
	cfg.Engine = config.EngineConfig{Workers: 6, QueueSize: 10, RetryMax: -1, DefaultTimeout: "5s"}
	ec = mapEngine(cfg)
	assert.Equal(t, 6, ec.Workers)
	assert.Equal(t, 10, ec.QueueSize)
	assert.Equal(t, -1, ec.RetryMax)
	assert.Equal(t, 5*time.Second, ec.DefaultTimeout)
}

func TestMapAdapterAndReminders(t *testing.T) {
	cfg := validConfig(t)
	cfg.Telegram.PollTimeout = "30s"
	cfg.Telegram.SendRate = 10
	cfg.Reminders.SendTimeout = "7s"

	ac := mapAdapter(cfg)
	assert.Equal(t, "123:abc", ac.Token)
	assert.Equal(t, 30*time.Second, ac.PollTimeout)
	assert.Equal(t, 10.0, ac.SendRate)
	assert.Equal(t, 7*time.Second, mapReminders(cfg).SendTimeout)
}

func TestBuildSources(t *testing.T) {
	cfg := validConfig(t)
	assert.Empty(t, buildSources(cfg))

	cfg.Jobs.DevKG.Enabled = true
	cfg.Jobs.HeadHunter.Enabled = true
	var names []string
	for _, s := range buildSources(cfg) {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"devkg", "hh"}, names)
}

func TestBuildCache(t *testing.T) {
	ctx := context.Background()
	cfg := validConfig(t)

	c, _, err := buildCache(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg.Jobs.Cache = config.CacheConfig{Driver: "memory", TTL: "1m"}
	c, ttl, err := buildCache(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, &jobs.MemoryCache{}, c)
	assert.Equal(t, time.Minute, ttl)

	cfg.Jobs.Cache = config.CacheConfig{Driver: "memcached"}
	_, _, err = buildCache(ctx, cfg, logx.Nop())
	assert.Error(t, err)
}

func scheduleNames(s *scheduler.Service) []string {
	var out []string
	for _, info := range s.Snapshot().Schedules {
		out = append(out, info.Name)
	}
	return out
}

func TestApplySchedules(t *testing.T) {
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, nil, logx.Nop())
	digest := func(context.Context) error { return nil }
	var watched []string
	watch := func(q []string) func(context.Context) error {
		watched = q
		return func(context.Context) error { return nil }
	}

	cfg := validConfig(t)
	applySchedules(sched, cfg, digest, watch, logx.Nop())
	assert.Empty(t, scheduleNames(sched))

	cfg.Digest.Enabled = true
	cfg.Jobs.Watch.Enabled = true
	cfg.Jobs.Watch.Queries = []string{"golang", "devops"}
	applySchedules(sched, cfg, digest, watch, logx.Nop())
	assert.ElementsMatch(t, []string{digestSchedule, watchSchedule}, scheduleNames(sched))
	assert.Equal(t, []string{"golang", "devops"}, watched)

	// A watch without queries has nothing to search.
	cfg.Digest.Enabled = false
	cfg.Jobs.Watch.Queries = nil
	applySchedules(sched, cfg, digest, watch, logx.Nop())
	assert.Empty(t, scheduleNames(sched))
}

// recordingSchedules keeps the options each schedule was registered with.
type recordingSchedules struct {
	opts map[string]engine.TaskOptions
}

func (r *recordingSchedules) add(name string, opts []scheduler.CronOption) {
	var o engine.TaskOptions
	for _, fn := range opts {
		fn(&o)
	}
	r.opts[name] = o
}

func (r *recordingSchedules) AddDaily(name, _ string, _ time.Duration, _ scheduler.Job, opts ...scheduler.CronOption) error {
	r.add(name, opts)
	return nil
}

func (r *recordingSchedules) AddCron(name, _ string, _ time.Duration, _ scheduler.Job, opts ...scheduler.CronOption) error {
	r.add(name, opts)
	return nil
}

func (r *recordingSchedules) Remove(name string) bool {
	_, ok := r.opts[name]
	delete(r.opts, name)
	return ok
}

func TestWatchScheduleHasCircuitBreaker(t *testing.T) {
	rec := &recordingSchedules{opts: map[string]engine.TaskOptions{}}
	cfg := validConfig(t)
	cfg.Digest.Enabled = true
	cfg.Jobs.Watch.Enabled = true
	cfg.Jobs.Watch.Queries = []string{"golang"}

	applySchedules(rec, cfg,
		func(context.Context) error { return nil },
		func([]string) func(context.Context) error { return func(context.Context) error { return nil } },
		logx.Nop(),
	)

	require.Contains(t, rec.opts, watchSchedule)
	watch := rec.opts[watchSchedule].Circuit
	assert.Equal(t, 3, watch.Trip)
	assert.Equal(t, time.Hour, watch.Cooldown)
	assert.Equal(t, 24*time.Hour, watch.MaxCooldown)
	assert.Zero(t, rec.opts[digestSchedule].Circuit.Trip)
}

func TestRestartRequired(t *testing.T) {
	assert.Empty(t, restartRequired([]string{"logging", "digest", "jobs"}))
	assert.Equal(t, []string{"storage", "reminders"}, restartRequired([]string{"logging", "storage", "reminders"}))
}
