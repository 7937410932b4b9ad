package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/internal/task/engine"
	logx "taskbot/pkg/logx"
)

// CronOption adjusts how a schedule's runs are executed by the engine.
type CronOption func(*engine.TaskOptions)

// WithRetryMax overrides the engine retry count; n < 0 disables retries.
func WithRetryMax(n int) CronOption {
	return func(o *engine.TaskOptions) { o.RetryMax = n }
}

// WithCircuitBreaker skips ticks once trip consecutive runs have failed,
// for cooldown doubling up to maxCooldown.
func WithCircuitBreaker(trip int, cooldown, maxCooldown time.Duration) CronOption {
	return func(o *engine.TaskOptions) {
		o.Circuit = engine.CircuitOptions{Trip: trip, Cooldown: cooldown, MaxCooldown: maxCooldown}
	}
}

// AddCron registers a cron schedule by name, replacing any schedule with the
// same name. Runs that overlap a still-running previous run are skipped.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job, opts ...CronOption) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCronLocked(name)
	opt := engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}
	for _, o := range opts {
		o(&opt)
	}
	d := &cronDef{name: name, spec: spec, timeout: timeout, job: job, opt: opt}
	s.crons[name] = d
	if s.c != nil {
		if err := s.registerLocked(d); err != nil {
			delete(s.crons, name)
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// AddDaily runs job every day at HH:MM in the scheduler time zone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job, opts ...CronOption) error {
	h, m, err := ParseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job, opts...)
}

func (s *Service) registerLocked(d *cronDef) error {
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		err := s.engine.Enqueue(engine.Task{
			Name:    d.name,
			Timeout: d.timeout,
			Run:     d.job,
			Opt:     d.opt,
		})
		if err != nil && !errors.Is(err, engine.ErrOverlapSkip) && !errors.Is(err, engine.ErrCircuitOpen) {
			s.reportEnqueueError(d.name, err)
		}
	}))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) removeCronLocked(name string) bool {
	d, ok := s.crons[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.crons, name)
	return true
}

// ParseHHMM parses a 24h "HH:MM" clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || len(hs) > 2 || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
