package scheduler

import (
	"errors"
	"strings"
	"time"

	"taskbot/internal/task/engine"
	logx "taskbot/pkg/logx"
)

// AddOnce arms a one-shot timer that enqueues job at the given time. Adding a
// name that already exists replaces the previous timer. Past times fire
// immediately; callers that must skip past times check before calling.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev, ok := s.once[name]; ok {
		prev.timer.Stop()
	}
	s.vers[name]++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.vers[name]}
	ver := d.ver
	d.timer = time.AfterFunc(max(time.Until(at), 0), func() { s.fireOnce(name, ver) })
	s.once[name] = d
	s.log.Debug("timer armed", logx.String("name", name), logx.Time("at", at))
	return nil
}

func (s *Service) fireOnce(name string, ver uint64) {
	s.tmu.Lock()
	d, ok := s.once[name]
	if !ok || d.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.once, name)
	s.tmu.Unlock()

	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{Name: name, Timeout: d.timeout, Run: d.job})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

// Has reports whether a one-shot timer named name is pending.
func (s *Service) Has(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.once[strings.TrimSpace(name)]
	return ok
}

// PendingAt returns the fire time of a pending one-shot timer.
func (s *Service) PendingAt(name string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[strings.TrimSpace(name)]
	if !ok {
		return time.Time{}, false
	}
	return d.at, true
}

// Remove cancels the one-shot timer or cron schedule named name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	s.tmu.Lock()
	d, removed := s.once[name]
	if removed {
		d.timer.Stop()
		delete(s.once, name)
	}
	s.tmu.Unlock()

	s.mu.Lock()
	removed = s.removeCronLocked(name) || removed
	s.mu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}
