package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the task execution engine.
type Config struct {
	Enabled        bool
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	HistorySize    int
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

// TaskOptions overrides engine defaults per task. RetryMax < 0 disables retries.
type TaskOptions struct {
	Overlap  OverlapPolicy
	RetryMax int
	Circuit  CircuitOptions
}

// CircuitOptions enables a per-name circuit breaker. After Trip consecutive
// failed runs (retries included) enqueues are refused for Cooldown, doubling
// per further failure up to MaxCooldown. A success closes the circuit.
// Trip 0 leaves the breaker off.
type CircuitOptions struct {
	Trip        int
	Cooldown    time.Duration
	MaxCooldown time.Duration
}

// RunState gates overlapping runs of the same task name.
type RunState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

// Task is a unit of work executed by the engine.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// TaskEvent is published on the bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a diagnostics view used by /status. OpenCircuits lists task
// names currently refused by their circuit breaker.
type Snapshot struct {
	Enabled      bool
	Workers      int
	QueueLen     int
	QueueCap     int
	InFlight     int
	Dropped      uint64
	OpenCircuits []string
	History      []HistoryItem
}
