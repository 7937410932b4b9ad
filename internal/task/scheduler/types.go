package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/internal/task/engine"
	logx "taskbot/pkg/logx"
)

var ErrStopped = errors.New("scheduler stopped")

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA name, e.g. "Asia/Bishkek"
}

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type Job func(ctx context.Context) error

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type cronDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	opt     engine.TaskOptions
	entryID cron.EntryID
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location
	log logx.Logger

	engine Enqueuer

	parser  cron.Parser
	c       *cron.Cron
	crons   map[string]*cronDef
	stopped bool

	// Guards once; a timer callback checks ver so replaced timers become no-ops.
	tmu  sync.Mutex
	once map[string]*onceDef
	vers map[string]uint64

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type OnceInfo struct {
	Name string
	At   time.Time
}

type Snapshot struct {
	Timezone  string
	Schedules []ScheduleInfo
	Once      []OnceInfo
}
