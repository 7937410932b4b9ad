// Package reminder arms one-shot wall-clock reminders for tasks and
// delivers them to the chat that created the task.
//
// A reminder is Pending from Schedule until it fires or is canceled. Firing
// sends exactly one message; delivery failures are logged and published,
// never retried.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskbot/internal/eventbus"
	"taskbot/internal/task/engine"
	"taskbot/internal/task/scheduler"
	"taskbot/internal/todo"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

const timerPrefix = "reminder:"

// Callback namespace and action of the "Done!" button.
const (
	CallbackNS   = "task"
	CallbackDone = "done"
)

// Timers is the one-shot part of the scheduler service.
type Timers interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
	Has(name string) bool
	PendingAt(name string) (time.Time, bool)
}

// UpcomingLister lists open tasks dated after now.
type UpcomingLister interface {
	Upcoming(ctx context.Context, now time.Time) ([]todo.Task, error)
}

type Config struct {
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration
}

// Event is the payload of reminder bus events.
type Event struct {
	TaskID int64     `json:"task_id"`
	ChatID int64     `json:"chat_id"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

// Pending describes one armed reminder.
type Pending struct {
	TaskID int64
	ChatID int64
	Title  string
	At     time.Time
}

type armed struct {
	chatID int64
	task   todo.Task
}

type Scheduler struct {
	cfg    Config
	timers Timers
	send   kit.Sender
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
	loc    *time.Location

	mu    sync.Mutex
	armed map[int64]armed
}

func New(cfg Config, timers Timers, send kit.Sender, bus eventbus.Bus, loc *time.Location, log logx.Logger) *Scheduler {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:    cfg,
		timers: timers,
		send:   send,
		bus:    bus,
		log:    log.With(logx.String("comp", "reminder")),
		now:    time.Now,
		loc:    loc,
		armed:  map[int64]armed{},
	}
}

func timerName(id int64) string { return timerPrefix + strconv.FormatInt(id, 10) }

// Schedule arms a reminder for task at task.Date. It is a no-op returning
// false when the task has no date or the date is not strictly in the future.
// Scheduling an id that is already pending replaces its timer.
func (s *Scheduler) Schedule(task todo.Task, chatID int64) bool {
	if task.ID <= 0 || !task.HasDeadline() {
		return false
	}
	at := *task.Date
	if !at.After(s.now()) {
		s.log.Debug("reminder not armed: time passed", logx.Int64("task_id", task.ID), logx.Time("at", at))
		return false
	}

	snap := task
	s.mu.Lock()
	s.armed[task.ID] = armed{chatID: chatID, task: snap}
	s.mu.Unlock()

	err := s.timers.AddOnce(timerName(task.ID), at, s.cfg.SendTimeout, func(ctx context.Context) error {
		return s.fire(ctx, snap, chatID)
	})
	if err != nil {
		s.forget(task.ID)
		s.log.Warn("reminder not armed", logx.Int64("task_id", task.ID), logx.Err(err))
		return false
	}
	s.log.Info("reminder armed", logx.Int64("task_id", task.ID), logx.Int64("chat_id", chatID), logx.Time("at", at))
	s.publish(eventbus.ReminderScheduled, Event{TaskID: task.ID, ChatID: chatID, At: at})
	return true
}

// Cancel retracts a pending reminder and reports whether one was pending.
func (s *Scheduler) Cancel(taskID int64) bool {
	a, ok := s.forget(taskID)
	removed := s.timers.Remove(timerName(taskID))
	if removed {
		s.log.Info("reminder canceled", logx.Int64("task_id", taskID))
		ev := Event{TaskID: taskID}
		if ok {
			ev.ChatID = a.chatID
			ev.At = *a.task.Date
		}
		s.publish(eventbus.ReminderCanceled, ev)
	}
	return removed
}

// IsPending reports whether a reminder is armed for taskID.
func (s *Scheduler) IsPending(taskID int64) bool {
	return s.timers.Has(timerName(taskID))
}

// Pending lists armed reminders ordered by fire time.
func (s *Scheduler) Pending() []Pending {
	s.mu.Lock()
	out := make([]Pending, 0, len(s.armed))
	for id, a := range s.armed {
		at, ok := s.timers.PendingAt(timerName(id))
		if !ok {
			continue
		}
		out = append(out, Pending{TaskID: id, ChatID: a.chatID, Title: a.task.Title, At: at})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Restore re-arms reminders for open tasks whose time is still ahead.
// Reminders whose time passed while the process was down are not replayed.
func (s *Scheduler) Restore(ctx context.Context, tasks UpcomingLister, chatID int64) (int, error) {
	if chatID == 0 {
		s.log.Warn("reminders not restored: no owner chat configured")
		return 0, nil
	}
	list, err := tasks.Upcoming(ctx, s.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range list {
		if s.Schedule(t, chatID) {
			n++
		}
	}
	s.log.Info("reminders restored", logx.Int("armed", n), logx.Int("candidates", len(list)))
	return n, nil
}

func (s *Scheduler) fire(ctx context.Context, task todo.Task, chatID int64) error {
	// Cancel and Schedule update armed before touching the timer, so a
	// missing or re-dated entry means this run is stale.
	s.mu.Lock()
	a, ok := s.armed[task.ID]
	if !ok || !a.task.Date.Equal(*task.Date) {
		s.mu.Unlock()
		s.log.Debug("stale reminder dropped", logx.Int64("task_id", task.ID))
		return nil
	}
	delete(s.armed, task.ID)
	s.mu.Unlock()
	ev := Event{TaskID: task.ID, ChatID: chatID, At: *task.Date}

	msg := Render(task, s.loc)
	if _, err := msg.Send(ctx, s.send, kit.ChatTarget{ChatID: chatID}); err != nil {
		ev.Error = err.Error()
		s.log.Warn("reminder delivery failed", logx.Int64("task_id", task.ID), logx.Int64("chat_id", chatID), logx.Err(err))
		s.publish(eventbus.ReminderFailed, ev)
		return engine.NoRetry(fmt.Errorf("deliver reminder %d: %w", task.ID, err))
	}
	s.log.Info("reminder delivered", logx.Int64("task_id", task.ID), logx.Int64("chat_id", chatID))
	s.publish(eventbus.ReminderFired, ev)
	return nil
}

// Render formats the reminder for task with its "Done!" button.
func Render(task todo.Task, loc *time.Location) tgui.Message {
	desc := strings.TrimSpace(task.Description)
	if desc == "" {
		desc = "-"
	}
	b := tgui.New().
		Title("⏰", "Reminder! Time to do the task:").
		Blank().
		HTML(tgui.B(task.Title)).
		KV("Description", desc)
	if task.HasDeadline() && loc != nil {
		b.KV("Due", task.Date.In(loc).Format("02.01.2006 15:04"))
	}
	kb := tgui.NewInline().Row(tgui.Btn("Done!", tgui.DataID(CallbackNS, CallbackDone, task.ID)))
	return b.Inline(kb).Build()
}

func (s *Scheduler) forget(id int64) (armed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.armed[id]
	delete(s.armed, id)
	return a, ok
}

func (s *Scheduler) publish(typ string, ev Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
