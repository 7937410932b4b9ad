package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"taskbot/internal/eventbus"
	"taskbot/internal/task/engine"
	"taskbot/internal/task/scheduler"
	"taskbot/internal/todo"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

type sent struct {
	chatID int64
	text   string
	opt    *kit.SendOptions
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: to.ChatID, text: text, opt: opt})
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type harness struct {
	rem    *Scheduler
	sender *fakeSender
	bus    eventbus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := eventbus.New()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1, RetryMax: 3, RetryBase: time.Millisecond}, logx.Nop(), bus)
	eng.Start(context.Background())
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, eng, logx.Nop())
	sched.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(ctx)
		eng.Stop(ctx)
	})
	sender := &fakeSender{}
	return &harness{rem: New(Config{}, sched, sender, bus, time.UTC, logx.Nop()), sender: sender, bus: bus}
}

func taskAt(id int64, at time.Time) todo.Task {
	return todo.Task{ID: id, Title: "Buy milk", Description: "2 liters", Date: &at, Status: todo.StatusInProgress}
}

func waitFor(t *testing.T, ch <-chan eventbus.Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e.Data.(Event)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reminder event")
		return Event{}
	}
}

func TestScheduleIgnoresPastAndUndated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	assert.False(t, h.rem.Schedule(taskAt(1, time.Now().Add(-time.Minute)), 10))
	assert.False(t, h.rem.Schedule(todo.Task{ID: 2, Title: "undated"}, 10))
	assert.False(t, h.rem.IsPending(1))
	assert.False(t, h.rem.IsPending(2))
	assert.Empty(t, h.rem.Pending())
}

func TestReminderFiresOnceWithDoneButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	fired, unsub := h.bus.Subscribe(4, eventbus.ReminderFired)
	defer unsub()

	at := time.Now().Add(50 * time.Millisecond)
	require.True(t, h.rem.Schedule(taskAt(1, at), 77))
	assert.True(t, h.rem.IsPending(1))

	ev := waitFor(t, fired)
	assert.Equal(t, int64(1), ev.TaskID)
	assert.False(t, time.Now().Before(at))
	assert.False(t, h.rem.IsPending(1))

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(77), msgs[0].chatID)
	assert.Contains(t, msgs[0].text, "Reminder! Time to do the task:")
	assert.Contains(t, msgs[0].text, "Buy milk")
	assert.Contains(t, msgs[0].text, "2 liters")

	rm, ok := msgs[0].opt.ReplyMarkup.(*tele.ReplyMarkup)
	require.True(t, ok)
	require.Len(t, rm.InlineKeyboard, 1)
	assert.Equal(t, "Done!", rm.InlineKeyboard[0][0].Text)
	assert.Equal(t, "task:done:1", rm.InlineKeyboard[0][0].Data)
}

func TestRescheduleReplacesTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	fired, unsub := h.bus.Subscribe(4, eventbus.ReminderFired)
	defer unsub()

	require.True(t, h.rem.Schedule(taskAt(5, time.Now().Add(time.Hour)), 1))
	require.True(t, h.rem.Schedule(taskAt(5, time.Now().Add(40*time.Millisecond)), 1))
	require.Len(t, h.rem.Pending(), 1)

	waitFor(t, fired)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.sender.messages(), 1)
	assert.Empty(t, h.rem.Pending())
}

func TestCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	canceled, unsub := h.bus.Subscribe(4, eventbus.ReminderCanceled)
	defer unsub()

	require.True(t, h.rem.Schedule(taskAt(3, time.Now().Add(time.Hour)), 9))
	assert.True(t, h.rem.Cancel(3))
	ev := waitFor(t, canceled)
	assert.Equal(t, int64(9), ev.ChatID)
	assert.False(t, h.rem.IsPending(3))
	assert.False(t, h.rem.Cancel(3))
	assert.Empty(t, h.rem.Pending())
}

func TestDeliveryFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sender.err = errors.New("chat not found")
	failed, unsub := h.bus.Subscribe(4, eventbus.ReminderFailed)
	defer unsub()

	require.True(t, h.rem.Schedule(taskAt(4, time.Now().Add(20*time.Millisecond)), 1))
	ev := waitFor(t, failed)
	assert.Equal(t, "chat not found", ev.Error)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.sender.messages(), 1)
	assert.False(t, h.rem.IsPending(4))
}

type fakeLister struct{ tasks []todo.Task }

func (f fakeLister) Upcoming(ctx context.Context, now time.Time) ([]todo.Task, error) {
	return f.tasks, nil
}

func TestRestore(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	list := fakeLister{tasks: []todo.Task{
		taskAt(1, time.Now().Add(time.Hour)),
		taskAt(2, time.Now().Add(2*time.Hour)),
		taskAt(3, time.Now().Add(-time.Hour)),
	}}
	n, err := h.rem.Restore(context.Background(), list, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.rem.Restore(context.Background(), list, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending := h.rem.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].TaskID)
	assert.Equal(t, int64(42), pending[1].ChatID)
}

func TestRenderWithoutDescription(t *testing.T) {
	t.Parallel()

	at := time.Date(2030, 1, 2, 9, 30, 0, 0, time.UTC)
	msg := Render(todo.Task{ID: 8, Title: "Call <mom>", Date: &at}, time.UTC)
	assert.True(t, strings.HasPrefix(msg.Text, "⏰ <b>Reminder! Time to do the task:</b>"))
	assert.Contains(t, msg.Text, "<b>Call &lt;mom&gt;</b>")
	assert.Contains(t, msg.Text, "<b>Description:</b> -")
	assert.Contains(t, msg.Text, "02.01.2030 09:30")
}

// heldTimers keeps jobs instead of running them so a test can fire them
// after the reminder changed.
type heldTimers struct {
	mu   sync.Mutex
	jobs map[string]scheduler.Job
	at   map[string]time.Time
}

func newHeldTimers() *heldTimers {
	return &heldTimers{jobs: map[string]scheduler.Job{}, at: map[string]time.Time{}}
}

func (h *heldTimers) AddOnce(name string, at time.Time, _ time.Duration, job scheduler.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs[name] = job
	h.at[name] = at
	return nil
}

func (h *heldTimers) Remove(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.at[name]
	delete(h.at, name)
	return ok
}

func (h *heldTimers) Has(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.at[name]
	return ok
}

func (h *heldTimers) PendingAt(name string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	at, ok := h.at[name]
	return at, ok
}

func (h *heldTimers) job(name string) scheduler.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jobs[name]
}

func TestCanceledBeforeDeliverySendsNothing(t *testing.T) {
	t.Parallel()
	timers := newHeldTimers()
	sender := &fakeSender{}
	rem := New(Config{}, timers, sender, nil, time.UTC, logx.Nop())

	require.True(t, rem.Schedule(taskAt(3, time.Now().Add(time.Hour)), 9))
	queued := timers.job(timerName(3))
	require.NotNil(t, queued)

	assert.True(t, rem.Cancel(3))
	require.NoError(t, queued(context.Background()))
	assert.Empty(t, sender.messages())
}

func TestStaleRunAfterRescheduleSendsNothing(t *testing.T) {
	t.Parallel()
	timers := newHeldTimers()
	sender := &fakeSender{}
	rem := New(Config{}, timers, sender, nil, time.UTC, logx.Nop())

	require.True(t, rem.Schedule(taskAt(4, time.Now().Add(time.Hour)), 9))
	old := timers.job(timerName(4))
	require.True(t, rem.Schedule(taskAt(4, time.Now().Add(2*time.Hour)), 9))
	current := timers.job(timerName(4))

	require.NoError(t, old(context.Background()))
	assert.Empty(t, sender.messages())

	require.NoError(t, current(context.Background()))
	assert.Len(t, sender.messages(), 1)
	assert.Empty(t, rem.Pending())
}
