package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"taskbot/internal/jobs"
	"taskbot/internal/reminder"
	"taskbot/internal/storage"
	"taskbot/internal/task/engine"
	"taskbot/internal/todo"
	kit "taskbot/internal/transport"
	"taskbot/internal/transport/telegram/router"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

var bishkek = time.FixedZone("UTC+6", 6*3600)

type sent struct {
	text   string
	markup *tele.ReplyMarkup
	edit   bool
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []sent
	fail error
}

func (f *fakeAdapter) record(text string, opt *kit.SendOptions, edit bool) {
	s := sent{text: text, edit: edit}
	if opt != nil {
		s.markup, _ = opt.ReplyMarkup.(*tele.ReplyMarkup)
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, s)
	f.mu.Unlock()
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.fail != nil {
		return kit.MessageRef{}, f.fail
	}
	f.record(text, opt, false)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.record(text, opt, true)
	return nil
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (f *fakeAdapter) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.msgs)
	return f.msgs[len(f.msgs)-1]
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeReminders struct {
	mu        sync.Mutex
	now       func() time.Time
	scheduled map[int64]todo.Task
	canceled  []int64
}

func (r *fakeReminders) Schedule(t todo.Task, chatID int64) bool {
	if !t.HasDeadline() || !t.Date.After(r.now()) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled[t.ID] = t
	return true
}

func (r *fakeReminders) Cancel(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, id)
	_, ok := r.scheduled[id]
	delete(r.scheduled, id)
	return ok
}

func (r *fakeReminders) Pending() []reminder.Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []reminder.Pending
	for id, t := range r.scheduled {
		out = append(out, reminder.Pending{TaskID: id, Title: t.Title, At: *t.Date})
	}
	return out
}

type fakeSearch struct {
	results map[string][]jobs.Candidate
	err     error
}

func (s *fakeSearch) Search(ctx context.Context, q string) ([]jobs.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results[q], nil
}

func (s *fakeSearch) Sources() []string { return []string{"devkg", "hh"} }

type harness struct {
	t      *testing.T
	bot    *Bot
	fa     *fakeAdapter
	rem    *fakeReminders
	search *fakeSearch
	tasks  *todo.Repo
	jobs   *jobs.Repo
	now    time.Time
	chat   int64
}

func newHarness(t *testing.T, chatID int64) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tasks, err := todo.NewRepo(db, bishkek)
	require.NoError(t, err)
	jobRepo, err := jobs.NewRepo(db, logx.Nop())
	require.NoError(t, err)

	h := &harness{
		t:      t,
		fa:     &fakeAdapter{},
		search: &fakeSearch{results: map[string][]jobs.Candidate{}},
		tasks:  tasks,
		jobs:   jobRepo,
		now:    time.Date(2030, 5, 1, 10, 0, 0, 0, bishkek),
		chat:   100,
	}
	clock := func() time.Time { return h.now }
	h.rem = &fakeReminders{now: clock, scheduled: map[int64]todo.Task{}}
	h.bot = New(Deps{
		Tasks:     tasks,
		Jobs:      jobRepo,
		Search:    h.search,
		Reminders: h.rem,
		Sender:    h.fa,
		ChatID:    chatID,
		PageSize:  5,
		Now:       clock,
	})
	return h
}

func (h *harness) request(up kit.Update) *router.Request {
	return &router.Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: h.chat},
		FromID:  h.chat,
		Adapter: h.fa,
		Logger:  logx.Nop(),
	}
}

// say routes text the way the router does: commands, keyboard labels,
// then the dialog.
func (h *harness) say(text string) {
	h.t.Helper()
	req := h.request(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: h.chat, Text: text}})
	req.Text = text
	ctx := context.Background()
	for _, c := range h.bot.Commands() {
		match := false
		if word, rest, ok := strings.Cut(strings.TrimPrefix(text, "/"), " "); strings.HasPrefix(text, "/") {
			match = word == c.Name
			if ok {
				req.ArgLine = strings.TrimSpace(rest)
			}
		}
		for _, l := range c.Labels {
			match = match || l == text
		}
		if match {
			require.NoError(h.t, c.Handle(ctx, req))
			return
		}
	}
	require.False(h.t, strings.HasPrefix(text, "/"), "unknown command %s", text)
	require.NoError(h.t, h.bot.HandleText(ctx, req))
}

func (h *harness) press(data string) error {
	h.t.Helper()
	cb, ok := tgui.ParseData(data)
	require.True(h.t, ok, data)
	req := h.request(kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ChatID: h.chat, MessageID: 7, Data: data}})
	req.MessageID = 7
	req.Payload = cb.Payload
	for _, r := range h.bot.Callbacks() {
		if r.NS == cb.NS && r.Action == cb.Action {
			return r.Handle(context.Background(), req)
		}
	}
	h.t.Fatalf("no callback route for %s", data)
	return nil
}

func (h *harness) addTask(title string, at *time.Time, status todo.Status) todo.Task {
	h.t.Helper()
	task, err := h.tasks.Add(context.Background(), title, "", at, status)
	require.NoError(h.t, err)
	return task
}

func buttons(m *tele.ReplyMarkup) []tele.InlineButton {
	if m == nil {
		return nil
	}
	var out []tele.InlineButton
	for _, row := range m.InlineKeyboard {
		out = append(out, row...)
	}
	return out
}

func TestBlankTitleIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	h.say("/add")
	h.say("   ")
	assert.Contains(t, h.fa.last(t).text, "cannot be empty")
	h.say("Buy milk")
	assert.Contains(t, h.fa.last(t).text, "description")
}

func TestAddTaskConversation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	ctx := context.Background()

	h.say("📝 Add task")
	assert.Contains(t, h.fa.last(t).text, "title")
	h.say("Buy milk")
	assert.Contains(t, h.fa.last(t).text, "/skip")
	h.say("/skip")
	assert.Len(t, buttons(h.fa.last(t).markup), 3)
	require.NoError(t, h.press("add:date:1"))
	assert.Contains(t, h.fa.last(t).text, "02.05.2030")
	h.say("18:30")

	list, err := h.tasks.All(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, "Buy milk", got.Title)
	assert.Equal(t, noDesc, got.Description)
	assert.Equal(t, todo.StatusInProgress, got.Status)
	assert.True(t, got.Date.Equal(time.Date(2030, 5, 2, 18, 30, 0, 0, bishkek)))

	assert.Contains(t, h.rem.scheduled, got.ID)
	assert.Contains(t, h.fa.last(t).text, "remind you")
	assert.Equal(t, h.chat, h.bot.Owner())
}

func TestAddTaskSkipTimePastDayArmsNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	h.say("/add")
	h.say("Old errand")
	h.say("call the bank")
	h.say("01.05.2030")
	h.say("/skip_time")

	list, err := h.tasks.All(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "call the bank", list[0].Description)
	assert.True(t, list[0].Date.Equal(time.Date(2030, 5, 1, 0, 0, 0, 0, bishkek)))
	assert.Empty(t, h.rem.scheduled)
	assert.Contains(t, h.fa.last(t).text, "no reminder")
}

func TestAddTaskRejectsBadInputAndCancels(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	h.say("/add")
	h.say("Gym")
	h.say("/skip")
	h.say("tomorrow-ish")
	assert.Contains(t, h.fa.last(t).text, "Invalid date")
	h.say("02:05:2030")
	h.say("25:00")
	assert.Contains(t, h.fa.last(t).text, "Invalid time")
	h.say("7:60")
	assert.Contains(t, h.fa.last(t).text, "Invalid time")
	h.say("/cancel")
	assert.Equal(t, "Cancelled.", h.fa.last(t).text)
	h.say("hello?")
	assert.Contains(t, h.fa.last(t).text, "/help")
	h.say("/skip")
	assert.Equal(t, "Nothing to skip.", h.fa.last(t).text)

	n, err := h.tasks.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusButtonsCancelReminder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	ctx := context.Background()

	at := h.now.Add(2 * time.Hour)
	a := h.addTask("a", &at, todo.StatusInProgress)
	b := h.addTask("b", &at, todo.StatusInProgress)
	require.True(t, h.rem.Schedule(a, h.chat))
	require.True(t, h.rem.Schedule(b, h.chat))

	require.NoError(t, h.press(fmt.Sprintf("task:set:%d:c", a.ID)))
	view := h.fa.last(t)
	assert.True(t, view.edit)
	assert.Contains(t, view.text, "Completed ✅")

	require.NoError(t, h.press(fmt.Sprintf("task:set:%d:n", b.ID)))
	assert.Equal(t, []int64{a.ID, b.ID}, h.rem.canceled)
	assert.Empty(t, h.rem.scheduled)

	got, _, err := h.tasks.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, todo.StatusNotCompleted, got.Status)

	require.NoError(t, h.press("task:set:999:c"))
	assert.Contains(t, h.fa.last(t).text, "not found")
}

func TestReminderDoneButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	at := h.now.Add(-time.Minute)
	task := h.addTask("Stretch", &at, todo.StatusInProgress)

	data := buttons(reminder.Render(task, bishkek).Opt.ReplyMarkup.(*tele.ReplyMarkup))[0].Data
	require.NoError(t, h.press(data))

	got, _, err := h.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, todo.StatusCompleted, got.Status)
	assert.Contains(t, h.fa.last(t).text, "Task completed")
}

func TestDeleteCancelsReminder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	at := h.now.Add(time.Hour)
	task := h.addTask("Dentist", &at, todo.StatusInProgress)
	h.rem.Schedule(task, h.chat)

	require.NoError(t, h.press(fmt.Sprintf("task:del:%d", task.ID)))
	ask := h.fa.last(t)
	assert.Contains(t, ask.text, "Delete")
	assert.Empty(t, h.rem.canceled)
	btns := buttons(ask.markup)
	require.Len(t, btns, 2)
	assert.Equal(t, fmt.Sprintf("task:view:%d", task.ID), btns[1].Data)

	require.NoError(t, h.press(btns[0].Data))
	assert.Contains(t, h.fa.last(t).text, "deleted")
	assert.Equal(t, []int64{task.ID}, h.rem.canceled)

	_, ok, err := h.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskListsAndView(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	today := h.now.Add(3 * time.Hour)
	nextMonth := h.now.AddDate(0, 1, 0)
	h.addTask("today task", &today, todo.StatusNotStarted)
	h.addTask("later task", &nextMonth, todo.StatusNotStarted)
	undated := h.addTask("someday", nil, todo.StatusNotStarted)

	h.say("📋 Task list")
	assert.Len(t, buttons(h.fa.last(t).markup), 5)

	require.NoError(t, h.press("task:list:today"))
	labels := buttonTexts(h.fa.last(t).markup)
	assert.Contains(t, labels[0], "today task")
	assert.NotContains(t, strings.Join(labels, "|"), "later task")

	require.NoError(t, h.press("task:list:all"))
	labels = buttonTexts(h.fa.last(t).markup)
	assert.Contains(t, strings.Join(labels, "|"), "someday")
	assert.Contains(t, strings.Join(labels, "|"), "later task")

	require.NoError(t, h.press(fmt.Sprintf("task:view:%d", undated.ID)))
	view := h.fa.last(t)
	assert.Contains(t, view.text, "<b>someday</b>")
	assert.Contains(t, view.text, "Not Started")
	assert.Len(t, buttons(view.markup), 4)
}

func buttonTexts(m *tele.ReplyMarkup) []string {
	var out []string
	for _, b := range buttons(m) {
		out = append(out, b.Text)
	}
	return out
}

func TestTaskListPaginates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	for i := range 7 {
		at := h.now.Add(time.Duration(i) * time.Minute)
		h.addTask(fmt.Sprintf("t%d", i), &at, todo.StatusNotStarted)
	}
	require.NoError(t, h.press("task:list:today"))
	first := h.fa.last(t)
	assert.Contains(t, first.text, "Page 1/2")
	assert.Contains(t, buttonTexts(first.markup), "Next »")

	require.NoError(t, h.press("task:list:today@1"))
	second := h.fa.last(t)
	assert.Contains(t, second.text, "Page 2/2")
	assert.Contains(t, buttonTexts(second.markup), "« Prev")
}

func TestDateCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	at := time.Date(2030, 6, 3, 9, 0, 0, 0, bishkek)
	h.addTask("on the day", &at, todo.StatusNotStarted)

	h.say("/date 03:06:2030")
	assert.Contains(t, h.fa.last(t).text, "Tasks on 03.06.2030")
	assert.Contains(t, buttonTexts(h.fa.last(t).markup)[0], "on the day")

	h.say("/date 31.02.2030")
	assert.Contains(t, h.fa.last(t).text, "Invalid date")

	h.say("/date")
	h.say("04.06.2030")
	assert.Contains(t, h.fa.last(t).text, "No tasks.")
}

func TestJobsSearchListsOnlyNewPostings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.search.results["golang"] = []jobs.Candidate{
		{Title: "Go developer", Company: "Acme", Link: "https://devkg.com/jobs/1", Source: "devkg"},
		{Title: "Backend", Company: "Beta", Link: "https://hh.ru/vacancy/2", Salary: "1000 - ? USD", Source: "hh"},
	}

	h.say("/jobs golang")
	assert.Contains(t, h.fa.last(t).text, "2 new vacancies")
	assert.Contains(t, h.fa.last(t).text, "Go developer")

	h.say("🔎 Search vacancies")
	h.say("golang")
	assert.Contains(t, h.fa.last(t).text, "No new vacancies")

	n, err := h.jobs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestJobsSearchFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.search.err = errors.New("all sources down")

	h.say("/jobs rust")
	assert.Contains(t, h.fa.last(t).text, "Search failed")
}

func TestVacancyViewMarksViewed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	ctx := context.Background()

	fresh, err := h.jobs.Ingest(ctx, []jobs.Candidate{{Title: "SRE", Company: "Gamma", Link: "https://devkg.com/jobs/9"}})
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	h.say("💼 Vacancy list")
	assert.Contains(t, buttonTexts(h.fa.last(t).markup)[0], "🆕 SRE")

	require.NoError(t, h.press(fmt.Sprintf("job:view:%d", fresh[0].ID)))
	view := h.fa.last(t)
	assert.Contains(t, view.text, "Viewed")
	assert.Equal(t, "https://devkg.com/jobs/9", buttons(view.markup)[0].URL)

	got, _, err := h.jobs.GetByID(ctx, fresh[0].ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusViewed, got.Status)
}

func TestClearJobs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	_, err := h.jobs.Ingest(context.Background(), []jobs.Candidate{{Title: "A"}, {Title: "B"}})
	require.NoError(t, err)
	h.say("/clear_jobs")
	btns := buttons(h.fa.last(t).markup)
	require.Len(t, btns, 2)

	require.NoError(t, h.press(btns[1].Data))
	assert.Contains(t, h.fa.last(t).text, "kept")
	n, err := h.jobs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, h.press(btns[0].Data))
	assert.Contains(t, h.fa.last(t).text, "Removed 2")
	h.say("/vacancies")
	assert.Contains(t, h.fa.last(t).text, "No stored vacancies")

	h.say("/clear_jobs")
	assert.Nil(t, h.fa.last(t).markup)
}

func TestDeclinedDeleteKeepsTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	task := h.addTask("Call mom", nil, todo.StatusNotStarted)
	require.NoError(t, h.press(fmt.Sprintf("task:del:%d", task.ID)))
	require.NoError(t, h.press(buttons(h.fa.last(t).markup)[1].Data))
	assert.Contains(t, h.fa.last(t).text, "Call mom")

	_, ok, err := h.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDigestNeedsOwner(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	ctx := context.Background()

	at := h.now.Add(time.Hour)
	h.addTask("Standup", &at, todo.StatusInProgress)

	require.NoError(t, h.bot.Digest(ctx))
	assert.Zero(t, h.fa.count())

	h.say("/start")
	require.NotNil(t, h.fa.last(t).markup)
	require.NoError(t, h.bot.Digest(ctx))
	assert.Contains(t, h.fa.last(t).text, "Standup")
	assert.Contains(t, h.fa.last(t).text, "11:00")
}

func TestConfiguredOwnerIsNotReplaced(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 555)
	h.say("/start")
	assert.Equal(t, int64(555), h.bot.Owner())
}

func TestWatchPostsOnlyNewPostings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 555)
	h.search.results["go"] = []jobs.Candidate{{Title: "Go dev", Company: "Acme", Link: "https://x/1"}}
	watch := h.bot.Watch([]string{"go", " "})

	require.NoError(t, watch(context.Background()))
	assert.Equal(t, 1, h.fa.count())
	assert.Contains(t, h.fa.last(t).text, "Go dev")

	require.NoError(t, watch(context.Background()))
	assert.Equal(t, 1, h.fa.count())
}

func TestWatchKeepsGoingWhenSendFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 555)
	h.search.results["go"] = []jobs.Candidate{{Title: "Go dev", Link: "https://x/1"}}
	h.search.results["ops"] = []jobs.Candidate{{Title: "SRE", Link: "https://x/2"}}
	h.fa.fail = errors.New("telegram down")

	require.NoError(t, h.bot.Watch([]string{"go", "ops"})(context.Background()))
	n, err := h.jobs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWatchWithoutOwnerOnlyStores(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.search.results["go"] = []jobs.Candidate{
		{Title: "Go dev", Link: "https://x/1"},
		{Title: "Go lead", Link: "https://x/3"},
	}

	require.NoError(t, h.bot.Watch([]string{"go"})(context.Background()))
	assert.Zero(t, h.fa.count())
	n, err := h.jobs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := h.jobs.All(context.Background())
	require.NoError(t, err)
	for _, p := range list {
		assert.Equal(t, jobs.StatusNew, p.Status)
	}
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	at := h.now.Add(time.Hour)
	task := h.addTask("Pay rent", &at, todo.StatusInProgress)
	h.rem.Schedule(task, h.chat)

	h.say("/status")
	text := h.fa.last(t).text
	assert.Contains(t, text, "Pending reminders:</b> 1")
	assert.Contains(t, text, "Pay rent")
	assert.Contains(t, text, "Tasks stored:</b> 1")
}

type stats engine.Snapshot

func (s stats) Snapshot() engine.Snapshot { return engine.Snapshot(s) }

func TestStatusShowsOpenCircuits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)
	h.bot.d.Engine = stats{QueueCap: 8, OpenCircuits: []string{"jobs.watch"}}

	h.say("/status")
	assert.Contains(t, h.fa.last(t).text, "Paused after failures:</b> jobs.watch")
}
