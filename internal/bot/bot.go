// Package bot implements the chat front end: task and job commands, the
// add-task conversation, list views and the scheduled digest and vacancy
// watch.
package bot

import (
	"context"
	"sync/atomic"
	"time"

	"taskbot/internal/jobs"
	"taskbot/internal/reminder"
	"taskbot/internal/task/engine"
	"taskbot/internal/todo"
	"taskbot/internal/transport/telegram/router"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

// Reminders is the part of the reminder scheduler handlers use.
type Reminders interface {
	Schedule(task todo.Task, chatID int64) bool
	Cancel(taskID int64) bool
	Pending() []reminder.Pending
}

// Searcher finds job candidates across all sources.
type Searcher interface {
	Search(ctx context.Context, query string) ([]jobs.Candidate, error)
	Sources() []string
}

// EngineStats feeds /status.
type EngineStats interface {
	Snapshot() engine.Snapshot
}

type Deps struct {
	Tasks     *todo.Repo
	Jobs      *jobs.Repo
	Search    Searcher
	Reminders Reminders
	Engine    EngineStats // optional
	// Sender delivers messages that are not replies: digest and watch.
	Sender kit.Sender
	Log    logx.Logger

	// ChatID is the configured owner chat; 0 means "whoever sent /start".
	ChatID   int64
	PageSize int
	Now      func() time.Time
}

type Bot struct {
	d     Deps
	log   logx.Logger
	loc   *time.Location
	now   func() time.Time
	owner atomic.Int64
	convs *conversations
	start time.Time
}

func New(d Deps) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.PageSize <= 0 {
		d.PageSize = 8
	}
	b := &Bot{
		d:     d,
		log:   d.Log.With(logx.String("comp", "bot")),
		loc:   d.Tasks.Location(),
		now:   d.Now,
		convs: newConversations(30 * time.Minute),
	}
	b.start = b.now()
	b.owner.Store(d.ChatID)
	return b
}

// Owner is the chat that receives reminders restored at startup, the
// digest and the vacancy watch.
func (b *Bot) Owner() int64 { return b.owner.Load() }

// recordOwner remembers chatID unless an owner chat is configured.
func (b *Bot) recordOwner(chatID int64) {
	if b.d.ChatID != 0 {
		return
	}
	if prev := b.owner.Swap(chatID); prev != chatID {
		b.log.Info("owner chat recorded", logx.Int64("chat_id", chatID))
	}
}

// Commands is the command table for the router.
func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "show the main menu", Handle: b.cmdStart},
		{Name: "add", Description: "add a task", Labels: []string{labelAdd}, Handle: b.cmdAdd},
		{Name: "tasks", Description: "list tasks by period", Labels: []string{labelTasks}, Handle: b.cmdTasks},
		{Name: "date", Description: "tasks of one day", Usage: "/date dd.mm.yyyy", Handle: b.cmdDate},
		{Name: "jobs", Aliases: []string{"search"}, Description: "search new vacancies", Usage: "/jobs <query>", Labels: []string{labelSearch}, Timeout: 3 * time.Minute, Handle: b.cmdJobs},
		{Name: "vacancies", Description: "browse stored vacancies", Labels: []string{labelVacancies}, Handle: b.cmdVacancies},
		{Name: "clear_jobs", Description: "delete all stored vacancies", Handle: b.cmdClearJobs},
		{Name: "status", Description: "reminders, queue and store stats", Handle: b.cmdStatus},
		{Name: "skip", Hidden: true, Handle: b.cmdSkip},
		{Name: "skip_time", Hidden: true, Handle: b.cmdSkipTime},
		{Name: "cancel", Description: "abort the current dialog", Handle: b.cmdCancel},
	}
}

// Callbacks is the inline-button table for the router.
func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{NS: nsTask, Action: actMenu, Handle: b.cbTaskMenu},
		{NS: nsTask, Action: actList, Handle: b.cbTaskList},
		{NS: nsTask, Action: actPickDay, Handle: b.cbPickDay},
		{NS: nsTask, Action: actView, Handle: b.cbTaskView},
		{NS: nsTask, Action: actSet, Handle: b.cbTaskSet},
		{NS: nsTask, Action: actDelete, Handle: b.cbTaskDelete},
		{NS: nsTask, Action: actDelOK, Handle: b.cbTaskDeleteConfirmed},
		{NS: reminder.CallbackNS, Action: reminder.CallbackDone, Handle: b.cbTaskDone},
		{NS: nsAdd, Action: actDate, Handle: b.cbAddDate},
		{NS: nsJob, Action: actPage, Handle: b.cbJobPage},
		{NS: nsJob, Action: actView, Handle: b.cbJobView},
		{NS: nsJob, Action: actClear, Handle: b.cbJobClear},
	}
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	b.recordOwner(req.Chat.ChatID)
	b.convs.drop(req.Chat.ChatID)
	_, err := req.Reply(ctx, startMessage())
	return err
}
