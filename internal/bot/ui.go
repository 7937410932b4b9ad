package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"taskbot/internal/jobs"
	"taskbot/internal/todo"
	"taskbot/pkg/tgui"
)

// Reply keyboard labels.
const (
	labelAdd       = "📝 Add task"
	labelTasks     = "📋 Task list"
	labelSearch    = "🔎 Search vacancies"
	labelVacancies = "💼 Vacancy list"
)

// Callback namespaces and actions.
const (
	nsTask = "task"
	nsAdd  = "add"
	nsJob  = "job"

	actMenu    = "menu"
	actList    = "list"
	actPickDay = "day"
	actView    = "view"
	actSet     = "set"
	actDelete  = "del"
	actDelOK   = "delok"
	actClear   = "clear"
	actDate    = "date"
	actPage    = "page"
)

const (
	dayLayout  = "02.01.2006"
	timeLayout = "02.01.2006 15:04"
	noDesc     = "No description"
)

func startMessage() tgui.Message {
	kb := tgui.ReplyKeyboard("Choose an action",
		[]string{labelAdd, labelTasks},
		[]string{labelSearch, labelVacancies},
	)
	return tgui.New().
		Title("👋", "Hi! I keep your tasks and look for vacancies.").
		Blank().
		Line("Use the buttons below or /help.").
		Markup(kb).
		Build()
}

func statusIcon(s todo.Status) string {
	switch s {
	case todo.StatusCompleted:
		return "✅"
	case todo.StatusNotCompleted:
		return "❌"
	case todo.StatusInProgress:
		return "⏳"
	default:
		return "🕓"
	}
}

// statusCodes keep callback data short.
var statusCodes = map[string]todo.Status{
	"c": todo.StatusCompleted,
	"n": todo.StatusNotCompleted,
	"p": todo.StatusInProgress,
}

func periodTitle(p todo.Period) string {
	switch p {
	case todo.PeriodToday:
		return "today"
	case todo.PeriodWeek:
		return "this week"
	case todo.PeriodMonth:
		return "this month"
	default:
		return "all time"
	}
}

func rangeMenu() tgui.Message {
	kb := tgui.NewInline().
		Row(
			tgui.Btn("Today", tgui.Data(nsTask, actList, string(todo.PeriodToday))),
			tgui.Btn("This week", tgui.Data(nsTask, actList, string(todo.PeriodWeek))),
		).
		Row(
			tgui.Btn("This month", tgui.Data(nsTask, actList, string(todo.PeriodMonth))),
			tgui.Btn("All time", tgui.Data(nsTask, actList, string(todo.PeriodAll))),
		).
		Row(tgui.Btn("📅 Pick a date", tgui.Data(nsTask, actPickDay, "")))
	return tgui.New().Title("📋", "Which tasks?").Inline(kb).Build()
}

func (b *Bot) taskButton(t todo.Task) string {
	label := statusIcon(t.Status) + " " + t.Title
	if t.HasDeadline() {
		label += " · " + t.Date.In(b.loc).Format("02.01 15:04")
	}
	return tgui.TruncRunes(label, 60)
}

// taskList renders one page of tasks. key is the callback payload prefix
// that reproduces the list ("week", "d:02.01.2006").
func (b *Bot) taskList(title, key string, list []todo.Task, page int) tgui.Message {
	bld := tgui.New().Title("📋", title)
	if len(list) == 0 {
		return bld.Blank().Line("No tasks.").
			Inline(tgui.NewInline().Row(tgui.Btn("⬅️ Back", tgui.Data(nsTask, actMenu, "")))).
			Build()
	}
	pg := tgui.Paginate(list, page, b.d.PageSize)
	bld.Line(pg.Label())
	kb := tgui.NewInline()
	for _, t := range pg.Items {
		kb.Row(tgui.Btn(b.taskButton(t), tgui.DataID(nsTask, actView, t.ID)))
	}
	var nav []tele.Btn
	if pg.HasPrev {
		nav = append(nav, tgui.Btn("« Prev", tgui.Data(nsTask, actList, key+"@"+strconv.Itoa(pg.Index-1))))
	}
	if pg.HasNext {
		nav = append(nav, tgui.Btn("Next »", tgui.Data(nsTask, actList, key+"@"+strconv.Itoa(pg.Index+1))))
	}
	kb.Row(nav...)
	kb.Row(tgui.Btn("⬅️ Back", tgui.Data(nsTask, actMenu, "")))
	return bld.Inline(kb).Build()
}

func (b *Bot) taskView(t todo.Task) tgui.Message {
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		desc = "-"
	}
	date := "-"
	if t.HasDeadline() {
		date = t.Date.In(b.loc).Format(timeLayout)
	}
	bld := tgui.New().
		HTML(tgui.B(t.Title)).
		Blank().
		KV("Description", desc).
		KV("Date", date).
		KV("Status", string(t.Status)+" "+statusIcon(t.Status))
	if t.Status == todo.StatusCompleted {
		bld.Line("✔️ Done")
	}
	kb := tgui.NewInline().
		Row(
			tgui.Btn("✅ Done", tgui.Data(nsTask, actSet, fmt.Sprintf("%d:c", t.ID))),
			tgui.Btn("❌ Not done", tgui.Data(nsTask, actSet, fmt.Sprintf("%d:n", t.ID))),
		).
		Row(
			tgui.Btn("🗑 Delete", tgui.DataID(nsTask, actDelete, t.ID)),
			tgui.Btn("⬅️ Back", tgui.Data(nsTask, actMenu, "")),
		)
	return bld.Inline(kb).Build()
}

func dateButtons() *tgui.Inline {
	return tgui.NewInline().
		Row(
			tgui.Btn("Today", tgui.Data(nsAdd, actDate, "0")),
			tgui.Btn("Tomorrow", tgui.Data(nsAdd, actDate, "1")),
			tgui.Btn("+1 week", tgui.Data(nsAdd, actDate, "7")),
		)
}

func postingIcon(p jobs.Posting) string {
	if p.Status == jobs.StatusViewed {
		return "👁"
	}
	return "🆕"
}

func postingButton(p jobs.Posting) string {
	label := postingIcon(p) + " " + p.Title
	if p.Company != "" {
		label += " · " + p.Company
	}
	return tgui.TruncRunes(label, 60)
}

func (b *Bot) postingList(list []jobs.Posting, page int) tgui.Message {
	bld := tgui.New().Title("💼", "Vacancies")
	if len(list) == 0 {
		return bld.Blank().Line("No stored vacancies. Try /jobs <query>.").Build()
	}
	pg := tgui.Paginate(list, page, b.d.PageSize)
	bld.Line(pg.Label())
	kb := tgui.NewInline()
	for _, p := range pg.Items {
		kb.Row(tgui.Btn(postingButton(p), tgui.DataID(nsJob, actView, p.ID)))
	}
	var nav []tele.Btn
	if pg.HasPrev {
		nav = append(nav, tgui.Btn("« Prev", tgui.Data(nsJob, actPage, strconv.Itoa(pg.Index-1))))
	}
	if pg.HasNext {
		nav = append(nav, tgui.Btn("Next »", tgui.Data(nsJob, actPage, strconv.Itoa(pg.Index+1))))
	}
	kb.Row(nav...)
	return bld.Inline(kb).Build()
}

func postingView(p jobs.Posting, backPage int) tgui.Message {
	or := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "-"
		}
		return s
	}
	bld := tgui.New().
		HTML(tgui.B(p.Title)).
		Blank().
		KV("Company", or(p.Company)).
		KV("Salary", or(p.Salary)).
		KV("Type", or(p.JobType)).
		KV("Status", string(p.Status))
	kb := tgui.NewInline()
	if strings.HasPrefix(p.Link, "http") {
		kb.Row(tgui.URLBtn("🔗 Open posting", p.Link))
	}
	kb.Row(tgui.Btn("⬅️ Back", tgui.Data(nsJob, actPage, strconv.Itoa(backPage))))
	return bld.Inline(kb).Build()
}

// postingDigest is a compact text list used for search results and the
// vacancy watch.
func postingDigest(title string, list []jobs.Posting) tgui.Message {
	bld := tgui.New().Title("🆕", title)
	for _, p := range list {
		bld.Blank().HTML(tgui.B(p.Title))
		if p.Company != "" {
			bld.Line(p.Company)
		}
		if p.Salary != "" {
			bld.KV("Salary", p.Salary)
		}
		if strings.HasPrefix(p.Link, "http") {
			bld.HTML(tgui.Link("Open posting", p.Link))
		}
	}
	return bld.Build()
}

func (b *Bot) formatDay(t time.Time) string { return t.In(b.loc).Format(dayLayout) }
