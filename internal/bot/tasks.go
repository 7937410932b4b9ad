package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskbot/internal/todo"
	"taskbot/internal/transport/telegram/router"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

func (b *Bot) cmdTasks(ctx context.Context, req *router.Request) error {
	b.recordOwner(req.Chat.ChatID)
	_, err := req.Reply(ctx, rangeMenu())
	return err
}

func (b *Bot) cmdDate(ctx context.Context, req *router.Request) error {
	if req.ArgLine == "" {
		b.convs.begin(req.Chat.ChatID, stepDay)
		return req.ReplyText(ctx, "Send the date as dd.mm.yyyy:")
	}
	day, err := todo.ParseDay(req.ArgLine, b.loc)
	if err != nil {
		return req.ReplyText(ctx, "Invalid date. Usage: /date dd.mm.yyyy")
	}
	return b.showDay(ctx, req, day, 0, false)
}

func (b *Bot) cbTaskMenu(ctx context.Context, req *router.Request) error {
	return req.Edit(ctx, rangeMenu())
}

func (b *Bot) cbPickDay(ctx context.Context, req *router.Request) error {
	b.convs.begin(req.Chat.ChatID, stepDay)
	return req.ReplyText(ctx, "Send the date as dd.mm.yyyy:")
}

// cbTaskList payload: "<period>[@page]" or "d:<dd.mm.yyyy>[@page]".
func (b *Bot) cbTaskList(ctx context.Context, req *router.Request) error {
	key, pageStr, _ := strings.Cut(req.Payload, "@")
	page, _ := strconv.Atoi(pageStr)

	if day, ok := strings.CutPrefix(key, "d:"); ok {
		t, err := todo.ParseDay(day, b.loc)
		if err != nil {
			return fmt.Errorf("bad day payload %q", req.Payload)
		}
		return b.showDay(ctx, req, t, page, true)
	}
	p, ok := todo.ParsePeriod(key)
	if !ok {
		return fmt.Errorf("unknown period %q", key)
	}
	list, err := b.d.Tasks.ForPeriod(ctx, p, b.now())
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	return req.Edit(ctx, b.taskList("Tasks: "+periodTitle(p), string(p), list, page))
}

func (b *Bot) showDay(ctx context.Context, req *router.Request, day time.Time, page int, edit bool) error {
	list, err := b.d.Tasks.OnDay(ctx, day)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	msg := b.taskList("Tasks on "+b.formatDay(day), "d:"+b.formatDay(day), list, page)
	if edit {
		return req.Edit(ctx, msg)
	}
	_, err = req.Reply(ctx, msg)
	return err
}

func (b *Bot) cbTaskView(ctx context.Context, req *router.Request) error {
	id, err := payloadID(req.Payload)
	if err != nil {
		return err
	}
	t, ok, err := b.d.Tasks.GetByID(ctx, id)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	if !ok {
		return req.Edit(ctx, tgui.New().Line("Task not found.").Build())
	}
	return req.Edit(ctx, b.taskView(t))
}

// cbTaskSet payload: "<id>:<status code>".
func (b *Bot) cbTaskSet(ctx context.Context, req *router.Request) error {
	idStr, code, _ := strings.Cut(req.Payload, ":")
	id, err := payloadID(idStr)
	if err != nil {
		return err
	}
	status, ok := statusCodes[code]
	if !ok {
		return fmt.Errorf("unknown status code %q", code)
	}
	t, found, err := b.setStatus(ctx, id, status)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	if !found {
		return req.Edit(ctx, tgui.New().Line("Task not found.").Build())
	}
	return req.Edit(ctx, b.taskView(t))
}

// cbTaskDone is the reminder's "Done!" button.
func (b *Bot) cbTaskDone(ctx context.Context, req *router.Request) error {
	id, err := payloadID(req.Payload)
	if err != nil {
		return err
	}
	t, found, err := b.setStatus(ctx, id, todo.StatusCompleted)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	if !found {
		return req.Edit(ctx, tgui.New().Line("Task not found.").Build())
	}
	return req.Edit(ctx, tgui.New().Title("✅", "Task completed").Blank().HTML(tgui.B(t.Title)).Build())
}

// setStatus writes status and retracts the reminder once the task is closed.
func (b *Bot) setStatus(ctx context.Context, id int64, status todo.Status) (todo.Task, bool, error) {
	t, ok, err := b.d.Tasks.GetByID(ctx, id)
	if err != nil || !ok {
		return t, ok, err
	}
	if err := b.d.Tasks.SetStatus(ctx, id, status); err != nil {
		return t, true, err
	}
	t.Status = status
	if status == todo.StatusCompleted || status == todo.StatusNotCompleted {
		b.d.Reminders.Cancel(id)
	}
	b.log.Info("task status changed", logx.Int64("task_id", id), logx.String("status", string(status)))
	return t, true, nil
}

// cbTaskDelete asks before deleting; No returns to the task card.
func (b *Bot) cbTaskDelete(ctx context.Context, req *router.Request) error {
	id, err := payloadID(req.Payload)
	if err != nil {
		return err
	}
	t, ok, err := b.d.Tasks.GetByID(ctx, id)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	if !ok {
		return req.Edit(ctx, tgui.New().Line("Task not found.").Build())
	}
	return req.Edit(ctx, tgui.Confirm(
		fmt.Sprintf("Delete %q?", tgui.TruncRunes(t.Title, 40)),
		tgui.DataID(nsTask, actDelOK, id),
		tgui.DataID(nsTask, actView, id),
	))
}

func (b *Bot) cbTaskDeleteConfirmed(ctx context.Context, req *router.Request) error {
	id, err := payloadID(req.Payload)
	if err != nil {
		return err
	}
	deleted, err := b.d.Tasks.Delete(ctx, id)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	b.d.Reminders.Cancel(id)
	text := "🗑 Task deleted."
	if !deleted {
		text = "Task not found."
	}
	kb := tgui.NewInline().Row(tgui.Btn("⬅️ Back", tgui.Data(nsTask, actMenu, "")))
	return req.Edit(ctx, tgui.New().Line(text).Inline(kb).Build())
}

func (b *Bot) storeFailed(ctx context.Context, req *router.Request, err error) error {
	_ = req.ReplyText(ctx, "Storage error, please try again later.")
	return err
}

func payloadID(s string) (int64, error) {
	return tgui.Callback{Payload: s}.ID()
}
