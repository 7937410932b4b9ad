package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskbot/internal/task/scheduler"
	"taskbot/internal/todo"
	"taskbot/internal/transport/telegram/router"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

func (b *Bot) cmdAdd(ctx context.Context, req *router.Request) error {
	b.recordOwner(req.Chat.ChatID)
	b.convs.begin(req.Chat.ChatID, stepTitle)
	return req.ReplyText(ctx, "Enter the task title (/cancel to abort):")
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	if !b.convs.drop(req.Chat.ChatID) {
		return req.ReplyText(ctx, "Nothing to cancel.")
	}
	return req.ReplyText(ctx, "Cancelled.")
}

func (b *Bot) cmdSkip(ctx context.Context, req *router.Request) error {
	d, ok := b.convs.get(req.Chat.ChatID)
	if !ok || d.step != stepDescription {
		return req.ReplyText(ctx, "Nothing to skip.")
	}
	return b.setDescription(ctx, req, noDesc)
}

func (b *Bot) cmdSkipTime(ctx context.Context, req *router.Request) error {
	d, ok := b.convs.get(req.Chat.ChatID)
	if !ok || d.step != stepTime {
		return req.ReplyText(ctx, "Nothing to skip.")
	}
	return b.finishTask(ctx, req, d, d.day)
}

// HandleText feeds free text to the chat's active dialog.
func (b *Bot) HandleText(ctx context.Context, req *router.Request) error {
	d, ok := b.convs.get(req.Chat.ChatID)
	if !ok {
		return req.ReplyText(ctx, "Use the menu buttons or /help.")
	}
	text := strings.TrimSpace(req.Text)

	switch d.step {
	case stepTitle:
		if text == "" {
			return req.ReplyText(ctx, "The title cannot be empty. Enter the task title:")
		}
		b.convs.update(req.Chat.ChatID, func(d *draft) {
			d.title = text
			d.step = stepDescription
		})
		return req.ReplyText(ctx, "Enter a description, or /skip:")

	case stepDescription:
		return b.setDescription(ctx, req, text)

	case stepDate:
		day, err := todo.ParseDay(text, b.loc)
		if err != nil {
			return req.ReplyText(ctx, "Invalid date. Use dd.mm.yyyy or the buttons above.")
		}
		return b.setDay(ctx, req, day)

	case stepTime:
		h, m, err := scheduler.ParseHHMM(text)
		if err != nil {
			return req.ReplyText(ctx, "Invalid time. Use HH:MM (00:00 to 23:59), or /skip_time.")
		}
		at := time.Date(d.day.Year(), d.day.Month(), d.day.Day(), h, m, 0, 0, b.loc)
		return b.finishTask(ctx, req, d, at)

	case stepQuery:
		b.convs.drop(req.Chat.ChatID)
		return b.searchJobs(ctx, req, text)

	case stepDay:
		day, err := todo.ParseDay(text, b.loc)
		if err != nil {
			return req.ReplyText(ctx, "Invalid date. Use dd.mm.yyyy.")
		}
		b.convs.drop(req.Chat.ChatID)
		return b.showDay(ctx, req, day, 0, false)
	}
	return nil
}

func (b *Bot) setDescription(ctx context.Context, req *router.Request, desc string) error {
	b.convs.update(req.Chat.ChatID, func(d *draft) {
		d.description = desc
		d.step = stepDate
	})
	msg := tgui.New().
		Line("Pick the date or send it as dd.mm.yyyy:").
		Inline(dateButtons()).
		Build()
	_, err := req.Reply(ctx, msg)
	return err
}

func (b *Bot) setDay(ctx context.Context, req *router.Request, day time.Time) error {
	day, _ = todo.DayBounds(day.In(b.loc))
	ok := b.convs.update(req.Chat.ChatID, func(d *draft) {
		d.day = day
		d.step = stepTime
	})
	if !ok {
		return req.ReplyText(ctx, "This dialog has expired. Start again with /add.")
	}
	return req.ReplyText(ctx, fmt.Sprintf("Date: %s. Now send the time as HH:MM, or /skip_time.", b.formatDay(day)))
}

// cbAddDate handles the quick date buttons; the payload is a day offset.
func (b *Bot) cbAddDate(ctx context.Context, req *router.Request) error {
	d, ok := b.convs.get(req.Chat.ChatID)
	if !ok || d.step != stepDate {
		return req.ReplyText(ctx, "This dialog has expired. Start again with /add.")
	}
	offset, err := strconv.Atoi(req.Payload)
	if err != nil || offset < 0 {
		return fmt.Errorf("bad day offset %q", req.Payload)
	}
	return b.setDay(ctx, req, b.now().In(b.loc).AddDate(0, 0, offset))
}

// finishTask stores the drafted task with status In Progress and arms its
// reminder when at is still ahead.
func (b *Bot) finishTask(ctx context.Context, req *router.Request, d draft, at time.Time) error {
	b.convs.drop(req.Chat.ChatID)
	if strings.TrimSpace(d.title) == "" {
		return errors.New("draft without title")
	}
	task, err := b.d.Tasks.Add(ctx, d.title, d.description, &at, todo.StatusInProgress)
	if err != nil {
		b.log.Warn("task not saved", logx.Err(err))
		return req.ReplyText(ctx, "Could not save the task, please try again.")
	}
	armed := b.d.Reminders.Schedule(task, req.Chat.ChatID)

	bld := tgui.New().
		Title("✅", "Task added").
		Blank().
		HTML(tgui.B(task.Title)).
		KV("Date", at.In(b.loc).Format(timeLayout))
	if armed {
		bld.Line("⏰ I will remind you at that time.")
	} else {
		bld.Line("The time has already passed, so no reminder is set.")
	}
	_, err = req.Reply(ctx, bld.Build())
	return err
}
