package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskbot/internal/todo"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

// Digest sends today's tasks to the owner chat. It is a cron job.
func (b *Bot) Digest(ctx context.Context) error {
	chat := b.Owner()
	if chat == 0 {
		b.log.Debug("digest skipped: no owner chat")
		return nil
	}
	list, err := b.d.Tasks.ForPeriod(ctx, todo.PeriodToday, b.now())
	if err != nil {
		return err
	}
	bld := tgui.New().Title("☀️", "Today's tasks").Blank()
	if len(list) == 0 {
		bld.Line("Nothing planned for today.")
	}
	for _, t := range list {
		line := statusIcon(t.Status) + " "
		if t.HasDeadline() {
			line += t.Date.In(b.loc).Format("15:04") + " "
		}
		bld.Line(line + t.Title)
	}
	_, err = bld.Build().Send(ctx, b.d.Sender, kit.ChatTarget{ChatID: chat})
	return err
}

// Watch returns a cron job that searches every query and posts the
// vacancies not seen before to the owner chat. Without an owner chat the
// results are only stored for /vacancies.
func (b *Bot) Watch(queries []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		chat := b.Owner()
		var errs []error
		for _, q := range queries {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			cands, err := b.d.Search.Search(ctx, q)
			if err != nil {
				b.log.Warn("vacancy watch search failed", logx.String("query", q), logx.Err(err))
				errs = append(errs, err)
				continue
			}
			if chat == 0 {
				n, err := b.d.Jobs.Store(ctx, cands)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				b.log.Debug("vacancy watch stored without owner chat", logx.String("query", q), logx.Int("new", n))
				continue
			}
			fresh, err := b.d.Jobs.Ingest(ctx, cands)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if len(fresh) == 0 {
				continue
			}
			// Postings are already stored; a retry would find nothing new.
			msg := postingDigest(fmt.Sprintf("%d new vacancies for %q", len(fresh), q), fresh)
			if _, err := msg.Send(ctx, b.d.Sender, kit.ChatTarget{ChatID: chat}); err != nil {
				b.log.Warn("vacancy watch notice not sent", logx.String("query", q), logx.Int("new", len(fresh)), logx.Err(err))
			}
		}
		return errors.Join(errs...)
	}
}
