package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/transport/telegram/router"
	"taskbot/pkg/tgui"
)

const statusPendingShown = 10

func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	bld := tgui.New().Title("📊", "Status").Blank()

	pending := b.d.Reminders.Pending()
	bld.KV("Pending reminders", fmt.Sprint(len(pending)))
	for i, p := range pending {
		if i == statusPendingShown {
			bld.Line(fmt.Sprintf("… and %d more", len(pending)-i))
			break
		}
		bld.Line(fmt.Sprintf("  ⏰ %s · %s", p.At.In(b.loc).Format(timeLayout), tgui.TruncRunes(p.Title, 40)))
	}

	if b.d.Engine != nil {
		s := b.d.Engine.Snapshot()
		bld.KV("Queue", fmt.Sprintf("%d/%d, in flight %d, dropped %d", s.QueueLen, s.QueueCap, s.InFlight, s.Dropped))
		failed := 0
		for _, h := range s.History {
			if h.Error != "" {
				failed++
			}
		}
		bld.KV("Recent runs", fmt.Sprintf("%d (%d failed)", len(s.History), failed))
		if len(s.OpenCircuits) > 0 {
			bld.KV("Paused after failures", strings.Join(s.OpenCircuits, ", "))
		}
	}

	if n, err := b.d.Tasks.Count(ctx); err == nil {
		bld.KV("Tasks stored", fmt.Sprint(n))
	}
	if n, err := b.d.Jobs.Count(ctx); err == nil {
		bld.KV("Vacancies stored", fmt.Sprint(n))
	}
	owner := "not set (send /start)"
	if id := b.Owner(); id != 0 {
		owner = fmt.Sprint(id)
	}
	bld.KV("Owner chat", owner)
	bld.KV("Uptime", b.now().Sub(b.start).Truncate(time.Second).String())

	_, err := req.Reply(ctx, bld.Build())
	return err
}
