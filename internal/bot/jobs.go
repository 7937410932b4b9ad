package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"taskbot/internal/jobs"
	"taskbot/internal/transport/telegram/router"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

func (b *Bot) cmdJobs(ctx context.Context, req *router.Request) error {
	b.recordOwner(req.Chat.ChatID)
	if req.ArgLine == "" {
		b.convs.begin(req.Chat.ChatID, stepQuery)
		return req.ReplyText(ctx, "What position are you looking for? (e.g. golang)")
	}
	return b.searchJobs(ctx, req, req.ArgLine)
}

// searchJobs queries every source, stores the results and lists only the
// postings that were not stored before.
func (b *Bot) searchJobs(ctx context.Context, req *router.Request, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return req.ReplyText(ctx, "Usage: /jobs <query>")
	}
	_ = req.ReplyText(ctx, fmt.Sprintf("🔎 Searching %s for %q…", strings.Join(b.d.Search.Sources(), ", "), query))

	fresh, err := b.ingest(ctx, query)
	if err != nil {
		req.Logger.Warn("vacancy search failed", logx.String("query", query), logx.Err(err))
		return req.ReplyText(ctx, "Search failed, the job sites did not answer. Try again later.")
	}
	if len(fresh) == 0 {
		return req.ReplyText(ctx, fmt.Sprintf("No new vacancies for %q. /vacancies shows the stored ones.", query))
	}
	_, err = req.Reply(ctx, postingDigest(fmt.Sprintf("%d new vacancies for %q", len(fresh), query), fresh))
	return err
}

func (b *Bot) ingest(ctx context.Context, query string) ([]jobs.Posting, error) {
	cands, err := b.d.Search.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return b.d.Jobs.Ingest(ctx, cands)
}

func (b *Bot) cmdVacancies(ctx context.Context, req *router.Request) error {
	list, err := b.d.Jobs.All(ctx)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	_, err = req.Reply(ctx, b.postingList(list, 0))
	return err
}

func (b *Bot) cbJobPage(ctx context.Context, req *router.Request) error {
	page, _ := strconv.Atoi(req.Payload)
	list, err := b.d.Jobs.All(ctx)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	return req.Edit(ctx, b.postingList(list, page))
}

// cbJobView opens a posting, which marks it Viewed.
func (b *Bot) cbJobView(ctx context.Context, req *router.Request) error {
	id, err := payloadID(req.Payload)
	if err != nil {
		return err
	}
	p, ok, err := b.d.Jobs.Open(ctx, id)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	if !ok {
		return req.Edit(ctx, tgui.New().Line("Vacancy not found.").Build())
	}
	return req.Edit(ctx, postingView(p, b.pageOf(ctx, id)))
}

// pageOf finds the list page holding id so Back returns to it.
func (b *Bot) pageOf(ctx context.Context, id int64) int {
	list, err := b.d.Jobs.All(ctx)
	if err != nil {
		return 0
	}
	for i, p := range list {
		if p.ID == id {
			return i / b.d.PageSize
		}
	}
	return 0
}

func (b *Bot) cmdClearJobs(ctx context.Context, req *router.Request) error {
	n, err := b.d.Jobs.Count(ctx)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	if n == 0 {
		return req.ReplyText(ctx, "No stored vacancies.")
	}
	_, err = req.Reply(ctx, tgui.Confirm(
		fmt.Sprintf("Delete all %d stored vacancies?", n),
		tgui.Data(nsJob, actClear, "yes"),
		tgui.Data(nsJob, actClear, "no"),
	))
	return err
}

func (b *Bot) cbJobClear(ctx context.Context, req *router.Request) error {
	if req.Payload != "yes" {
		return req.Edit(ctx, tgui.New().Line("Vacancies kept.").Build())
	}
	n, err := b.d.Jobs.Clear(ctx)
	if err != nil {
		return b.storeFailed(ctx, req, err)
	}
	req.Logger.Info("vacancies cleared", logx.Int64("rows", n))
	return req.Edit(ctx, tgui.New().Line(fmt.Sprintf("🧹 Removed %d vacancies.", n)).Build())
}
