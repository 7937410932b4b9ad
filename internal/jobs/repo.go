package jobs

import (
	"context"

	"taskbot/internal/storage"
	logx "taskbot/pkg/logx"
)

// Repo is the job posting repository.
type Repo struct {
	*storage.Repository[Posting]
	log logx.Logger
}

func NewRepo(db *storage.DB, log logx.Logger) (*Repo, error) {
	r, err := storage.NewRepository(db, Schema, scanPosting)
	if err != nil {
		return nil, err
	}
	return &Repo{Repository: r, log: log.With(logx.String("comp", "jobs.repo"))}, nil
}

// Ingest stores candidates through get-or-create and returns only the
// postings that were newly inserted, in input order. A failing candidate is
// logged and skipped.
func (r *Repo) Ingest(ctx context.Context, cands []Candidate) ([]Posting, error) {
	var fresh []Posting
	for _, c := range cands {
		p, created, err := r.GetOrCreate(ctx, c.values())
		if err != nil {
			if ctx.Err() != nil {
				return fresh, ctx.Err()
			}
			r.log.Warn("ingest candidate failed", logx.String("title", c.Title), logx.String("source", c.Source), logx.Err(err))
			continue
		}
		if created {
			fresh = append(fresh, p)
		}
	}
	return fresh, nil
}

// Store bulk-inserts candidates with status New, skipping known postings.
// It returns the number of rows inserted.
func (r *Repo) Store(ctx context.Context, cands []Candidate) (int, error) {
	rows := make([]storage.Values, 0, len(cands))
	for _, c := range cands {
		v := c.values()
		v["status"] = StatusNew
		rows = append(rows, v)
	}
	return r.BulkCreate(ctx, rows)
}

// Open returns a posting and marks it Viewed.
func (r *Repo) Open(ctx context.Context, id int64) (Posting, bool, error) {
	p, ok, err := r.GetByID(ctx, id)
	if err != nil || !ok {
		return p, ok, err
	}
	if p.Status != StatusViewed {
		if err := r.Update(ctx, id, storage.Values{"status": StatusViewed}); err != nil {
			return p, true, err
		}
		p.Status = StatusViewed
	}
	return p, true, nil
}
