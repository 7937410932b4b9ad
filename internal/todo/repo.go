package todo

import (
	"context"
	"sort"
	"strings"
	"time"

	"taskbot/internal/storage"
)

// Repo is the task repository.
type Repo struct {
	*storage.Repository[Task]
	loc *time.Location
}

// NewRepo binds the task schema to db. Dates are returned in loc.
func NewRepo(db *storage.DB, loc *time.Location) (*Repo, error) {
	if loc == nil {
		loc = time.Local
	}
	r, err := storage.NewRepository(db, Schema, scanner(loc))
	if err != nil {
		return nil, err
	}
	return &Repo{Repository: r, loc: loc}, nil
}

// Location is the zone calendar ranges are computed in.
func (r *Repo) Location() *time.Location { return r.loc }

// Add creates a task. An empty description is stored as NULL, a nil date
// means no deadline.
func (r *Repo) Add(ctx context.Context, title, description string, date *time.Time, status Status) (Task, error) {
	fields := storage.Values{
		"title":  strings.TrimSpace(title),
		"status": status,
	}
	if description != "" {
		fields["description"] = description
	}
	if date != nil {
		fields["date"] = *date
	}
	return r.Create(ctx, fields)
}

// SetStatus changes a task's status. An unknown id is reported as
// storage.ErrNotFound.
func (r *Repo) SetStatus(ctx context.Context, id int64, status Status) error {
	return r.UpdateChecked(ctx, id, storage.Values{"status": status})
}

// TasksForRange returns tasks dated within [start, end], ascending by date.
func (r *Repo) TasksForRange(ctx context.Context, start, end time.Time) ([]Task, error) {
	return r.Range(ctx, "date", start, end)
}

// ForPeriod lists the tasks of a calendar period around now. PeriodAll
// returns every task, undated ones included.
func (r *Repo) ForPeriod(ctx context.Context, p Period, now time.Time) ([]Task, error) {
	if p == PeriodAll {
		return r.All(ctx)
	}
	start, end, err := p.Bounds(now.In(r.loc))
	if err != nil {
		return nil, err
	}
	return r.TasksForRange(ctx, start, end)
}

// OnDay lists the tasks of one calendar day.
func (r *Repo) OnDay(ctx context.Context, day time.Time) ([]Task, error) {
	start, end := DayBounds(day.In(r.loc))
	return r.TasksForRange(ctx, start, end)
}

// Upcoming returns open tasks (Not Started or In Progress) dated strictly
// after now, ascending by date.
func (r *Repo) Upcoming(ctx context.Context, now time.Time) ([]Task, error) {
	var out []Task
	for _, st := range []Status{StatusNotStarted, StatusInProgress} {
		list, err := r.Filter(ctx, storage.Values{"status": st})
		if err != nil {
			return nil, err
		}
		for _, t := range list {
			if t.HasDeadline() && t.Date.After(now) {
				out = append(out, t)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(*out[j].Date) })
	return out, nil
}
