package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "taskbot/pkg/logx"
)

type note struct {
	ID          int64
	Title       string
	Description sql.NullString
	Date        sql.NullTime
	Status      string
}

var noteSchema = Schema{
	Table: "tasks",
	Key:   "id",
	Columns: []Column{
		{Name: "id", Kind: KindInt, ReadOnly: true},
		{Name: "title", Kind: KindText, Required: true},
		{Name: "description", Kind: KindText},
		{Name: "date", Kind: KindTime},
		{Name: "status", Kind: KindText, Enum: []string{"Not Started", "In Progress", "Completed", "Not Completed"}},
	},
	OrderBy: "date",
}

func scanNote(s Scanner) (note, error) {
	var n note
	err := s.Scan(&n.ID, &n.Title, &n.Description, &n.Date, &n.Status)
	return n, err
}

type posting struct {
	ID      int64
	Title   string
	Company sql.NullString
	Link    sql.NullString
	Salary  sql.NullString
	JobType sql.NullString
	Status  sql.NullString
}

var postingSchema = Schema{
	Table: "jobs",
	Key:   "id",
	Columns: []Column{
		{Name: "id", Kind: KindInt, ReadOnly: true},
		{Name: "title", Kind: KindText, Required: true},
		{Name: "company", Kind: KindText},
		{Name: "link", Kind: KindText},
		{Name: "salary", Kind: KindText},
		{Name: "job_type", Kind: KindText},
		{Name: "status", Kind: KindText, Enum: []string{"New", "Viewed"}},
	},
	OrderBy:        "id",
	NaturalKey:     []string{"title", "company", "link"},
	CreateDefaults: Values{"status": "New"},
}

func scanPosting(s Scanner) (posting, error) {
	var p posting
	err := s.Scan(&p.ID, &p.Title, &p.Company, &p.Link, &p.Salary, &p.JobType, &p.Status)
	return p, err
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "taskbot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newNotes(t *testing.T, db *DB) *Repository[note] {
	t.Helper()
	r, err := NewRepository(db, noteSchema, scanNote)
	require.NoError(t, err)
	return r
}

func newPostings(t *testing.T, db *DB) *Repository[posting] {
	t.Helper()
	r, err := NewRepository(db, postingSchema, scanPosting)
	require.NoError(t, err)
	return r
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notes := newNotes(t, openTestDB(t))

	when := time.Date(2030, 3, 4, 9, 0, 0, 0, time.UTC)
	created, err := notes.Create(ctx, Values{"title": "Buy milk", "date": when, "status": "In Progress"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)

	got, ok, err := notes.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Buy milk", got.Title)
	assert.False(t, got.Description.Valid)
	require.True(t, got.Date.Valid)
	assert.True(t, got.Date.Time.Equal(when), "date %v", got.Date.Time)
	assert.Equal(t, "In Progress", got.Status)
}

func TestCreateUsesColumnDefaultStatus(t *testing.T) {
	t.Parallel()
	notes := newNotes(t, openTestDB(t))

	n, err := notes.Create(context.Background(), Values{"title": "Plain"})
	require.NoError(t, err)
	assert.Equal(t, "Not Started", n.Status)
}

func TestCreateMissingRequiredIsStorageError(t *testing.T) {
	t.Parallel()
	notes := newNotes(t, openTestDB(t))

	_, err := notes.Create(context.Background(), Values{"title": "  ", "status": "In Progress"})
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestInvalidQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notes := newNotes(t, openTestDB(t))

	cases := []struct {
		name string
		run  func() error
	}{
		{"empty get", func() error { _, _, err := notes.Get(ctx, nil); return err }},
		{"empty filter", func() error { _, err := notes.Filter(ctx, Values{}); return err }},
		{"unknown column", func() error { _, err := notes.Filter(ctx, Values{"owner": 1}); return err }},
		{"wrong kind", func() error { _, err := notes.Filter(ctx, Values{"date": "tomorrow"}); return err }},
		{"bad enum", func() error { return notes.Update(ctx, 1, Values{"status": "Done-ish"}) }},
		{"read-only write", func() error { return notes.Update(ctx, 1, Values{"id": 9}) }},
		{"empty patch", func() error { return notes.Update(ctx, 1, nil) }},
		{"range on text", func() error { _, err := notes.Range(ctx, "title", time.Now(), time.Now()); return err }},
	}
	for _, tc := range cases {
		err := tc.run()
		assert.True(t, IsInvalidQuery(err), "%s: err=%v", tc.name, err)
	}
}

func TestGetAbsentIsNotAnError(t *testing.T) {
	t.Parallel()
	notes := newNotes(t, openTestDB(t))

	_, ok, err := notes.Get(context.Background(), Values{"title": "ghost"})
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := notes.Filter(context.Background(), Values{"title": "ghost"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFilterAndGetOrderByDateNullsLast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notes := newNotes(t, openTestDB(t))

	base := time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)
	for _, f := range []Values{
		{"title": "late", "date": base.Add(48 * time.Hour), "status": "In Progress"},
		{"title": "undated", "status": "In Progress"},
		{"title": "early", "date": base, "status": "In Progress"},
		{"title": "done", "date": base.Add(time.Hour), "status": "Completed"},
	} {
		_, err := notes.Create(ctx, f)
		require.NoError(t, err)
	}

	list, err := notes.Filter(ctx, Values{"status": "In Progress"})
	require.NoError(t, err)
	titles := make([]string, len(list))
	for i, n := range list {
		titles[i] = n.Title
	}
	assert.Equal(t, []string{"early", "late", "undated"}, titles)

	first, ok, err := notes.Get(ctx, Values{"status": "In Progress"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "early", first.Title)

	undated, err := notes.Filter(ctx, Values{"date": nil})
	require.NoError(t, err)
	require.Len(t, undated, 1)
	assert.Equal(t, "undated", undated[0].Title)
}

func TestRangeIsInclusiveAndAscending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notes := newNotes(t, openTestDB(t))

	day := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"d0", "d1", "d2", "d3"} {
		_, err := notes.Create(ctx, Values{"title": title, "date": day.AddDate(0, 0, i)})
		require.NoError(t, err)
	}
	// Created out of order to check sorting.
	_, err := notes.Create(ctx, Values{"title": "d1-morning", "date": day.AddDate(0, 0, 1).Add(-time.Hour)})
	require.NoError(t, err)

	list, err := notes.Range(ctx, "date", day.AddDate(0, 0, 1).Add(-time.Hour), day.AddDate(0, 0, 2))
	require.NoError(t, err)
	titles := []string{}
	for _, n := range list {
		titles = append(titles, n.Title)
	}
	assert.Equal(t, []string{"d1-morning", "d1", "d2"}, titles)

	_, err = notes.Range(ctx, "date", day, day.Add(-time.Second))
	assert.True(t, IsInvalidQuery(err))
}

func TestUpdateSilentOnUnknownID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notes := newNotes(t, openTestDB(t))

	n, err := notes.Create(ctx, Values{"title": "Buy milk", "status": "In Progress"})
	require.NoError(t, err)

	require.NoError(t, notes.Update(ctx, n.ID, Values{"status": "Completed"}))
	got, _, err := notes.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Completed", got.Status)

	assert.NoError(t, notes.Update(ctx, 999, Values{"status": "Completed"}))
	assert.ErrorIs(t, notes.UpdateChecked(ctx, 999, Values{"status": "Completed"}), ErrNotFound)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notes := newNotes(t, openTestDB(t))

	a, err := notes.Create(ctx, Values{"title": "a"})
	require.NoError(t, err)
	_, err = notes.Create(ctx, Values{"title": "b"})
	require.NoError(t, err)

	removed, err := notes.Delete(ctx, 42)
	require.NoError(t, err)
	assert.False(t, removed)
	count, _ := notes.Count(ctx)
	assert.Equal(t, int64(2), count)

	removed, err = notes.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	all, err := notes.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Title)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs := newPostings(t, openTestDB(t))

	fields := Values{"title": "Go developer", "company": "Acme", "link": "https://example.com/1", "salary": "1000 - 2000"}
	first, created, err := jobs.GetOrCreate(ctx, fields)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "New", first.Status.String)

	again, created, err := jobs.GetOrCreate(ctx, fields)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again)
}

func TestGetOrCreateResolvesNaturalKeyConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs := newPostings(t, openTestDB(t))

	orig, _, err := jobs.GetOrCreate(ctx, Values{"title": "QA", "company": "Acme", "link": "https://example.com/qa", "salary": "500"})
	require.NoError(t, err)

	// Same natural key, different salary: the stored row wins.
	got, created, err := jobs.GetOrCreate(ctx, Values{"title": "QA", "company": "Acme", "link": "https://example.com/qa", "salary": "900"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, "500", got.Salary.String)
}

func TestBulkCreateSkipsDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs := newPostings(t, openTestDB(t))

	existing, err := jobs.Create(ctx, Values{"title": "Backend", "company": "Acme", "link": "l1", "salary": "old", "status": "Viewed"})
	require.NoError(t, err)

	n, err := jobs.BulkCreate(ctx, []Values{
		{"title": "Backend", "company": "Acme", "link": "l1", "salary": "new", "status": "New"},
		{"title": "Frontend", "company": "Acme", "link": "l2", "status": "New"},
		{"title": "Mobile", "link": "l3", "status": "New"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _, err := jobs.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", got.Salary.String)
	assert.Equal(t, "Viewed", got.Status.String)

	// Nil company is stored as empty text so the same posting is a duplicate again.
	n, err = jobs.BulkCreate(ctx, []Values{{"title": "Mobile", "link": "l3", "status": "New"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBulkCreateRollsBackOnInvalidRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs := newPostings(t, openTestDB(t))

	_, err := jobs.BulkCreate(ctx, []Values{
		{"title": "ok", "link": "a"},
		{"company": "no title"},
	})
	require.Error(t, err)
	count, err := jobs.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWithTxRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	notes := newNotes(t, db)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(q Querier) error {
		if _, err := q.ExecContext(ctx, "INSERT INTO tasks (title) VALUES ('temp')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	count, _ := notes.Count(ctx)
	assert.Zero(t, count)
}

func TestClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs := newPostings(t, openTestDB(t))

	_, err := jobs.BulkCreate(ctx, []Values{{"title": "a", "link": "1"}, {"title": "b", "link": "2"}})
	require.NoError(t, err)
	n, err := jobs.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSchemaValidate(t *testing.T) {
	t.Parallel()

	bad := []Schema{
		{},
		{Table: "t", Key: "id", Columns: []Column{{Name: "id", Kind: KindText}}, OrderBy: "id"},
		{Table: "t", Key: "id", Columns: []Column{{Name: "id"}, {Name: "id"}}, OrderBy: "id"},
		{Table: "t", Key: "id", Columns: []Column{{Name: "id"}}, OrderBy: "missing"},
		{Table: "t", Key: "id", Columns: []Column{{Name: "id"}}, OrderBy: "id", NaturalKey: []string{"id"}},
	}
	for i, s := range bad {
		assert.Error(t, s.Validate(), "case %d", i)
	}
	assert.NoError(t, noteSchema.Validate())
	assert.NoError(t, postingSchema.Validate())
}
