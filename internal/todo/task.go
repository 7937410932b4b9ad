// Package todo holds the task collection: the Task model, its statuses and
// calendar-range queries on top of the generic repository.
package todo

import (
	"database/sql"
	"time"

	"taskbot/internal/storage"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusNotStarted is the store's column default.
	StatusNotStarted Status = "Not Started"
	// StatusInProgress is written by the interactive add-task flow.
	StatusInProgress   Status = "In Progress"
	StatusCompleted    Status = "Completed"
	StatusNotCompleted Status = "Not Completed"
)

var statuses = []string{
	string(StatusNotStarted),
	string(StatusInProgress),
	string(StatusCompleted),
	string(StatusNotCompleted),
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, v := range statuses {
		if string(s) == v {
			return true
		}
	}
	return false
}

// Task is one to-do item. Description is empty when absent; Date is nil
// when the task has no deadline.
type Task struct {
	ID          int64
	Title       string
	Description string
	Date        *time.Time
	Status      Status
}

// HasDeadline reports whether the task carries an execution time.
func (t Task) HasDeadline() bool { return t.Date != nil && !t.Date.IsZero() }

// Schema is the tasks table as seen by the repository.
var Schema = storage.Schema{
	Table: "tasks",
	Key:   "id",
	Columns: []storage.Column{
		{Name: "id", Kind: storage.KindInt, ReadOnly: true},
		{Name: "title", Kind: storage.KindText, Required: true},
		{Name: "description", Kind: storage.KindText},
		{Name: "date", Kind: storage.KindTime},
		{Name: "status", Kind: storage.KindText, Enum: statuses},
	},
	OrderBy: "date",
}

func scanner(loc *time.Location) storage.ScanFunc[Task] {
	return func(s storage.Scanner) (Task, error) {
		var (
			t      Task
			desc   sql.NullString
			date   sql.NullTime
			status string
		)
		if err := s.Scan(&t.ID, &t.Title, &desc, &date, &status); err != nil {
			return Task{}, err
		}
		t.Description = desc.String
		t.Status = Status(status)
		if date.Valid {
			d := date.Time.In(loc)
			t.Date = &d
		}
		return t, nil
	}
}
