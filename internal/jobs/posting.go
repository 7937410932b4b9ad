// Package jobs holds the job posting collection and the sources postings
// are scraped from.
package jobs

import (
	"database/sql"

	"taskbot/internal/storage"
)

// Status tracks whether the user has looked at a posting.
type Status string

const (
	StatusNew    Status = "New"
	StatusViewed Status = "Viewed"
)

// Posting is one stored job posting. Empty strings stand for absent values.
type Posting struct {
	ID      int64
	Title   string
	Company string
	Link    string
	Salary  string
	JobType string
	Status  Status
}

// Candidate is a posting as reported by a source, before it is stored.
type Candidate struct {
	Title   string `json:"title"`
	Company string `json:"company,omitempty"`
	Link    string `json:"link,omitempty"`
	Salary  string `json:"salary,omitempty"`
	JobType string `json:"job_type,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Key is the natural duplicate key of a candidate.
func (c Candidate) Key() string { return c.Title + "\x00" + c.Company + "\x00" + c.Link }

func (c Candidate) values() storage.Values {
	v := storage.Values{"title": c.Title, "company": c.Company, "link": c.Link}
	if c.Salary != "" {
		v["salary"] = c.Salary
	}
	if c.JobType != "" {
		v["job_type"] = c.JobType
	}
	return v
}

// Schema is the jobs table. Ingestion writes status New; the column has no
// default of its own.
var Schema = storage.Schema{
	Table: "jobs",
	Key:   "id",
	Columns: []storage.Column{
		{Name: "id", Kind: storage.KindInt, ReadOnly: true},
		{Name: "title", Kind: storage.KindText, Required: true},
		{Name: "company", Kind: storage.KindText},
		{Name: "link", Kind: storage.KindText},
		{Name: "salary", Kind: storage.KindText},
		{Name: "job_type", Kind: storage.KindText},
		{Name: "status", Kind: storage.KindText, Enum: []string{string(StatusNew), string(StatusViewed)}},
	},
	OrderBy:        "id",
	NaturalKey:     []string{"title", "company", "link"},
	CreateDefaults: storage.Values{"status": StatusNew},
}

func scanPosting(s storage.Scanner) (Posting, error) {
	var (
		p                                       Posting
		company, link, salary, jobType, status sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Title, &company, &link, &salary, &jobType, &status); err != nil {
		return Posting{}, err
	}
	p.Company, p.Link, p.Salary, p.JobType = company.String, link.String, salary.String, jobType.String
	p.Status = Status(status.String)
	return p, nil
}
