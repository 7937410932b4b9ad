package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HeadHunterConfig configures the hh.ru vacancies API client.
type HeadHunterConfig struct {
	BaseURL  string // API root, "https://api.hh.ru" by default
	Area     int    // region code, 48 (Kyrgyzstan) by default
	Pages    int    // result pages to read, 10 by default
	PerPage  int    // 10 by default
	Interval time.Duration
	Client   *http.Client
}

// HeadHunter searches the hh.ru vacancies API.
type HeadHunter struct {
	cfg HeadHunterConfig
	f   fetcher
}

func NewHeadHunter(cfg HeadHunterConfig) *HeadHunter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.hh.ru"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Area == 0 {
		cfg.Area = 48
	}
	if cfg.Pages <= 0 {
		cfg.Pages = 10
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 10
	}
	return &HeadHunter{cfg: cfg, f: newFetcher(cfg.Client, cfg.Interval)}
}

func (h *HeadHunter) Name() string { return "hh" }

type hhPage struct {
	Items []hhVacancy `json:"items"`
	Pages int         `json:"pages"`
}

type hhVacancy struct {
	Name         string `json:"name"`
	AlternateURL string `json:"alternate_url"`
	Employer     struct {
		Name string `json:"name"`
	} `json:"employer"`
	Salary *struct {
		From     *int   `json:"from"`
		To       *int   `json:"to"`
		Currency string `json:"currency"`
	} `json:"salary"`
	Schedule *struct {
		Name string `json:"name"`
	} `json:"schedule"`
}

func (h *HeadHunter) Search(ctx context.Context, query string) ([]Candidate, error) {
	var out []Candidate
	for page := 0; page < h.cfg.Pages; page++ {
		p, err := h.page(ctx, query, page)
		if err != nil {
			return out, err
		}
		for _, v := range p.Items {
			out = append(out, v.candidate(h.Name()))
		}
		if len(p.Items) == 0 || (p.Pages > 0 && page+1 >= p.Pages) {
			break
		}
	}
	return out, nil
}

func (h *HeadHunter) page(ctx context.Context, query string, page int) (hhPage, error) {
	params := url.Values{}
	params.Set("text", query)
	params.Set("area", strconv.Itoa(h.cfg.Area))
	params.Set("per_page", strconv.Itoa(h.cfg.PerPage))
	params.Set("page", strconv.Itoa(page))

	body, err := h.f.get(ctx, h.cfg.BaseURL+"/vacancies?"+params.Encode())
	if err != nil {
		return hhPage{}, err
	}
	defer body.Close()

	var p hhPage
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		return hhPage{}, fmt.Errorf("hh page %d: %w", page, err)
	}
	return p, nil
}

func (v hhVacancy) candidate(source string) Candidate {
	c := Candidate{
		Title:   strings.TrimSpace(v.Name),
		Company: strings.TrimSpace(v.Employer.Name),
		Link:    v.AlternateURL,
		Source:  source,
	}
	if v.Salary != nil {
		c.Salary = formatSalary(v.Salary.From, v.Salary.To, v.Salary.Currency)
	}
	if v.Schedule != nil {
		c.JobType = v.Schedule.Name
	}
	return c
}

// formatSalary renders "from - to CUR"; a missing bound shows as "?".
func formatSalary(from, to *int, currency string) string {
	if from == nil && to == nil {
		return ""
	}
	bound := func(n *int) string {
		if n == nil {
			return "?"
		}
		return strconv.Itoa(*n)
	}
	s := bound(from) + " - " + bound(to)
	if currency != "" {
		s += " " + currency
	}
	return s
}
