package jobs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DevKGConfig configures the devkg.com scraper.
type DevKGConfig struct {
	BaseURL  string // site root, "https://devkg.com" by default
	Pages    int    // listing pages to read, 8 by default
	Interval time.Duration
	Client   *http.Client
}

// DevKG scrapes the devkg.com job listing. The site has no search, so every
// listing page is read and positions are matched by substring.
type DevKG struct {
	cfg DevKGConfig
	f   fetcher
}

func NewDevKG(cfg DevKGConfig) *DevKG {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://devkg.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Pages <= 0 {
		cfg.Pages = 8
	}
	return &DevKG{cfg: cfg, f: newFetcher(cfg.Client, cfg.Interval)}
}

func (d *DevKG) Name() string { return "devkg" }

// Field labels rendered inside each listing cell.
var devkgLabels = map[string]string{
	"position": "Должность",
	"company":  "Компания",
	"price":    "Оклад",
	"type":     "Тип",
}

func (d *DevKG) Search(ctx context.Context, query string) ([]Candidate, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Candidate
	for page := 1; page <= d.cfg.Pages; page++ {
		found, err := d.page(ctx, page, q)
		if err != nil {
			return out, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (d *DevKG) page(ctx context.Context, page int, q string) ([]Candidate, error) {
	body, err := d.f.get(ctx, fmt.Sprintf("%s/jobs?page=%d", d.cfg.BaseURL, page))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("devkg page %d: %w", page, err)
	}
	var out []Candidate
	doc.Find("article.item").Each(func(_ int, s *goquery.Selection) {
		position := devkgField(s, "position")
		if position == "" || !strings.Contains(strings.ToLower(position), q) {
			return
		}
		c := Candidate{
			Title:   position,
			Company: devkgField(s, "company"),
			Salary:  devkgField(s, "price"),
			JobType: devkgField(s, "type"),
			Source:  d.Name(),
		}
		if href, ok := s.Find("a.link").Attr("href"); ok {
			c.Link = d.absolute(href)
		}
		out = append(out, c)
	})
	return out, nil
}

func devkgField(s *goquery.Selection, class string) string {
	text := strings.TrimSpace(s.Find("div.jobs-item-field." + class).First().Text())
	text = strings.TrimPrefix(text, devkgLabels[class])
	return strings.Join(strings.Fields(text), " ")
}

func (d *DevKG) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return d.cfg.BaseURL + "/" + strings.TrimLeft(href, "/")
}
