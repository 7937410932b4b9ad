package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Source searches one job board.
type Source interface {
	Name() string
	Search(ctx context.Context, query string) ([]Candidate, error)
}

const userAgent = "taskbot/1.0"

// fetcher is the shared HTTP side of the sources: one client, paced
// requests.
type fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newFetcher(client *http.Client, interval time.Duration) fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return fetcher{client: client, limiter: lim}
}

// get performs a paced GET and returns the open body on 200.
func (f fetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, body)
	}
	return resp.Body, nil
}
