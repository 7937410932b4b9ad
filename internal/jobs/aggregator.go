package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "taskbot/pkg/logx"
)

// Aggregator queries every source and merges the results, dropping
// duplicates on (title, company, link). A failing source is logged and
// skipped; the search fails only when every source fails.
type Aggregator struct {
	sources []Source
	cache   Cache
	ttl     time.Duration
	log     logx.Logger
}

type AggregatorOption func(*Aggregator)

// WithCache serves repeated queries from c for ttl.
func WithCache(c Cache, ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.cache = c
		a.ttl = ttl
	}
}

func NewAggregator(log logx.Logger, sources []Source, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{sources: sources, log: log.With(logx.String("comp", "jobs.search"))}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Sources lists the configured source names.
func (a *Aggregator) Sources() []string {
	out := make([]string, len(a.sources))
	for i, s := range a.sources {
		out[i] = s.Name()
	}
	return out
}

type sourceResult struct {
	cands []Candidate
	err   error
}

func (a *Aggregator) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty search query")
	}
	if len(a.sources) == 0 {
		return nil, errors.New("no job sources configured")
	}
	log := a.log.With(logx.String("search_id", uuid.NewString()), logx.String("query", query))
	started := time.Now()

	results := make([]sourceResult, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			cands, err := a.searchOne(ctx, src, query)
			results[i] = sourceResult{cands: cands, err: err}
		}(i, src)
	}
	wg.Wait()

	var (
		out    []Candidate
		seen   = map[string]bool{}
		failed int
		errs   []error
	)
	for i, r := range results {
		name := a.sources[i].Name()
		if r.err != nil {
			failed++
			errs = append(errs, fmt.Errorf("%s: %w", name, r.err))
			log.Warn("source failed", logx.String("source", name), logx.Err(r.err))
		}
		for _, c := range r.cands {
			if c.Title == "" || seen[c.Key()] {
				continue
			}
			seen[c.Key()] = true
			out = append(out, c)
		}
	}
	if failed == len(a.sources) {
		return nil, errors.Join(errs...)
	}
	log.Info("search finished", logx.Int("found", len(out)), logx.Int("failed_sources", failed), logx.Duration("took", time.Since(started)))
	return out, nil
}

func (a *Aggregator) searchOne(ctx context.Context, src Source, query string) ([]Candidate, error) {
	key := src.Name() + ":" + strings.ToLower(query)
	if a.cache != nil {
		cands, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			a.log.Debug("cache get failed", logx.String("key", key), logx.Err(err))
		} else if ok {
			return cands, nil
		}
	}
	cands, err := src.Search(ctx, query)
	if err != nil {
		return cands, err
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, key, cands, a.ttl); err != nil {
			a.log.Debug("cache set failed", logx.String("key", key), logx.Err(err))
		}
	}
	return cands, nil
}
