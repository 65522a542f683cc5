// Package crawler checks the site's URLs for technical SEO defects.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/inspect"
	"github.com/JakeFAU/storia-seo-ops/internal/metrics"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

const defaultConcurrency = 3

// DefaultPriorityPaths are checked by a quick check when none are configured.
var DefaultPriorityPaths = []string{"/", "/speisekarte/", "/mittags-menu/", "/reservierung/", "/en/"}

// Pacer delays fetches so the site is not hammered.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Config controls target selection and pool width.
type Config struct {
	BaseURL       string
	PriorityPaths []string
	Concurrency   int
	// Pacer is optional.
	Pacer Pacer
}

// Engine runs crawl invocations. Invocations share nothing but the
// collaborators passed to New.
type Engine struct {
	fetcher   seo.Fetcher
	inspector *inspect.Inspector
	index     seo.URLIndex
	store     seo.HealthStore
	notifier  seo.NotificationStore
	clock     seo.Clock
	ids       seo.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Engine. notifier may be nil.
func New(
	fetcher seo.Fetcher,
	inspector *inspect.Inspector,
	index seo.URLIndex,
	store seo.HealthStore,
	notifier seo.NotificationStore,
	clock seo.Clock,
	ids seo.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if len(cfg.PriorityPaths) == 0 {
		cfg.PriorityPaths = DefaultPriorityPaths
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetcher:   fetcher,
		inspector: inspector,
		index:     index,
		store:     store,
		notifier:  notifier,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Targets resolves the URL list for a request.
func (e *Engine) Targets(ctx context.Context, req seo.CrawlRequest) ([]string, error) {
	switch req.Action {
	case seo.CrawlActionFull:
		urls, err := e.index.URLs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load sitemap: %w", err)
		}
		return urls, nil
	case seo.CrawlActionQuickCheck:
		base, err := url.Parse(e.cfg.BaseURL)
		if err != nil || base.Host == "" {
			return nil, seo.Validationf("site.base_url", "must be an absolute url")
		}
		out := make([]string, 0, len(e.cfg.PriorityPaths))
		for _, p := range e.cfg.PriorityPaths {
			ref, err := url.Parse(p)
			if err != nil {
				return nil, seo.Validationf("priority_paths", "invalid path %q", p)
			}
			out = append(out, base.ResolveReference(ref).String())
		}
		return out, nil
	case seo.CrawlActionSingleURL:
		target := strings.TrimSpace(req.Target)
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, seo.Validationf("target", "must be an absolute http(s) url, got %q", req.Target)
		}
		return []string{u.String()}, nil
	default:
		return nil, seo.Validationf("action", "unknown crawl action %q", req.Action)
	}
}

// Crawl checks every target with a fixed-width worker pool. A failure on one
// URL never cancels the others; each URL yields exactly one record.
func (e *Engine) Crawl(ctx context.Context, req seo.CrawlRequest) (seo.CrawlSummary, error) {
	summary := seo.CrawlSummary{
		Action:    req.Action,
		Outcome:   seo.OutcomeFailed,
		Defects:   make(map[seo.Defect]int),
		StartedAt: e.clock.Now(),
	}
	runID, err := e.ids.NewID()
	if err != nil {
		return summary, fmt.Errorf("generate run id: %w", err)
	}
	summary.RunID = runID
	logger := e.logger.With(zap.String("run_id", runID), zap.String("action", string(req.Action)))

	targets, err := e.Targets(ctx, req)
	if err != nil {
		summary.FinishedAt = e.clock.Now()
		return summary, err
	}

	records := make([]*seo.URLHealthRecord, len(targets))
	var (
		storeMu  sync.Mutex
		storeErr error
	)
	jobs := make(chan int)
	workers := min(e.cfg.Concurrency, len(targets))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				record := e.Check(ctx, targets[idx], runID)
				if err := e.persist(ctx, record, logger); err != nil {
					storeMu.Lock()
					storeErr = errors.Join(storeErr, err)
					storeMu.Unlock()
				}
				records[idx] = &record
			}
		}()
	}

dispatch:
	for idx := range targets {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	reachable := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		summary.Records = append(summary.Records, *r)
		summary.Visited++
		if r.Healthy() {
			summary.Healthy++
		}
		if r.StatusCode == 0 {
			summary.Failed++
		} else {
			reachable++
		}
		for _, d := range r.Defects {
			summary.Defects[d]++
		}
	}
	summary.Outcome = seo.DeriveOutcome(reachable, summary.Failed+len(targets)-summary.Visited)
	summary.FinishedAt = e.clock.Now()
	logger.Info("crawl finished",
		zap.Int("targets", len(targets)),
		zap.Int("visited", summary.Visited),
		zap.Int("healthy", summary.Healthy),
		zap.Int("failed", summary.Failed),
	)

	if ctx.Err() != nil {
		return summary, fmt.Errorf("crawl canceled: %w", ctx.Err())
	}
	if storeErr != nil {
		return summary, &seo.StoreError{Op: "store health records", Err: storeErr}
	}
	return summary, nil
}

// Check fetches and inspects one URL. It never fails: transport problems are
// recorded with status 0 and the transport_error defect.
func (e *Engine) Check(ctx context.Context, target, runID string) seo.URLHealthRecord {
	record := seo.URLHealthRecord{
		URL:           target,
		RunID:         runID,
		RedirectChain: []seo.RedirectHop{},
	}
	if e.cfg.Pacer != nil {
		if err := e.cfg.Pacer.Wait(ctx, target); err != nil {
			record.CheckedAt = e.clock.Now()
			record.Error = err.Error()
			record.Defects = []seo.Defect{seo.DefectTransportError}
			e.observeDefects(record.Defects)
			return record
		}
	}
	resp, err := e.fetcher.Fetch(ctx, seo.FetchRequest{URL: target})
	record.CheckedAt = e.clock.Now()
	record.ResponseTimeMs = resp.Duration.Milliseconds()
	metrics.ObserveCrawl(target, resp.StatusCode, resp.Duration)
	if err != nil {
		record.Error = err.Error()
		record.Defects = []seo.Defect{seo.DefectTransportError}
		e.observeDefects(record.Defects)
		return record
	}

	record.StatusCode = resp.StatusCode
	if len(resp.Hops) > 0 {
		record.RedirectChain = resp.Hops
	}
	switch {
	case resp.HopLimitExceeded:
		record.RedirectLoop = true
		record.Defects = append(record.Defects, seo.DefectRedirectLoop)
	case resp.StatusCode >= 400:
		record.Defects = append(record.Defects, seo.DefectHTTPError)
	default:
		pageURL := resp.FinalURL
		if pageURL == "" {
			pageURL = target
		}
		res, inspectErr := e.inspector.Inspect(pageURL, resp.Headers, resp.Body)
		if inspectErr != nil {
			record.Error = inspectErr.Error()
			break
		}
		record.Title = res.Title
		record.MetaDescription = res.MetaDescription
		record.H1 = res.H1
		record.CanonicalURL = res.CanonicalURL
		record.CanonicalMatches = res.CanonicalMatches
		record.HreflangOK = res.HreflangOK
		record.RobotsNoindex = res.Noindex
		record.MixedContent = res.MixedContent
		record.Defects = append(record.Defects, res.Defects()...)
	}
	e.observeDefects(record.Defects)
	return record
}

func (e *Engine) observeDefects(defects []seo.Defect) {
	for _, d := range defects {
		metrics.ObserveDefect(string(d))
	}
}

// persist appends the record and raises a regression notification when the
// URL was healthy in its previous run.
func (e *Engine) persist(ctx context.Context, record seo.URLHealthRecord, logger *zap.Logger) error {
	if e.store == nil {
		return nil
	}
	if !record.Healthy() && e.notifier != nil {
		prev, err := e.store.PreviousHealthRecord(ctx, record.URL, record.RunID)
		switch {
		case err == nil && prev.Healthy():
			e.notifyRegression(ctx, record, logger)
		case err != nil && !errors.Is(err, seo.ErrNotFound):
			logger.Warn("previous health record lookup failed", zap.String("url", record.URL), zap.Error(err))
		}
	}
	if err := e.store.AppendHealthRecord(ctx, record); err != nil {
		logger.Error("append health record failed", zap.String("url", record.URL), zap.Error(err))
		return fmt.Errorf("append %s: %w", record.URL, err)
	}
	return nil
}

func (e *Engine) notifyRegression(ctx context.Context, record seo.URLHealthRecord, logger *zap.Logger) {
	id, err := e.ids.NewID()
	if err != nil {
		logger.Warn("notification id generation failed", zap.Error(err))
		return
	}
	defects := make([]string, len(record.Defects))
	for i, d := range record.Defects {
		defects[i] = string(d)
	}
	n := seo.Notification{
		ID:              id,
		Type:            seo.NotificationCrawlRegression,
		Message:         fmt.Sprintf("%s regressed: %s", record.URL, strings.Join(defects, ", ")),
		RelatedEntityID: record.RunID,
		CreatedAt:       e.clock.Now(),
	}
	if err := e.notifier.CreateNotification(ctx, n); err != nil {
		logger.Warn("crawl regression notification not stored", zap.String("url", record.URL), zap.Error(err))
	}
}
