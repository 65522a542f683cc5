// Package alerts computes rolling baselines, evaluates alert rules and
// produces the daily briefing.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/metrics"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

// Store is the subset of seo.Store the engine needs.
type Store interface {
	seo.MetricsStore
	seo.BaselineStore
	seo.TaskStore
	seo.BriefingStore
}

// Config tunes baselines, rules and the briefing.
type Config struct {
	Dimensions        []seo.Dimension
	WindowDays        int
	MinSamples        int
	StdDevThreshold   float64
	PositionThreshold float64
	MinSeverity       seo.Severity
	TopMovers         int
	BlobPrefix        string
}

// DefaultConfig matches the service defaults.
func DefaultConfig() Config {
	return Config{
		Dimensions:        []seo.Dimension{seo.DimensionSite, seo.DimensionPage, seo.DimensionQuery},
		WindowDays:        28,
		MinSamples:        7,
		StdDevThreshold:   2,
		PositionThreshold: 3,
		MinSeverity:       seo.SeverityMedium,
		TopMovers:         10,
		BlobPrefix:        "briefings",
	}
}

// Engine runs the daily alert pass.
type Engine struct {
	store  Store
	blobs  seo.BlobStore
	clock  seo.Clock
	ids    seo.IDGenerator
	cfg    Config
	rules  []Rule
	logger *zap.Logger
}

// New constructs an Engine. blobs may be nil, in which case the briefing is
// only stored in the database.
func New(store Store, blobs seo.BlobStore, clock seo.Clock, ids seo.IDGenerator, cfg Config, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if len(cfg.Dimensions) == 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.StdDevThreshold <= 0 {
		cfg.StdDevThreshold = def.StdDevThreshold
	}
	if cfg.PositionThreshold <= 0 {
		cfg.PositionThreshold = def.PositionThreshold
	}
	if cfg.MinSeverity == 0 {
		cfg.MinSeverity = def.MinSeverity
	}
	if cfg.TopMovers <= 0 {
		cfg.TopMovers = def.TopMovers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		blobs:  blobs,
		clock:  clock,
		ids:    ids,
		cfg:    cfg,
		rules:  Rules(cfg.StdDevThreshold, cfg.PositionThreshold),
		logger: logger,
	}
}

// evaluated is one dimension value with its baselines and latest-day row.
type evaluated struct {
	row       seo.MetricRow
	baselines map[seo.Metric]seo.Baseline
}

// RunDaily recomputes baselines, opens and resolves tasks, and stores the
// briefing. It fails wholesale only when the store cannot be read or written.
func (e *Engine) RunDaily(ctx context.Context) (seo.Briefing, error) {
	now := e.clock.Now()
	runID, err := e.ids.NewID()
	if err != nil {
		return seo.Briefing{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := e.logger.With(zap.String("run_id", runID))
	briefing := seo.Briefing{RunID: runID, CreatedAt: now, NewTasks: []seo.Task{}, ResolvedTasks: []seo.Task{}}

	var (
		baselines []seo.Baseline
		evals     []evaluated
	)
	for _, dim := range e.cfg.Dimensions {
		latest, err := e.store.LatestMetricDate(ctx, dim)
		if errors.Is(err, seo.ErrNotFound) {
			logger.Info("no metric rows for dimension", zap.String("dimension", string(dim)))
			continue
		}
		if err != nil {
			return briefing, &seo.StoreError{Op: "latest metric date for " + string(dim), Err: err}
		}
		if latest.After(briefing.Date) {
			briefing.Date = latest
		}
		dimEvals, dimBaselines, failures, err := e.baselinesFor(ctx, dim, latest, now, logger)
		if err != nil {
			return briefing, err
		}
		evals = append(evals, dimEvals...)
		baselines = append(baselines, dimBaselines...)
		briefing.BaselineFailures += failures
	}
	if err := e.store.ReplaceBaselines(ctx, baselines); err != nil {
		return briefing, &seo.StoreError{Op: "replace baselines", Err: err}
	}
	briefing.BaselinesComputed = len(baselines)

	open, err := e.store.ListOpenTasks(ctx)
	if err != nil {
		return briefing, &seo.StoreError{Op: "list open tasks", Err: err}
	}
	openByKey := make(map[seo.TaskKey]seo.Task, len(open))
	for _, t := range open {
		openByKey[t.Key()] = t
	}

	fired := make(map[seo.TaskKey]bool)
	for _, ev := range evals {
		for _, rule := range e.rules {
			key := seo.TaskKey{RuleID: rule.ID, DimensionValue: ev.row.DimensionValue}
			res := rule.Evaluate(ev.row, ev.baselines)
			if !res.Fired {
				if _, ok := fired[key]; !ok {
					fired[key] = false
				}
				continue
			}
			fired[key] = true
			metrics.ObserveAlert(rule.ID, rule.Severity.String())
			if rule.Severity < e.cfg.MinSeverity {
				continue
			}
			if _, exists := openByKey[key]; exists {
				continue
			}
			task, err := e.openTask(ctx, rule, ev.row, res, now)
			if err != nil {
				return briefing, err
			}
			openByKey[key] = task
			briefing.NewTasks = append(briefing.NewTasks, task)
			logger.Info("task opened",
				zap.String("rule", rule.ID),
				zap.String("dimension", string(ev.row.Dimension)),
				zap.String("value", ev.row.DimensionValue),
				zap.Float64("observed", res.Observed),
				zap.Float64("baseline", res.Baseline),
			)
		}
	}

	for _, t := range open {
		didFire, wasEvaluated := fired[t.Key()]
		if !wasEvaluated || didFire {
			continue
		}
		if err := e.store.ResolveTask(ctx, t.ID, now); err != nil {
			return briefing, &seo.StoreError{Op: "resolve task " + t.ID, Err: err}
		}
		resolvedAt := now
		t.Status = seo.TaskResolved
		t.ResolvedAt = &resolvedAt
		briefing.ResolvedTasks = append(briefing.ResolvedTasks, t)
	}

	briefing.TopMovers = topMovers(evals, e.cfg.TopMovers)
	briefing.ArtifactURI = e.writeArtifact(ctx, briefing, logger)
	if err := e.store.SaveBriefing(ctx, briefing); err != nil {
		return briefing, &seo.StoreError{Op: "save briefing", Err: err}
	}
	logger.Info("daily alerts finished",
		zap.Int("baselines", briefing.BaselinesComputed),
		zap.Int("baseline_failures", briefing.BaselineFailures),
		zap.Int("new_tasks", len(briefing.NewTasks)),
		zap.Int("resolved_tasks", len(briefing.ResolvedTasks)),
	)
	return briefing, nil
}

// baselinesFor computes baselines for every value present on the latest day
// from the WindowDays days before it.
func (e *Engine) baselinesFor(
	ctx context.Context,
	dim seo.Dimension,
	latest, now time.Time,
	logger *zap.Logger,
) ([]evaluated, []seo.Baseline, int, error) {
	current, err := e.store.ListMetricRows(ctx, seo.MetricFilter{
		Dimension: dim,
		Range:     seo.DateRange{Start: latest, End: latest},
	})
	if err != nil {
		return nil, nil, 0, &seo.StoreError{Op: fmt.Sprintf("list %s rows for %s", dim, latest.Format(seo.DateLayout)), Err: err}
	}
	history, err := e.store.ListMetricRows(ctx, seo.MetricFilter{
		Dimension: dim,
		Range:     seo.DateRange{Start: latest.AddDate(0, 0, -e.cfg.WindowDays), End: latest.AddDate(0, 0, -1)},
	})
	if err != nil {
		return nil, nil, 0, &seo.StoreError{Op: fmt.Sprintf("list %s history", dim), Err: err}
	}
	byValue := make(map[string][]seo.MetricRow)
	for _, r := range history {
		byValue[r.DimensionValue] = append(byValue[r.DimensionValue], r)
	}

	var (
		evals     []evaluated
		baselines []seo.Baseline
		failures  int
	)
	for _, row := range current {
		samples := byValue[row.DimensionValue]
		if len(samples) < e.cfg.MinSamples {
			failures++
			logger.Warn("baseline skipped: insufficient history",
				zap.String("dimension", string(dim)),
				zap.String("value", row.DimensionValue),
				zap.Int("samples", len(samples)),
				zap.Int("min_samples", e.cfg.MinSamples),
			)
			continue
		}
		set := make(map[seo.Metric]seo.Baseline, 3)
		ok := true
		for _, m := range []seo.Metric{seo.MetricImpressions, seo.MetricClicks, seo.MetricPosition} {
			b, err := computeBaseline(dim, row.DimensionValue, m, samples, e.cfg.WindowDays, now)
			if err != nil {
				ok = false
				logger.Warn("baseline skipped", zap.String("value", row.DimensionValue), zap.Error(err))
				break
			}
			set[m] = b
		}
		if !ok {
			failures++
			continue
		}
		for _, b := range set {
			baselines = append(baselines, b)
		}
		evals = append(evals, evaluated{row: row, baselines: set})
	}
	sort.Slice(baselines, func(i, j int) bool {
		if baselines[i].DimensionValue != baselines[j].DimensionValue {
			return baselines[i].DimensionValue < baselines[j].DimensionValue
		}
		return baselines[i].Metric < baselines[j].Metric
	})
	return evals, baselines, failures, nil
}

// computeBaseline returns the mean and population standard deviation of a metric.
func computeBaseline(
	dim seo.Dimension,
	value string,
	metric seo.Metric,
	rows []seo.MetricRow,
	window int,
	now time.Time,
) (seo.Baseline, error) {
	data := make(stats.Float64Data, len(rows))
	for i, r := range rows {
		data[i] = metric.Value(r)
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return seo.Baseline{}, fmt.Errorf("mean %s: %w", metric, err)
	}
	sd, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return seo.Baseline{}, fmt.Errorf("stddev %s: %w", metric, err)
	}
	return seo.Baseline{
		Dimension:      dim,
		DimensionValue: value,
		Metric:         metric,
		RollingMean:    mean,
		RollingStdDev:  sd,
		WindowDays:     window,
		Samples:        len(rows),
		ComputedAt:     now,
	}, nil
}

func (e *Engine) openTask(ctx context.Context, rule Rule, row seo.MetricRow, res Evaluation, now time.Time) (seo.Task, error) {
	id, err := e.ids.NewID()
	if err != nil {
		return seo.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	task := seo.Task{
		ID:             id,
		RuleID:         rule.ID,
		Severity:       rule.Severity,
		Dimension:      row.Dimension,
		DimensionValue: row.DimensionValue,
		ObservedValue:  res.Observed,
		BaselineValue:  res.Baseline,
		Status:         seo.TaskOpen,
		CreatedAt:      now,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return seo.Task{}, &seo.StoreError{Op: "create task", Err: err}
	}
	return task, nil
}

// topMovers ranks values by absolute click delta against the baseline mean.
func topMovers(evals []evaluated, limit int) []seo.Mover {
	movers := make([]seo.Mover, 0, len(evals))
	for _, ev := range evals {
		base := ev.baselines[seo.MetricClicks].RollingMean
		clicks := seo.MetricClicks.Value(ev.row)
		movers = append(movers, seo.Mover{
			Dimension:      ev.row.Dimension,
			DimensionValue: ev.row.DimensionValue,
			Clicks:         clicks,
			BaselineClicks: base,
			Delta:          clicks - base,
		})
	}
	sort.SliceStable(movers, func(i, j int) bool {
		di, dj := math.Abs(movers[i].Delta), math.Abs(movers[j].Delta)
		if di != dj {
			return di > dj
		}
		if movers[i].Dimension != movers[j].Dimension {
			return movers[i].Dimension < movers[j].Dimension
		}
		return movers[i].DimensionValue < movers[j].DimensionValue
	})
	if len(movers) > limit {
		movers = movers[:limit]
	}
	return movers
}

func (e *Engine) writeArtifact(ctx context.Context, briefing seo.Briefing, logger *zap.Logger) string {
	if e.blobs == nil {
		return ""
	}
	payload, err := json.MarshalIndent(briefing, "", "  ")
	if err != nil {
		logger.Warn("briefing marshal failed", zap.Error(err))
		return ""
	}
	name := fmt.Sprintf("%s-%s.json", briefing.Date.Format(seo.DateLayout), briefing.RunID)
	uri, err := e.blobs.PutObject(ctx, path.Join(e.cfg.BlobPrefix, name), "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Warn("briefing artifact upload failed", zap.Error(err))
		return ""
	}
	return uri
}
