// Package metricsync pulls daily search-performance rows for a date range and
// upserts them into the metrics store.
package metricsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/metrics"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

const (
	defaultBackfillDays = 90
	defaultDailyDays    = 7
)

// Config controls which dimensions are pulled and how far back each mode reaches.
type Config struct {
	Dimensions   []seo.Dimension
	BackfillDays int
	// DailyDays re-pulls a trailing window so late data corrections from the
	// provider overwrite earlier rows.
	DailyDays int
}

// Syncer runs one sync invocation at a time; it holds no state between calls.
type Syncer struct {
	minter   seo.TokenMinter
	client   seo.AnalyticsClient
	store    seo.MetricsStore
	notifier seo.NotificationStore
	clock    seo.Clock
	ids      seo.IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Syncer. notifier may be nil.
func New(
	minter seo.TokenMinter,
	client seo.AnalyticsClient,
	store seo.MetricsStore,
	notifier seo.NotificationStore,
	clock seo.Clock,
	ids seo.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Syncer {
	if len(cfg.Dimensions) == 0 {
		cfg.Dimensions = seo.AllDimensions
	}
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = defaultBackfillDays
	}
	if cfg.DailyDays <= 0 {
		cfg.DailyDays = defaultDailyDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		minter:   minter,
		client:   client,
		store:    store,
		notifier: notifier,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
	}
}

// ResolveRange derives the date range for a mode relative to today.
func (s *Syncer) ResolveRange(req seo.SyncRequest, today time.Time) (seo.DateRange, error) {
	today = seo.Date(today)
	yesterday := today.AddDate(0, 0, -1)
	switch req.Mode {
	case seo.SyncModeBackfill:
		return seo.DateRange{Start: today.AddDate(0, 0, -s.cfg.BackfillDays), End: yesterday}, nil
	case seo.SyncModeDaily:
		return seo.DateRange{Start: today.AddDate(0, 0, -s.cfg.DailyDays), End: yesterday}, nil
	case seo.SyncModeManual:
		if req.Range == nil {
			return seo.DateRange{}, seo.Validationf("range", "required for manual mode")
		}
		r := seo.DateRange{Start: seo.Date(req.Range.Start), End: seo.Date(req.Range.End)}
		if r.Start.IsZero() || r.End.IsZero() {
			return seo.DateRange{}, seo.Validationf("range", "start and end are required")
		}
		if r.End.Before(r.Start) {
			return seo.DateRange{}, seo.Validationf("range", "empty range %s", r)
		}
		if r.End.After(today) {
			return seo.DateRange{}, seo.Validationf("range", "end %s is in the future", r.End.Format(seo.DateLayout))
		}
		return r, nil
	default:
		return seo.DateRange{}, seo.Validationf("mode", "unknown sync mode %q", req.Mode)
	}
}

// Sync pulls every day × dimension in the resolved range. Individual pull or
// upsert failures are recorded in the summary; only an invalid range or a
// failed token mint abort the whole call.
func (s *Syncer) Sync(ctx context.Context, req seo.SyncRequest) (seo.SyncSummary, error) {
	started := s.clock.Now()
	summary := seo.SyncSummary{
		Mode:       req.Mode,
		Outcome:    seo.OutcomeFailed,
		Dimensions: make(map[seo.Dimension]seo.DimensionStats, len(s.cfg.Dimensions)),
		StartedAt:  started,
	}
	runID, err := s.ids.NewID()
	if err != nil {
		return summary, fmt.Errorf("generate run id: %w", err)
	}
	summary.RunID = runID
	logger := s.logger.With(zap.String("run_id", runID), zap.String("mode", string(req.Mode)))

	rng, err := s.ResolveRange(req, started)
	if err != nil {
		summary.FinishedAt = s.clock.Now()
		return summary, err
	}
	summary.Range = rng

	token, err := s.minter.Mint(ctx)
	if err != nil {
		summary.FinishedAt = s.clock.Now()
		logger.Error("token mint failed", zap.Error(err))
		return summary, fmt.Errorf("mint token: %w", err)
	}

	succeeded, failed := 0, 0
	for _, day := range rng.Days() {
		for _, dim := range s.cfg.Dimensions {
			if ctx.Err() != nil {
				summary.FinishedAt = s.clock.Now()
				summary.Outcome = seo.DeriveOutcome(succeeded, failed+1)
				return summary, fmt.Errorf("sync canceled: %w", ctx.Err())
			}
			if !token.Valid(s.clock.Now()) {
				if token, err = s.minter.Mint(ctx); err != nil {
					summary.FinishedAt = s.clock.Now()
					summary.Outcome = seo.DeriveOutcome(succeeded, failed+1)
					return summary, fmt.Errorf("re-mint expired token: %w", err)
				}
			}
			stats := summary.Dimensions[dim]
			n, pullErr := s.syncOne(ctx, token, day, dim)
			if pullErr != nil {
				failed++
				stats.DaysFailed++
				summary.Failures = append(summary.Failures, seo.SyncFailure{
					Date:      day.Format(seo.DateLayout),
					Dimension: dim,
					Error:     pullErr.Error(),
				})
				metrics.ObserveSyncFailure(string(dim))
				logger.Warn("day pull failed",
					zap.String("date", day.Format(seo.DateLayout)),
					zap.String("dimension", string(dim)),
					zap.Error(pullErr),
				)
			} else {
				succeeded++
				stats.DaysSucceeded++
				stats.Rows += n
				summary.RowsStored += n
				metrics.ObserveSyncRows(string(dim), n)
			}
			summary.Dimensions[dim] = stats
		}
	}

	summary.Outcome = seo.DeriveOutcome(succeeded, failed)
	summary.FinishedAt = s.clock.Now()
	if failed > 0 {
		s.notifyFailures(ctx, summary, logger)
	}
	logger.Info("sync finished",
		zap.String("range", rng.String()),
		zap.String("outcome", string(summary.Outcome)),
		zap.Int64("rows", summary.RowsStored),
		zap.Int("failed", failed),
	)
	return summary, nil
}

func (s *Syncer) syncOne(ctx context.Context, token seo.AccessToken, day time.Time, dim seo.Dimension) (int64, error) {
	rows, err := s.client.QueryDay(ctx, token, day, dim)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := s.store.UpsertMetricRows(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return n, nil
}

func (s *Syncer) notifyFailures(ctx context.Context, summary seo.SyncSummary, logger *zap.Logger) {
	if s.notifier == nil {
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		logger.Warn("notification id generation failed", zap.Error(err))
		return
	}
	n := seo.Notification{
		ID:   id,
		Type: seo.NotificationSyncFailure,
		Message: fmt.Sprintf("%s sync %s: %d of %d pulls failed",
			summary.Mode, summary.Range, len(summary.Failures), len(summary.Range.Days())*len(s.cfg.Dimensions)),
		RelatedEntityID: summary.RunID,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.notifier.CreateNotification(ctx, n); err != nil {
		logger.Warn("sync failure notification not stored", zap.Error(err))
	}
}
