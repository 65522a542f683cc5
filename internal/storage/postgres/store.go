package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

//go:embed schema.sql
var schema string

var (
	metricTable = Table{
		Name:    "metric_rows",
		Columns: []string{"date", "dimension", "dimension_value", "impressions", "clicks", "position", "ctr"},
		Key:     []string{"date", "dimension", "dimension_value"},
	}
	metricDateView = Table{Name: "metric_rows", Columns: []string{"date"}}

	healthTable = Table{
		Name: "url_health",
		Columns: []string{
			"url", "run_id", "status_code", "redirect_chain", "response_time_ms", "canonical_url",
			"canonical_matches", "hreflang_ok", "title", "meta_description", "h1", "robots_noindex",
			"mixed_content", "redirect_loop", "defects", "error", "checked_at",
		},
	}

	baselineTable = Table{
		Name: "baselines",
		Columns: []string{
			"dimension", "dimension_value", "metric", "rolling_mean", "rolling_std_dev",
			"window_days", "samples", "computed_at",
		},
	}

	taskTable = Table{
		Name: "tasks",
		Columns: []string{
			"id", "rule_id", "severity", "dimension", "dimension_value", "observed_value",
			"baseline_value", "status", "created_at", "resolved_at",
		},
	}
	openTaskView = Table{
		Name: "tasks",
		Columns: []string{
			"id", "rule_id", "severity", "dimension", "dimension_value", "observed_value",
			"baseline_value", "status", "created_at",
		},
	}

	briefingTable = Table{
		Name:    "briefings",
		Columns: []string{"run_id", "briefing_date", "payload", "artifact_uri", "created_at"},
	}

	notificationTable = Table{
		Name:    "notifications",
		Columns: []string{"id", "type", "message", "related_entity_id", "is_read", "created_at"},
	}

	submissionTable = Table{
		Name:    "submission_batches",
		Columns: []string{"id", "urls", "submitted_at", "http_status", "provider_message"},
	}

	contentTable = Table{
		Name:    "content_items",
		Columns: []string{"id", "kind", "slug", "locale", "published", "updated_at"},
	}

	deployTable = Table{
		Name:    "deploy_runs",
		Columns: []string{"id", "started_at", "finished_at", "success", "submission_ok", "error", "url_count"},
	}
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements seo.Store on Postgres.
type Store struct {
	db DB
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{db: db}, nil
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// UpsertMetricRows writes rows keyed by (date, dimension, dimension_value).
func (s *Store) UpsertMetricRows(ctx context.Context, rows []seo.MetricRow) (int64, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{seo.Date(r.Date), string(r.Dimension), r.DimensionValue, r.Impressions, r.Clicks, r.Position, r.CTR}
	}
	return metricTable.Upsert(ctx, s.db, values)
}

// ListMetricRows selects rows matching filter, oldest first.
func (s *Store) ListMetricRows(ctx context.Context, filter seo.MetricFilter) ([]seo.MetricRow, error) {
	q := Query{OrderBy: []string{"date", "dimension", "dimension_value"}}
	if filter.Dimension != "" {
		q.Where = append(q.Where, Eq("dimension", string(filter.Dimension)))
	}
	if filter.DimensionValue != "" {
		q.Where = append(q.Where, Eq("dimension_value", filter.DimensionValue))
	}
	if !filter.Range.Start.IsZero() {
		q.Where = append(q.Where, Cond{Column: "date", Op: OpGTE, Value: seo.Date(filter.Range.Start)})
	}
	if !filter.Range.End.IsZero() {
		q.Where = append(q.Where, Cond{Column: "date", Op: OpLTE, Value: seo.Date(filter.Range.End)})
	}
	var out []seo.MetricRow
	err := metricTable.Select(ctx, s.db, q, func(rows pgx.Rows) error {
		var (
			r   seo.MetricRow
			dim string
		)
		if err := rows.Scan(&r.Date, &dim, &r.DimensionValue, &r.Impressions, &r.Clicks, &r.Position, &r.CTR); err != nil {
			return err
		}
		r.Dimension = seo.Dimension(dim)
		r.Date = seo.Date(r.Date)
		out = append(out, r)
		return nil
	})
	return out, err
}

// LatestMetricDate returns the newest stored day for dimension.
func (s *Store) LatestMetricDate(ctx context.Context, dimension seo.Dimension) (time.Time, error) {
	var (
		latest time.Time
		found  bool
	)
	err := metricDateView.Select(ctx, s.db, Query{
		Where:   []Cond{Eq("dimension", string(dimension))},
		OrderBy: []string{"date DESC"},
		Limit:   1,
	}, func(rows pgx.Rows) error {
		found = true
		return rows.Scan(&latest)
	})
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Time{}, seo.ErrNotFound
	}
	return seo.Date(latest), nil
}

// AppendHealthRecord inserts one crawl record.
func (s *Store) AppendHealthRecord(ctx context.Context, r seo.URLHealthRecord) error {
	chain, err := json.Marshal(nonNil(r.RedirectChain))
	if err != nil {
		return fmt.Errorf("marshal redirect chain: %w", err)
	}
	defects, err := json.Marshal(nonNil(r.Defects))
	if err != nil {
		return fmt.Errorf("marshal defects: %w", err)
	}
	return healthTable.Append(ctx, s.db,
		r.URL, r.RunID, r.StatusCode, chain, r.ResponseTimeMs, r.CanonicalURL,
		r.CanonicalMatches, r.HreflangOK, r.Title, r.MetaDescription, r.H1, r.RobotsNoindex,
		r.MixedContent, r.RedirectLoop, defects, r.Error, r.CheckedAt,
	)
}

// PreviousHealthRecord returns the newest record for url from another run.
func (s *Store) PreviousHealthRecord(ctx context.Context, url string, runID string) (seo.URLHealthRecord, error) {
	var (
		rec   seo.URLHealthRecord
		found bool
	)
	err := healthTable.Select(ctx, s.db, Query{
		Where:   []Cond{Eq("url", url), {Column: "run_id", Op: OpNE, Value: runID}},
		OrderBy: []string{"checked_at DESC"},
		Limit:   1,
	}, func(rows pgx.Rows) error {
		var chain, defects []byte
		if err := rows.Scan(
			&rec.URL, &rec.RunID, &rec.StatusCode, &chain, &rec.ResponseTimeMs, &rec.CanonicalURL,
			&rec.CanonicalMatches, &rec.HreflangOK, &rec.Title, &rec.MetaDescription, &rec.H1, &rec.RobotsNoindex,
			&rec.MixedContent, &rec.RedirectLoop, &defects, &rec.Error, &rec.CheckedAt,
		); err != nil {
			return err
		}
		if err := json.Unmarshal(chain, &rec.RedirectChain); err != nil {
			return fmt.Errorf("decode redirect chain: %w", err)
		}
		if err := json.Unmarshal(defects, &rec.Defects); err != nil {
			return fmt.Errorf("decode defects: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return seo.URLHealthRecord{}, err
	}
	if !found {
		return seo.URLHealthRecord{}, seo.ErrNotFound
	}
	return rec, nil
}

// ReplaceBaselines swaps the full baseline set in one transaction.
func (s *Store) ReplaceBaselines(ctx context.Context, baselines []seo.Baseline) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin baseline replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM "+baselineTable.Name); err != nil {
		return fmt.Errorf("clear baselines: %w", err)
	}
	for _, b := range baselines {
		if err := baselineTable.Append(ctx, tx,
			string(b.Dimension), b.DimensionValue, string(b.Metric), b.RollingMean, b.RollingStdDev,
			b.WindowDays, b.Samples, b.ComputedAt,
		); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit baselines: %w", err)
	}
	return nil
}

// ListOpenTasks returns open tasks, oldest first.
func (s *Store) ListOpenTasks(ctx context.Context) ([]seo.Task, error) {
	var out []seo.Task
	err := openTaskView.Select(ctx, s.db, Query{
		Where:   []Cond{Eq("status", string(seo.TaskOpen))},
		OrderBy: []string{"created_at"},
	}, func(rows pgx.Rows) error {
		var (
			t                      seo.Task
			severity, dim, status string
		)
		if err := rows.Scan(&t.ID, &t.RuleID, &severity, &dim, &t.DimensionValue,
			&t.ObservedValue, &t.BaselineValue, &status, &t.CreatedAt); err != nil {
			return err
		}
		sev, err := seo.ParseSeverity(severity)
		if err != nil {
			return err
		}
		t.Severity, t.Dimension, t.Status = sev, seo.Dimension(dim), seo.TaskStatus(status)
		out = append(out, t)
		return nil
	})
	return out, err
}

// CreateTask inserts a task.
func (s *Store) CreateTask(ctx context.Context, t seo.Task) error {
	return taskTable.Append(ctx, s.db,
		t.ID, t.RuleID, t.Severity.String(), string(t.Dimension), t.DimensionValue, t.ObservedValue,
		t.BaselineValue, string(t.Status), t.CreatedAt, t.ResolvedAt,
	)
}

// ResolveTask marks a task resolved.
func (s *Store) ResolveTask(ctx context.Context, taskID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, "UPDATE tasks SET status = $1, resolved_at = $2 WHERE id = $3",
		string(seo.TaskResolved), at, taskID)
	if err != nil {
		return fmt.Errorf("resolve task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return seo.ErrNotFound
	}
	return nil
}

// SaveBriefing stores the briefing as JSON.
func (s *Store) SaveBriefing(ctx context.Context, b seo.Briefing) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal briefing: %w", err)
	}
	return briefingTable.Append(ctx, s.db, b.RunID, seo.Date(b.Date), payload, b.ArtifactURI, b.CreatedAt)
}

// CreateNotification inserts a notification.
func (s *Store) CreateNotification(ctx context.Context, n seo.Notification) error {
	return notificationTable.Append(ctx, s.db, n.ID, string(n.Type), n.Message, n.RelatedEntityID, n.IsRead, n.CreatedAt)
}

// LogSubmission inserts a submission batch.
func (s *Store) LogSubmission(ctx context.Context, b seo.SubmissionBatch) error {
	urls, err := json.Marshal(nonNil(b.URLs))
	if err != nil {
		return fmt.Errorf("marshal urls: %w", err)
	}
	return submissionTable.Append(ctx, s.db, b.ID, urls, b.SubmittedAt, b.HTTPStatus, b.ProviderMessage)
}

// ListContentChangedSince returns published catalog entries updated after since.
func (s *Store) ListContentChangedSince(ctx context.Context, since time.Time) ([]seo.ContentItem, error) {
	var out []seo.ContentItem
	err := contentTable.Select(ctx, s.db, Query{
		Where:   []Cond{Eq("published", true), {Column: "updated_at", Op: OpGT, Value: since}},
		OrderBy: []string{"updated_at"},
	}, func(rows pgx.Rows) error {
		var (
			item seo.ContentItem
			kind string
		)
		if err := rows.Scan(&item.ID, &kind, &item.Slug, &item.Locale, &item.Published, &item.UpdatedAt); err != nil {
			return err
		}
		item.Kind = seo.ContentKind(kind)
		out = append(out, item)
		return nil
	})
	return out, err
}

// LastSuccessfulDeploy returns the most recently finished run whose build and
// URL submission both succeeded.
func (s *Store) LastSuccessfulDeploy(ctx context.Context) (seo.DeployRun, error) {
	var (
		run   seo.DeployRun
		found bool
	)
	err := deployTable.Select(ctx, s.db, Query{
		Where:   []Cond{Eq("success", true), Eq("submission_ok", true)},
		OrderBy: []string{"finished_at DESC"},
		Limit:   1,
	}, func(rows pgx.Rows) error {
		found = true
		return rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Success, &run.SubmissionOK, &run.Error, &run.URLCount)
	})
	if err != nil {
		return seo.DeployRun{}, err
	}
	if !found {
		return seo.DeployRun{}, seo.ErrNotFound
	}
	return run, nil
}

// RecordDeploy inserts a deploy run.
func (s *Store) RecordDeploy(ctx context.Context, r seo.DeployRun) error {
	return deployTable.Append(ctx, s.db, r.ID, r.StartedAt, r.FinishedAt, r.Success, r.SubmissionOK, r.Error, r.URLCount)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var _ seo.Store = (*Store)(nil)
