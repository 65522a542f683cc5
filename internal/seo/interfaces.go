package seo

import (
	"context"
	"io"
	"time"
)

// MetricsStore persists daily search-performance rows.
type MetricsStore interface {
	// UpsertMetricRows writes rows keyed by (date, dimension, dimension_value)
	// and returns the number of rows written.
	UpsertMetricRows(ctx context.Context, rows []MetricRow) (int64, error)
	ListMetricRows(ctx context.Context, filter MetricFilter) ([]MetricRow, error)
	// LatestMetricDate returns ErrNotFound when no rows exist for the dimension.
	LatestMetricDate(ctx context.Context, dimension Dimension) (time.Time, error)
}

// HealthStore appends crawl health records.
type HealthStore interface {
	AppendHealthRecord(ctx context.Context, record URLHealthRecord) error
	// PreviousHealthRecord returns the newest record for url from a run other
	// than runID, or ErrNotFound.
	PreviousHealthRecord(ctx context.Context, url string, runID string) (URLHealthRecord, error)
}

// BaselineStore replaces the baseline set wholesale.
type BaselineStore interface {
	ReplaceBaselines(ctx context.Context, baselines []Baseline) error
}

// TaskStore tracks alert tasks.
type TaskStore interface {
	ListOpenTasks(ctx context.Context) ([]Task, error)
	CreateTask(ctx context.Context, task Task) error
	ResolveTask(ctx context.Context, taskID string, at time.Time) error
}

// BriefingStore persists daily briefings.
type BriefingStore interface {
	SaveBriefing(ctx context.Context, briefing Briefing) error
}

// NotificationStore records admin notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) error
}

// SubmissionLog records URL submission batches.
type SubmissionLog interface {
	LogSubmission(ctx context.Context, batch SubmissionBatch) error
}

// ContentStore is the read-only content catalog.
type ContentStore interface {
	ListContentChangedSince(ctx context.Context, since time.Time) ([]ContentItem, error)
}

// DeployStore records deploy runs.
type DeployStore interface {
	// LastSuccessfulDeploy returns the newest run whose build and URL
	// submission both succeeded, or ErrNotFound.
	LastSuccessfulDeploy(ctx context.Context) (DeployRun, error)
	RecordDeploy(ctx context.Context, run DeployRun) error
}

// Store bundles every repository the pipeline uses.
type Store interface {
	MetricsStore
	HealthStore
	BaselineStore
	TaskStore
	BriefingStore
	NotificationStore
	SubmissionLog
	ContentStore
	DeployStore
	Ping(ctx context.Context) error
	Close()
}

// TokenMinter produces short-lived access tokens.
type TokenMinter interface {
	Mint(ctx context.Context) (AccessToken, error)
}

// AnalyticsClient queries the search analytics provider.
type AnalyticsClient interface {
	QueryDay(ctx context.Context, token AccessToken, day time.Time, dimension Dimension) ([]MetricRow, error)
}

// Fetcher fetches a URL and returns the capped body plus redirect metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// URLIndex lists the site's canonical URLs.
type URLIndex interface {
	URLs(ctx context.Context) ([]string, error)
}

// URLSubmitter notifies search engines of changed URLs.
type URLSubmitter interface {
	Submit(ctx context.Context, urls []string) (SubmitResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
