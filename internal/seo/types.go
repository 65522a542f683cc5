// Package seo defines the core types shared across the SEO pipeline subsystems.
package seo

import (
	"fmt"
	"time"
)

// Dimension is a Search Console grouping axis.
type Dimension string

// Supported dimensions, in the order the sync walks them.
const (
	DimensionSite             Dimension = "site"
	DimensionPage             Dimension = "page"
	DimensionQuery            Dimension = "query"
	DimensionPageQuery        Dimension = "page_query"
	DimensionDevice           Dimension = "device"
	DimensionCountry          Dimension = "country"
	DimensionSearchAppearance Dimension = "searchAppearance"
)

// AllDimensions lists every dimension the sync pulls for each day.
var AllDimensions = []Dimension{
	DimensionSite,
	DimensionPage,
	DimensionQuery,
	DimensionPageQuery,
	DimensionDevice,
	DimensionCountry,
	DimensionSearchAppearance,
}

// ParseDimension validates a dimension name.
func ParseDimension(raw string) (Dimension, error) {
	for _, d := range AllDimensions {
		if string(d) == raw {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dimension %q", raw)
}

// DateLayout is the calendar-day format used by the analytics API and the store.
const DateLayout = "2006-01-02"

// Date truncates t to its UTC calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns every calendar day in the range, oldest first.
func (r DateRange) Days() []time.Time {
	start, end := Date(r.Start), Date(r.End)
	if end.Before(start) {
		return nil
	}
	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// String renders the range as start..end.
func (r DateRange) String() string {
	return Date(r.Start).Format(DateLayout) + ".." + Date(r.End).Format(DateLayout)
}

// MetricRow is one day of search performance for a dimension value.
type MetricRow struct {
	Date           time.Time `json:"date"`
	Dimension      Dimension `json:"dimension"`
	DimensionValue string    `json:"dimension_value"`
	Impressions    int64     `json:"impressions"`
	Clicks         int64     `json:"clicks"`
	Position       float64   `json:"position"`
	CTR            float64   `json:"ctr"`
}

// Key returns the natural key used for upserts.
func (r MetricRow) Key() MetricKey {
	return MetricKey{Date: Date(r.Date), Dimension: r.Dimension, DimensionValue: r.DimensionValue}
}

// MetricKey is the unique key of a MetricRow.
type MetricKey struct {
	Date           time.Time
	Dimension      Dimension
	DimensionValue string
}

// MetricFilter narrows MetricRow selects. Zero values mean "no constraint".
type MetricFilter struct {
	Dimension      Dimension
	DimensionValue string
	Range          DateRange
}

// Credential is the long-lived service identity used to mint access tokens.
type Credential struct {
	Issuer        string
	Subject       string
	PrivateKeyPEM []byte
	KeyID         string
	Audience      string
	Scopes        []string
}

// AccessToken is a short-lived bearer token owned by a single sync call.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at the given instant.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// SyncMode selects how the sync derives its date range.
type SyncMode string

// Recognized sync modes.
const (
	SyncModeBackfill SyncMode = "backfill"
	SyncModeDaily    SyncMode = "daily"
	SyncModeManual   SyncMode = "manual"
)

// SyncRequest is the explicit option set for one sync invocation.
type SyncRequest struct {
	Mode  SyncMode   `json:"mode"`
	Range *DateRange `json:"range,omitempty"`
}

// Outcome distinguishes full success, partial success and failure to start.
type Outcome string

// Outcome values reported by every pipeline summary.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// DeriveOutcome maps success/failure counts to an Outcome.
func DeriveOutcome(succeeded, failed int) Outcome {
	switch {
	case failed == 0:
		return OutcomeSucceeded
	case succeeded == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// DimensionStats counts per-dimension results of a sync.
type DimensionStats struct {
	DaysSucceeded int   `json:"days_succeeded"`
	DaysFailed    int   `json:"days_failed"`
	Rows          int64 `json:"rows"`
}

// SyncFailure describes one failed day × dimension pull.
type SyncFailure struct {
	Date      string    `json:"date"`
	Dimension Dimension `json:"dimension"`
	Error     string    `json:"error"`
}

// SyncSummary is the structured result of a sync invocation.
type SyncSummary struct {
	RunID      string                       `json:"run_id"`
	Mode       SyncMode                     `json:"mode"`
	Range      DateRange                    `json:"range"`
	Outcome    Outcome                      `json:"outcome"`
	Dimensions map[Dimension]DimensionStats `json:"dimensions"`
	Failures   []SyncFailure                `json:"failures,omitempty"`
	RowsStored int64                        `json:"rows_stored"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
}

// CrawlAction selects which URLs a crawl visits.
type CrawlAction string

// Recognized crawl actions.
const (
	CrawlActionFull       CrawlAction = "full_crawl"
	CrawlActionQuickCheck CrawlAction = "quick_check"
	CrawlActionSingleURL  CrawlAction = "single_url"
)

// CrawlRequest is the explicit option set for one crawl invocation.
type CrawlRequest struct {
	Action CrawlAction `json:"action"`
	Target string      `json:"target,omitempty"`
}

// Defect names a technical SEO problem found on a page.
type Defect string

// Defects the crawler can flag.
const (
	DefectTransportError         Defect = "transport_error"
	DefectHTTPError              Defect = "http_error"
	DefectRedirectLoop           Defect = "redirect_loop"
	DefectMissingHreflang        Defect = "missing_hreflang"
	DefectCanonicalMismatch      Defect = "canonical_mismatch"
	DefectMissingTitle           Defect = "missing_title"
	DefectMissingMetaDescription Defect = "missing_meta_description"
	DefectMissingH1              Defect = "missing_h1"
	DefectNoindex                Defect = "noindex"
	DefectMixedContent           Defect = "mixed_content"
)

// RedirectHop is one response in a redirect chain.
type RedirectHop struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
}

// URLHealthRecord is the append-only result of checking one URL in one run.
type URLHealthRecord struct {
	URL              string        `json:"url"`
	RunID            string        `json:"run_id"`
	StatusCode       int           `json:"status_code"`
	RedirectChain    []RedirectHop `json:"redirect_chain"`
	ResponseTimeMs   int64         `json:"response_time_ms"`
	CanonicalURL     string        `json:"canonical_url,omitempty"`
	CanonicalMatches bool          `json:"canonical_matches"`
	HreflangOK       bool          `json:"hreflang_ok"`
	Title            string        `json:"title"`
	MetaDescription  string        `json:"meta_description"`
	H1               string        `json:"h1"`
	RobotsNoindex    bool          `json:"robots_noindex"`
	MixedContent     bool          `json:"mixed_content"`
	RedirectLoop     bool          `json:"redirect_loop"`
	Defects          []Defect      `json:"defects"`
	Error            string        `json:"error,omitempty"`
	CheckedAt        time.Time     `json:"checked_at"`
}

// Healthy reports whether the record carries no defects.
func (r URLHealthRecord) Healthy() bool {
	return len(r.Defects) == 0
}

// CrawlSummary is the structured result of a crawl invocation.
type CrawlSummary struct {
	RunID      string            `json:"run_id"`
	Action     CrawlAction       `json:"action"`
	Outcome    Outcome           `json:"outcome"`
	Visited    int               `json:"visited"`
	Healthy    int               `json:"healthy"`
	Failed     int               `json:"failed"`
	Defects    map[Defect]int    `json:"defects"`
	Records    []URLHealthRecord `json:"records"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL              string
	FinalURL         string
	StatusCode       int
	Headers          map[string][]string
	Body             []byte
	Duration         time.Duration
	Hops             []RedirectHop
	HopLimitExceeded bool
}

// Metric names a baseline metric.
type Metric string

// Metrics tracked by baselines.
const (
	MetricImpressions Metric = "impressions"
	MetricClicks      Metric = "clicks"
	MetricPosition    Metric = "position"
)

// Value extracts the metric from a row.
func (m Metric) Value(row MetricRow) float64 {
	switch m {
	case MetricImpressions:
		return float64(row.Impressions)
	case MetricClicks:
		return float64(row.Clicks)
	case MetricPosition:
		return row.Position
	default:
		return 0
	}
}

// Baseline is the rolling expectation of a metric for a dimension value.
type Baseline struct {
	Dimension      Dimension `json:"dimension"`
	DimensionValue string    `json:"dimension_value"`
	Metric         Metric    `json:"metric"`
	RollingMean    float64   `json:"rolling_mean"`
	RollingStdDev  float64   `json:"rolling_std_dev"`
	WindowDays     int       `json:"window_days"`
	Samples        int       `json:"samples"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Severity ranks alert rules.
type Severity int

// Severity levels, ordered.
const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

// String renders the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a name to a Severity.
func ParseSeverity(raw string) (Severity, error) {
	switch raw {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", raw)
	}
}

// MarshalText encodes the severity as its name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

// Task statuses.
const (
	TaskOpen      TaskStatus = "open"
	TaskDismissed TaskStatus = "dismissed"
	TaskResolved  TaskStatus = "resolved"
)

// Task is opened when an alert rule fires.
type Task struct {
	ID             string     `json:"id"`
	RuleID         string     `json:"rule_id"`
	Severity       Severity   `json:"severity"`
	Dimension      Dimension  `json:"dimension"`
	DimensionValue string     `json:"dimension_value"`
	ObservedValue  float64    `json:"observed_value"`
	BaselineValue  float64    `json:"baseline_value"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// TaskKey identifies the unresolved condition a task tracks.
type TaskKey struct {
	RuleID         string
	DimensionValue string
}

// Key returns the dedupe key for the task.
func (t Task) Key() TaskKey {
	return TaskKey{RuleID: t.RuleID, DimensionValue: t.DimensionValue}
}

// Mover is a dimension value whose clicks moved the most against baseline.
type Mover struct {
	Dimension      Dimension `json:"dimension"`
	DimensionValue string    `json:"dimension_value"`
	Clicks         float64   `json:"clicks"`
	BaselineClicks float64   `json:"baseline_clicks"`
	Delta          float64   `json:"delta"`
}

// Briefing is the daily summary produced by the alert engine.
type Briefing struct {
	RunID             string    `json:"run_id"`
	Date              time.Time `json:"date"`
	NewTasks          []Task    `json:"new_tasks"`
	ResolvedTasks     []Task    `json:"resolved_tasks"`
	TopMovers         []Mover   `json:"top_movers"`
	BaselinesComputed int       `json:"baselines_computed"`
	BaselineFailures  int       `json:"baseline_failures"`
	ArtifactURI       string    `json:"artifact_uri,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// NotificationType classifies admin notifications.
type NotificationType string

// Notification types raised by pipeline components.
const (
	NotificationSlugConflict    NotificationType = "slug_conflict"
	NotificationCrawlRegression NotificationType = "crawl_regression"
	NotificationSyncFailure     NotificationType = "sync_failure"
	NotificationDeployFailure   NotificationType = "deploy_failure"
)

// Notification is an anomaly surfaced to the admin surface.
type Notification struct {
	ID              string           `json:"id"`
	Type            NotificationType `json:"type"`
	Message         string           `json:"message"`
	RelatedEntityID string           `json:"related_entity_id,omitempty"`
	IsRead          bool             `json:"is_read"`
	CreatedAt       time.Time        `json:"created_at"`
}

// SubmitResult is the user-facing outcome of one URL submission.
type SubmitResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Submitted  int    `json:"submitted"`
	Truncated  int    `json:"truncated,omitempty"`
}

// SubmissionBatch is the logged record of one submission call.
type SubmissionBatch struct {
	ID              string    `json:"id"`
	URLs            []string  `json:"urls"`
	SubmittedAt     time.Time `json:"submitted_at"`
	HTTPStatus      int       `json:"http_status"`
	ProviderMessage string    `json:"provider_message"`
}

// ContentKind distinguishes catalog entries.
type ContentKind string

// Catalog entry kinds.
const (
	ContentPage ContentKind = "page"
	ContentMenu ContentKind = "menu"
)

// ContentItem is a published page or menu in the content catalog.
type ContentItem struct {
	ID        string      `json:"id"`
	Kind      ContentKind `json:"kind"`
	Slug      string      `json:"slug"`
	Locale    string      `json:"locale"`
	Published bool        `json:"published"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// DeployRun records one deploy trigger invocation.
type DeployRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	// SubmissionOK is false when changed URLs were found but not accepted
	// by the submitter, or the change lookup itself failed.
	SubmissionOK bool   `json:"submission_ok"`
	Error        string `json:"error,omitempty"`
	URLCount     int    `json:"url_count"`
}

// DeployResult is returned to the content-editing surface.
type DeployResult struct {
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	RunID      string        `json:"run_id"`
	URLs       []string      `json:"urls,omitempty"`
	Submission *SubmitResult `json:"submission,omitempty"`
}
