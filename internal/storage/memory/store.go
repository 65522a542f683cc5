package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

// Store is an in-memory seo.Store for development and tests.
type Store struct {
	mu            sync.RWMutex
	metrics       map[seo.MetricKey]seo.MetricRow
	health        []seo.URLHealthRecord
	baselines     []seo.Baseline
	tasks         map[string]seo.Task
	taskOrder     []string
	briefings     []seo.Briefing
	notifications []seo.Notification
	submissions   []seo.SubmissionBatch
	content       []seo.ContentItem
	deploys       []seo.DeployRun
	closed        bool
}

var errClosed = errors.New("memory store closed")

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		metrics: make(map[seo.MetricKey]seo.MetricRow),
		tasks:   make(map[string]seo.Task),
	}
}

// UpsertMetricRows overwrites rows by natural key.
func (s *Store) UpsertMetricRows(_ context.Context, rows []seo.MetricRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	for _, r := range rows {
		r.Date = seo.Date(r.Date)
		s.metrics[r.Key()] = r
	}
	return int64(len(rows)), nil
}

// ListMetricRows returns rows matching the filter, oldest first.
func (s *Store) ListMetricRows(_ context.Context, filter seo.MetricFilter) ([]seo.MetricRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]seo.MetricRow, 0)
	for _, r := range s.metrics {
		if filter.Dimension != "" && r.Dimension != filter.Dimension {
			continue
		}
		if filter.DimensionValue != "" && r.DimensionValue != filter.DimensionValue {
			continue
		}
		if !filter.Range.Start.IsZero() && r.Date.Before(seo.Date(filter.Range.Start)) {
			continue
		}
		if !filter.Range.End.IsZero() && r.Date.After(seo.Date(filter.Range.End)) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].DimensionValue < out[j].DimensionValue
	})
	return out, nil
}

// LatestMetricDate returns the newest stored day for a dimension.
func (s *Store) LatestMetricDate(_ context.Context, dimension seo.Dimension) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, errClosed
	}
	var latest time.Time
	for _, r := range s.metrics {
		if r.Dimension == dimension && r.Date.After(latest) {
			latest = r.Date
		}
	}
	if latest.IsZero() {
		return time.Time{}, seo.ErrNotFound
	}
	return latest, nil
}

// AppendHealthRecord stores a crawl record.
func (s *Store) AppendHealthRecord(_ context.Context, record seo.URLHealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.health = append(s.health, record)
	return nil
}

// PreviousHealthRecord returns the newest record for url outside runID.
func (s *Store) PreviousHealthRecord(_ context.Context, url string, runID string) (seo.URLHealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return seo.URLHealthRecord{}, errClosed
	}
	for i := len(s.health) - 1; i >= 0; i-- {
		r := s.health[i]
		if r.URL == url && r.RunID != runID {
			return r, nil
		}
	}
	return seo.URLHealthRecord{}, seo.ErrNotFound
}

// HealthRecords returns every record of a run.
func (s *Store) HealthRecords(runID string) []seo.URLHealthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []seo.URLHealthRecord
	for _, r := range s.health {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out
}

// ReplaceBaselines swaps the baseline set.
func (s *Store) ReplaceBaselines(_ context.Context, baselines []seo.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.baselines = append([]seo.Baseline(nil), baselines...)
	return nil
}

// Baselines returns the current baseline set.
func (s *Store) Baselines() []seo.Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]seo.Baseline(nil), s.baselines...)
}

// ListOpenTasks returns open tasks in creation order.
func (s *Store) ListOpenTasks(_ context.Context) ([]seo.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	var out []seo.Task
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t.Status == seo.TaskOpen {
			out = append(out, t)
		}
	}
	return out, nil
}

// CreateTask stores a new task.
func (s *Store) CreateTask(_ context.Context, task seo.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	s.taskOrder = append(s.taskOrder, task.ID)
	return nil
}

// ResolveTask marks a task resolved.
func (s *Store) ResolveTask(_ context.Context, taskID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return seo.ErrNotFound
	}
	t.Status = seo.TaskResolved
	resolved := at
	t.ResolvedAt = &resolved
	s.tasks[taskID] = t
	return nil
}

// Tasks returns every task in creation order.
func (s *Store) Tasks() []seo.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]seo.Task, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		out = append(out, s.tasks[id])
	}
	return out
}

// SaveBriefing stores a briefing.
func (s *Store) SaveBriefing(_ context.Context, briefing seo.Briefing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.briefings = append(s.briefings, briefing)
	return nil
}

// Briefings returns stored briefings.
func (s *Store) Briefings() []seo.Briefing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]seo.Briefing(nil), s.briefings...)
}

// CreateNotification stores a notification.
func (s *Store) CreateNotification(_ context.Context, n seo.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.notifications = append(s.notifications, n)
	return nil
}

// Notifications returns stored notifications.
func (s *Store) Notifications() []seo.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]seo.Notification(nil), s.notifications...)
}

// LogSubmission stores a submission batch.
func (s *Store) LogSubmission(_ context.Context, batch seo.SubmissionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.submissions = append(s.submissions, batch)
	return nil
}

// Submissions returns logged batches.
func (s *Store) Submissions() []seo.SubmissionBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]seo.SubmissionBatch(nil), s.submissions...)
}

// PutContent adds or replaces catalog entries by ID.
func (s *Store) PutContent(items ...seo.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
outer:
	for _, item := range items {
		for i := range s.content {
			if s.content[i].ID == item.ID {
				s.content[i] = item
				continue outer
			}
		}
		s.content = append(s.content, item)
	}
}

// ListContentChangedSince returns published items updated after since.
func (s *Store) ListContentChangedSince(_ context.Context, since time.Time) ([]seo.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	var out []seo.ContentItem
	for _, item := range s.content {
		if item.Published && item.UpdatedAt.After(since) {
			out = append(out, item)
		}
	}
	return out, nil
}

// LastSuccessfulDeploy returns the newest run with a successful build and
// submission.
func (s *Store) LastSuccessfulDeploy(_ context.Context) (seo.DeployRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return seo.DeployRun{}, errClosed
	}
	var (
		last  seo.DeployRun
		found bool
	)
	for _, run := range s.deploys {
		if run.Success && run.SubmissionOK && (!found || run.FinishedAt.After(last.FinishedAt)) {
			last, found = run, true
		}
	}
	if !found {
		return seo.DeployRun{}, seo.ErrNotFound
	}
	return last, nil
}

// RecordDeploy stores a deploy run.
func (s *Store) RecordDeploy(_ context.Context, run seo.DeployRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.deploys = append(s.deploys, run)
	return nil
}

// Deploys returns recorded runs.
func (s *Store) Deploys() []seo.DeployRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]seo.DeployRun(nil), s.deploys...)
}

// Ping reports whether the store is open.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed; later calls fail.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

var _ seo.Store = (*Store)(nil)
