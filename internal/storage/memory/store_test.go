package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

func day(d int) time.Time {
	return time.Date(2026, 4, d, 0, 0, 0, 0, time.UTC)
}

func TestStoreUpsertMetricRowsIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	rows := []seo.MetricRow{
		{Date: day(1), Dimension: seo.DimensionPage, DimensionValue: "/a/", Clicks: 1},
		{Date: day(2), Dimension: seo.DimensionPage, DimensionValue: "/a/", Clicks: 2},
	}
	_, err := s.UpsertMetricRows(ctx, rows)
	require.NoError(t, err)
	rows[1].Clicks = 5
	_, err = s.UpsertMetricRows(ctx, rows[1:])
	require.NoError(t, err)

	got, err := s.ListMetricRows(ctx, seo.MetricFilter{Dimension: seo.DimensionPage})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(5), got[1].Clicks)

	got, err = s.ListMetricRows(ctx, seo.MetricFilter{Range: seo.DateRange{Start: day(2), End: day(2)}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	latest, err := s.LatestMetricDate(ctx, seo.DimensionPage)
	require.NoError(t, err)
	require.Equal(t, day(2), latest)

	_, err = s.LatestMetricDate(ctx, seo.DimensionQuery)
	require.ErrorIs(t, err, seo.ErrNotFound)
}

func TestStorePreviousHealthRecordSkipsCurrentRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.AppendHealthRecord(ctx, seo.URLHealthRecord{URL: "u", RunID: "r1", StatusCode: 200}))
	require.NoError(t, s.AppendHealthRecord(ctx, seo.URLHealthRecord{URL: "u", RunID: "r2", StatusCode: 500}))

	prev, err := s.PreviousHealthRecord(ctx, "u", "r2")
	require.NoError(t, err)
	require.Equal(t, "r1", prev.RunID)

	_, err = s.PreviousHealthRecord(ctx, "other", "r2")
	require.ErrorIs(t, err, seo.ErrNotFound)
	require.Len(t, s.HealthRecords("r2"), 1)
}

func TestStoreTaskLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateTask(ctx, seo.Task{ID: "t1", Status: seo.TaskOpen}))
	require.Error(t, s.CreateTask(ctx, seo.Task{ID: "t1", Status: seo.TaskOpen}))
	require.NoError(t, s.CreateTask(ctx, seo.Task{ID: "t2", Status: seo.TaskOpen}))

	require.NoError(t, s.ResolveTask(ctx, "t1", day(3)))
	open, err := s.ListOpenTasks(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "t2", open[0].ID)
	require.Equal(t, day(3), *s.Tasks()[0].ResolvedAt)
	require.ErrorIs(t, s.ResolveTask(ctx, "missing", day(3)), seo.ErrNotFound)
}

func TestStoreContentAndDeploys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	s.PutContent(
		seo.ContentItem{ID: "1", Slug: "speisekarte", Locale: "de", Published: true, UpdatedAt: day(5)},
		seo.ContentItem{ID: "2", Slug: "draft", Locale: "de", Published: false, UpdatedAt: day(5)},
		seo.ContentItem{ID: "3", Slug: "old", Locale: "de", Published: true, UpdatedAt: day(1)},
	)
	changed, err := s.ListContentChangedSince(ctx, day(2))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, "speisekarte", changed[0].Slug)

	_, err = s.LastSuccessfulDeploy(ctx)
	require.ErrorIs(t, err, seo.ErrNotFound)
	require.NoError(t, s.RecordDeploy(ctx, seo.DeployRun{ID: "d1", Success: true, SubmissionOK: true, FinishedAt: day(2)}))
	require.NoError(t, s.RecordDeploy(ctx, seo.DeployRun{ID: "d2", Success: false, FinishedAt: day(3)}))
	require.NoError(t, s.RecordDeploy(ctx, seo.DeployRun{ID: "d3", Success: true, SubmissionOK: false, FinishedAt: day(4)}))
	last, err := s.LastSuccessfulDeploy(ctx)
	require.NoError(t, err)
	require.Equal(t, "d1", last.ID)
}

func TestStoreClosed(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.Ping(context.Background()))
	s.Close()
	err := s.Ping(context.Background())
	require.True(t, errors.Is(err, errClosed))
	_, err = s.UpsertMetricRows(context.Background(), nil)
	require.Error(t, err)
}
