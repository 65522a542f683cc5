package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/config"
	memorypublisher "github.com/JakeFAU/storia-seo-ops/internal/publisher/memory"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
	gcsstorage "github.com/JakeFAU/storia-seo-ops/internal/storage/gcs"
	localstorage "github.com/JakeFAU/storia-seo-ops/internal/storage/local"
	memorystorage "github.com/JakeFAU/storia-seo-ops/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	return cfg
}

func TestBuildWithInMemoryBackends(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	_, ok := app.store.(*memorystorage.Store)
	require.True(t, ok)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildUsesLocalBlobStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.LocalDir = t.TempDir()
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	blobs, err := app.setupStorage(context.Background())
	require.NoError(t, err)
	_, ok := blobs.(*localstorage.BlobStore)
	require.True(t, ok)
}

func TestSetupStoragePrefersBucket(t *testing.T) {
	t.Setenv("STORAGE_EMULATOR_HOST", "localhost:1")
	cfg := testConfig(t)
	cfg.Storage.GCSBucket = "artifacts"
	cfg.Storage.LocalDir = t.TempDir()
	app := &App{cfg: cfg, logger: zap.NewNop()}
	defer app.Close()

	blobs, err := app.setupStorage(context.Background())
	require.NoError(t, err)
	_, ok := blobs.(*gcsstorage.BlobStore)
	require.True(t, ok)
}

func TestSetupPublisherFallbacks(t *testing.T) {
	t.Parallel()

	app := &App{cfg: config.Config{}, logger: zap.NewNop()}
	pub, err := app.setupPublisher(context.Background())
	require.NoError(t, err)
	require.Nil(t, pub)

	app.cfg.Deploy.DryRun = true
	pub, err = app.setupPublisher(context.Background())
	require.NoError(t, err)
	_, ok := pub.(*memorypublisher.Publisher)
	require.True(t, ok)

	app.cfg.Deploy.BuildHookURL = "https://hooks.example.test/build"
	pub, err = app.setupPublisher(context.Background())
	require.NoError(t, err)
	require.Nil(t, pub)
}

func TestDeployWithoutCollaboratorFails(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/deploy", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "no build hook or rebuild topic configured")
	require.Contains(t, rec.Body.String(), `"success":false`)
}

func TestAlertsConfigTranslation(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Alerts: config.AlertsConfig{
		WindowDays: 14, MinSamples: 5, Dimensions: []string{"page"}, MinSeverity: "high",
		StdDevThreshold: 2.5, TopMovers: 3, BriefingBlobPrefix: "daily",
	}}
	out, err := alertsConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, []seo.Dimension{seo.DimensionPage}, out.Dimensions)
	require.Equal(t, seo.SeverityHigh, out.MinSeverity)
	require.InDelta(t, 2.5, out.StdDevThreshold, 0)
	require.InDelta(t, 3.0, out.PositionThreshold, 0)
	require.Equal(t, 3, out.TopMovers)
	require.Equal(t, "daily", out.BlobPrefix)

	cfg.Alerts.MinSeverity = "urgent"
	_, err = alertsConfig(cfg)
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
