// Package server builds the pipeline components from configuration and runs
// the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/alerts"
	"github.com/JakeFAU/storia-seo-ops/internal/api"
	"github.com/JakeFAU/storia-seo-ops/internal/auth"
	"github.com/JakeFAU/storia-seo-ops/internal/clock"
	"github.com/JakeFAU/storia-seo-ops/internal/config"
	"github.com/JakeFAU/storia-seo-ops/internal/crawler"
	"github.com/JakeFAU/storia-seo-ops/internal/deploy"
	collyfetcher "github.com/JakeFAU/storia-seo-ops/internal/fetcher/colly"
	"github.com/JakeFAU/storia-seo-ops/internal/indexnow"
	"github.com/JakeFAU/storia-seo-ops/internal/inspect"
	"github.com/JakeFAU/storia-seo-ops/internal/metricsync"
	"github.com/JakeFAU/storia-seo-ops/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/storia-seo-ops/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/storia-seo-ops/internal/publisher/pubsub"
	"github.com/JakeFAU/storia-seo-ops/internal/runid"
	"github.com/JakeFAU/storia-seo-ops/internal/searchconsole"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
	"github.com/JakeFAU/storia-seo-ops/internal/sitemap"
	gcsstorage "github.com/JakeFAU/storia-seo-ops/internal/storage/gcs"
	localstorage "github.com/JakeFAU/storia-seo-ops/internal/storage/local"
	memorystorage "github.com/JakeFAU/storia-seo-ops/internal/storage/memory"
	pgstore "github.com/JakeFAU/storia-seo-ops/internal/storage/postgres"
)

const publisherSource = "seoops"

// App holds the long-lived clients and the API server.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        seo.Store
	apiServer    *api.Server
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
}

// Build creates every pipeline component from cfg. The caller must Close the
// returned App.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	var err error
	app.store, err = OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	clk := clock.System{}
	ids := runid.New()

	syncer, err := newSyncer(cfg, app.store, clk, ids, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	index := NewSitemap(cfg, logger)
	crawl := crawler.New(
		collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.Crawler.UserAgent,
			Timeout:      cfg.Crawler.CrawlTimeout(),
			MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
			MaxRedirects: cfg.Crawler.MaxRedirects,
		}),
		inspect.New(inspect.Config{Locales: cfg.Site.Locales, LegalPaths: cfg.Site.LegalPaths}),
		index,
		app.store,
		app.store,
		clk,
		ids,
		crawler.Config{
			BaseURL:       cfg.Site.BaseURL,
			PriorityPaths: cfg.Site.PriorityPaths,
			Concurrency:   cfg.Crawler.Concurrency,
			Pacer:         ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RequestsPerSecond, Burst: cfg.Crawler.Concurrency}),
		},
		logger.Named("crawler"),
	)
	alertCfg, err := alertsConfig(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	briefings := alerts.New(app.store, blobs, clk, ids, alertCfg, logger.Named("alerts"))
	submitter := NewSubmitter(cfg, app.store, logger)
	trigger := deploy.New(
		app.store,
		&http.Client{Timeout: config.Seconds(cfg.Deploy.TimeoutSeconds)},
		publisher,
		submitter,
		clk,
		ids,
		deploy.Config{BuildHookURL: cfg.Deploy.BuildHookURL, Topic: cfg.Deploy.TopicName, DefaultLocale: cfg.Site.DefaultLocale},
		logger.Named("deploy"),
	)

	apiCfg := api.Config{RequestTimeout: config.Seconds(cfg.Server.RequestTimeoutSeconds)}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(api.Services{
		Sync:     syncer,
		Crawl:    crawl,
		Alerts:   briefings,
		Deploy:   trigger,
		IndexNow: submitter,
		Sitemap:  index,
		Store:    app.store,
	}, apiCfg, logger)
	return app, nil
}

// Handler returns the API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	grace := config.Seconds(a.cfg.Server.ShutdownGraceSeconds)
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Info("shutdown complete")
}

// OpenStore connects to Postgres and applies the schema when a DSN is set;
// otherwise it returns an in-memory store.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (seo.Store, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database DSN configured, using in-memory store")
		return memorystorage.NewStore(), nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: config.Seconds(cfg.DB.MaxConnLifetime),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("postgres migrate failed: %w", err)
	}
	logger.Info("postgres store initialized")
	return store, nil
}

// NewSubmitter builds the IndexNow submitter.
func NewSubmitter(cfg config.Config, log seo.SubmissionLog, logger *zap.Logger) *indexnow.Submitter {
	return indexnow.New(indexnow.Config{
		Endpoint:    cfg.IndexNow.Endpoint,
		Host:        cfg.IndexNow.Host,
		Key:         cfg.IndexNow.Key,
		KeyLocation: cfg.IndexNow.KeyLocation,
		MaxURLs:     cfg.IndexNow.MaxURLs,
	}, &http.Client{Timeout: config.Seconds(cfg.IndexNow.TimeoutSeconds)}, log, clock.System{}, runid.New(), logger.Named("indexnow"))
}

// NewSitemap builds the sitemap-backed URL index.
func NewSitemap(cfg config.Config, logger *zap.Logger) *sitemap.Index {
	return sitemap.New(cfg.Site.SitemapURL, &http.Client{Timeout: cfg.Crawler.CrawlTimeout()}, logger.Named("sitemap"))
}

func newSyncer(cfg config.Config, store seo.Store, clk seo.Clock, ids seo.IDGenerator, logger *zap.Logger) (*metricsync.Syncer, error) {
	cred, err := cfg.Analytics.Credential()
	if err != nil {
		return nil, fmt.Errorf("analytics credential: %w", err)
	}
	httpClient := &http.Client{Timeout: config.Seconds(cfg.Analytics.TimeoutSeconds)}
	minter := auth.NewMinter(cred, httpClient, clk, auth.Config{
		MaxClockSkew: config.Seconds(cfg.Analytics.MaxClockSkew),
	}, logger.Named("auth"))
	client := searchconsole.NewClient(searchconsole.Config{
		BaseURL:        cfg.Analytics.APIBaseURL,
		SiteURL:        cfg.Analytics.SiteURL,
		RowLimit:       cfg.Analytics.RowLimit,
		DataState:      cfg.Analytics.DataState,
		RequestsPerSec: cfg.Analytics.RequestsPerSec,
	}, httpClient, logger.Named("searchconsole"))
	return metricsync.New(minter, client, store, store, clk, ids, metricsync.Config{Dimensions: seo.AllDimensions}, logger.Named("sync")), nil
}

func alertsConfig(cfg config.Config) (alerts.Config, error) {
	out := alerts.DefaultConfig()
	dims, err := cfg.Alerts.TrackedDimensions()
	if err != nil {
		return out, fmt.Errorf("alerts config: %w", err)
	}
	sev, err := cfg.Alerts.Severity()
	if err != nil {
		return out, fmt.Errorf("alerts config: %w", err)
	}
	out.Dimensions = dims
	out.MinSeverity = sev
	out.WindowDays = cfg.Alerts.WindowDays
	out.MinSamples = cfg.Alerts.MinSamples
	if cfg.Alerts.StdDevThreshold > 0 {
		out.StdDevThreshold = cfg.Alerts.StdDevThreshold
	}
	if cfg.Alerts.PositionThreshold > 0 {
		out.PositionThreshold = cfg.Alerts.PositionThreshold
	}
	if cfg.Alerts.TopMovers > 0 {
		out.TopMovers = cfg.Alerts.TopMovers
	}
	if cfg.Alerts.BriefingBlobPrefix != "" {
		out.BlobPrefix = cfg.Alerts.BriefingBlobPrefix
	}
	return out, nil
}

func (a *App) setupStorage(ctx context.Context) (seo.BlobStore, error) {
	switch {
	case a.cfg.Storage.GCSBucket != "":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case a.cfg.Storage.LocalDir != "":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (seo.Publisher, error) {
	if a.cfg.Deploy.ProjectID == "" {
		switch {
		case a.cfg.Deploy.BuildHookURL != "":
		case a.cfg.Deploy.DryRun:
			a.logger.Warn("deploy dry run enabled, rebuild events stay in memory")
			return memorypublisher.New(), nil
		default:
			a.logger.Warn("no build hook or Pub/Sub project configured, deploys will fail")
		}
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Deploy.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client, publisherSource)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Deploy.ProjectID),
		zap.String("topic", a.cfg.Deploy.TopicName),
	)
	return a.publisher, nil
}
