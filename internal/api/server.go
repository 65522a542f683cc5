package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/metrics"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

// Syncer runs the metrics sync.
type Syncer interface {
	Sync(ctx context.Context, req seo.SyncRequest) (seo.SyncSummary, error)
}

// Crawler runs a site crawl.
type Crawler interface {
	Crawl(ctx context.Context, req seo.CrawlRequest) (seo.CrawlSummary, error)
}

// BriefingRunner runs the daily alert pass.
type BriefingRunner interface {
	RunDaily(ctx context.Context) (seo.Briefing, error)
}

// Deployer triggers a site rebuild.
type Deployer interface {
	Trigger(ctx context.Context) seo.DeployResult
}

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the pipeline components behind the routes. A nil service makes
// its route answer 501.
type Services struct {
	Sync     Syncer
	Crawl    Crawler
	Alerts   BriefingRunner
	Deploy   Deployer
	IndexNow seo.URLSubmitter
	Sitemap  seo.URLIndex
	Store    Pinger
}

// Config controls server middleware.
type Config struct {
	// APIKey enables X-API-Key auth on /v1 routes when non-empty.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline components.
type Server struct {
	router chi.Router
	svc    Services
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Services, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	s := &Server{svc: svc, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/sync", s.sync)
		r.Post("/crawl", s.crawl)
		r.Post("/alerts/daily", s.alertsDaily)
		r.Post("/deploy", s.deploy)
		r.Post("/indexnow", s.indexNow)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Store.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type syncResponse struct {
	seo.SyncSummary
	Error string `json:"error,omitempty"`
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	if s.svc.Sync == nil {
		writeError(w, http.StatusNotImplemented, "sync not configured")
		return
	}
	req := seo.SyncRequest{Mode: seo.SyncModeDaily}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.svc.Sync.Sync(r.Context(), req)
	resp := syncResponse{SyncSummary: summary}
	if err != nil {
		resp.Outcome = seo.OutcomeFailed
		resp.Error = err.Error()
	}
	writeJSON(w, statusFor(err), resp)
}

type crawlResponse struct {
	seo.CrawlSummary
	Error string `json:"error,omitempty"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	if s.svc.Crawl == nil {
		writeError(w, http.StatusNotImplemented, "crawl not configured")
		return
	}
	req := seo.CrawlRequest{Action: seo.CrawlActionQuickCheck}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.svc.Crawl.Crawl(r.Context(), req)
	resp := crawlResponse{CrawlSummary: summary}
	if err != nil {
		resp.Error = err.Error()
		// Store failures leave the per-URL outcome intact; anything else is fatal.
		if !seo.IsStore(err) {
			resp.Outcome = seo.OutcomeFailed
		}
	}
	writeJSON(w, statusFor(err), resp)
}

type briefingResponse struct {
	Outcome  seo.Outcome   `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Briefing *seo.Briefing `json:"briefing,omitempty"`
}

func (s *Server) alertsDaily(w http.ResponseWriter, r *http.Request) {
	if s.svc.Alerts == nil {
		writeError(w, http.StatusNotImplemented, "alerts not configured")
		return
	}
	briefing, err := s.svc.Alerts.RunDaily(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), briefingResponse{Outcome: seo.OutcomeFailed, Error: err.Error()})
		return
	}
	outcome := seo.OutcomeSucceeded
	if briefing.BaselineFailures > 0 {
		outcome = seo.DeriveOutcome(briefing.BaselinesComputed, briefing.BaselineFailures)
	}
	writeJSON(w, http.StatusOK, briefingResponse{Outcome: outcome, Briefing: &briefing})
}

type deployResponse struct {
	seo.DeployResult
	Outcome seo.Outcome `json:"outcome"`
}

func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	if s.svc.Deploy == nil {
		writeError(w, http.StatusNotImplemented, "deploy not configured")
		return
	}
	result := s.svc.Deploy.Trigger(r.Context())
	if !result.Success {
		writeJSON(w, http.StatusBadGateway, deployResponse{DeployResult: result, Outcome: seo.OutcomeFailed})
		return
	}
	outcome := seo.OutcomeSucceeded
	if result.Submission != nil && !result.Submission.Success {
		outcome = seo.OutcomePartial
	}
	writeJSON(w, http.StatusOK, deployResponse{DeployResult: result, Outcome: outcome})
}

type indexNowRequest struct {
	URLs []string `json:"urls"`
}

type indexNowResponse struct {
	seo.SubmitResult
	Outcome seo.Outcome `json:"outcome"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) indexNow(w http.ResponseWriter, r *http.Request) {
	if s.svc.IndexNow == nil {
		writeError(w, http.StatusNotImplemented, "indexnow not configured")
		return
	}
	var req indexNowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	urls := req.URLs
	if len(urls) == 0 && s.svc.Sitemap != nil {
		all, err := s.svc.Sitemap.URLs(r.Context())
		if err != nil {
			writeJSON(w, http.StatusBadGateway, indexNowResponse{Outcome: seo.OutcomeFailed, Error: fmt.Sprintf("load sitemap: %v", err)})
			return
		}
		urls = all
	}
	result, err := s.svc.IndexNow.Submit(r.Context(), urls)
	resp := indexNowResponse{SubmitResult: result, Outcome: seo.OutcomeSucceeded}
	if err != nil {
		resp.Outcome = seo.OutcomeFailed
		resp.Error = err.Error()
	} else if result.Truncated > 0 {
		resp.Outcome = seo.OutcomePartial
	}
	writeJSON(w, statusFor(err), resp)
}

// decodeBody decodes an optional JSON body into dst, leaving defaults in
// place when the body is empty.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	var providerErr *seo.ProviderError
	switch {
	case err == nil:
		return http.StatusOK
	case seo.IsValidation(err):
		return http.StatusBadRequest
	case seo.IsAuth(err), seo.IsTransport(err), errors.As(err, &providerErr):
		return http.StatusBadGateway
	case seo.IsStore(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"outcome": string(seo.OutcomeFailed), "error": msg})
}
