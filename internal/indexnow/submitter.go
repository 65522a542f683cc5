// Package indexnow submits changed URLs to the IndexNow protocol endpoint.
package indexnow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/metrics"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

const (
	// DefaultEndpoint is the shared IndexNow endpoint that fans out to all
	// participating engines.
	DefaultEndpoint = "https://api.indexnow.org/indexnow"
	// MaxURLsPerBatch is the protocol limit for one submission.
	MaxURLsPerBatch = 10000

	providerName    = "indexnow"
	maxMessageBytes = 512
)

// statusReasons maps documented IndexNow responses to operator-facing text.
var statusReasons = map[int]string{
	http.StatusOK:                  "URLs submitted successfully",
	http.StatusAccepted:            "URLs accepted; key validation pending",
	http.StatusBadRequest:          "bad request: invalid submission format",
	http.StatusForbidden:           "forbidden: key not valid (key file missing or not matching)",
	http.StatusUnprocessableEntity: "unprocessable: URLs do not belong to the host or key does not match the schema",
	http.StatusTooManyRequests:     "too many requests: submission rate limited",
}

// Config identifies the site and its ownership key.
type Config struct {
	Endpoint    string
	Host        string
	Key         string
	KeyLocation string
	MaxURLs     int
}

// Submitter implements seo.URLSubmitter.
type Submitter struct {
	cfg    Config
	client *http.Client
	log    seo.SubmissionLog
	clock  seo.Clock
	ids    seo.IDGenerator
	logger *zap.Logger
}

type payload struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation"`
	URLList     []string `json:"urlList"`
}

// New constructs a Submitter. log may be nil.
func New(cfg Config, client *http.Client, log seo.SubmissionLog, clock seo.Clock, ids seo.IDGenerator, logger *zap.Logger) *Submitter {
	cfg.Host = strings.ToLower(strings.TrimSpace(cfg.Host))
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.KeyLocation == "" && cfg.Host != "" && cfg.Key != "" {
		cfg.KeyLocation = fmt.Sprintf("https://%s/%s.txt", cfg.Host, cfg.Key)
	}
	if cfg.MaxURLs <= 0 || cfg.MaxURLs > MaxURLsPerBatch {
		cfg.MaxURLs = MaxURLsPerBatch
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{cfg: cfg, client: client, log: log, clock: clock, ids: ids, logger: logger}
}

// Normalize qualifies bare paths against the configured host, rejects URLs on
// other hosts and drops duplicates. Blank entries are ignored.
func (s *Submitter) Normalize(urls []string) ([]string, error) {
	if s.cfg.Host == "" {
		return nil, seo.Validationf("host", "indexnow host is not configured")
	}
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, seo.Validationf("urls", "invalid url %q", raw)
		}
		if u.Host == "" {
			if u.Scheme != "" {
				return nil, seo.Validationf("urls", "invalid url %q", raw)
			}
			if !strings.HasPrefix(u.Path, "/") {
				u.Path = "/" + u.Path
			}
			u.Scheme, u.Host = "https", s.cfg.Host
		} else if !strings.EqualFold(u.Hostname(), s.cfg.Host) {
			return nil, seo.Validationf("urls", "url %q is not on host %s", raw, s.cfg.Host)
		}
		u.Host = strings.ToLower(u.Host)
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, seo.Validationf("urls", "unsupported scheme in %q", raw)
		}
		normalized := u.String()
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil, seo.Validationf("urls", "at least one url is required")
	}
	return out, nil
}

// Submit sends one batch. Provider rejections come back as an unsuccessful
// result together with a *seo.ProviderError; network failures as a
// *seo.TransportError.
func (s *Submitter) Submit(ctx context.Context, urls []string) (seo.SubmitResult, error) {
	if s.cfg.Key == "" {
		return seo.SubmitResult{}, seo.Validationf("key", "indexnow key is not configured")
	}
	list, err := s.Normalize(urls)
	if err != nil {
		return seo.SubmitResult{Message: err.Error()}, err
	}
	result := seo.SubmitResult{}
	if len(list) > s.cfg.MaxURLs {
		result.Truncated = len(list) - s.cfg.MaxURLs
		s.logger.Warn("submission truncated",
			zap.Int("requested", len(list)),
			zap.Int("max", s.cfg.MaxURLs),
		)
		list = list[:s.cfg.MaxURLs]
	}
	result.Submitted = len(list)

	body, err := json.Marshal(payload{
		Host:        s.cfg.Host,
		Key:         s.cfg.Key,
		KeyLocation: s.cfg.KeyLocation,
		URLList:     list,
	})
	if err != nil {
		return result, fmt.Errorf("encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.ObserveSubmission(0)
		result.Message = "network error: " + err.Error()
		s.record(ctx, list, 0, result.Message)
		return result, &seo.TransportError{URL: s.cfg.Endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	providerBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxMessageBytes))

	metrics.ObserveSubmission(resp.StatusCode)
	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted
	detail := strings.TrimSpace(string(providerBody))
	result.Message = reason(resp.StatusCode)
	if !result.Success && detail != "" {
		result.Message += ": " + detail
	}
	s.record(ctx, list, resp.StatusCode, detail)

	logger := s.logger.With(zap.Int("status", resp.StatusCode), zap.Int("urls", len(list)))
	if !result.Success {
		logger.Warn("indexnow submission rejected", zap.String("reason", result.Message))
		return result, &seo.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    result.Message,
		}
	}
	logger.Info("indexnow submission accepted")
	return result, nil
}

func reason(status int) string {
	if r, ok := statusReasons[status]; ok {
		return r
	}
	return fmt.Sprintf("submission failed with status %d", status)
}

func (s *Submitter) record(ctx context.Context, urls []string, status int, message string) {
	if s.log == nil {
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("submission id generation failed", zap.Error(err))
		return
	}
	batch := seo.SubmissionBatch{
		ID:              id,
		URLs:            urls,
		SubmittedAt:     s.clock.Now(),
		HTTPStatus:      status,
		ProviderMessage: message,
	}
	if err := s.log.LogSubmission(ctx, batch); err != nil {
		s.logger.Warn("submission batch not logged", zap.Error(err))
	}
}
