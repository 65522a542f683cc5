// Package deploy triggers a static site rebuild and submits the URLs whose
// content changed since the previous deploy that was both built and
// submitted. A run whose submission failed does not advance that point, so the
// next run collects its URLs again.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

// DefaultTopic is the Pub/Sub topic that carries rebuild requests.
const DefaultTopic = "site-rebuild"

// Store is the subset of seo.Store the trigger needs.
type Store interface {
	seo.DeployStore
	seo.ContentStore
	seo.NotificationStore
}

// Config selects the build collaborators. At least one of BuildHookURL or a
// publisher must be configured.
type Config struct {
	BuildHookURL  string
	Topic         string
	DefaultLocale string
}

// RebuildEvent is the message published to the rebuild topic.
type RebuildEvent struct {
	RunID       string    `json:"run_id"`
	RequestedAt time.Time `json:"requested_at"`
	Since       time.Time `json:"since,omitempty"`
}

// Trigger runs deploy invocations. It never retries on its own.
type Trigger struct {
	store     Store
	client    *http.Client
	publisher seo.Publisher
	submitter seo.URLSubmitter
	clock     seo.Clock
	ids       seo.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Trigger. publisher and submitter may be nil.
func New(
	store Store,
	client *http.Client,
	publisher seo.Publisher,
	submitter seo.URLSubmitter,
	clock seo.Clock,
	ids seo.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Trigger {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "de"
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		store:     store,
		client:    client,
		publisher: publisher,
		submitter: submitter,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// PathFor maps a content item to its canonical site path.
func (t *Trigger) PathFor(item seo.ContentItem) string {
	slug := strings.Trim(strings.TrimSpace(item.Slug), "/")
	locale := strings.ToLower(strings.TrimSpace(item.Locale))
	prefix := "/"
	if locale != "" && locale != t.cfg.DefaultLocale {
		prefix = "/" + locale + "/"
	}
	if slug == "" {
		return prefix
	}
	return prefix + slug + "/"
}

// Trigger rebuilds the site and submits changed URLs. Every invocation is
// recorded as a DeployRun; a failed build also raises a notification.
func (t *Trigger) Trigger(ctx context.Context) seo.DeployResult {
	started := t.clock.Now()
	runID, err := t.ids.NewID()
	if err != nil {
		return seo.DeployResult{Error: fmt.Sprintf("generate run id: %v", err)}
	}
	logger := t.logger.With(zap.String("run_id", runID))
	result := seo.DeployResult{RunID: runID}

	var since time.Time
	last, err := t.store.LastSuccessfulDeploy(ctx)
	switch {
	case err == nil:
		since = last.StartedAt
	case errors.Is(err, seo.ErrNotFound):
		logger.Info("no previous successful deploy; treating all content as changed")
	default:
		result.Error = fmt.Sprintf("load last deploy: %v", err)
		t.finish(ctx, result, false, started, logger)
		return result
	}

	if err := t.build(ctx, RebuildEvent{RunID: runID, RequestedAt: started, Since: since}); err != nil {
		result.Error = err.Error()
		logger.Error("site build failed", zap.Error(err))
		t.notify(ctx, seo.NotificationDeployFailure, "site build failed: "+err.Error(), runID, logger)
		t.finish(ctx, result, false, started, logger)
		return result
	}
	result.Success = true

	items, err := t.store.ListContentChangedSince(ctx, since)
	if err != nil {
		logger.Warn("changed content lookup failed; skipping url submission", zap.Error(err))
		t.finish(ctx, result, false, started, logger)
		return result
	}
	result.URLs = t.changedPaths(ctx, items, runID, logger)

	submitted := true
	if len(result.URLs) > 0 && t.submitter != nil {
		sub, err := t.submitter.Submit(ctx, result.URLs)
		if err != nil {
			logger.Warn("url submission failed", zap.Error(err))
			if sub.Message == "" {
				sub.Message = err.Error()
			}
		}
		submitted = err == nil && sub.Success
		result.Submission = &sub
	}
	t.finish(ctx, result, submitted, started, logger)
	return result
}

// changedPaths maps items to unique sorted paths and raises a slug conflict
// notification for every path claimed by more than one item.
func (t *Trigger) changedPaths(ctx context.Context, items []seo.ContentItem, runID string, logger *zap.Logger) []string {
	owners := make(map[string][]string)
	for _, item := range items {
		p := t.PathFor(item)
		owners[p] = append(owners[p], fmt.Sprintf("%s %s", item.Kind, item.ID))
	}
	paths := make([]string, 0, len(owners))
	for p := range owners {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if ids := owners[p]; len(ids) > 1 {
			msg := fmt.Sprintf("path %s is claimed by %s", p, strings.Join(ids, ", "))
			logger.Warn("slug conflict", zap.String("path", p), zap.Strings("items", ids))
			t.notify(ctx, seo.NotificationSlugConflict, msg, runID, logger)
		}
	}
	return paths
}

// build asks every configured collaborator for a rebuild.
func (t *Trigger) build(ctx context.Context, event RebuildEvent) error {
	if t.cfg.BuildHookURL == "" && t.publisher == nil {
		return errors.New("no build hook or rebuild topic configured")
	}
	if t.cfg.BuildHookURL != "" {
		if err := t.callHook(ctx, event); err != nil {
			return err
		}
	}
	if t.publisher != nil {
		id, err := t.publisher.Publish(ctx, t.cfg.Topic, event)
		if err != nil {
			return fmt.Errorf("publish rebuild event: %w", err)
		}
		t.logger.Debug("rebuild event published", zap.String("message_id", id), zap.String("topic", t.cfg.Topic))
	}
	return nil
}

func (t *Trigger) callHook(ctx context.Context, event RebuildEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode build hook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BuildHookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return &seo.TransportError{URL: t.cfg.BuildHookURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &seo.ProviderError{Provider: "build hook", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return nil
}

func (t *Trigger) notify(ctx context.Context, kind seo.NotificationType, msg, runID string, logger *zap.Logger) {
	id, err := t.ids.NewID()
	if err != nil {
		logger.Warn("notification id generation failed", zap.Error(err))
		return
	}
	n := seo.Notification{ID: id, Type: kind, Message: msg, RelatedEntityID: runID, CreatedAt: t.clock.Now()}
	if err := t.store.CreateNotification(ctx, n); err != nil {
		logger.Warn("notification not stored", zap.String("type", string(kind)), zap.Error(err))
	}
}

func (t *Trigger) finish(ctx context.Context, result seo.DeployResult, submitted bool, started time.Time, logger *zap.Logger) {
	run := seo.DeployRun{
		ID:           result.RunID,
		StartedAt:    started,
		FinishedAt:   t.clock.Now(),
		Success:      result.Success,
		SubmissionOK: submitted,
		Error:        result.Error,
		URLCount:     len(result.URLs),
	}
	if err := t.store.RecordDeploy(ctx, run); err != nil {
		logger.Error("deploy run not recorded", zap.Error(err))
	}
	logger.Info("deploy finished",
		zap.Bool("success", result.Success),
		zap.Bool("submission_ok", submitted),
		zap.Int("urls", len(result.URLs)),
	)
}
