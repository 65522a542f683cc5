// Package searchconsole queries the Search Console Search Analytics API.
package searchconsole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

// PageQuerySeparator joins page and query into one page_query dimension value.
const PageQuerySeparator = " | "

const maxErrorBody = 4 << 10

// Config controls the API client.
type Config struct {
	BaseURL        string
	SiteURL        string
	RowLimit       int
	DataState      string
	RequestsPerSec float64
}

// Client is an HTTP client for the Search Analytics query endpoint. Tokens
// are passed per call and never stored on the client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type queryRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions,omitempty"`
	Type       string   `json:"type"`
	RowLimit   int      `json:"rowLimit"`
	StartRow   int      `json:"startRow"`
	DataState  string   `json:"dataState,omitempty"`
}

type queryResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// NewClient builds a Client.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = 25000
	}
	limit := rate.Limit(cfg.RequestsPerSec)
	if cfg.RequestsPerSec <= 0 {
		limit = rate.Inf
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// APIDimensions maps a pipeline dimension onto the API's dimension list.
func APIDimensions(d seo.Dimension) ([]string, error) {
	switch d {
	case seo.DimensionSite:
		return nil, nil
	case seo.DimensionPage:
		return []string{"page"}, nil
	case seo.DimensionQuery:
		return []string{"query"}, nil
	case seo.DimensionPageQuery:
		return []string{"page", "query"}, nil
	case seo.DimensionDevice:
		return []string{"device"}, nil
	case seo.DimensionCountry:
		return []string{"country"}, nil
	case seo.DimensionSearchAppearance:
		return []string{"searchAppearance"}, nil
	default:
		return nil, fmt.Errorf("unsupported dimension %q", d)
	}
}

// QueryDay fetches every row for one day and dimension, paging by RowLimit.
func (c *Client) QueryDay(
	ctx context.Context,
	token seo.AccessToken,
	day time.Time,
	dimension seo.Dimension,
) ([]seo.MetricRow, error) {
	if token.Value == "" {
		return nil, &seo.AuthError{Op: "query", Err: fmt.Errorf("missing access token")}
	}
	apiDims, err := APIDimensions(dimension)
	if err != nil {
		return nil, seo.Validationf("dimension", "%v", err)
	}
	date := seo.Date(day)
	var rows []seo.MetricRow
	for startRow := 0; ; startRow += c.cfg.RowLimit {
		page, err := c.query(ctx, token, queryRequest{
			StartDate:  date.Format(seo.DateLayout),
			EndDate:    date.Format(seo.DateLayout),
			Dimensions: apiDims,
			Type:       "web",
			RowLimit:   c.cfg.RowLimit,
			StartRow:   startRow,
			DataState:  c.cfg.DataState,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page.Rows {
			rows = append(rows, seo.MetricRow{
				Date:           date,
				Dimension:      dimension,
				DimensionValue: c.dimensionValue(dimension, r.Keys),
				Impressions:    int64(r.Impressions),
				Clicks:         int64(r.Clicks),
				Position:       r.Position,
				CTR:            r.CTR,
			})
		}
		if len(page.Rows) < c.cfg.RowLimit {
			break
		}
	}
	c.logger.Debug("search analytics day fetched",
		zap.String("date", date.Format(seo.DateLayout)),
		zap.String("dimension", string(dimension)),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

func (c *Client) dimensionValue(dimension seo.Dimension, keys []string) string {
	if dimension == seo.DimensionSite || len(keys) == 0 {
		return c.cfg.SiteURL
	}
	return strings.Join(keys, PageQuerySeparator)
}

func (c *Client) query(ctx context.Context, token seo.AccessToken, body queryRequest) (queryResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return queryResponse{}, fmt.Errorf("rate limiter wait: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return queryResponse{}, fmt.Errorf("marshal query: %w", err)
	}
	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.SiteURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return queryResponse{}, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return queryResponse{}, &seo.TransportError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return queryResponse{}, &seo.ProviderError{
			Provider:   "search console",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}
	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return queryResponse{}, fmt.Errorf("decode query response: %w", err)
	}
	return out, nil
}
