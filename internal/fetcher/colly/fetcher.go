// Package collyfetcher implements seo.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 16 * 1024
	defaultMaxRedirects = 5
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	MaxRedirects int
}

// Fetcher implements seo.Fetcher. Each Fetch builds its own collector over a
// shared transport, so concurrent fetches never share callbacks.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// fetchState collects what the callbacks observe during one visit.
type fetchState struct {
	mu         sync.Mutex
	start      time.Time
	requestURL string
	finalURL   string
	hops       []seo.RedirectHop
	exceeded   bool
	result     seo.FetchResponse
	responded  bool
	err        error
}

// Fetch executes a single HTTP GET. Non-2xx responses are returned with their
// status code; only transport failures produce an error.
func (f *Fetcher) Fetch(ctx context.Context, request seo.FetchRequest) (seo.FetchResponse, error) {
	state := &fetchState{start: time.Now(), requestURL: request.URL, finalURL: request.URL}
	collector := f.buildCollector(ctx, state)

	if err := f.runCollector(ctx, collector, request.URL, state); err != nil {
		return seo.FetchResponse{URL: request.URL, Duration: time.Since(state.start)},
			&seo.TransportError{URL: request.URL, Err: err}
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	result := state.result
	result.URL = request.URL
	result.FinalURL = state.finalURL
	result.Hops = append([]seo.RedirectHop(nil), state.hops...)
	result.HopLimitExceeded = state.exceeded
	return result, nil
}

// buildCollector binds the collector to ctx so canceling a fetch also aborts
// the in-flight request.
func (f *Fetcher) buildCollector(ctx context.Context, state *fetchState) *colly.Collector {
	collector := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.SetRedirectHandler(f.redirectHandler(state))
	f.configureCollectorHooks(collector, state)
	return collector
}

// redirectHandler records each redirect response and stops following once the
// chain exceeds MaxRedirects or revisits a URL already in the chain. Stopping
// hands the last 3xx back to the collector as the final response.
func (f *Fetcher) redirectHandler(state *fetchState) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		state.mu.Lock()
		defer state.mu.Unlock()
		prev := via[len(via)-1]
		status := http.StatusFound
		if req.Response != nil {
			status = req.Response.StatusCode
		}
		state.hops = append(state.hops, seo.RedirectHop{URL: prev.URL.String(), StatusCode: status})

		next := req.URL.String()
		for _, v := range via {
			if v.URL.String() == next {
				state.exceeded = true
				return http.ErrUseLastResponse
			}
		}
		if len(via) > f.cfg.MaxRedirects {
			state.exceeded = true
			return http.ErrUseLastResponse
		}
		state.finalURL = next
		return nil
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnResponse(func(r *colly.Response) {
		state.mu.Lock()
		defer state.mu.Unlock()
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		state.result = seo.FetchResponse{
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(state.start),
		}
		state.responded = true
	})

	hooks.OnError(func(r *colly.Response, err error) {
		state.mu.Lock()
		defer state.mu.Unlock()
		// With ParseHTTPErrorResponse set, OnError only fires for transport
		// failures or a status the collector could not parse.
		if r != nil && r.StatusCode > 0 && !state.responded {
			var headers http.Header
			if r.Headers != nil {
				headers = r.Headers.Clone()
			}
			state.result = seo.FetchResponse{
				StatusCode: r.StatusCode,
				Headers:    headers,
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(state.start),
			}
			state.responded = true
			return
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.responded {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		return errors.New("colly visit produced no response")
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
