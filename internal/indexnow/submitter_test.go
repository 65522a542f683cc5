package indexnow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storia-seo-ops/internal/clock"
	"github.com/JakeFAU/storia-seo-ops/internal/runid"
	"github.com/JakeFAU/storia-seo-ops/internal/seo"
	"github.com/JakeFAU/storia-seo-ops/internal/storage/memory"
)

const host = "www.ristorantestoria.de"

func newSubmitter(endpoint string, store *memory.Store, maxURLs int) *Submitter {
	var log seo.SubmissionLog
	if store != nil {
		log = store
	}
	return New(Config{Endpoint: endpoint, Host: host, Key: "k3y", MaxURLs: maxURLs}, nil, log,
		clock.NewFixed(time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)), &runid.Sequence{}, nil)
}

func TestSubmitQualifiesPathsAndSucceedsOnAccepted(t *testing.T) {
	t.Parallel()

	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.Header.Get("Content-Type"), "application/json")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	store := memory.NewStore()

	res, err := newSubmitter(srv.URL, store, 0).Submit(context.Background(), []string{"/speisekarte/", "/mittags-menu/"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Equal(t, 2, res.Submitted)

	require.Equal(t, host, got.Host)
	require.Equal(t, "k3y", got.Key)
	require.Equal(t, "https://www.ristorantestoria.de/k3y.txt", got.KeyLocation)
	require.Equal(t, []string{
		"https://www.ristorantestoria.de/speisekarte/",
		"https://www.ristorantestoria.de/mittags-menu/",
	}, got.URLList)

	batches := store.Submissions()
	require.Len(t, batches, 1)
	require.Equal(t, http.StatusAccepted, batches[0].HTTPStatus)
	require.Len(t, batches[0].URLs, 2)
}

func TestSubmitRejectsForeignHostBeforeSending(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	_, err := newSubmitter(srv.URL, nil, 0).Submit(context.Background(), []string{
		"/ok/", "https://evil.example/phish",
	})
	require.True(t, seo.IsValidation(err))
	require.False(t, called)

	_, err = newSubmitter(srv.URL, nil, 0).Submit(context.Background(), []string{" ", ""})
	require.True(t, seo.IsValidation(err))
}

func TestSubmitMapsProviderStatuses(t *testing.T) {
	t.Parallel()

	for _, status := range []int{400, 403, 422, 429, 500} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			}))
			defer srv.Close()

			res, err := newSubmitter(srv.URL, nil, 0).Submit(context.Background(), []string{"/"})
			require.False(t, res.Success)
			require.Equal(t, status, res.StatusCode)
			require.Equal(t, reason(status), res.Message)
			var providerErr *seo.ProviderError
			require.True(t, errors.As(err, &providerErr))
			require.Equal(t, status, providerErr.StatusCode)
		})
	}
	require.Contains(t, reason(500), "500")
	require.Contains(t, reason(429), "too many requests")
}

func TestSubmitSurfacesProviderBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("  URL https://other.test/ does not belong to host\n"))
	}))
	defer srv.Close()

	res, err := newSubmitter(srv.URL, nil, 0).Submit(context.Background(), []string{"/"})
	require.False(t, res.Success)
	require.Equal(t, reason(http.StatusUnprocessableEntity)+": URL https://other.test/ does not belong to host", res.Message)
	var providerErr *seo.ProviderError
	require.True(t, errors.As(err, &providerErr))
	require.Contains(t, providerErr.Message, "does not belong to host")
}

func TestSubmitTruncatesToBatchLimit(t *testing.T) {
	t.Parallel()

	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("/p%d/", i)
	}
	res, err := newSubmitter(srv.URL, nil, 3).Submit(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, 3, res.Submitted)
	require.Equal(t, 2, res.Truncated)
	require.Len(t, got.URLList, 3)
}

func TestSubmitTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()
	store := memory.NewStore()

	res, err := newSubmitter(endpoint, store, 0).Submit(context.Background(), []string{"/"})
	require.True(t, seo.IsTransport(err))
	require.False(t, res.Success)
	require.Zero(t, res.StatusCode)
	require.Len(t, store.Submissions(), 1)
}

func TestNormalizeDeduplicatesAndKeepsAbsoluteURLs(t *testing.T) {
	t.Parallel()

	s := newSubmitter("", nil, 0)
	got, err := s.Normalize([]string{"speisekarte/", "https://WWW.ristorantestoria.de/speisekarte/", "/en/menu/"})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://www.ristorantestoria.de/speisekarte/",
		"https://www.ristorantestoria.de/en/menu/",
	}, got)
}
