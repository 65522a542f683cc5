package sitemap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

const urlset = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9" xmlns:xhtml="http://www.w3.org/1999/xhtml">
  <url>
    <loc>https://www.ristorantestoria.de/</loc>
    <xhtml:link rel="alternate" hreflang="en" href="https://www.ristorantestoria.de/en/"/>
  </url>
  <url><loc> https://www.ristorantestoria.de/speisekarte/ </loc></url>
  <url><loc>https://www.ristorantestoria.de/impressum/</loc></url>
</urlset>`

func TestParseURLSet(t *testing.T) {
	t.Parallel()

	doc, err := Parse(strings.NewReader(urlset))
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://www.ristorantestoria.de/",
		"https://www.ristorantestoria.de/speisekarte/",
		"https://www.ristorantestoria.de/impressum/",
	}, doc.URLs)
	require.Empty(t, doc.Children)
}

func TestIndexFollowsSitemapIndex(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>` + srvURL + `/de.xml</loc></sitemap>
<sitemap><loc>` + srvURL + `/en.xml</loc></sitemap>
<sitemap><loc>` + srvURL + `/broken.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/de.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(urlset))
	})
	mux.HandleFunc("/en.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>https://www.ristorantestoria.de/en/</loc></url>
<url><loc>https://www.ristorantestoria.de/</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	urls, err := New(srv.URL+"/sitemap.xml", srv.Client(), nil).URLs(context.Background())
	require.NoError(t, err)
	require.Len(t, urls, 4)
	require.Equal(t, "https://www.ristorantestoria.de/en/", urls[3])
}

func TestIndexReportsProviderStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, srv.Client(), nil).URLs(context.Background())
	var providerErr *seo.ProviderError
	require.True(t, errors.As(err, &providerErr))
	require.Equal(t, http.StatusNotFound, providerErr.StatusCode)
}
