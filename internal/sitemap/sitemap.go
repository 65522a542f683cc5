// Package sitemap reads the site's XML sitemap and lists its canonical URLs.
package sitemap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

const (
	urlLocExpr     = "//*[local-name()='url']/*[local-name()='loc']"
	sitemapLocExpr = "//*[local-name()='sitemap']/*[local-name()='loc']"
	maxSitemapSize = 10 << 20
)

// Document is a parsed sitemap. A sitemap index lists child sitemaps
// instead of page URLs.
type Document struct {
	URLs     []string
	Children []string
}

// Parse reads a urlset or sitemapindex document.
func Parse(r io.Reader) (Document, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return Document{}, fmt.Errorf("parse sitemap: %w", err)
	}
	urls, err := locs(doc, urlLocExpr)
	if err != nil {
		return Document{}, err
	}
	children, err := locs(doc, sitemapLocExpr)
	if err != nil {
		return Document{}, err
	}
	return Document{URLs: urls, Children: children}, nil
}

func locs(doc *xmlquery.Node, expr string) ([]string, error) {
	nodes, err := xmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", expr, err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			out = append(out, loc)
		}
	}
	return out, nil
}

// Index implements seo.URLIndex over a remote sitemap. Sitemap indexes are
// followed one level deep.
type Index struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// New constructs an Index for sitemapURL.
func New(sitemapURL string, client *http.Client, logger *zap.Logger) *Index {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{url: sitemapURL, client: client, logger: logger}
}

// URLs returns every page URL in the sitemap, deduplicated, in document order.
func (i *Index) URLs(ctx context.Context) ([]string, error) {
	root, err := i.fetch(ctx, i.url)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(root.URLs))
	out := make([]string, 0, len(root.URLs))
	add := func(urls []string) {
		for _, u := range urls {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	add(root.URLs)
	for _, child := range root.Children {
		doc, err := i.fetch(ctx, child)
		if err != nil {
			i.logger.Warn("child sitemap skipped", zap.String("url", child), zap.Error(err))
			continue
		}
		add(doc.URLs)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sitemap %s lists no urls", i.url)
	}
	return out, nil
}

func (i *Index) fetch(ctx context.Context, target string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build sitemap request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return Document{}, &seo.TransportError{URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Document{}, &seo.ProviderError{Provider: "sitemap", StatusCode: resp.StatusCode, Message: target}
	}
	return Parse(io.LimitReader(resp.Body, maxSitemapSize))
}
