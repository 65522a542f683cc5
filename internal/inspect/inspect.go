// Package inspect extracts on-page SEO signals from fetched HTML.
package inspect

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storia-seo-ops/internal/seo"
)

// mixedContentSelectors lists elements whose src/href loads a subresource.
var mixedContentSelectors = []struct {
	selector string
	attr     string
}{
	{"img[src]", "src"},
	{"script[src]", "src"},
	{"iframe[src]", "src"},
	{"source[src]", "src"},
	{"audio[src]", "src"},
	{"video[src]", "src"},
	{"embed[src]", "src"},
	{"link[rel~='stylesheet'][href]", "href"},
}

// Config lists the locales every page must link and the paths exempt from
// that rule.
type Config struct {
	Locales    []string
	LegalPaths []string
}

// Inspector checks one page at a time and is safe for concurrent use.
type Inspector struct {
	locales    []string
	legalPaths []string
}

// New constructs an Inspector.
func New(cfg Config) *Inspector {
	legal := make([]string, 0, len(cfg.LegalPaths))
	for _, p := range cfg.LegalPaths {
		if p = normalizePath(p); p != "/" {
			legal = append(legal, p)
		}
	}
	locales := make([]string, 0, len(cfg.Locales))
	for _, l := range cfg.Locales {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			locales = append(locales, l)
		}
	}
	return &Inspector{locales: locales, legalPaths: legal}
}

// Result holds the extracted signals for one page.
type Result struct {
	Title            string
	MetaDescription  string
	H1               string
	CanonicalURL     string
	CanonicalMatches bool
	Hreflangs        []string
	HreflangOK       bool
	Noindex          bool
	MixedContent     bool
}

// Defects lists the content defects implied by the result, in a stable order.
func (r Result) Defects() []seo.Defect {
	var out []seo.Defect
	if !r.HreflangOK {
		out = append(out, seo.DefectMissingHreflang)
	}
	if !r.CanonicalMatches {
		out = append(out, seo.DefectCanonicalMismatch)
	}
	if r.Title == "" {
		out = append(out, seo.DefectMissingTitle)
	}
	if r.MetaDescription == "" {
		out = append(out, seo.DefectMissingMetaDescription)
	}
	if r.H1 == "" {
		out = append(out, seo.DefectMissingH1)
	}
	if r.Noindex {
		out = append(out, seo.DefectNoindex)
	}
	if r.MixedContent {
		out = append(out, seo.DefectMixedContent)
	}
	return out
}

// Inspect parses body as the page served at pageURL. A missing canonical tag
// counts as a mismatch.
func (i *Inspector) Inspect(pageURL string, headers map[string][]string, body []byte) (Result, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	res := Result{
		Title:           collapse(doc.Find("title").First().Text()),
		MetaDescription: collapse(metaContent(doc, "description")),
		H1:              collapse(doc.Find("h1").First().Text()),
	}

	if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok {
		if canonical, err := page.Parse(strings.TrimSpace(href)); err == nil {
			res.CanonicalURL = canonical.String()
			res.CanonicalMatches = sameURL(canonical, page)
		}
	}

	doc.Find("link[rel='alternate'][hreflang]").Each(func(_ int, s *goquery.Selection) {
		if lang, ok := s.Attr("hreflang"); ok {
			res.Hreflangs = append(res.Hreflangs, strings.ToLower(strings.TrimSpace(lang)))
		}
	})
	res.HreflangOK = i.isLegal(page.Path) || coversLocales(res.Hreflangs, i.locales)

	res.Noindex = headerNoindex(headers) ||
		strings.Contains(strings.ToLower(metaContent(doc, "robots")), "noindex") ||
		strings.Contains(strings.ToLower(metaContent(doc, "googlebot")), "noindex")

	if page.Scheme == "https" {
		res.MixedContent = hasInsecureSubresource(doc)
	}
	return res, nil
}

// IsLegalPath reports whether path is exempt from the hreflang rule.
func (i *Inspector) IsLegalPath(path string) bool {
	return i.isLegal(path)
}

func (i *Inspector) isLegal(path string) bool {
	path = normalizePath(path)
	for _, l := range i.locales {
		prefix := "/" + l + "/"
		if strings.HasPrefix(path, prefix) {
			path = "/" + strings.TrimPrefix(path, prefix)
			break
		}
	}
	for _, legal := range i.legalPaths {
		if path == legal || strings.HasPrefix(path, strings.TrimSuffix(legal, "/")+"/") {
			return true
		}
	}
	return false
}

func coversLocales(found, required []string) bool {
	have := make(map[string]struct{}, len(found))
	for _, f := range found {
		have[f] = struct{}{}
		// "de-DE" satisfies "de".
		if base, _, ok := strings.Cut(f, "-"); ok {
			have[base] = struct{}{}
		}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

func metaContent(doc *goquery.Document, name string) string {
	var content string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if n, _ := s.Attr("name"); strings.EqualFold(strings.TrimSpace(n), name) {
			content, _ = s.Attr("content")
			return false
		}
		return true
	})
	return content
}

func headerNoindex(headers map[string][]string) bool {
	for _, v := range http.Header(headers).Values("X-Robots-Tag") {
		if strings.Contains(strings.ToLower(v), "noindex") {
			return true
		}
	}
	return false
}

func hasInsecureSubresource(doc *goquery.Document) bool {
	for _, m := range mixedContentSelectors {
		found := false
		doc.Find(m.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr(m.attr)
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "http://") {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

func sameURL(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Host, b.Host) &&
		normalizePath(a.Path) == normalizePath(b.Path) &&
		a.RawQuery == b.RawQuery
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return strings.ToLower(p)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
