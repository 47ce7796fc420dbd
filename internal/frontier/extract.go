package frontier

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:"}

// pageBase returns the URL that relative references on a fetched page
// resolve against: the address the page was served from, trailing slash
// included, or requested when the fetcher reported none.
func pageBase(resp crawler.FetchResponse, requested string) string {
	if u := strings.TrimSpace(resp.URL); u != "" {
		return u
	}
	return requested
}

// ExtractLinks parses document for anchor href and resource src
// references, resolves them against base and returns the unique normalized
// results in document order. It knows nothing about domain scope.
func ExtractLinks(base string, document []byte) ([]NormalizedURL, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	seen := make(map[NormalizedURL]struct{})
	var out []NormalizedURL
	add := func(ref string) {
		resolved, ok := resolveReference(baseURL, ref)
		if !ok {
			return
		}
		n, ok := NormalizeString(resolved)
		if !ok {
			return
		}
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	doc.Find("a[href], area[href], [src]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			add(href)
		}
		if src, ok := sel.Attr("src"); ok {
			add(src)
		}
	})
	return out, nil
}

// resolveReference turns ref into an absolute http(s) URL. Empty refs and
// script, mail and phone links are rejected before resolution.
func resolveReference(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	for _, scheme := range skippedSchemes {
		if hasPrefixFold(ref, scheme) {
			return "", false
		}
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}
