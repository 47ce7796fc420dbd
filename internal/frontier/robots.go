package frontier

import (
	"bufio"
	"bytes"
	"net/http"
	"regexp"
	"strings"

	"github.com/temoto/robotstxt"
)

var sitemapDirective = regexp.MustCompile(`(?i)^\s*sitemap\s*:\s*(\S+)`)

// robotsSitemaps returns every Sitemap directive in a robots.txt body.
func robotsSitemaps(body []byte) []string {
	data, err := robotstxt.FromStatusAndBytes(http.StatusOK, body)
	if err == nil && len(data.Sitemaps) > 0 {
		out := make([]string, 0, len(data.Sitemaps))
		for _, s := range data.Sitemaps {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return scanSitemapDirectives(body)
}

// scanSitemapDirectives is the line-oriented fallback for bodies the
// robots parser rejects.
func scanSitemapDirectives(body []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if m := sitemapDirective.FindStringSubmatch(sc.Text()); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}
