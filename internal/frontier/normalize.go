package frontier

import (
	"net/url"
	"strings"
)

// NormalizedURL is a canonical URL key. Two URLs with the same
// NormalizedURL are the same graph node.
type NormalizedURL string

func (u NormalizedURL) String() string {
	return string(u)
}

// Host returns the lower-cased host of u without port.
func (u NormalizedURL) Host() string {
	_, rest, ok := strings.Cut(string(u), "://")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	if strings.HasPrefix(rest, "[") {
		if end := strings.IndexByte(rest, ']'); end > 0 {
			return rest[1:end]
		}
		return rest
	}
	if i := strings.LastIndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// Origin returns scheme://host[:port] of u.
func (u NormalizedURL) Origin() string {
	scheme, rest, ok := strings.Cut(string(u), "://")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	return scheme + "://" + rest
}

// Path returns the escaped path of u. It is never empty.
func (u NormalizedURL) Path() string {
	_, rest, ok := strings.Cut(string(u), "://")
	if !ok {
		return "/"
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return "/"
	}
	return rest[i:]
}

type rawKind uint8

const (
	rawNone rawKind = iota
	rawString
	rawLink
)

// LinkRecord is a structured link as produced by upstream extractors.
type LinkRecord struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// RawURL is the input accepted by Normalize: either a plain string or a
// LinkRecord. The zero value normalizes to none.
type RawURL struct {
	kind  rawKind
	value string
}

// FromString wraps a plain URL string.
func FromString(s string) RawURL {
	return RawURL{kind: rawString, value: s}
}

// FromLink wraps a LinkRecord.
func FromLink(l LinkRecord) RawURL {
	return RawURL{kind: rawLink, value: l.URL}
}

// String returns the underlying URL text.
func (r RawURL) String() string {
	return r.value
}

// Normalize canonicalizes raw. The boolean is false when raw has no
// resolvable host.
func Normalize(raw RawURL) (NormalizedURL, bool) {
	if raw.kind == rawNone {
		return "", false
	}
	return NormalizeString(raw.value)
}

// NormalizeString canonicalizes a URL string:
//   - https:// is prepended when no http(s) scheme is present
//   - scheme and host are lower-cased
//   - the fragment is dropped and the raw query kept verbatim
//   - trailing slashes are removed from non-root paths
func NormalizeString(s string) (NormalizedURL, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if !hasHTTPScheme(s) {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "", false
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.Grow(len(u.Scheme) + len(u.Host) + len(path) + len(u.RawQuery) + 4)
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return NormalizedURL(b.String()), true
}

func hasHTTPScheme(s string) bool {
	return hasPrefixFold(s, "http://") || hasPrefixFold(s, "https://")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
