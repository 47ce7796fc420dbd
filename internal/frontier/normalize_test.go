package frontier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "adds https", in: "example.com/path/", want: "https://example.com/path", ok: true},
		{name: "keeps http", in: "http://example.com/a", want: "http://example.com/a", ok: true},
		{name: "lowercases scheme and host", in: "HTTPS://Example.COM/Path", want: "https://example.com/Path", ok: true},
		{name: "root keeps slash", in: "https://example.com/", want: "https://example.com/", ok: true},
		{name: "empty path becomes root", in: "https://example.com", want: "https://example.com/", ok: true},
		{name: "drops fragment", in: "https://example.com/a#top", want: "https://example.com/a", ok: true},
		{name: "keeps query verbatim", in: "https://example.com/a/?b=2&a=1", want: "https://example.com/a?b=2&a=1", ok: true},
		{name: "keeps port", in: "example.com:8080/x", want: "https://example.com:8080/x", ok: true},
		{name: "collapses repeated trailing slashes", in: "https://example.com/a//", want: "https://example.com/a", ok: true},
		{name: "trims whitespace", in: "  https://example.com/a  ", want: "https://example.com/a", ok: true},
		{name: "empty", in: "", ok: false},
		{name: "whitespace only", in: "   ", ok: false},
		{name: "no host", in: "https:///path", ok: false},
		{name: "bad port", in: "example.com:abc/x", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NormalizeString(tc.in)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.want, got.String())
			} else {
				require.Empty(t, got)
			}
		})
	}
}

// TestNormalizeIdempotent verifies normalizing twice changes nothing.
func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"example.com",
		"example.com/a/",
		"HTTP://Sub.Example.com:8443/x/y/?q=1#frag",
		"https://example.com/a%20b/",
		"https://example.com/a//",
		"https://example.com?x=1",
		"https://[::1]:8080/p/",
	}
	for _, in := range inputs {
		once, ok := NormalizeString(in)
		require.True(t, ok, in)
		twice, ok := NormalizeString(once.String())
		require.True(t, ok, in)
		assert.Equal(t, once, twice, in)
	}
}

// TestNormalizeEquivalence verifies scheme-less and slash-suffixed forms
// collapse to the same key.
func TestNormalizeEquivalence(t *testing.T) {
	t.Parallel()

	a, ok := NormalizeString("example.com/a/")
	require.True(t, ok)
	b, ok := NormalizeString("https://example.com/a")
	require.True(t, ok)
	require.Equal(t, a, b)
}

func TestNormalizeRawURL(t *testing.T) {
	t.Parallel()

	fromLink, ok := Normalize(FromLink(LinkRecord{URL: "example.com/docs/", Text: "Docs"}))
	require.True(t, ok)
	require.Equal(t, NormalizedURL("https://example.com/docs"), fromLink)

	fromString, ok := Normalize(FromString("example.com/docs"))
	require.True(t, ok)
	require.Equal(t, fromLink, fromString)

	_, ok = Normalize(RawURL{})
	require.False(t, ok)

	_, ok = Normalize(FromLink(LinkRecord{}))
	require.False(t, ok)
}

func TestNormalizedURLParts(t *testing.T) {
	t.Parallel()

	u, ok := NormalizeString("https://Blog.Example.com:8443/posts/1?x=y")
	require.True(t, ok)
	assert.Equal(t, "blog.example.com", u.Host())
	assert.Equal(t, "https://blog.example.com:8443", u.Origin())
	assert.Equal(t, "/posts/1", u.Path())

	root, ok := NormalizeString("example.com?x=1")
	require.True(t, ok)
	assert.Equal(t, "/", root.Path())
	assert.Equal(t, "example.com", root.Host())

	v6, ok := NormalizeString("http://[::1]:9000/a")
	require.True(t, ok)
	assert.Equal(t, "::1", v6.Host())
}
