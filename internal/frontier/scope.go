package frontier

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// hostScope matches the seed host and any of its subdomains.
type hostScope struct {
	base string
}

func newHostScope(base string) hostScope {
	return hostScope{base: strings.TrimSpace(strings.ToLower(base))}
}

func (h hostScope) contains(host string) bool {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" || h.base == "" {
		return false
	}
	return host == h.base || strings.HasSuffix(host, "."+h.base)
}

// exclusions holds compiled path patterns. A URL is excluded when any
// pattern matches its path.
type exclusions struct {
	patterns []*regexp.Regexp
}

// compileExclusions compiles each pattern independently; invalid ones are
// logged and dropped.
func compileExclusions(raw []string, logger *zap.Logger) exclusions {
	var ex exclusions
	for _, p := range raw {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("dropping invalid exclude pattern", zap.String("pattern", p), zap.Error(err))
			continue
		}
		ex.patterns = append(ex.patterns, re)
	}
	return ex
}

func (e exclusions) matches(u NormalizedURL) bool {
	if len(e.patterns) == 0 {
		return false
	}
	path := u.Path()
	for _, re := range e.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (e exclusions) len() int {
	return len(e.patterns)
}
