// Package blocklist refuses targets on configured domains before any network
// traffic is sent.
package blocklist

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
)

// Blocklist stores exact hosts and suffix wildcards derived from configuration.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// New parses patterns. "example.org" matches that host only; "*.ru" and
// ".ru" match the domain and every subdomain. It returns nil when no
// pattern is usable, and a nil Blocklist blocks nothing.
func New(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		suffix, wildcard := strings.CutPrefix(value, "*.")
		if !wildcard {
			suffix, wildcard = strings.CutPrefix(value, ".")
		}
		switch {
		case wildcard && suffix != "":
			if !slices.Contains(b.suffixes, suffix) {
				b.suffixes = append(b.suffixes, suffix)
			}
		case !wildcard:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

// IsBlocked reports whether host matches a pattern.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Fetcher is the fetch dependency being guarded.
type Fetcher interface {
	Fetch(ctx context.Context, req brandkit.FetchRequest) (brandkit.FetchResponse, error)
}

// Guard wraps next so blocked targets fail with FETCH_BLOCKED.
func (b *Blocklist) Guard(next Fetcher) Fetcher {
	if b == nil {
		return next
	}
	return &guarded{list: b, next: next}
}

type guarded struct {
	list *Blocklist
	next Fetcher
}

func (g *guarded) Fetch(ctx context.Context, req brandkit.FetchRequest) (brandkit.FetchResponse, error) {
	u, err := url.Parse(req.URL)
	if err == nil && g.list.IsBlocked(u.Hostname()) {
		return brandkit.FetchResponse{}, errcode.Newf(errcode.FetchBlocked, "domain %s is blocklisted", u.Hostname())
	}
	return g.next.Fetch(ctx, req)
}
