// Package detector decides whether a statically fetched page needs a browser render.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

// Heuristic flags pages whose static HTML carries too little visible text or
// looks like a client-side application shell.
type Heuristic struct {
	MinTextChars int
}

// NewHeuristic creates a detector. A zero threshold defaults to 200 characters.
func NewHeuristic(minTextChars int) *Heuristic {
	if minTextChars <= 0 {
		minTextChars = 200
	}
	return &Heuristic{MinTextChars: minTextChars}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte(`id="___gatsby"`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
	[]byte("data-server-rendered"),
	[]byte("window.__NUXT__"),
}

// NeedsRender reports whether the page should be rendered before generation.
// textChars is the visible text length extracted from the static body.
func (h *Heuristic) NeedsRender(resp brandkit.FetchResponse, textChars int) bool {
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if textChars < h.MinTextChars {
		return true
	}
	if hasSPAMarker(body) && textChars < 4*h.MinTextChars {
		return true
	}
	return scriptDensityHigh(body)
}

func hasSPAMarker(body []byte) bool {
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether inline scripts cover at least half the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if closeRel := strings.Index(lower[start:], closeTag); closeRel != -1 {
			end = start + closeRel + len(closeTag)
		}
		coverage += end - start
		pos = end
	}
	return coverage*100/total >= 50
}
