// Package static is a deterministic, offline brand kit generator built from
// extracted page signals. It backs development setups and tests.
package static

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

// Generator implements brandkit.Generator without calling a model.
type Generator struct{}

// New returns a Generator.
func New() *Generator { return &Generator{} }

// Name identifies the backend.
func (*Generator) Name() string { return "static" }

var toneLexicon = map[string][]string{
	"playful":      {"fun", "play", "joy", "love", "happy", "delight", "!"},
	"professional": {"enterprise", "solution", "platform", "secure", "compliance", "partner"},
	"bold":         {"fast", "power", "bold", "launch", "future", "disrupt"},
	"warm":         {"community", "family", "care", "together", "home", "friendly"},
	"technical":    {"api", "developer", "sdk", "docs", "deploy", "open source"},
}

var colorRoles = []string{"primary", "secondary", "accent", "background", "text"}

// Generate derives a brand kit from the request and returns it as JSON.
func (*Generator) Generate(ctx context.Context, req brandkit.GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kit := brandkit.BrandKit{
		Name:        brandName(req),
		Description: req.Description,
		Fonts:       req.Fonts,
		Logo:        req.Logo,
		Colors:      make([]brandkit.Color, 0, len(req.Colors)),
		Images:      make([]brandkit.Image, 0, len(req.Images)),
	}
	if sentence := firstSentence(req.Description); sentence != "" {
		kit.Tagline = sentence
	}
	for i, hex := range req.Colors {
		role := "accent"
		if i < len(colorRoles) {
			role = colorRoles[i]
		}
		kit.Colors = append(kit.Colors, brandkit.Color{Hex: hex, Role: role})
	}
	for _, img := range req.Images {
		kit.Images = append(kit.Images, brandkit.Image{URL: img})
	}
	tone, adjectives := voice(req.Title + " " + req.Description + " " + req.Text)
	kit.Voice = brandkit.Voice{
		Tone:       tone,
		Adjectives: adjectives,
		Summary:    fmt.Sprintf("%s writes in a %s voice.", kit.Name, tone),
	}
	out, err := json.Marshal(kit)
	if err != nil {
		return "", fmt.Errorf("marshal kit: %w", err)
	}
	return string(out), nil
}

func brandName(req brandkit.GenerateRequest) string {
	if title := strings.TrimSpace(req.Title); title != "" {
		for _, sep := range []string{" | ", " - ", " – ", " · ", ": "} {
			if head, _, ok := strings.Cut(title, sep); ok && strings.TrimSpace(head) != "" {
				return strings.TrimSpace(head)
			}
		}
		return title
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Hostname() == "" {
		return "Unknown brand"
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if label, _, ok := strings.Cut(host, "."); ok {
		host = label
	}
	if host == "" {
		return "Unknown brand"
	}
	return strings.ToUpper(host[:1]) + host[1:]
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return s
}

// voice scores each tone by keyword hits. Ties and empty text fall back to "neutral".
func voice(text string) (string, []string) {
	text = strings.ToLower(text)
	type scored struct {
		tone  string
		score int
	}
	var scores []scored
	for tone, words := range toneLexicon {
		n := 0
		for _, w := range words {
			n += strings.Count(text, w)
		}
		if n > 0 {
			scores = append(scores, scored{tone, n})
		}
	}
	if len(scores) == 0 {
		return "neutral", []string{"clear", "informative"}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].tone < scores[j].tone
	})
	adjectives := make([]string, 0, 3)
	for i := 0; i < len(scores) && i < 3; i++ {
		adjectives = append(adjectives, scores[i].tone)
	}
	return scores[0].tone, adjectives
}
