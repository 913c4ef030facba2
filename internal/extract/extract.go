// Package extract pulls brand signals (text, colors, images, logo, fonts)
// out of an HTML document.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Page is what the extractor found in one document.
type Page struct {
	Title       string
	Description string
	Text        string
	TextChars   int
	Colors      []string
	Images      []Image
	Logo        string
	Fonts       []string
}

// Image is an absolute image URL with its role on the page.
type Image struct {
	URL  string
	Kind string
	Alt  string
}

// Image kinds.
const (
	KindOpenGraph = "og"
	KindIcon      = "icon"
	KindContent   = "content"
)

// Config bounds the extractor's output.
type Config struct {
	MaxTextChars int
	MaxColors    int
	MaxImages    int
}

// Extractor converts HTML into a Page.
type Extractor struct {
	cfg Config
}

// New creates an Extractor with defaults for unset limits.
func New(cfg Config) *Extractor {
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = 8000
	}
	if cfg.MaxColors <= 0 {
		cfg.MaxColors = 8
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 12
	}
	return &Extractor{cfg: cfg}
}

var (
	hexColorRe   = regexp.MustCompile(`#([0-9a-fA-F]{6}|[0-9a-fA-F]{3})\b`)
	rgbColorRe   = regexp.MustCompile(`rgba?\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})`)
	fontFamilyRe = regexp.MustCompile(`font-family\s*:\s*([^;}]+)`)
	spaceRe      = regexp.MustCompile(`\s+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

var genericFonts = map[string]bool{
	"serif": true, "sans-serif": true, "monospace": true, "cursive": true, "fantasy": true,
	"system-ui": true, "inherit": true, "initial": true, "-apple-system": true, "blinkmacsystemfont": true,
	"ui-sans-serif": true, "ui-serif": true, "ui-monospace": true,
}

// Extract parses body, resolving relative URLs against baseURL.
func (e *Extractor) Extract(baseURL string, body []byte) (Page, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Page{}, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	page := Page{
		Title:       clean(doc.Find("title").First().Text()),
		Description: firstAttr(doc, "content", `meta[name="description"]`, `meta[property="og:description"]`),
	}
	if page.Title == "" {
		page.Title = firstAttr(doc, "content", `meta[property="og:title"]`, `meta[property="og:site_name"]`)
	}

	css := collectCSS(doc)
	page.Colors = e.colors(doc, css)
	page.Fonts = fonts(css)
	page.Images, page.Logo = e.images(doc, base)

	doc.Find("script, style, noscript, template, svg").Remove()
	visible := clean(doc.Find("body").Text())
	page.TextChars = utf8.RuneCountInString(visible)

	html, err := doc.Find("body").Html()
	if err != nil {
		return Page{}, fmt.Errorf("render body: %w", err)
	}
	markdown, err := md.NewConverter(base.Host, true, nil).ConvertString(html)
	if err != nil {
		markdown = visible
	}
	page.Text = truncate(strings.TrimSpace(blankLinesRe.ReplaceAllString(markdown, "\n\n")), e.cfg.MaxTextChars)
	return page, nil
}

func collectCSS(doc *goquery.Document) string {
	var sb strings.Builder
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(s.Text())
		sb.WriteByte('\n')
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		sb.WriteString(style)
		sb.WriteByte('\n')
	})
	return sb.String()
}

// colors ranks palette candidates. theme-color wins, then CSS usage frequency.
func (e *Extractor) colors(doc *goquery.Document, css string) []string {
	counts := map[string]int{}
	if theme, ok := doc.Find(`meta[name="theme-color"]`).First().Attr("content"); ok {
		if c := normalizeColor(theme); c != "" {
			counts[c] += 1000
		}
	}
	for _, m := range hexColorRe.FindAllString(css, -1) {
		if c := normalizeColor(m); c != "" {
			counts[c]++
		}
	}
	for _, m := range rgbColorRe.FindAllStringSubmatch(css, -1) {
		if c := rgbToHex(m[1], m[2], m[3]); c != "" {
			counts[c]++
		}
	}
	return topN(counts, e.cfg.MaxColors)
}

func fonts(css string) []string {
	counts := map[string]int{}
	for _, m := range fontFamilyRe.FindAllStringSubmatch(css, -1) {
		for _, family := range strings.Split(m[1], ",") {
			name := strings.Trim(strings.TrimSpace(family), `'"`)
			if name == "" || genericFonts[strings.ToLower(name)] || strings.HasPrefix(name, "var(") {
				continue
			}
			counts[name]++
		}
	}
	return topN(counts, 5)
}

func (e *Extractor) images(doc *goquery.Document, base *url.URL) ([]Image, string) {
	var (
		out  []Image
		seen = map[string]bool{}
		logo string
	)
	add := func(raw, kind, alt string) {
		abs := resolve(base, raw)
		if abs == "" || seen[abs] || len(out) >= e.cfg.MaxImages {
			return
		}
		seen[abs] = true
		out = append(out, Image{URL: abs, Kind: kind, Alt: alt})
	}

	doc.Find(`meta[property="og:image"], meta[name="twitter:image"]`).Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		add(content, KindOpenGraph, "")
	})
	doc.Find(`link[rel~="icon"], link[rel="apple-touch-icon"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href, KindIcon, "")
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || strings.HasPrefix(src, "data:") {
			return
		}
		alt, _ := s.Attr("alt")
		if logo == "" && looksLikeLogo(s, src, alt) {
			logo = resolve(base, src)
		}
		add(src, KindContent, clean(alt))
	})
	return out, logo
}

func looksLikeLogo(s *goquery.Selection, src, alt string) bool {
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	hay := strings.ToLower(strings.Join([]string{src, alt, class, id}, " "))
	if strings.Contains(hay, "logo") {
		return true
	}
	parentClass, _ := s.Parent().Attr("class")
	return strings.Contains(strings.ToLower(parentClass), "logo")
}

func firstAttr(doc *goquery.Document, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr(attr); ok {
			if v = clean(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func resolve(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func normalizeColor(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(raw, "#") {
		return ""
	}
	hex := raw[1:]
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	case 6:
	default:
		return ""
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return ""
	}
	return "#" + hex
}

func rgbToHex(r, g, b string) string {
	var out [3]uint64
	for i, part := range []string{r, g, b} {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return ""
		}
		out[i] = v
	}
	return fmt.Sprintf("#%02x%02x%02x", out[0], out[1], out[2])
}

func topN(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
