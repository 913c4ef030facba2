// Package llm holds the prompt shared by the brand kit generator backends.
package llm

import (
	"strings"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

// SystemPrompt instructs the model to answer with a single brand kit JSON object.
const SystemPrompt = `You are a brand analyst. From the website content provided, describe the brand.
Respond with one JSON object and nothing else, using exactly these fields:
{
  "name": string,
  "tagline": string,
  "description": string,
  "colors": [{"hex": "#rrggbb", "role": "primary|secondary|accent|background|text"}],
  "fonts": [string],
  "logo": string,
  "images": [{"url": string, "kind": string, "alt": string}],
  "voice": {"tone": string, "adjectives": [string], "summary": string}
}
Only use colors, fonts and image URLs that appear in the input. "name" and "voice.tone" are required.`

// UserPrompt renders the extracted page signals for the model.
func UserPrompt(req brandkit.GenerateRequest) string {
	var sb strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteByte('\n')
	}
	line("URL", req.URL)
	line("Title", req.Title)
	line("Description", req.Description)
	line("Candidate colors", strings.Join(req.Colors, ", "))
	line("Fonts", strings.Join(req.Fonts, ", "))
	line("Logo", req.Logo)
	if len(req.Images) > 0 {
		sb.WriteString("Images:\n")
		for _, img := range req.Images {
			sb.WriteString("- ")
			sb.WriteString(img)
			sb.WriteByte('\n')
		}
	}
	if req.Text != "" {
		sb.WriteString("\nPage content:\n")
		sb.WriteString(req.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
