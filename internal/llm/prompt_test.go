package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

func TestUserPromptSkipsEmptyFields(t *testing.T) {
	t.Parallel()

	out := UserPrompt(brandkit.GenerateRequest{
		URL:    "https://example.com",
		Title:  "Acme",
		Colors: []string{"#ff5500", "#333333"},
		Images: []string{"https://example.com/a.png"},
		Text:   "# Launch faster",
	})
	require.Contains(t, out, "URL: https://example.com\n")
	require.Contains(t, out, "Candidate colors: #ff5500, #333333\n")
	require.Contains(t, out, "- https://example.com/a.png\n")
	require.Contains(t, out, "Page content:\n# Launch faster")
	require.NotContains(t, out, "Description:")
	require.NotContains(t, out, "Logo:")
}
