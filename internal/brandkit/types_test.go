package brandkit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTargetURL(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"https://example.com":        true,
		"http://example.com/a?b=c":   true,
		"  https://example.com/  ":   true,
		"":                           false,
		"example.com":                false,
		"ftp://example.com":          false,
		"https://":                   false,
		"javascript:alert(1)":        false,
		"http://[::1":                false,
		"mailto:someone@example.com": false,
	}
	for raw, ok := range cases {
		err := ValidateTargetURL(raw)
		if ok {
			require.NoError(t, err, raw)
			continue
		}
		require.True(t, errors.Is(err, ErrInvalidURL), raw)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusPending.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestOutcomeConstructors(t *testing.T) {
	t.Parallel()

	sc := StepContext{Title: "Acme"}
	c := Continue(StepRender, sc)
	require.Equal(t, OutcomeContinue, c.Kind)
	require.Equal(t, StepRender, c.Next)
	require.Equal(t, "continue", c.Kind.String())

	s := Success(BrandKit{Name: "Acme"}, sc)
	require.Equal(t, OutcomeSuccess, s.Kind)
	require.Equal(t, "Acme", s.Result.Name)

	f := Failure(errors.New("boom"), sc)
	require.Equal(t, OutcomeFailure, f.Kind)
	require.EqualError(t, f.Err, "boom")
}
