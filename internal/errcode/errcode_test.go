package errcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEveryCodeHasMessageAndStage(t *testing.T) {
	t.Parallel()

	all := All()
	require.Len(t, all, 16)
	for _, info := range all {
		require.NotEmpty(t, info.Message, info.Code)
		require.NotEmpty(t, info.Stage, info.Code)
		if info.Retryable {
			require.Positive(t, info.Backoff, info.Code)
		}
	}
}

func TestRetryableFlags(t *testing.T) {
	t.Parallel()

	require.False(t, FetchInvalidURL.Retryable())
	require.False(t, FetchBlocked.Retryable())
	require.False(t, FetchFailed.Retryable())
	require.True(t, FetchTimeout.Retryable())
	require.True(t, FetchUpstream.Retryable())
	require.True(t, AIRateLimit.Retryable())
	require.False(t, SystemStaleJob.Retryable())
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	info, ok := Lookup(Code("NOPE"))
	require.False(t, ok)
	require.Equal(t, SystemUnknown, info.Code)
	require.Equal(t, SystemUnknown.Message(), info.Message)
}

func TestOfClassifiesWrappedErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("fetch: %w", Wrap(FetchFailed, cause))
	require.Equal(t, FetchFailed, Of(err))
	require.ErrorIs(t, err, cause)

	require.Equal(t, Code(""), Of(nil))
	require.Equal(t, SystemUnknown, Of(errors.New("plain")))
	require.Equal(t, SystemUnknown, Of(Wrap(Code("BOGUS"), nil)))
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "AI_EMPTY", Wrap(AIEmpty, nil).Error())
	require.Equal(t, "AI_TIMEOUT: slow", Newf(AITimeout, "slow").Error())
}

func TestEnsure(t *testing.T) {
	t.Parallel()

	require.NoError(t, Ensure(nil, AIFailed, AITimeout))

	classified := Wrap(AIRateLimit, nil)
	require.Same(t, classified, Ensure(classified, AIFailed, AITimeout))

	deadline := fmt.Errorf("call: %w", context.DeadlineExceeded)
	require.Equal(t, AITimeout, Of(Ensure(deadline, AIFailed, AITimeout)))
	require.Equal(t, AIFailed, Of(Ensure(deadline, AIFailed, "")))
	require.Equal(t, AIFailed, Of(Ensure(errors.New("x"), AIFailed, AITimeout)))
}
