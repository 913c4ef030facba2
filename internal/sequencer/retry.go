package sequencer

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
)

// RetryPolicy decides whether a failed step is attempted again and how long
// to wait first. Backoff doubles per attempt from the code's base delay,
// capped at MaxDelay, with half of it jittered.
type RetryPolicy struct {
	MaxAttempts int
	MaxDelay    time.Duration
	// Jitter returns a random duration in [0, limit). Tests may pin it.
	Jitter func(limit time.Duration) time.Duration
}

// NewRetryPolicy builds a policy with defaults for unset fields.
func NewRetryPolicy(maxAttempts int, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	return &RetryPolicy{MaxAttempts: maxAttempts, MaxDelay: maxDelay, Jitter: randomJitter}
}

// Attempts returns the attempt limit for a job, honoring its override.
func (p *RetryPolicy) Attempts(opts brandkit.Options) int {
	if opts.MaxAttempts > 0 {
		return opts.MaxAttempts
	}
	return p.MaxAttempts
}

// Retryable reports whether code may be retried for a job with opts.
func (p *RetryPolicy) Retryable(code errcode.Code, opts brandkit.Options) bool {
	if code == errcode.FetchFailed && opts.RetryFetchFailures {
		return true
	}
	return code.Retryable()
}

// ShouldRetry reports whether a step that failed on its attempt-th try runs again.
func (p *RetryPolicy) ShouldRetry(code errcode.Code, attempt int, opts brandkit.Options) bool {
	return p.Retryable(code, opts) && attempt < p.Attempts(opts)
}

// Backoff returns the wait before the next attempt after attempt failures.
func (p *RetryPolicy) Backoff(code errcode.Code, attempt int) time.Duration {
	info, _ := errcode.Lookup(code)
	base := info.Backoff
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	jitter := p.Jitter
	if jitter == nil {
		jitter = randomJitter
	}
	return half + jitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
