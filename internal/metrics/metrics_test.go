package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserversRegisterLazily(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(stepErrorsTotal.WithLabelValues("fetch", "FETCH_FAILED"))
	ObserveStepError("fetch", "FETCH_FAILED")
	if got := testutil.ToFloat64(stepErrorsTotal.WithLabelValues("fetch", "FETCH_FAILED")); got != before+1 {
		t.Fatalf("expected step error counter to increase by 1, got %f -> %f", before, got)
	}

	beforeClaims := testutil.ToFloat64(claimsTotal.WithLabelValues("pending"))
	ObserveClaims("pending", 3)
	ObserveClaims("pending", 0)
	if got := testutil.ToFloat64(claimsTotal.WithLabelValues("pending")); got != beforeClaims+3 {
		t.Fatalf("expected claims to increase by 3, got %f -> %f", beforeClaims, got)
	}

	ObserveStep("render", "continue", 2*time.Second)
	ObserveReconciled("assets", 2)
	ObserveNotification("ok")
	ObserveRetry("generate")
	ObserveJob("completed")
	ObserveRateLimitDelay("example.com", time.Millisecond)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
