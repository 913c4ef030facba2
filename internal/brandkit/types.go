package brandkit

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// JobStatus describes a job's coarse lifecycle state.
type JobStatus string

// Lifecycle states. Transitions are strictly pending -> processing -> completed|failed.
const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step names one unit of pipeline work.
type Step string

// Pipeline steps in execution order.
const (
	StepFetch    Step = "fetch"
	StepRender   Step = "render"
	StepGenerate Step = "generate"
	StepFinalize Step = "finalize"
)

// CacheMode controls whether a previous result may satisfy a new job.
type CacheMode string

// Cache modes accepted on job creation.
const (
	CacheDefault CacheMode = "default"
	CacheBypass  CacheMode = "bypass"
	CacheReuse   CacheMode = "reuse"
)

// Options are the caller supplied knobs for a single job.
type Options struct {
	CacheMode          CacheMode `json:"cacheMode,omitempty" validate:"omitempty,oneof=default bypass reuse"`
	ForceRender        bool      `json:"forceRender,omitempty"`
	SkipRender         bool      `json:"skipRender,omitempty" validate:"excluded_with=ForceRender"`
	MaxAttempts        int       `json:"maxAttempts,omitempty" validate:"gte=0,lte=10"`
	RetryFetchFailures bool      `json:"retryFetchFailures,omitempty"`
}

// StepContext is the intermediate state one step hands to the next.
type StepContext struct {
	FinalURL       string   `json:"finalUrl,omitempty"`
	StatusCode     int      `json:"statusCode,omitempty"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Text           string   `json:"text,omitempty"`
	TextChars      int      `json:"textChars,omitempty"`
	Colors         []string `json:"colors,omitempty"`
	Images         []string `json:"images,omitempty"`
	Logo           string   `json:"logo,omitempty"`
	Fonts          []string `json:"fonts,omitempty"`
	SnapshotURI    string   `json:"snapshotUri,omitempty"`
	RenderedURI    string   `json:"renderedUri,omitempty"`
	ScreenshotURI  string   `json:"screenshotUri,omitempty"`
	Rendered       bool     `json:"rendered,omitempty"`
	LastErrorCode  string   `json:"lastErrorCode,omitempty"`
	LastErrorCause string   `json:"lastErrorCause,omitempty"`
}

// Job is the durable record of one brand kit request.
type Job struct {
	ID           string
	OwnerID      string
	TargetURL    string
	Status       JobStatus
	Progress     int
	Options      Options
	NextStep     Step
	Attempts     int
	NotBefore    *time.Time
	LeaseUntil   *time.Time
	Context      StepContext
	Note         string
	Result       *BrandKit
	ErrorCode    string
	ErrorMessage string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewJob carries the fields required to enqueue a job.
type NewJob struct {
	ID        string
	OwnerID   string
	TargetURL string
	Options   Options
	CreatedAt time.Time
}

// StepUpdate is persisted after a step continues or schedules a retry.
type StepUpdate struct {
	NextStep  Step
	Attempts  int
	NotBefore *time.Time
	Context   StepContext
	Progress  int
	Note      string
}

// Trigger is the message published to wake the sequencer.
type Trigger struct {
	Reason string    `json:"reason"`
	JobID  string    `json:"jobId,omitempty"`
	At     time.Time `json:"at"`
}

// FetchRequest describes a single page retrieval.
type FetchRequest struct {
	JobID       string
	URL         string
	Headers     http.Header
	BypassCache bool
}

// FetchResponse is the outcome of a static fetch or headless render.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Screenshot   []byte
	Duration     time.Duration
	UsedHeadless bool
}

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidURL is returned for target URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid target url")
)

// ValidateTargetURL checks that raw is an absolute http or https URL with a host.
func ValidateTargetURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if u.Hostname() == "" {
		return ErrInvalidURL
	}
	return nil
}
