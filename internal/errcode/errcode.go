// Package errcode is the fixed error taxonomy used to classify step failures
// and decide whether a job is retried.
package errcode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Code is a stable, machine readable failure identifier.
type Code string

// Stage is the pipeline stage a code belongs to.
type Stage string

// Stages.
const (
	StageFetch    Stage = "fetch"
	StageRender   Stage = "render"
	StageGenerate Stage = "generate"
	StageSystem   Stage = "system"
)

// Codes.
const (
	FetchInvalidURL Code = "FETCH_INVALID_URL"
	FetchTimeout    Code = "FETCH_TIMEOUT"
	FetchBlocked    Code = "FETCH_BLOCKED"
	FetchFailed     Code = "FETCH_FAILED"
	FetchUpstream   Code = "FETCH_UPSTREAM"

	RenderTimeout Code = "RENDER_TIMEOUT"
	RenderBlocked Code = "RENDER_BLOCKED"
	RenderCrash   Code = "RENDER_CRASH"

	AITimeout         Code = "AI_TIMEOUT"
	AIEmpty           Code = "AI_EMPTY"
	AIInvalidResponse Code = "AI_INVALID_RESPONSE"
	AIRateLimit       Code = "AI_RATE_LIMIT"
	AIFailed          Code = "AI_FAILED"

	SystemStoreWrite Code = "SYSTEM_STORE_WRITE"
	SystemStaleJob   Code = "SYSTEM_STALE_JOB"
	SystemUnknown    Code = "SYSTEM_UNKNOWN"
)

// Info describes how a code is presented and retried.
type Info struct {
	Code      Code          `json:"code"`
	Stage     Stage         `json:"stage"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable"`
	Backoff   time.Duration `json:"backoff"`
}

var table = map[Code]Info{
	FetchInvalidURL: {Stage: StageFetch, Message: "The website address is not valid.", Retryable: false},
	FetchTimeout:    {Stage: StageFetch, Message: "The website took too long to respond.", Retryable: true, Backoff: 5 * time.Second},
	FetchBlocked:    {Stage: StageFetch, Message: "The website blocked our request.", Retryable: false},
	FetchFailed:     {Stage: StageFetch, Message: "We could not load the website.", Retryable: false},
	FetchUpstream:   {Stage: StageFetch, Message: "The website returned a server error.", Retryable: true, Backoff: 10 * time.Second},

	RenderTimeout: {Stage: StageRender, Message: "The website took too long to render.", Retryable: true, Backoff: 5 * time.Second},
	RenderBlocked: {Stage: StageRender, Message: "The website blocked our browser.", Retryable: false},
	RenderCrash:   {Stage: StageRender, Message: "The browser failed while rendering the website.", Retryable: true, Backoff: 10 * time.Second},

	AITimeout:         {Stage: StageGenerate, Message: "Generating the brand kit took too long.", Retryable: true, Backoff: 5 * time.Second},
	AIEmpty:           {Stage: StageGenerate, Message: "The generator returned an empty response.", Retryable: true, Backoff: 5 * time.Second},
	AIInvalidResponse: {Stage: StageGenerate, Message: "The generator returned an unusable response.", Retryable: true, Backoff: 5 * time.Second},
	AIRateLimit:       {Stage: StageGenerate, Message: "The generator is busy. Please try again shortly.", Retryable: true, Backoff: 30 * time.Second},
	AIFailed:          {Stage: StageGenerate, Message: "Generating the brand kit failed.", Retryable: false},

	SystemStoreWrite: {Stage: StageSystem, Message: "We could not save progress for this job.", Retryable: true, Backoff: 5 * time.Second},
	SystemStaleJob:   {Stage: StageSystem, Message: "The job stopped making progress.", Retryable: false},
	SystemUnknown:    {Stage: StageSystem, Message: "Something went wrong while processing the job.", Retryable: false},
}

// Lookup returns the taxonomy entry for c. Unknown codes resolve to
// SYSTEM_UNKNOWN's entry and ok=false.
func Lookup(c Code) (Info, bool) {
	info, ok := table[c]
	if !ok {
		info = table[SystemUnknown]
		info.Code = SystemUnknown
		return info, false
	}
	info.Code = c
	return info, true
}

// All lists every code sorted by name.
func All() []Info {
	out := make([]Info, 0, len(table))
	for c := range table {
		info, _ := Lookup(c)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Message returns the human readable message for c.
func (c Code) Message() string {
	info, _ := Lookup(c)
	return info.Message
}

// Retryable reports whether failures with c may be retried.
func (c Code) Retryable() bool {
	info, _ := Lookup(c)
	return info.Retryable
}

func (c Code) String() string { return string(c) }

// Error is a classified error. Err holds the underlying cause, if any.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err with code. A nil err yields an Error without a cause.
func Wrap(code Code, err error) error {
	return &Error{Code: code, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Of returns the code carried by err. Unclassified errors map to SYSTEM_UNKNOWN.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		if _, ok := table[ce.Code]; ok {
			return ce.Code
		}
	}
	return SystemUnknown
}

// Ensure returns err unchanged if it is already classified, otherwise wraps
// it with fallback. Deadline errors map to timeout when one is given.
func Ensure(err error, fallback, timeout Code) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if timeout != "" && errors.Is(err, context.DeadlineExceeded) {
		return Wrap(timeout, err)
	}
	return Wrap(fallback, err)
}
