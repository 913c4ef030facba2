// Package collyfetcher performs the static fetch step using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher performs single page GETs with a shared Colly backend.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	// Clones share the visited set; retries of the same URL must not be refused.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.MaxBodySize = cfg.MaxBodyBytes
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Errors are classified with fetch-stage codes.
func (f *Fetcher) Fetch(ctx context.Context, request brandkit.FetchRequest) (brandkit.FetchResponse, error) {
	if err := brandkit.ValidateTargetURL(request.URL); err != nil {
		return brandkit.FetchResponse{}, errcode.Wrap(errcode.FetchInvalidURL, err)
	}
	var (
		result   brandkit.FetchResponse
		status   int
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, time.Now(), &result, &status, &fetchErr)

	if err := runCollector(ctx, collector, request.URL); err != nil {
		return brandkit.FetchResponse{}, classify(status, err)
	}
	if fetchErr != nil {
		return brandkit.FetchResponse{}, classify(status, fetchErr)
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request brandkit.FetchRequest,
	start time.Time,
	result *brandkit.FetchResponse,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = brandkit.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func copyHeaders(request brandkit.FetchRequest, r *colly.Request) {
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if request.BypassCache {
		r.Headers.Set("Cache-Control", "no-cache")
		r.Headers.Set("Pragma", "no-cache")
	}
}

// classify maps a response status and transport error onto the taxonomy.
func classify(status int, err error) error {
	var (
		urlErr *url.Error
		netErr net.Error
		dnsErr *net.DNSError
	)
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return errcode.Wrap(errcode.FetchBlocked, err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return errcode.Newf(errcode.FetchBlocked, "status %d", status)
	case status >= 500:
		return errcode.Newf(errcode.FetchUpstream, "status %d", status)
	case status >= 400:
		return errcode.Newf(errcode.FetchFailed, "status %d", status)
	case errors.Is(err, context.DeadlineExceeded):
		return errcode.Wrap(errcode.FetchTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return errcode.Wrap(errcode.FetchTimeout, err)
	case errors.As(err, &dnsErr):
		return errcode.Wrap(errcode.FetchFailed, err)
	case errors.As(err, &urlErr) && urlErr.Op == "parse",
		errors.Is(err, colly.ErrMissingURL),
		errors.Is(err, colly.ErrForbiddenDomain):
		return errcode.Wrap(errcode.FetchInvalidURL, err)
	case status > 0:
		return errcode.Newf(errcode.FetchFailed, "status %d", status)
	default:
		return errcode.Wrap(errcode.FetchFailed, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
