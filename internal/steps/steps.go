// Package steps implements the per-step executors of the brand kit pipeline.
// Each executor runs exactly one step for one job under its own deadline and
// reports a brandkit.Outcome; executors hold no state between calls.
package steps

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
	"github.com/JakeFAU/brandkit-crawler/internal/extract"
	"github.com/JakeFAU/brandkit-crawler/internal/hash/sha256"
)

// DefaultStepTimeout bounds a single step inside the invocation budget.
const DefaultStepTimeout = 20 * time.Second

// Input is everything an executor needs to run one step.
type Input struct {
	JobID     string
	OwnerID   string
	TargetURL string
	Attempt   int
	Context   brandkit.StepContext
	Options   brandkit.Options
}

// Executor runs one pipeline step.
type Executor interface {
	Step() brandkit.Step
	Execute(ctx context.Context, in Input) brandkit.Outcome
}

// Fetcher performs a plain HTTP retrieval.
type Fetcher interface {
	Fetch(ctx context.Context, req brandkit.FetchRequest) (brandkit.FetchResponse, error)
}

// Renderer loads a page in a browser.
type Renderer interface {
	Render(ctx context.Context, req brandkit.FetchRequest) (brandkit.FetchResponse, error)
}

// Detector decides whether a static page needs rendering.
type Detector interface {
	NeedsRender(resp brandkit.FetchResponse, textChars int) bool
}

// Limiter spaces out requests per domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Extractor pulls brand signals out of HTML.
type Extractor interface {
	Extract(baseURL string, body []byte) (extract.Page, error)
}

// Deps are the stores and utilities shared by every executor.
type Deps struct {
	Blobs  brandkit.BlobStore
	Assets brandkit.AssetStore
	Hasher brandkit.Hasher
	Clock  brandkit.Clock
	Logger *zap.Logger
}

// Config tunes executor behavior.
type Config struct {
	StepTimeout time.Duration
	BlobPrefix  string
}

func (c Config) withDefaults() Config {
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}
	c.BlobPrefix = strings.Trim(c.BlobPrefix, "/")
	return c
}

func (d Deps) logger(name string) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named(name)
}

// blobPath lays out snapshots/<owner>/<job>/<hash>.<ext> under the prefix.
func (c Config) blobPath(kind, ownerID, jobID, digest, ext string) string {
	return path.Join(c.BlobPrefix, kind, ownerID, jobID, digest+"."+ext)
}

// storeBlob hashes data and writes it, returning the blob URI.
func (d Deps) storeBlob(ctx context.Context, cfg Config, kind string, in Input, ext, contentType string, data []byte) (string, error) {
	digest, err := d.Hasher.Hash(data)
	if err != nil {
		return "", errcode.Wrap(errcode.SystemUnknown, fmt.Errorf("hash %s: %w", kind, err))
	}
	uri, err := d.Blobs.PutObject(ctx, cfg.blobPath(kind, in.OwnerID, in.JobID, digest, ext), contentType, data)
	if err != nil {
		return "", errcode.Wrap(errcode.SystemStoreWrite, fmt.Errorf("store %s: %w", kind, err))
	}
	return uri, nil
}

// persistAssets writes assets for the job under its current owner. IDs are
// derived from job, kind and value so a retried step inserts nothing new.
func (d Deps) persistAssets(ctx context.Context, in Input, source brandkit.Step, values map[brandkit.AssetKind][]string) (int, error) {
	now := d.Clock.Now()
	var assets []brandkit.Asset
	for kind, vals := range values {
		for _, v := range vals {
			if v == "" {
				continue
			}
			assets = append(assets, brandkit.Asset{
				ID:        AssetID(in.JobID, kind, v),
				OwnerID:   in.OwnerID,
				JobID:     in.JobID,
				Kind:      kind,
				Value:     v,
				Source:    string(source),
				CreatedAt: now,
			})
		}
	}
	if len(assets) == 0 {
		return 0, nil
	}
	n, err := d.Assets.AddAssets(ctx, assets)
	if err != nil {
		return 0, errcode.Wrap(errcode.SystemStoreWrite, fmt.Errorf("persist assets: %w", err))
	}
	return n, nil
}

// AssetID is the deterministic identifier of an asset.
func AssetID(jobID string, kind brandkit.AssetKind, value string) string {
	return sha256.Key(jobID, string(kind), value)[:32]
}

// fail records the classified error on the context and builds a failure outcome.
func fail(err error, sc brandkit.StepContext) brandkit.Outcome {
	sc.LastErrorCode = string(errcode.Of(err))
	sc.LastErrorCause = err.Error()
	return brandkit.Failure(err, sc)
}

func imageURLs(images []extract.Image) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, img.URL)
	}
	return out
}

// union appends items from extra missing from base, preserving order.
func union(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		base = append(base, v)
	}
	return base
}
