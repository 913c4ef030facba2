package steps

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
)

// Fetch retrieves the target page over plain HTTP, snapshots it, extracts
// brand signals and decides whether a browser render is needed.
type Fetch struct {
	fetcher   Fetcher
	limiter   Limiter
	extractor Extractor
	detector  Detector
	canRender bool
	deps      Deps
	cfg       Config
	logger    *zap.Logger
}

// NewFetch builds the fetch executor. canRender reports whether a render
// executor is configured; without one the job always moves to generate.
func NewFetch(fetcher Fetcher, limiter Limiter, extractor Extractor, detector Detector, canRender bool, deps Deps, cfg Config) *Fetch {
	return &Fetch{
		fetcher:   fetcher,
		limiter:   limiter,
		extractor: extractor,
		detector:  detector,
		canRender: canRender,
		deps:      deps,
		cfg:       cfg.withDefaults(),
		logger:    deps.logger("fetch"),
	}
}

// Step implements Executor.
func (f *Fetch) Step() brandkit.Step { return brandkit.StepFetch }

// Execute implements Executor.
func (f *Fetch) Execute(ctx context.Context, in Input) brandkit.Outcome {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StepTimeout)
	defer cancel()

	sc := in.Context
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, in.TargetURL); err != nil {
			return fail(errcode.Wrap(errcode.FetchTimeout, err), sc)
		}
	}

	resp, err := f.fetcher.Fetch(ctx, brandkit.FetchRequest{
		JobID:       in.JobID,
		URL:         in.TargetURL,
		BypassCache: in.Options.CacheMode == brandkit.CacheBypass,
	})
	if err != nil {
		return fail(errcode.Ensure(err, errcode.FetchFailed, errcode.FetchTimeout), sc)
	}

	snapshot, err := f.deps.storeBlob(ctx, f.cfg, "snapshots", in, "html", "text/html; charset=utf-8", resp.Body)
	if err != nil {
		return fail(err, sc)
	}

	page, err := f.extractor.Extract(resp.URL, resp.Body)
	if err != nil {
		return fail(errcode.Wrap(errcode.FetchFailed, fmt.Errorf("extract page: %w", err)), sc)
	}

	sc.FinalURL = resp.URL
	sc.StatusCode = resp.StatusCode
	sc.Title = page.Title
	sc.Description = page.Description
	sc.Text = page.Text
	sc.TextChars = page.TextChars
	sc.Colors = page.Colors
	sc.Images = imageURLs(page.Images)
	sc.Logo = page.Logo
	sc.Fonts = page.Fonts
	sc.SnapshotURI = snapshot
	sc.LastErrorCode = ""
	sc.LastErrorCause = ""

	added, err := f.deps.persistAssets(ctx, in, brandkit.StepFetch, map[brandkit.AssetKind][]string{
		brandkit.AssetColor:    page.Colors,
		brandkit.AssetImage:    sc.Images,
		brandkit.AssetLogo:     {page.Logo},
		brandkit.AssetSnapshot: {snapshot},
	})
	if err != nil {
		return fail(err, sc)
	}

	next := f.nextStep(in.Options, resp, page.TextChars)
	f.logger.Debug("page fetched",
		zap.String("job_id", in.JobID),
		zap.Int("status", resp.StatusCode),
		zap.Int("text_chars", page.TextChars),
		zap.Int("assets_added", added),
		zap.Duration("duration", resp.Duration.Round(time.Millisecond)),
		zap.String("next", string(next)),
	)
	return brandkit.Continue(next, sc)
}

func (f *Fetch) nextStep(opts brandkit.Options, resp brandkit.FetchResponse, textChars int) brandkit.Step {
	if !f.canRender || opts.SkipRender {
		return brandkit.StepGenerate
	}
	if opts.ForceRender {
		return brandkit.StepRender
	}
	if f.detector != nil && f.detector.NeedsRender(resp, textChars) {
		return brandkit.StepRender
	}
	return brandkit.StepGenerate
}
