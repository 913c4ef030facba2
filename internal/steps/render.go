package steps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
)

// Render loads the page in a headless browser, captures a full-page
// screenshot and folds the rendered DOM into the step context.
type Render struct {
	renderer  Renderer
	extractor Extractor
	deps      Deps
	cfg       Config
	logger    *zap.Logger
}

// NewRender builds the render executor.
func NewRender(renderer Renderer, extractor Extractor, deps Deps, cfg Config) *Render {
	return &Render{
		renderer:  renderer,
		extractor: extractor,
		deps:      deps,
		cfg:       cfg.withDefaults(),
		logger:    deps.logger("render"),
	}
}

// Step implements Executor.
func (r *Render) Step() brandkit.Step { return brandkit.StepRender }

// Execute implements Executor.
func (r *Render) Execute(ctx context.Context, in Input) brandkit.Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()

	sc := in.Context
	target := sc.FinalURL
	if target == "" {
		target = in.TargetURL
	}

	resp, err := r.renderer.Render(ctx, brandkit.FetchRequest{JobID: in.JobID, URL: target})
	if err != nil {
		return fail(errcode.Ensure(err, errcode.RenderCrash, errcode.RenderTimeout), sc)
	}

	rendered, err := r.deps.storeBlob(ctx, r.cfg, "rendered", in, "html", "text/html; charset=utf-8", resp.Body)
	if err != nil {
		return fail(err, sc)
	}
	var screenshot string
	if len(resp.Screenshot) > 0 {
		screenshot, err = r.deps.storeBlob(ctx, r.cfg, "screenshots", in, "jpg", "image/jpeg", resp.Screenshot)
		if err != nil {
			return fail(err, sc)
		}
	}

	page, err := r.extractor.Extract(resp.URL, resp.Body)
	if err != nil {
		return fail(errcode.Wrap(errcode.RenderCrash, fmt.Errorf("extract rendered page: %w", err)), sc)
	}

	if resp.URL != "" {
		sc.FinalURL = resp.URL
	}
	if page.TextChars > sc.TextChars {
		sc.Text = page.Text
		sc.TextChars = page.TextChars
	}
	if sc.Title == "" {
		sc.Title = page.Title
	}
	if sc.Description == "" {
		sc.Description = page.Description
	}
	if sc.Logo == "" {
		sc.Logo = page.Logo
	}
	sc.Colors = union(sc.Colors, page.Colors)
	sc.Images = union(sc.Images, imageURLs(page.Images))
	sc.Fonts = union(sc.Fonts, page.Fonts)
	sc.RenderedURI = rendered
	sc.ScreenshotURI = screenshot
	sc.Rendered = true
	sc.LastErrorCode = ""
	sc.LastErrorCause = ""

	added, err := r.deps.persistAssets(ctx, in, brandkit.StepRender, map[brandkit.AssetKind][]string{
		brandkit.AssetColor:      page.Colors,
		brandkit.AssetImage:      imageURLs(page.Images),
		brandkit.AssetLogo:       {page.Logo},
		brandkit.AssetScreenshot: {screenshot},
	})
	if err != nil {
		return fail(err, sc)
	}

	r.logger.Debug("page rendered",
		zap.String("job_id", in.JobID),
		zap.Int("text_chars", sc.TextChars),
		zap.Int("assets_added", added),
		zap.Duration("duration", resp.Duration),
	)
	return brandkit.Continue(brandkit.StepGenerate, sc)
}
