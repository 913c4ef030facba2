package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
)

// Generate sends the accumulated page signals to a generation backend and
// validates the structured brand kit it returns.
type Generate struct {
	generator brandkit.Generator
	validate  *validator.Validate
	deps      Deps
	cfg       Config
	logger    *zap.Logger
}

// NewGenerate builds the generate executor.
func NewGenerate(generator brandkit.Generator, deps Deps, cfg Config) *Generate {
	return &Generate{
		generator: generator,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		deps:      deps,
		cfg:       cfg.withDefaults(),
		logger:    deps.logger("generate"),
	}
}

// Step implements Executor.
func (g *Generate) Step() brandkit.Step { return brandkit.StepGenerate }

// Execute implements Executor.
func (g *Generate) Execute(ctx context.Context, in Input) brandkit.Outcome {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StepTimeout)
	defer cancel()

	sc := in.Context
	source := sc.FinalURL
	if source == "" {
		source = in.TargetURL
	}

	raw, err := g.generator.Generate(ctx, brandkit.GenerateRequest{
		URL:         source,
		Title:       sc.Title,
		Description: sc.Description,
		Text:        sc.Text,
		Colors:      sc.Colors,
		Images:      sc.Images,
		Logo:        sc.Logo,
		Fonts:       sc.Fonts,
	})
	if err != nil {
		return fail(errcode.Ensure(err, errcode.AIFailed, errcode.AITimeout), sc)
	}

	kit, err := g.parse(raw)
	if err != nil {
		return fail(err, sc)
	}
	kit.SourceURL = source
	kit.GeneratedBy = g.generator.Name()
	if kit.Logo == "" {
		kit.Logo = sc.Logo
	}
	sc.LastErrorCode = ""
	sc.LastErrorCause = ""

	g.logger.Debug("brand kit generated",
		zap.String("job_id", in.JobID),
		zap.String("generator", kit.GeneratedBy),
		zap.Int("colors", len(kit.Colors)),
	)
	return brandkit.Success(kit, sc)
}

func (g *Generate) parse(raw string) (brandkit.BrandKit, error) {
	body := stripFences(raw)
	if body == "" {
		return brandkit.BrandKit{}, errcode.Newf(errcode.AIEmpty, "generator returned no content")
	}
	var kit brandkit.BrandKit
	if err := json.Unmarshal([]byte(body), &kit); err != nil {
		return brandkit.BrandKit{}, errcode.Wrap(errcode.AIInvalidResponse, fmt.Errorf("decode brand kit: %w", err))
	}
	if err := g.validate.Struct(kit); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			err = fmt.Errorf("field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return brandkit.BrandKit{}, errcode.Wrap(errcode.AIInvalidResponse, fmt.Errorf("validate brand kit: %w", err))
	}
	for i := range kit.Colors {
		kit.Colors[i].Hex = strings.ToLower(kit.Colors[i].Hex)
	}
	return kit, nil
}

// stripFences removes a surrounding markdown code fence, which chat models
// add even when asked for bare JSON.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
