package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/errcode"
)

// Finalize attaches the job's persisted assets to a generated kit and sets
// its asset count.
func Finalize(ctx context.Context, assets brandkit.AssetStore, jobID string, kit brandkit.BrandKit) (brandkit.BrandKit, error) {
	list, err := assets.ListByJob(ctx, jobID)
	if err != nil {
		return kit, errcode.Wrap(errcode.SystemStoreWrite, fmt.Errorf("list assets: %w", err))
	}

	colors := make(map[string]struct{}, len(kit.Colors))
	for _, c := range kit.Colors {
		colors[strings.ToLower(c.Hex)] = struct{}{}
	}
	images := make(map[string]struct{}, len(kit.Images))
	for _, img := range kit.Images {
		images[img.URL] = struct{}{}
	}

	for _, a := range list {
		switch a.Kind {
		case brandkit.AssetColor:
			if _, ok := colors[a.Value]; !ok {
				colors[a.Value] = struct{}{}
				kit.Colors = append(kit.Colors, brandkit.Color{Hex: a.Value, Role: "extracted"})
			}
		case brandkit.AssetImage, brandkit.AssetScreenshot:
			if _, ok := images[a.Value]; !ok {
				images[a.Value] = struct{}{}
				kit.Images = append(kit.Images, brandkit.Image{URL: a.Value, Kind: string(a.Kind)})
			}
		case brandkit.AssetLogo:
			if kit.Logo == "" {
				kit.Logo = a.Value
			}
		}
	}
	if kit.Colors == nil {
		kit.Colors = []brandkit.Color{}
	}
	if kit.Images == nil {
		kit.Images = []brandkit.Image{}
	}
	kit.AssetCount = len(list)
	return kit, nil
}
