package brandkit

import (
	"time"
)

// BrandKit is the structured result produced by the generate step.
type BrandKit struct {
	Name        string   `json:"name" validate:"required"`
	Tagline     string   `json:"tagline,omitempty"`
	Description string   `json:"description,omitempty"`
	Colors      []Color  `json:"colors" validate:"dive"`
	Fonts       []string `json:"fonts,omitempty"`
	Logo        string   `json:"logo,omitempty"`
	Images      []Image  `json:"images" validate:"dive"`
	Voice       Voice    `json:"voice"`
	SourceURL   string   `json:"sourceUrl,omitempty"`
	GeneratedBy string   `json:"generatedBy,omitempty"`
	AssetCount  int      `json:"assetCount"`
}

// Color is a palette entry.
type Color struct {
	Hex  string `json:"hex" validate:"required,hexcolor"`
	Role string `json:"role,omitempty"`
}

// Image references a visual asset found on the site.
type Image struct {
	URL  string `json:"url" validate:"required"`
	Kind string `json:"kind,omitempty"`
	Alt  string `json:"alt,omitempty"`
}

// Voice summarises the brand's written tone.
type Voice struct {
	Tone       string   `json:"tone" validate:"required"`
	Adjectives []string `json:"adjectives,omitempty"`
	Summary    string   `json:"summary,omitempty"`
}

// AssetKind classifies a persisted side-effect record.
type AssetKind string

// Asset kinds written by the pipeline.
const (
	AssetColor      AssetKind = "color"
	AssetImage      AssetKind = "image"
	AssetLogo       AssetKind = "logo"
	AssetScreenshot AssetKind = "screenshot"
	AssetSnapshot   AssetKind = "snapshot"
)

// Asset is a side-effect record owned by an owner ID. IDs are derived from
// job, kind and value so re-running a step never duplicates rows.
type Asset struct {
	ID        string
	OwnerID   string
	JobID     string
	Kind      AssetKind
	Value     string
	Source    string
	CreatedAt time.Time
}

// RunStatus is the denormalised outcome stored on an owner record.
type RunStatus string

// Owner-facing run statuses.
const (
	RunOK    RunStatus = "ok"
	RunError RunStatus = "error"
)

// LastRun is written to the owner record when a job reaches a terminal state.
type LastRun struct {
	Status     RunStatus
	JobID      string
	At         time.Time
	AssetCount int
}

// GenerateRequest is the input handed to a text generation backend.
type GenerateRequest struct {
	URL         string
	Title       string
	Description string
	Text        string
	Colors      []string
	Images      []string
	Logo        string
	Fonts       []string
}
