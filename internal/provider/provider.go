package provider

import (
	"context"
	"errors"
	"time"

	"github.com/manash/timebooth/pkg/models"
)

var (
	ErrAPIKeyRequired = errors.New("API key is required")
	ErrAnalysis       = errors.New("photo analysis failed")
	ErrGeneration     = errors.New("scene generation failed")
	ErrEdit           = errors.New("scene edit failed")
	ErrCapture        = errors.New("photo capture failed")
	ErrNoImagePayload = errors.New("response contained no image data")
)

// Analyzer describes the person in a photo. imageData is a data URI.
type Analyzer interface {
	Analyze(ctx context.Context, imageData string) (models.AnalysisResult, error)
}

// SceneGenerator places the analysed person in an era and returns an image
// handle.
type SceneGenerator interface {
	GenerateScene(ctx context.Context, analysis models.AnalysisResult, era models.Era) (string, error)
}

// SceneEditor applies a free-form instruction to an existing image handle and
// returns the handle of the result.
type SceneEditor interface {
	EditScene(ctx context.Context, imageHandle, instruction string) (string, error)
}

type Provider interface {
	Name() models.ProviderType
	Analyzer
	SceneGenerator
	SceneEditor
}

type Config struct {
	APIKey        string
	AnalysisModel string
	ImageModel    string
	AspectRatio   string
	Timeout       time.Duration

	// JSONAnalysis asks the analysis model for a JSON response. Resolve sets
	// it from the model's capabilities.
	JSONAnalysis bool
}

const (
	DefaultAnalysisModel = "gemini-3-pro-preview"
	DefaultImageModel    = "gemini-2.5-flash-image"
	DefaultTimeout       = 120 * time.Second
)

// WithDefaults fills unset fields with the defaults above. The aspect ratio
// is left to the image model; see Resolve.
func (c Config) WithDefaults() Config {
	if c.AnalysisModel == "" {
		c.AnalysisModel = DefaultAnalysisModel
	}
	if c.ImageModel == "" {
		c.ImageModel = DefaultImageModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate checks the configured models against registry.
func (c Config) Validate(registry *models.ModelRegistry) error {
	if c.APIKey == "" {
		return ErrAPIKeyRequired
	}
	if _, err := registry.Lookup(c.AnalysisModel, models.KindAnalysis); err != nil {
		return err
	}
	img, err := registry.Lookup(c.ImageModel, models.KindImage)
	if err != nil {
		return err
	}
	if !img.SupportsEdit {
		return models.ErrEditNotSupported
	}
	return img.ValidateAspectRatio(c.AspectRatio)
}

// Resolve applies the defaults, validates c against registry and fills in
// what the chosen models decide: the image model's default aspect ratio when
// none is set, and whether analysis can ask for JSON.
func (c Config) Resolve(registry *models.ModelRegistry) (Config, error) {
	c = c.WithDefaults()
	if err := c.Validate(registry); err != nil {
		return c, err
	}
	analysis, _ := registry.Get(c.AnalysisModel)
	img, _ := registry.Get(c.ImageModel)
	c.AspectRatio = img.AspectRatioOrDefault(c.AspectRatio)
	c.JSONAnalysis = analysis.JSONOutput
	return c, nil
}
