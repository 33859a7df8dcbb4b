package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrUnknownEra          = errors.New("unknown era")
	ErrEmptyAnalysis       = errors.New("analysis has no features, clothing style or vibe")
	ErrUnknownModel        = errors.New("unknown model")
	ErrWrongModelKind      = errors.New("model cannot be used for this operation")
	ErrInvalidAspectRatio  = errors.New("invalid aspect ratio for model")
	ErrEditNotSupported    = errors.New("image editing not supported by model")
	ErrNoImageData         = errors.New("image data is required")
	ErrEmptyInstruction    = errors.New("instruction cannot be empty")
	ErrUnknownPreset       = errors.New("unknown edit preset")
	ErrInvalidImageHandle  = errors.New("invalid image handle")
	ErrUnsupportedMimeType = errors.New("unsupported image mime type")
)

type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
)

// Operation names the step of the lineage that produced an image.
type Operation string

const (
	OperationGenerate Operation = "generate"
	OperationEdit     Operation = "edit"
)

// AnalysisResult is the structured description of the person in the submitted
// photo. It is produced once per photo and never modified afterwards.
type AnalysisResult struct {
	Features      string `json:"features"`
	ClothingStyle string `json:"clothingStyle"`
	Vibe          string `json:"vibe"`
}

func (a AnalysisResult) Validate() error {
	if strings.TrimSpace(a.Features) == "" &&
		strings.TrimSpace(a.ClothingStyle) == "" &&
		strings.TrimSpace(a.Vibe) == "" {
		return ErrEmptyAnalysis
	}
	return nil
}

// GeneratedImage is one node of the edit lineage. The root of a lineage is
// the scene generated for an era; every edit adds a child pointing at the
// image it was derived from.
type GeneratedImage struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId,omitempty"`
	Operation Operation `json:"operation"`
	URL       string    `json:"url"`
	Era       Era       `json:"era"`
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
}

func (g GeneratedImage) IsRoot() bool {
	return g.ParentID == ""
}

// GeneratedPrompt is the synthesized prompt label recorded for the root image
// of an era.
func GeneratedPrompt(era Era) string {
	return "generated in " + era.String()
}

type ModelKind string

const (
	KindAnalysis ModelKind = "analysis"
	KindImage    ModelKind = "image"
)

type ModelCapabilities struct {
	Name                 string
	Provider             ProviderType
	Kind                 ModelKind
	SupportedAspectRatio []string
	DefaultAspectRatio   string
	SupportsEdit         bool
	JSONOutput           bool
}

func (c *ModelCapabilities) ValidateFor(kind ModelKind) error {
	if c.Kind != kind {
		return fmt.Errorf("%w: %s is a %s model, want %s", ErrWrongModelKind, c.Name, c.Kind, kind)
	}
	return nil
}

func (c *ModelCapabilities) ValidateAspectRatio(ratio string) error {
	if ratio == "" {
		return nil
	}
	if !slices.Contains(c.SupportedAspectRatio, ratio) {
		return fmt.Errorf("%w: %q not in %v", ErrInvalidAspectRatio, ratio, c.SupportedAspectRatio)
	}
	return nil
}

func (c *ModelCapabilities) AspectRatioOrDefault(ratio string) string {
	if ratio == "" {
		return c.DefaultAspectRatio
	}
	return ratio
}

type ModelRegistry struct {
	models map[string]*ModelCapabilities
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelCapabilities),
	}
}

func (r *ModelRegistry) Register(cap *ModelCapabilities) {
	r.models[cap.Name] = cap
}

func (r *ModelRegistry) Get(name string) (*ModelCapabilities, bool) {
	cap, ok := r.models[name]
	return cap, ok
}

// Lookup returns the capabilities for name after checking it serves kind.
func (r *ModelRegistry) Lookup(name string, kind ModelKind) (*ModelCapabilities, error) {
	cap, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s (available %s models: %v)", ErrUnknownModel, name, kind, r.ListByKind(kind))
	}
	if err := cap.ValidateFor(kind); err != nil {
		return nil, fmt.Errorf("%w (available: %v)", err, r.ListByKind(kind))
	}
	return cap, nil
}

func (r *ModelRegistry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *ModelRegistry) ListByKind(kind ModelKind) []string {
	var names []string
	for name, cap := range r.models {
		if cap.Kind == kind {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

var geminiAspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelCapabilities{
		Name:       "gemini-3-pro-preview",
		Provider:   ProviderGemini,
		Kind:       KindAnalysis,
		JSONOutput: true,
	})

	r.Register(&ModelCapabilities{
		Name:       "gemini-2.5-flash",
		Provider:   ProviderGemini,
		Kind:       KindAnalysis,
		JSONOutput: true,
	})

	r.Register(&ModelCapabilities{
		Name:                 "gemini-2.5-flash-image",
		Provider:             ProviderGemini,
		Kind:                 KindImage,
		SupportedAspectRatio: geminiAspectRatios,
		DefaultAspectRatio:   "1:1",
		SupportsEdit:         true,
	})

	r.Register(&ModelCapabilities{
		Name:                 "gemini-3-pro-image-preview",
		Provider:             ProviderGemini,
		Kind:                 KindImage,
		SupportedAspectRatio: geminiAspectRatios,
		DefaultAspectRatio:   "1:1",
		SupportsEdit:         true,
	})

	return r
}
