package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/usage"
	"github.com/manash/timebooth/pkg/models"
)

func scenePrompt(analysis models.AnalysisResult, era models.Era) string {
	return fmt.Sprintf("A high quality cinematic photograph of a person with these features: %s. "+
		"The person is dressed and set in the era of %s. "+
		"The scene must be historically accurate, with dramatic lighting and epic detail. "+
		"The face must keep the essence of the description provided.",
		analysis.Features, era)
}

func (p *Provider) GenerateScene(ctx context.Context, analysis models.AnalysisResult, era models.Era) (string, error) {
	if !era.IsValid() {
		return "", fmt.Errorf("%w: %w: %q", provider.ErrGeneration, models.ErrUnknownEra, era)
	}

	parts := []*genai.Part{genai.NewPartFromText(scenePrompt(analysis, era))}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		ImageConfig: &genai.ImageConfig{
			AspectRatio: p.cfg.AspectRatio,
		},
	}

	resp, err := p.call(ctx, usage.OperationGenerate, p.cfg.ImageModel, parts, config)
	if err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrGeneration, err)
	}

	handle, err := extractImage(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrGeneration, err)
	}
	return handle, nil
}
