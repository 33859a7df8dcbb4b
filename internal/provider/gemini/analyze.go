package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/usage"
	"github.com/manash/timebooth/pkg/models"
)

const analysisPrompt = `Analyze this photo of a person. Describe in detail their facial features, hair color and style, and build so that the same person can be recreated in a historical illustration. Respond in JSON with the keys "features" (physical traits), "clothingStyle" (current clothing style) and "vibe" (visual personality).`

func (p *Provider) Analyze(ctx context.Context, imageData string) (models.AnalysisResult, error) {
	mimeType, data, err := image.DecodeDataURI(imageData)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %w", provider.ErrAnalysis, err)
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(analysisPrompt),
	}
	config := &genai.GenerateContentConfig{}
	if p.cfg.JSONAnalysis {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := p.call(ctx, usage.OperationAnalyze, p.cfg.AnalysisModel, parts, config)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %w", provider.ErrAnalysis, err)
	}

	result, err := parseAnalysis(resp.Text())
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %w", provider.ErrAnalysis, err)
	}
	return result, nil
}

// parseAnalysis decodes the model's JSON answer. Models occasionally wrap
// JSON in a markdown fence even when asked for application/json.
func parseAnalysis(text string) (models.AnalysisResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" {
		return models.AnalysisResult{}, fmt.Errorf("%w: empty response", ErrUnparseableAnalysis)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %v", ErrUnparseableAnalysis, err)
	}
	if err := result.Validate(); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %w", ErrUnparseableAnalysis, err)
	}
	return result, nil
}
