package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/usage"
	"github.com/manash/timebooth/pkg/models"
)

func editPrompt(instruction string) string {
	return fmt.Sprintf("Modify this image according to the following instruction: %q. "+
		"Keep the historical style and the likeness of the person, "+
		"but apply the requested change in an artistic and realistic way.", instruction)
}

func (p *Provider) EditScene(ctx context.Context, imageHandle, instruction string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", fmt.Errorf("%w: %w", provider.ErrEdit, models.ErrEmptyInstruction)
	}

	mimeType, data, err := p.resolver.Resolve(ctx, imageHandle)
	if err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrEdit, err)
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(editPrompt(instruction)),
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	resp, err := p.call(ctx, usage.OperationEdit, p.cfg.ImageModel, parts, config)
	if err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrEdit, err)
	}

	handle, err := extractImage(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrEdit, err)
	}
	return handle, nil
}
