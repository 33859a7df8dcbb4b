// Package gemini implements the photo analyzer, scene generator and scene
// editor on top of the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/usage"
	"github.com/manash/timebooth/pkg/models"
)

var ErrUnparseableAnalysis = errors.New("analysis response is not valid JSON")

// contentGenerator is the slice of the genai client the adapters use.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type handleResolver interface {
	Resolve(ctx context.Context, handle string) (string, []byte, error)
}

// UsageRecorder receives one record per Gemini call.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

type Provider struct {
	models   contentGenerator
	resolver handleResolver
	cfg      provider.Config
	recorder UsageRecorder
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Provider)

func WithRecorder(r UsageRecorder) Option {
	return func(p *Provider) { p.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New builds a Provider backed by a genai client. cfg is validated against
// registry before any network access.
func New(ctx context.Context, cfg provider.Config, registry *models.ModelRegistry, resolver *image.Resolver, opts ...Option) (*Provider, error) {
	cfg, err := cfg.Resolve(registry)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return newWithGenerator(client.Models, resolver, cfg, opts...), nil
}

func newWithGenerator(gen contentGenerator, resolver handleResolver, cfg provider.Config, opts ...Option) *Provider {
	p := &Provider{
		models:   gen,
		resolver: resolver,
		cfg:      cfg.WithDefaults(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderGemini
}

// call runs one GenerateContent request and reports its usage.
func (p *Provider) call(ctx context.Context, op usage.Operation, model string, parts []*genai.Part, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	start := p.now()
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := p.models.GenerateContent(ctx, model, contents, config)

	rec := usage.Record{
		Operation: op,
		Model:     model,
		Duration:  p.now().Sub(start),
		Success:   err == nil,
		CreatedAt: start,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if resp != nil && resp.UsageMetadata != nil {
		rec.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		rec.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		rec.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	p.report(ctx, rec)

	p.logger.Debug("gemini call finished",
		slog.String("operation", string(op)),
		slog.String("model", model),
		slog.Duration("duration", rec.Duration),
		slog.Bool("success", rec.Success),
	)
	return resp, err
}

func (p *Provider) report(ctx context.Context, rec usage.Record) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, rec); err != nil {
		p.logger.Warn("failed to record usage", slog.Any("error", err))
	}
}

// extractImage returns the first inline image of the first candidate as a
// data URI.
func extractImage(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", provider.ErrNoImagePayload)
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return image.EncodeDataURI(mimeType, part.InlineData.Data), nil
			}
		}
	}

	switch candidate.FinishReason {
	case "", genai.FinishReasonUnspecified, genai.FinishReasonStop:
	default:
		return "", fmt.Errorf("generation stopped early (finish reason: %s)", candidate.FinishReason)
	}
	return "", provider.ErrNoImagePayload
}
