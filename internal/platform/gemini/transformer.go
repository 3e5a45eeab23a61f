package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"

	"github.com/phrazzld/cutout/internal/transform"
)

// DefaultPrompt instructs the model to return only the cut-out subject.
const DefaultPrompt = "Remove the background from this image. Keep the main subject unchanged " +
	"and make everything else fully transparent. Return only the edited image as a PNG."

// contentGenerator is the subset of genai.Models used by Transformer.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Config holds the settings needed to call Gemini.
type Config struct {
	APIKey string
	Model  string
	Prompt string
}

// Transformer calls a Gemini image model to remove backgrounds.
type Transformer struct {
	logger *slog.Logger
	models contentGenerator
	model  string
	prompt string
}

var _ transform.Transformer = (*Transformer)(nil)

// NewTransformer creates a Transformer backed by the Gemini API.
func NewTransformer(ctx context.Context, logger *slog.Logger, cfg Config) (*Transformer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newTransformer(logger, client.Models, cfg), nil
}

func newTransformer(logger *slog.Logger, models contentGenerator, cfg Config) *Transformer {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Transformer{
		logger: logger.With("component", "gemini_transformer", "model", cfg.Model),
		models: models,
		model:  cfg.Model,
		prompt: prompt,
	}
}

// Transform implements transform.Transformer.
func (g *Transformer) Transform(ctx context.Context, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, transform.Errorf(transform.KindInvalidImage, "%v", ErrEmptyInput)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: g.prompt},
			{InlineData: &genai.Blob{MIMEType: mimetype.Detect(input).String(), Data: input}},
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	g.logger.DebugContext(ctx, "calling gemini", "input_bytes", len(input))

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, transform.Errorf(transform.KindModel, "generate content: %v", err)
	}

	return g.extractImage(ctx, resp)
}

func (g *Transformer) extractImage(ctx context.Context, resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil {
		return nil, transform.Errorf(transform.KindEmptyResult, "no response from model")
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, transform.Errorf(transform.KindBlocked, "prompt blocked: %s", fb.BlockReason)
	}

	var notes []string
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "image/") &&
				len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
			if part.Text != "" {
				notes = append(notes, part.Text)
			}
		}
	}

	g.logger.WarnContext(ctx, "gemini returned no image",
		"candidates", len(resp.Candidates),
		"text_parts", len(notes))
	if len(notes) > 0 {
		return nil, transform.Errorf(transform.KindEmptyResult, "model returned text only: %s",
			truncate(strings.Join(notes, " "), 200))
	}
	return nil, transform.Errorf(transform.KindEmptyResult, "model returned no image")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
