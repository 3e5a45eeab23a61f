package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/phrazzld/cutout/internal/transform"
)

// fakeModels records the last request and returns a canned response.
type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func newTestTransformer(f *fakeModels) *Transformer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newTransformer(logger, f, Config{Model: "gemini-2.0-flash-exp"})
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is the image"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: data}},
			}},
		}},
	}
}

func TestTransform_ReturnsInlineImage(t *testing.T) {
	t.Parallel()
	f := &fakeModels{resp: imageResponse([]byte("cutout"))}

	out, err := newTestTransformer(f).Transform(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, []byte("cutout"), out)

	assert.Equal(t, "gemini-2.0-flash-exp", f.model)
	require.Len(t, f.contents, 1)
	require.Len(t, f.contents[0].Parts, 2)
	assert.Equal(t, DefaultPrompt, f.contents[0].Parts[0].Text)
	assert.Equal(t, "image/png", f.contents[0].Parts[1].InlineData.MIMEType)
	assert.Contains(t, f.config.ResponseModalities, "IMAGE")
}

func TestTransform_SendsDetectedMIMEType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{name: "png", input: pngHeader, want: "image/png"},
		{name: "jpeg", input: []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), want: "image/jpeg"},
		{name: "webp", input: []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), want: "image/webp"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeModels{resp: imageResponse([]byte("cutout"))}

			_, err := newTestTransformer(f).Transform(context.Background(), tc.input)
			require.NoError(t, err)
			require.Len(t, f.contents, 1)
			require.Len(t, f.contents[0].Parts, 2)
			assert.Equal(t, tc.want, f.contents[0].Parts[1].InlineData.MIMEType)
		})
	}
}

func TestTransform_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fake     *fakeModels
		input    []byte
		wantKind string
	}{
		{
			name:     "empty input",
			fake:     &fakeModels{},
			input:    nil,
			wantKind: transform.KindInvalidImage,
		},
		{
			name:     "api error",
			fake:     &fakeModels{err: errors.New("503 unavailable")},
			input:    pngHeader,
			wantKind: transform.KindModel,
		},
		{
			name: "blocked prompt",
			fake: &fakeModels{resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
			}},
			input:    pngHeader,
			wantKind: transform.KindBlocked,
		},
		{
			name: "text only",
			fake: &fakeModels{resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: "I cannot edit images"}}},
				}},
			}},
			input:    pngHeader,
			wantKind: transform.KindEmptyResult,
		},
		{
			name:     "no candidates",
			fake:     &fakeModels{resp: &genai.GenerateContentResponse{}},
			input:    pngHeader,
			wantKind: transform.KindEmptyResult,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestTransformer(tc.fake).Transform(context.Background(), tc.input)
			var terr *transform.Error
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.wantKind, terr.Kind)
		})
	}
}

func TestTransform_ContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeModels{err: errors.New("request aborted")}
	_, err := newTestTransformer(f).Transform(ctx, pngHeader)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTransformer_Validation(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewTransformer(context.Background(), nil, Config{APIKey: "k", Model: "m"})
	assert.Error(t, err)

	_, err = NewTransformer(context.Background(), logger, Config{Model: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTransformer(context.Background(), logger, Config{APIKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
