package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/genstudio-api/internal/credential"
	"github.com/maauso/genstudio-api/internal/gemini"
)

// Default models and generation parameters.
const (
	DefaultAnalyzeModel    = "gemini-2.5-flash"
	DefaultImageModel      = "imagen-4.0-generate-001"
	DefaultEditModel       = "gemini-2.5-flash-image"
	DefaultVideoModel      = "veo-3.1-fast-generate-preview"
	DefaultVideoResolution = "720p"

	imageOutputMimeType = "image/jpeg"
)

// Compile-time checks that GeminiAdapter implements every port.
var (
	_ VideoGenerator = (*GeminiAdapter)(nil)
	_ ImageGenerator = (*GeminiAdapter)(nil)
	_ ImageAnalyzer  = (*GeminiAdapter)(nil)
)

// Models selects the Gemini model used for each operation.
type Models struct {
	Analyze string
	Image   string
	Edit    string
	Video   string
}

// GeminiAdapter adapts the Gemini client to the generator interfaces.
type GeminiAdapter struct {
	client     gemini.Client
	models     Models
	resolution string
}

// AdapterOption configures a GeminiAdapter.
type AdapterOption func(*GeminiAdapter)

// WithModels overrides the default models. Empty fields keep their default.
func WithModels(m Models) AdapterOption {
	return func(a *GeminiAdapter) {
		if m.Analyze != "" {
			a.models.Analyze = m.Analyze
		}
		if m.Image != "" {
			a.models.Image = m.Image
		}
		if m.Edit != "" {
			a.models.Edit = m.Edit
		}
		if m.Video != "" {
			a.models.Video = m.Video
		}
	}
}

// WithVideoResolution sets the requested video resolution.
func WithVideoResolution(r string) AdapterOption {
	return func(a *GeminiAdapter) {
		if r != "" {
			a.resolution = r
		}
	}
}

// NewGeminiAdapter creates a new Gemini generator adapter.
func NewGeminiAdapter(client gemini.Client, opts ...AdapterOption) *GeminiAdapter {
	a := &GeminiAdapter{
		client: client,
		models: Models{
			Analyze: DefaultAnalyzeModel,
			Image:   DefaultImageModel,
			Edit:    DefaultEditModel,
			Video:   DefaultVideoModel,
		},
		resolution: DefaultVideoResolution,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Submit starts a Veo image-to-video generation.
func (a *GeminiAdapter) Submit(ctx context.Context, image Image, opts VideoOptions) (string, error) {
	op, err := a.client.GenerateVideos(ctx, a.models.Video, gemini.VideoRequest{
		Prompt:         opts.Prompt,
		Image:          &gemini.Blob{MimeType: image.MimeType, Data: image.Data},
		AspectRatio:    opts.AspectRatio,
		Resolution:     a.resolution,
		NumberOfVideos: 1,
	})
	if err != nil {
		return "", fmt.Errorf("gemini adapter submit: %w", mapError(err))
	}
	return op.Name, nil
}

// Poll checks a Veo operation once.
func (a *GeminiAdapter) Poll(ctx context.Context, operation string) (PollResult, error) {
	op, err := a.client.GetOperation(ctx, operation)
	if err != nil {
		return PollResult{}, fmt.Errorf("gemini adapter poll: %w", mapError(err))
	}

	if !op.Done {
		return PollResult{Status: StatusRunning}, nil
	}

	result := PollResult{Status: StatusDone}
	if op.Error != nil {
		result.Failed = true
		result.Error = op.Error.Message
		return result, nil
	}
	if len(op.VideoURIs) > 0 {
		result.VideoURI = op.VideoURIs[0]
	}
	return result, nil
}

// Download fetches a generated video.
func (a *GeminiAdapter) Download(ctx context.Context, uri string) ([]byte, string, error) {
	data, contentType, err := a.client.Download(ctx, uri)
	if err != nil {
		return nil, "", fmt.Errorf("gemini adapter download: %w", mapError(err))
	}
	return data, contentType, nil
}

// GenerateImage creates a single JPEG image with Imagen.
func (a *GeminiAdapter) GenerateImage(ctx context.Context, prompt, aspectRatio string) (Image, error) {
	images, err := a.client.GenerateImages(ctx, a.models.Image, gemini.ImageRequest{
		Prompt:         prompt,
		NumberOfImages: 1,
		AspectRatio:    aspectRatio,
		OutputMimeType: imageOutputMimeType,
	})
	if err != nil {
		return Image{}, fmt.Errorf("gemini adapter generate image: %w", mapError(err))
	}
	if len(images) == 0 {
		return Image{}, ErrNoImageGenerated
	}
	return Image{MimeType: images[0].MimeType, Data: images[0].Data}, nil
}

// EditImage applies prompt to image and returns the first image part of the
// response.
func (a *GeminiAdapter) EditImage(ctx context.Context, prompt string, image Image) (Image, error) {
	resp, err := a.client.GenerateContent(ctx, a.models.Edit, gemini.ContentRequest{
		Parts: []gemini.Part{
			{InlineData: &gemini.Blob{MimeType: image.MimeType, Data: image.Data}},
			{Text: prompt},
		},
		ResponseModalities: []string{gemini.ModalityImage},
	})
	if err != nil {
		return Image{}, fmt.Errorf("gemini adapter edit image: %w", mapError(err))
	}

	for _, p := range resp.Parts {
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return Image{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data}, nil
		}
	}
	return Image{}, ErrNoImageInResponse
}

// Analyze describes image according to prompt.
func (a *GeminiAdapter) Analyze(ctx context.Context, prompt string, image Image) (string, error) {
	resp, err := a.client.GenerateContent(ctx, a.models.Analyze, gemini.ContentRequest{
		Parts: []gemini.Part{
			{InlineData: &gemini.Blob{MimeType: image.MimeType, Data: image.Data}},
			{Text: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("gemini adapter analyze: %w", mapError(err))
	}
	return resp.Text(), nil
}

// mapError keeps the client error in the chain and adds the provider-neutral
// sentinel where one applies.
func mapError(err error) error {
	switch {
	case errors.Is(err, gemini.ErrEntityNotFound):
		return fmt.Errorf("%w: %w", ErrEntityNotFound, err)
	case errors.Is(err, credential.ErrNoCredential), errors.Is(err, gemini.ErrAPIKeyNotSet):
		return fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	return err
}
