// Package studio implements the synchronous creative operations: image
// analysis, image generation and image editing. It also publishes the
// catalog of services offered by the API.
package studio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/maauso/genstudio-api/internal/generator"
	"github.com/maauso/genstudio-api/internal/storage"
)

// Static errors for studio operations.
var (
	// ErrPromptRequired is returned when an operation is called without a prompt.
	ErrPromptRequired = errors.New("studio: prompt is required")
	// ErrImageRequired is returned when an operation needs an image and none was given.
	ErrImageRequired = errors.New("studio: image is required")
	// ErrUnsupportedAspectRatio is returned for an aspect ratio the image model does not support.
	ErrUnsupportedAspectRatio = errors.New("studio: unsupported aspect ratio")
)

// ImageAspectRatios lists the aspect ratios accepted by GenerateImage.
var ImageAspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

// ImageResult is a produced image and, when pushed, its public URL.
type ImageResult struct {
	Image generator.Image
	URL   string
}

// GenerateInput contains the parameters of an image generation.
type GenerateInput struct {
	Prompt      string
	AspectRatio string
	PushToS3    bool
}

// EditInput contains the parameters of an image edit.
type EditInput struct {
	Prompt   string
	Image    *generator.Image
	PushToS3 bool
}

// Service dispatches synchronous requests to the generation backend.
type Service struct {
	analyzer generator.ImageAnalyzer
	images   generator.ImageGenerator
	storage  storage.Storage
	logger   *slog.Logger
}

// NewService creates a new Service.
func NewService(analyzer generator.ImageAnalyzer, images generator.ImageGenerator, store storage.Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		analyzer: analyzer,
		images:   images,
		storage:  store,
		logger:   logger,
	}
}

// Analyze answers prompt about image.
func (s *Service) Analyze(ctx context.Context, prompt string, image *generator.Image) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrPromptRequired
	}
	if image == nil || len(image.Data) == 0 {
		return "", ErrImageRequired
	}

	text, err := s.analyzer.Analyze(ctx, prompt, *image)
	if err != nil {
		return "", fmt.Errorf("analyze image: %w", err)
	}

	s.logger.Info("image analyzed",
		slog.String("mime_type", image.MimeType),
		slog.Int("response_chars", len(text)),
	)
	return text, nil
}

// GenerateImage creates one image from a prompt.
func (s *Service) GenerateImage(ctx context.Context, in GenerateInput) (*ImageResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, ErrPromptRequired
	}
	if !slices.Contains(ImageAspectRatios, in.AspectRatio) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAspectRatio, in.AspectRatio)
	}

	img, err := s.images.GenerateImage(ctx, in.Prompt, in.AspectRatio)
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}

	s.logger.Info("image generated",
		slog.String("aspect_ratio", in.AspectRatio),
		slog.Int("size", len(img.Data)),
	)
	return s.result(ctx, img, in.PushToS3), nil
}

// EditImage applies prompt to an image.
func (s *Service) EditImage(ctx context.Context, in EditInput) (*ImageResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, ErrPromptRequired
	}
	if in.Image == nil || len(in.Image.Data) == 0 {
		return nil, ErrImageRequired
	}

	img, err := s.images.EditImage(ctx, in.Prompt, *in.Image)
	if err != nil {
		return nil, fmt.Errorf("edit image: %w", err)
	}

	s.logger.Info("image edited", slog.Int("size", len(img.Data)))
	return s.result(ctx, img, in.PushToS3), nil
}

// result wraps img and uploads it when requested. A failed upload is logged
// and the image is still returned.
func (s *Service) result(ctx context.Context, img generator.Image, push bool) *ImageResult {
	res := &ImageResult{Image: img}
	if !push || s.storage == nil {
		return res
	}

	key := "images/" + uuid.NewString() + extension(img.MimeType)
	url, err := s.storage.Publish(ctx, key, img.MimeType, bytes.NewReader(img.Data))
	if err != nil {
		s.logger.Warn("failed to upload image to S3",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return res
	}
	res.URL = url
	return res
}

func extension(mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return ""
}
