// Package generator provides the provider-neutral interfaces used by the
// studio and job packages. The Gemini adapter implements all of them.
package generator

import (
	"context"
	"errors"
)

// Status represents the status of a long-running video operation.
type Status string

// Operation statuses.
const (
	StatusRunning Status = "RUNNING" // Operation is still generating
	StatusDone    Status = "DONE"    // Operation reached a terminal state
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusDone
}

// Static errors shared by all providers.
var (
	// ErrEntityNotFound is returned when the provider no longer resolves the
	// operation or the credential it was created with.
	ErrEntityNotFound = errors.New("generator: requested entity was not found")
	// ErrNoCredential is returned when a call has no API key to send.
	ErrNoCredential = errors.New("generator: no API key available")
	// ErrNoImageInResponse is returned when an edit call returns no image part.
	ErrNoImageInResponse = errors.New("generator: no edited image found in response")
	// ErrNoImageGenerated is returned when an image generation call returns no image.
	ErrNoImageGenerated = errors.New("generator: no image generated")
)

// Image is an encoded image with its MIME type.
type Image struct {
	MimeType string
	Data     []byte
}

// VideoOptions contains parameters for submitting a video generation.
type VideoOptions struct {
	Prompt      string // Prompt text; empty lets the provider apply its default framing
	AspectRatio string // "16:9" or "9:16"
}

// PollResult contains the result of checking an operation.
type PollResult struct {
	Status   Status // Current operation status
	VideoURI string // First artifact URI (when done and successful)
	Error    string // Backend failure message (when done and failed)
	Failed   bool   // True if the backend reported an error payload
}

// VideoGenerator defines the long-running image-to-video protocol.
type VideoGenerator interface {
	// Submit starts a generation and returns the opaque operation handle.
	Submit(ctx context.Context, image Image, opts VideoOptions) (operation string, err error)

	// Poll checks the status of an operation once.
	Poll(ctx context.Context, operation string) (PollResult, error)

	// Download fetches a finished artifact.
	Download(ctx context.Context, uri string) (data []byte, contentType string, err error)
}

// ImageGenerator produces and edits images.
type ImageGenerator interface {
	// GenerateImage creates one image from a prompt.
	GenerateImage(ctx context.Context, prompt, aspectRatio string) (Image, error)

	// EditImage applies a prompt to an existing image.
	EditImage(ctx context.Context, prompt string, image Image) (Image, error)
}

// ImageAnalyzer describes images in natural language.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, prompt string, image Image) (string, error)
}
