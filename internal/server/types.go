// Package server provides the HTTP server for the GenStudio API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/studio"
)

// AnalyzeRequest is the HTTP request body for analyzing an image.
type AnalyzeRequest struct {
	// Prompt is the question asked about the image.
	Prompt string `json:"prompt" validate:"required"`
	// ImageBase64 is the base64-encoded image, optionally as a data URL.
	ImageBase64 string `json:"image_base64" validate:"required"`
	// MimeType is the declared image type. The sniffed type wins when they differ.
	MimeType string `json:"mime_type,omitempty"`
}

// GenerateImageRequest is the HTTP request body for generating an image.
type GenerateImageRequest struct {
	// Prompt describes the image to create.
	Prompt string `json:"prompt" validate:"required"`
	// AspectRatio is one of the supported image aspect ratios.
	AspectRatio string `json:"aspect_ratio" validate:"required,oneof=1:1 16:9 9:16 4:3 3:4"`
	// PushToS3 indicates whether to upload the image to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// EditImageRequest is the HTTP request body for editing an image.
type EditImageRequest struct {
	// Prompt describes the edit.
	Prompt string `json:"prompt" validate:"required"`
	// ImageBase64 is the base64-encoded source image.
	ImageBase64 string `json:"image_base64" validate:"required"`
	// MimeType is the declared image type.
	MimeType string `json:"mime_type,omitempty"`
	// PushToS3 indicates whether to upload the edited image to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateVideoRequest is the HTTP request body for animating an image.
type CreateVideoRequest struct {
	// Prompt is optional.
	Prompt string `json:"prompt"`
	// ImageBase64 is the base64-encoded source frame.
	ImageBase64 string `json:"image_base64" validate:"required"`
	// MimeType is the declared image type.
	MimeType string `json:"mime_type,omitempty"`
	// AspectRatio is the video orientation.
	AspectRatio string `json:"aspect_ratio" validate:"required,oneof=16:9 9:16"`
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CredentialRequest selects the API key used for backend calls.
type CredentialRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// CredentialStatusResponse reports whether an API key is selected.
type CredentialStatusResponse struct {
	Selected bool `json:"selected"`
}

// ServicesResponse lists the available creative services.
type ServicesResponse struct {
	Services []studio.ServiceInfo `json:"services"`
}

// TextResponse is the HTTP response of an analysis.
type TextResponse struct {
	Text string `json:"text"`
}

// ImageResponse is the HTTP response of an image generation or edit.
type ImageResponse struct {
	// ImageBase64 is the base64-encoded image.
	ImageBase64 string `json:"image_base64"`
	// MimeType is the image content type.
	MimeType string `json:"mime_type"`
	// URL is the S3 URL of the image (if push_to_s3=true and the upload succeeded).
	URL string `json:"url,omitempty"`
}

// CreateVideoResponse is the HTTP response after creating a video job.
type CreateVideoResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
	// Progress is the initial progress message.
	Progress string `json:"progress"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Operation is the backend operation handle, once submitted.
	Operation string `json:"operation,omitempty"`
	// Progress is the latest progress message.
	Progress string `json:"progress"`
	// Error contains the user-facing error message if the job failed.
	Error string `json:"error,omitempty"`
	// ErrorCode is the failure kind if the job failed.
	ErrorCode string `json:"error_code,omitempty"`
	// VideoURL is the S3 URL of the output video (if push_to_s3=true and completed).
	VideoURL string `json:"video_url,omitempty"`
	// MimeType is the video content type when completed.
	MimeType string `json:"mime_type,omitempty"`
	// Size is the video size in bytes when completed.
	Size int64 `json:"size,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// JobsResponse lists the tracked video jobs, newest first.
type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// EventsResponse lists the progress events of a job.
type EventsResponse struct {
	Events []job.Event `json:"events"`
	// Next is the sequence number to pass as since on the next call.
	Next int64 `json:"next"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Operation: j.Operation,
		Progress:  j.Progress,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Error != nil {
		resp.Error = j.Error.Message
		resp.ErrorCode = string(j.Error.Kind)
	}
	if j.Result != nil {
		resp.VideoURL = j.Result.URL
		resp.MimeType = j.Result.MimeType
		resp.Size = j.Result.Size
	}
	return resp
}
