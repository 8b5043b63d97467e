package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/genstudio-api/internal/credential"
	"github.com/maauso/genstudio-api/internal/gemini"
	"github.com/maauso/genstudio-api/internal/generator"
	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/media"
	"github.com/maauso/genstudio-api/internal/studio"
)

// Messages shown for synchronous backend failures.
const (
	msgNoEditedImage     = "No edited image found in response."
	msgNoGeneratedImage  = "No image was generated."
	msgInvalidCredential = "Your API key is invalid. Please select a valid key."
	msgCredentialNeeded  = "An API key must be selected before using this service."
)

// bodySlack is the room left for the prompt and JSON framing around the
// largest accepted base64 image.
const bodySlack = 64 << 10

// GenerationRecorder records synchronous generation calls.
type GenerationRecorder interface {
	RecordGeneration(operation string, err error, duration time.Duration)
}

type nopGenerationRecorder struct{}

func (nopGenerationRecorder) RecordGeneration(string, error, time.Duration) {}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	videos    *job.AnimateService
	studio    *studio.Service
	gate      *credential.Gate
	decoder   *media.Decoder
	recorder  GenerationRecorder
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithGenerationRecorder sets the recorder for synchronous generation calls.
func WithGenerationRecorder(r GenerationRecorder) HandlerOption {
	return func(h *Handlers) {
		if r != nil {
			h.recorder = r
		}
	}
}

// WithDecoder sets the image payload decoder.
func WithDecoder(d *media.Decoder) HandlerOption {
	return func(h *Handlers) {
		if d != nil {
			h.decoder = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(videos *job.AnimateService, studioSvc *studio.Service, gate *credential.Gate, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		videos:    videos,
		studio:    studioSvc,
		gate:      gate,
		decoder:   media.NewDecoder(0),
		recorder:  nopGenerationRecorder{},
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Services handles GET /services requests.
func (h *Handlers) Services(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ServicesResponse{Services: studio.Services()})
}

// GetCredential handles GET /credential requests.
func (h *Handlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CredentialStatusResponse{Selected: h.gate.Check()})
}

// PutCredential handles PUT /credential requests.
func (h *Handlers) PutCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.gate.Select(req.APIKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	h.logger.Info("API key selected")
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredential handles DELETE /credential requests.
func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	h.gate.Reset()
	h.logger.Info("API key cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Analyze handles POST /analyze requests.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !h.decode(w, r, &req) || !h.requireCredential(w) {
		return
	}

	img, ok := h.decodeImage(w, req.ImageBase64, req.MimeType)
	if !ok {
		return
	}

	start := time.Now()
	text, err := h.studio.Analyze(r.Context(), req.Prompt, &img)
	h.recorder.RecordGeneration(string(studio.ServiceAnalyze), err, time.Since(start))
	if err != nil {
		h.writeGenerationError(w, "analyze", err)
		return
	}

	writeJSON(w, http.StatusOK, TextResponse{Text: text})
}

// GenerateImage handles POST /images requests.
func (h *Handlers) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req GenerateImageRequest
	if !h.decode(w, r, &req) || !h.requireCredential(w) {
		return
	}

	start := time.Now()
	res, err := h.studio.GenerateImage(r.Context(), studio.GenerateInput{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		PushToS3:    req.PushToS3,
	})
	h.recorder.RecordGeneration(string(studio.ServiceGenerate), err, time.Since(start))
	if err != nil {
		h.writeGenerationError(w, "generate", err)
		return
	}

	writeJSON(w, http.StatusOK, newImageResponse(res))
}

// EditImage handles POST /images/edit requests.
func (h *Handlers) EditImage(w http.ResponseWriter, r *http.Request) {
	var req EditImageRequest
	if !h.decode(w, r, &req) || !h.requireCredential(w) {
		return
	}

	img, ok := h.decodeImage(w, req.ImageBase64, req.MimeType)
	if !ok {
		return
	}

	start := time.Now()
	res, err := h.studio.EditImage(r.Context(), studio.EditInput{
		Prompt:   req.Prompt,
		Image:    &img,
		PushToS3: req.PushToS3,
	})
	h.recorder.RecordGeneration(string(studio.ServiceEdit), err, time.Since(start))
	if err != nil {
		h.writeGenerationError(w, "edit", err)
		return
	}

	writeJSON(w, http.StatusOK, newImageResponse(res))
}

// CreateVideo handles POST /videos requests.
func (h *Handlers) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req CreateVideoRequest
	if !h.decode(w, r, &req) || !h.requireCredential(w) {
		return
	}

	img, ok := h.decodeImage(w, req.ImageBase64, req.MimeType)
	if !ok {
		return
	}

	created, err := h.videos.Start(r.Context(), job.AnimateInput{
		Prompt:      req.Prompt,
		Image:       &img,
		AspectRatio: req.AspectRatio,
		PushToS3:    req.PushToS3,
	})
	if err != nil {
		switch {
		case errors.Is(err, job.ErrCredentialRequired):
			writeError(w, http.StatusPreconditionFailed, msgCredentialNeeded, "CREDENTIAL_REQUIRED")
		case errors.Is(err, job.ErrImageRequired):
			writeError(w, http.StatusBadRequest, "image is required", "VALIDATION_ERROR")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("aspect_ratio", req.AspectRatio),
	)

	writeJSON(w, http.StatusAccepted, CreateVideoResponse{
		ID:       created.ID,
		Status:   string(created.Status),
		Progress: created.Progress,
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.videos.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := JobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	foundJob, err := h.videos.Get(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(foundJob))
}

// GetJobEvents handles GET /jobs/{id}/events requests. The optional since
// query parameter returns only events published after that sequence number.
func (h *Handlers) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer", "INVALID_SINCE")
			return
		}
		since = v
	}

	events, err := h.videos.Events(r.Context(), jobID, since)
	if err != nil {
		h.writeJobError(w, jobID, err, "failed to get job events", "JOB_FETCH_FAILED")
		return
	}

	next := since
	if n := len(events); n > 0 {
		next = events[n-1].Seq
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Next: next})
}

// GetJobVideo handles GET /jobs/{id}/video requests.
func (h *Handlers) GetJobVideo(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	rc, foundJob, err := h.videos.Video(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotDone) {
			writeError(w, http.StatusConflict, "video is not available", "VIDEO_NOT_READY")
			return
		}
		h.writeJobError(w, jobID, err, "failed to read video", "VIDEO_READ_FAILED")
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", foundJob.Result.MimeType)
	if foundJob.Result.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(foundJob.Result.Size, 10))
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+jobID+`.mp4"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream video",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// CancelJob handles DELETE /jobs/{id} requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	if err := h.videos.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobNotRunning) {
			writeError(w, http.StatusConflict, "job is not running", "JOB_NOT_RUNNING")
			return
		}
		h.writeJobError(w, jobID, err, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}

	h.logger.Info("job cancellation requested", slog.String("job_id", jobID))
	w.WriteHeader(http.StatusAccepted)
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure. Bodies larger than the largest accepted image
// are rejected before they are buffered.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes())
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "IMAGE_TOO_LARGE")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *Handlers) maxBodyBytes() int64 {
	return int64(base64.StdEncoding.EncodedLen(int(h.decoder.MaxBytes()))) + bodySlack
}

func (h *Handlers) requireCredential(w http.ResponseWriter) bool {
	if h.gate.Check() {
		return true
	}
	writeError(w, http.StatusPreconditionFailed, msgCredentialNeeded, "CREDENTIAL_REQUIRED")
	return false
}

func (h *Handlers) decodeImage(w http.ResponseWriter, payload, declared string) (generator.Image, bool) {
	img, err := h.decoder.DecodeImage(payload, declared)
	if err == nil {
		return img, true
	}

	if errors.Is(err, media.ErrImageTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error(), "IMAGE_TOO_LARGE")
	} else {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_IMAGE")
	}
	return generator.Image{}, false
}

func (h *Handlers) writeGenerationError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, studio.ErrPromptRequired),
		errors.Is(err, studio.ErrImageRequired),
		errors.Is(err, studio.ErrUnsupportedAspectRatio):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, credential.ErrNoCredential):
		writeError(w, http.StatusPreconditionFailed, msgCredentialNeeded, "CREDENTIAL_REQUIRED")
	case errors.Is(err, generator.ErrEntityNotFound):
		writeError(w, http.StatusUnauthorized, msgInvalidCredential, "INVALID_CREDENTIAL")
	case errors.Is(err, generator.ErrNoImageInResponse):
		writeError(w, http.StatusBadGateway, msgNoEditedImage, "NO_IMAGE_IN_RESPONSE")
	case errors.Is(err, generator.ErrNoImageGenerated):
		writeError(w, http.StatusBadGateway, msgNoGeneratedImage, "NO_IMAGE_GENERATED")
	case errors.Is(err, gemini.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error(), "UPSTREAM_RATE_LIMITED")
	default:
		h.logger.Error("generation failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, err.Error(), "GENERATION_FAILED")
	}
}

func (h *Handlers) writeJobError(w http.ResponseWriter, jobID string, err error, message, code string) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error(message,
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, message, code)
}

func pathJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	return jobID, true
}

func newImageResponse(res *studio.ImageResult) ImageResponse {
	return ImageResponse{
		ImageBase64: base64.StdEncoding.EncodeToString(res.Image.Data),
		MimeType:    res.Image.MimeType,
		URL:         res.URL,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
