package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maauso/genstudio-api/internal/credential"
	"github.com/maauso/genstudio-api/internal/generator"
	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/media"
	"github.com/maauso/genstudio-api/internal/metrics"
	"github.com/maauso/genstudio-api/internal/storage"
	"github.com/maauso/genstudio-api/internal/studio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockBackend implements the synchronous generator ports for testing.
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Analyze(ctx context.Context, prompt string, img generator.Image) (string, error) {
	args := m.Called(ctx, prompt, img)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) GenerateImage(ctx context.Context, prompt, aspectRatio string) (generator.Image, error) {
	args := m.Called(ctx, prompt, aspectRatio)
	return args.Get(0).(generator.Image), args.Error(1)
}

func (m *mockBackend) EditImage(ctx context.Context, prompt string, img generator.Image) (generator.Image, error) {
	args := m.Called(ctx, prompt, img)
	return args.Get(0).(generator.Image), args.Error(1)
}

// fakeVideo is a video backend that finishes after a number of running polls.
// A negative runningPolls never finishes.
type fakeVideo struct {
	mu           sync.Mutex
	runningPolls int
	polls        int
	data         []byte
}

func (f *fakeVideo) Submit(context.Context, generator.Image, generator.VideoOptions) (string, error) {
	return "operations/op-1", nil
}

func (f *fakeVideo) Poll(context.Context, string) (generator.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.runningPolls < 0 || f.polls <= f.runningPolls {
		return generator.PollResult{Status: generator.StatusRunning}, nil
	}
	return generator.PollResult{Status: generator.StatusDone, VideoURI: "https://example.com/video.mp4"}, nil
}

func (f *fakeVideo) Download(context.Context, string) ([]byte, string, error) {
	return f.data, "video/mp4", nil
}

type testFixture struct {
	h       *Handlers
	backend *mockBackend
	video   *fakeVideo
	gate    *credential.Gate
	repo    *job.MemoryRepository
	svc     *job.AnimateService
	logger  *slog.Logger
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)

	f := &testFixture{
		backend: &mockBackend{},
		video:   &fakeVideo{runningPolls: 1, data: []byte("video-bytes")},
		gate:    credential.NewGate("test-key"),
		repo:    job.NewMemoryRepository(),
		logger:  logger,
	}
	poller := job.NewPoller(f.video, store, job.WithPollInterval(10*time.Millisecond), job.WithLogger(logger))
	f.svc = job.NewAnimateService(poller, f.repo, f.gate, store, job.WithServiceLogger(logger))
	studioSvc := studio.NewService(f.backend, f.backend, store, logger)
	f.h = NewHandlers(f.svc, studioSvc, f.gate, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.svc.Shutdown(ctx)
	})
	return f
}

func (f *testFixture) router(cfg Config) http.Handler {
	return NewRouter(context.Background(), f.h, f.logger, cfg)
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	f := newTestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	f.h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestServices(t *testing.T) {
	f := newTestFixture(t)

	rec := httptest.NewRecorder()
	f.h.Services(rec, httptest.NewRequest(http.MethodGet, "/services", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ServicesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Services, 4)
	assert.Equal(t, studio.ServiceAnimate, resp.Services[3].ID)
}

func TestCredential_Lifecycle(t *testing.T) {
	f := newTestFixture(t)
	f.gate.Reset()
	router := f.router(DefaultConfig())

	selected := func() bool {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/credential", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp CredentialStatusResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return resp.Selected
	}

	assert.False(t, selected())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/credential", jsonBody(t, CredentialRequest{APIKey: "k-123"})))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, selected())

	key, err := f.gate.Key()
	require.NoError(t, err)
	assert.Equal(t, "k-123", key)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/credential", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, selected())
}

func TestPutCredential_Blank(t *testing.T) {
	f := newTestFixture(t)

	for _, key := range []string{"", "   "} {
		rec := httptest.NewRecorder()
		f.h.PutCredential(rec, httptest.NewRequest(http.MethodPut, "/credential", jsonBody(t, CredentialRequest{APIKey: key})))

		assert.Equal(t, http.StatusBadRequest, rec.Code, "key %q", key)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
	}
	assert.True(t, f.gate.Check())
}

func TestAnalyze_Success(t *testing.T) {
	f := newTestFixture(t)
	f.backend.On("Analyze", mock.Anything, "What is in this image?", mock.MatchedBy(func(img generator.Image) bool {
		return img.MimeType == "image/png" && len(img.Data) > 0
	})).Return("An empty square.", nil)

	req := httptest.NewRequest(http.MethodPost, "/analyze", jsonBody(t, AnalyzeRequest{
		Prompt:      "What is in this image?",
		ImageBase64: pngBase64(t),
		MimeType:    "image/jpeg",
	}))
	rec := httptest.NewRecorder()

	f.h.Analyze(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp TextResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "An empty square.", resp.Text)
	f.backend.AssertExpectations(t)
}

func TestAnalyze_InvalidJSON(t *testing.T) {
	f := newTestFixture(t)

	rec := httptest.NewRecorder()
	f.h.Analyze(rec, httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader([]byte("invalid json"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
}

func TestAnalyze_ValidationError_MissingFields(t *testing.T) {
	f := newTestFixture(t)

	rec := httptest.NewRecorder()
	f.h.Analyze(rec, httptest.NewRequest(http.MethodPost, "/analyze", jsonBody(t, AnalyzeRequest{Prompt: "x"})))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
}

func TestAnalyze_InvalidImage(t *testing.T) {
	f := newTestFixture(t)

	rec := httptest.NewRecorder()
	f.h.Analyze(rec, httptest.NewRequest(http.MethodPost, "/analyze", jsonBody(t, AnalyzeRequest{
		Prompt:      "x",
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("plain text, not an image")),
	})))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_IMAGE", decodeError(t, rec).Code)
	f.backend.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyze_BodyTooLarge(t *testing.T) {
	f := newTestFixture(t)
	f.h.decoder = media.NewDecoder(1024)

	oversized := strings.Repeat("A", int(f.h.maxBodyBytes())+1)
	rec := httptest.NewRecorder()
	f.h.Analyze(rec, httptest.NewRequest(http.MethodPost, "/analyze", jsonBody(t, AnalyzeRequest{
		Prompt:      "x",
		ImageBase64: oversized,
	})))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "IMAGE_TOO_LARGE", decodeError(t, rec).Code)
	f.backend.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyze_CredentialRequired(t *testing.T) {
	f := newTestFixture(t)
	f.gate.Reset()

	rec := httptest.NewRecorder()
	f.h.Analyze(rec, httptest.NewRequest(http.MethodPost, "/analyze", jsonBody(t, AnalyzeRequest{
		Prompt:      "x",
		ImageBase64: pngBase64(t),
	})))

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "CREDENTIAL_REQUIRED", decodeError(t, rec).Code)
}

func TestGenerateImage_Success(t *testing.T) {
	f := newTestFixture(t)
	out := generator.Image{MimeType: "image/jpeg", Data: []byte("jpeg-bytes")}
	f.backend.On("GenerateImage", mock.Anything, "a lighthouse at dusk", "16:9").Return(out, nil)

	rec := httptest.NewRecorder()
	f.h.GenerateImage(rec, httptest.NewRequest(http.MethodPost, "/images", jsonBody(t, GenerateImageRequest{
		Prompt:      "a lighthouse at dusk",
		AspectRatio: "16:9",
	})))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ImageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "image/jpeg", resp.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), resp.ImageBase64)
	assert.Empty(t, resp.URL)
}

func TestGenerateImage_ValidationError_AspectRatio(t *testing.T) {
	f := newTestFixture(t)

	rec := httptest.NewRecorder()
	f.h.GenerateImage(rec, httptest.NewRequest(http.MethodPost, "/images", jsonBody(t, GenerateImageRequest{
		Prompt:      "x",
		AspectRatio: "2:1",
	})))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
}

func TestGenerateImage_NoImageGenerated(t *testing.T) {
	f := newTestFixture(t)
	f.backend.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything).
		Return(generator.Image{}, generator.ErrNoImageGenerated)

	rec := httptest.NewRecorder()
	f.h.GenerateImage(rec, httptest.NewRequest(http.MethodPost, "/images", jsonBody(t, GenerateImageRequest{
		Prompt:      "x",
		AspectRatio: "1:1",
	})))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "NO_IMAGE_GENERATED", decodeError(t, rec).Code)
}

func TestEditImage_Success(t *testing.T) {
	f := newTestFixture(t)
	edited := generator.Image{MimeType: "image/png", Data: []byte("edited")}
	f.backend.On("EditImage", mock.Anything, "add a retro filter", mock.Anything).Return(edited, nil)

	rec := httptest.NewRecorder()
	f.h.EditImage(rec, httptest.NewRequest(http.MethodPost, "/images/edit", jsonBody(t, EditImageRequest{
		Prompt:      "add a retro filter",
		ImageBase64: "data:image/png;base64," + pngBase64(t),
	})))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ImageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "image/png", resp.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("edited")), resp.ImageBase64)
}

func TestEditImage_NoImageInResponse(t *testing.T) {
	f := newTestFixture(t)
	f.backend.On("EditImage", mock.Anything, mock.Anything, mock.Anything).
		Return(generator.Image{}, generator.ErrNoImageInResponse)

	rec := httptest.NewRecorder()
	f.h.EditImage(rec, httptest.NewRequest(http.MethodPost, "/images/edit", jsonBody(t, EditImageRequest{
		Prompt:      "remove the tree",
		ImageBase64: pngBase64(t),
	})))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "NO_IMAGE_IN_RESPONSE", resp.Code)
	assert.Equal(t, "No edited image found in response.", resp.Error)
}

func TestEditImage_InvalidCredential(t *testing.T) {
	f := newTestFixture(t)
	f.backend.On("EditImage", mock.Anything, mock.Anything, mock.Anything).
		Return(generator.Image{}, generator.ErrEntityNotFound)

	rec := httptest.NewRecorder()
	f.h.EditImage(rec, httptest.NewRequest(http.MethodPost, "/images/edit", jsonBody(t, EditImageRequest{
		Prompt:      "x",
		ImageBase64: pngBase64(t),
	})))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIAL", decodeError(t, rec).Code)
}

func TestCreateVideo_Lifecycle(t *testing.T) {
	f := newTestFixture(t)
	router := f.router(DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/videos", jsonBody(t, CreateVideoRequest{
		Prompt:      "The camera slowly zooms out.",
		ImageBase64: pngBase64(t),
		AspectRatio: "9:16",
	}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var created CreateVideoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, string(job.StatusPending), created.Status)
	assert.Equal(t, job.MsgStarting, created.Progress)

	f.svc.Wait()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, string(job.StatusDone), got.Status)
	assert.Equal(t, "operations/op-1", got.Operation)
	assert.Equal(t, job.MsgReady, got.Progress)
	assert.Equal(t, "video/mp4", got.MimeType)
	assert.Equal(t, int64(len("video-bytes")), got.Size)
	assert.Empty(t, got.ErrorCode)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID+"/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var events EventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&events))
	types := make([]job.EventType, 0, len(events.Events))
	for _, e := range events.Events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []job.EventType{
		job.EventTypeStarting,
		job.EventTypeSubmitted,
		job.EventTypeRunning,
		job.EventTypeFetching,
		job.EventTypeDone,
	}, types)
	assert.Equal(t, events.Events[len(events.Events)-1].Seq, events.Next)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID+"/events?since="+
		strconv.FormatInt(events.Events[2].Seq, 10), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var later EventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&later))
	assert.Len(t, later.Events, 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID+"/video", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "video-bytes", rec.Body.String())
}

func TestCreateVideo_CredentialRequired(t *testing.T) {
	f := newTestFixture(t)
	f.gate.Reset()

	rec := httptest.NewRecorder()
	f.h.CreateVideo(rec, httptest.NewRequest(http.MethodPost, "/videos", jsonBody(t, CreateVideoRequest{
		ImageBase64: pngBase64(t),
		AspectRatio: "16:9",
	})))

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "CREDENTIAL_REQUIRED", decodeError(t, rec).Code)

	jobs, err := f.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateVideo_ValidationError(t *testing.T) {
	f := newTestFixture(t)

	tests := []struct {
		name string
		body CreateVideoRequest
	}{
		{name: "missing image", body: CreateVideoRequest{AspectRatio: "16:9"}},
		{name: "missing aspect ratio", body: CreateVideoRequest{ImageBase64: pngBase64(t)}},
		{name: "square aspect ratio", body: CreateVideoRequest{ImageBase64: pngBase64(t), AspectRatio: "1:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.h.CreateVideo(rec, httptest.NewRequest(http.MethodPost, "/videos", jsonBody(t, tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
		})
	}
}

func TestListJobs(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	older := job.NewWithID("job-older")
	older.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, f.repo.Save(ctx, older))
	require.NoError(t, f.repo.Save(ctx, job.NewWithID("job-newer")))

	rec := httptest.NewRecorder()
	f.h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp JobsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, "job-newer", resp.Jobs[0].ID)
	assert.Equal(t, "job-older", resp.Jobs[1].ID)
	assert.Equal(t, string(job.StatusPending), resp.Jobs[1].Status)
}

func TestGetJob_NotFound(t *testing.T) {
	f := newTestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/nonexistent", nil)
	req.SetPathValue("id", "nonexistent")
	rec := httptest.NewRecorder()

	f.h.GetJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
}

func TestGetJob_MissingID(t *testing.T) {
	f := newTestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	// Don't set path value to simulate missing ID
	rec := httptest.NewRecorder()

	f.h.GetJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decodeError(t, rec).Code)
}

func TestGetJob_Failed(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	failed := job.New()
	require.NoError(t, failed.Fail(job.KindInvalidCredential, "Your API key is invalid. Please select a valid key."))
	require.NoError(t, f.repo.Save(ctx, failed))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+failed.ID, nil)
	req.SetPathValue("id", failed.ID)
	rec := httptest.NewRecorder()

	f.h.GetJob(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "FAILED", resp.Status)
	assert.Equal(t, "INVALID_CREDENTIAL", resp.ErrorCode)
	assert.Equal(t, "Your API key is invalid. Please select a valid key.", resp.Error)
}

func TestGetJobEvents_InvalidSince(t *testing.T) {
	f := newTestFixture(t)

	for _, since := range []string{"abc", "-1"} {
		req := httptest.NewRequest(http.MethodGet, "/jobs/x/events?since="+since, nil)
		req.SetPathValue("id", "x")
		rec := httptest.NewRecorder()

		f.h.GetJobEvents(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_SINCE", decodeError(t, rec).Code)
	}
}

func TestGetJobVideo_NotReady(t *testing.T) {
	f := newTestFixture(t)
	pending := job.New()
	require.NoError(t, f.repo.Save(context.Background(), pending))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+pending.ID+"/video", nil)
	req.SetPathValue("id", pending.ID)
	rec := httptest.NewRecorder()

	f.h.GetJobVideo(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "VIDEO_NOT_READY", decodeError(t, rec).Code)
}

func TestCancelJob(t *testing.T) {
	f := newTestFixture(t)
	f.video.runningPolls = -1
	router := f.router(DefaultConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/videos", jsonBody(t, CreateVideoRequest{
		ImageBase64: pngBase64(t),
		AspectRatio: "16:9",
	})))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created CreateVideoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/jobs/"+created.ID, nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	f.svc.Wait()

	got, err := f.repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, job.KindCancelled, got.Error.Kind)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/jobs/"+created.ID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_NOT_RUNNING", decodeError(t, rec).Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/jobs/nonexistent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Integration(t *testing.T) {
	f := newTestFixture(t)
	router := f.router(DefaultConfig())

	for _, path := range []string{"/health", "/services", "/credential"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	f := newTestFixture(t)
	cfg := DefaultConfig()
	cfg.Metrics = metrics.NewCollector("test")
	router := f.router(cfg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="GET",path="GET /health",status="200"} 1`)
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newTestFixture(t)
	f.gate.Reset()
	router := f.router(Config{AllowedOrigins: []string{"*"}, RateLimitRPS: 0.001, RateLimitBurst: 1})

	post := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/images", jsonBody(t, GenerateImageRequest{Prompt: "x", AspectRatio: "1:1"}))
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusPreconditionFailed, post("10.0.0.1:1234").Code)

	rec := post("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).Code)

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusPreconditionFailed, post("10.0.0.2:1234").Code)

	// Read endpoints are not limited.
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	f := newTestFixture(t)
	router := f.router(Config{AllowedOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/videos", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	var seen string
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/job-x", nil))

	id := rec.Header().Get("X-Request-ID")
	require.NoError(t, uuid.Validate(id))
	assert.Equal(t, id, seen)

	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, id, line["request_id"])
	assert.EqualValues(t, http.StatusNotFound, line["status"])
	assert.EqualValues(t, rec.Body.Len(), line["bytes"])

	// A valid client ID is kept, anything else is replaced.
	const clientID = "6f1d2a3b-4c5d-4e6f-8a9b-0c1d2e3f4a5b"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", clientID)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, clientID, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)

	abort := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		abort.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
