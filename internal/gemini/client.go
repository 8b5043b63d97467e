package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/maauso/genstudio-api/internal/credential"
)

// DefaultBaseURL is the public Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultMaxDownloadBytes bounds a downloaded artifact.
const DefaultMaxDownloadBytes int64 = 512 << 20

// entityNotFoundMessage is what the API answers when an operation or the
// credential it was created with no longer resolves.
const entityNotFoundMessage = "Requested entity was not found."

// Static errors for Gemini client operations.
var (
	// ErrAPIKeyNotSet is returned when no key source is configured.
	ErrAPIKeyNotSet = errors.New("gemini: API key is not set")
	// ErrModelRequired is returned when a call is made without a model.
	ErrModelRequired = errors.New("gemini: model is required")
	// ErrOperationNameRequired is returned when polling without an operation name.
	ErrOperationNameRequired = errors.New("gemini: operation name is required")
	// ErrNoOperationReturned is returned when a long-running submit returns no operation name.
	ErrNoOperationReturned = errors.New("gemini: submit failed: no operation returned")
	// ErrEntityNotFound is returned when the API reports the requested entity does not exist.
	ErrEntityNotFound = errors.New("gemini: requested entity was not found")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("gemini: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("gemini: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("gemini: request failed")
	// ErrDownloadFailed is returned when an artifact download does not succeed.
	ErrDownloadFailed = errors.New("gemini: download failed")
	// ErrArtifactURIRequired is returned when downloading without a URI.
	ErrArtifactURIRequired = errors.New("gemini: artifact URI is required")
	// ErrArtifactTooLarge is returned when an artifact exceeds the download limit.
	ErrArtifactTooLarge = errors.New("gemini: artifact exceeds the download limit")
)

// KeySource supplies the API key for each outbound call that does not
// carry a key pinned with credential.WithKey.
type KeySource interface {
	Key() (string, error)
}

type staticKey string

func (k staticKey) Key() (string, error) {
	if k == "" {
		return "", ErrAPIKeyNotSet
	}
	return string(k), nil
}

// Client defines the interface for interacting with the Gemini API.
type Client interface {
	// GenerateContent runs a single-turn multimodal generation.
	GenerateContent(ctx context.Context, model string, req ContentRequest) (ContentResponse, error)

	// GenerateImages runs an Imagen prediction and returns the produced images.
	GenerateImages(ctx context.Context, model string, req ImageRequest) ([]Blob, error)

	// GenerateVideos starts a long-running video generation.
	GenerateVideos(ctx context.Context, model string, req VideoRequest) (Operation, error)

	// GetOperation fetches the current state of a long-running operation.
	GetOperation(ctx context.Context, name string) (Operation, error)

	// Download fetches a generated artifact, appending the API key to the URI.
	Download(ctx context.Context, uri string) (data []byte, contentType string, err error)
}

// HTTPClient is the HTTP implementation of the Gemini Client interface.
type HTTPClient struct {
	keys        KeySource
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	maxDownload int64
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets a fixed API key.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.keys = staticKey(strings.TrimSpace(key))
	}
}

// WithKeySource reads the API key from src on every call, so a key
// selected after construction is picked up immediately. A key pinned on the
// call context takes precedence.
func WithKeySource(src KeySource) ClientOption {
	return func(hc *HTTPClient) {
		hc.keys = src
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Gemini API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures
// of synchronous calls.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithMaxDownloadBytes bounds the size of a downloaded artifact. Values
// below one keep the default.
func WithMaxDownloadBytes(n int64) ClientOption {
	return func(hc *HTTPClient) {
		if n > 0 {
			hc.maxDownload = n
		}
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new Gemini HTTP client.
// The key can be set with WithAPIKey or WithKeySource. If neither is
// provided, it is read from the GEMINI_API_KEY environment variable.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		maxRetries:  2,
		baseBackoff: 1 * time.Second,
		maxDownload: DefaultMaxDownloadBytes,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.keys == nil {
		key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		if key == "" {
			return nil, ErrAPIKeyNotSet
		}
		c.keys = staticKey(key)
	}

	return c, nil
}

// GenerateContent runs a single-turn multimodal generation.
func (c *HTTPClient) GenerateContent(ctx context.Context, model string, req ContentRequest) (ContentResponse, error) {
	if model == "" {
		return ContentResponse{}, ErrModelRequired
	}

	content := wireContent{Role: "user", Parts: make([]wirePart, 0, len(req.Parts))}
	for _, p := range req.Parts {
		wp := wirePart{Text: p.Text}
		if p.InlineData != nil {
			wp.InlineData = &wireBlob{
				MimeType: p.InlineData.MimeType,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
			}
		}
		content.Parts = append(content.Parts, wp)
	}

	body := generateContentRequest{Contents: []wireContent{content}}
	if len(req.ResponseModalities) > 0 {
		body.GenerationConfig = &wireGenerationConfig{ResponseModalities: req.ResponseModalities}
	}

	var resp generateContentResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.modelURL(model, "generateContent"), body, &resp); err != nil {
		return ContentResponse{}, err
	}

	if len(resp.Candidates) == 0 {
		return ContentResponse{}, nil
	}

	out := ContentResponse{}
	for _, wp := range resp.Candidates[0].Content.Parts {
		p := Part{Text: wp.Text}
		if wp.InlineData != nil && wp.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(wp.InlineData.Data)
			if err != nil {
				return ContentResponse{}, fmt.Errorf("gemini: decode inline data: %w", err)
			}
			p.InlineData = &Blob{MimeType: wp.InlineData.MimeType, Data: data}
		}
		out.Parts = append(out.Parts, p)
	}
	return out, nil
}

// GenerateImages runs an Imagen prediction and returns the produced images.
func (c *HTTPClient) GenerateImages(ctx context.Context, model string, req ImageRequest) ([]Blob, error) {
	if model == "" {
		return nil, ErrModelRequired
	}

	body := predictImagesRequest{
		Instances: []imageInstance{{Prompt: req.Prompt}},
		Parameters: imageParameters{
			SampleCount:    req.NumberOfImages,
			AspectRatio:    req.AspectRatio,
			OutputMimeType: req.OutputMimeType,
		},
	}

	var resp predictImagesResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.modelURL(model, "predict"), body, &resp); err != nil {
		return nil, err
	}

	images := make([]Blob, 0, len(resp.Predictions))
	for _, pred := range resp.Predictions {
		if pred.BytesBase64Encoded == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(pred.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("gemini: decode image: %w", err)
		}
		mime := pred.MimeType
		if mime == "" {
			mime = req.OutputMimeType
		}
		images = append(images, Blob{MimeType: mime, Data: data})
	}
	return images, nil
}

// GenerateVideos starts a long-running video generation. It is not retried:
// a failed submission is reported to the caller as is.
func (c *HTTPClient) GenerateVideos(ctx context.Context, model string, req VideoRequest) (Operation, error) {
	if model == "" {
		return Operation{}, ErrModelRequired
	}

	instance := videoInstance{Prompt: req.Prompt}
	if req.Image != nil {
		instance.Image = &videoImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Image.Data),
			MimeType:           req.Image.MimeType,
		}
	}

	body := predictVideosRequest{
		Instances: []videoInstance{instance},
		Parameters: videoParameters{
			AspectRatio: req.AspectRatio,
			Resolution:  req.Resolution,
			SampleCount: req.NumberOfVideos,
		},
	}

	var resp operationResponse
	if err := c.doRequest(ctx, http.MethodPost, c.modelURL(model, "predictLongRunning"), body, &resp); err != nil {
		return Operation{}, err
	}

	if resp.Name == "" {
		return Operation{}, ErrNoOperationReturned
	}

	return resp.toOperation(), nil
}

// GetOperation fetches the current state of a long-running operation.
// It is a single attempt; callers decide whether to poll again.
func (c *HTTPClient) GetOperation(ctx context.Context, name string) (Operation, error) {
	if name == "" {
		return Operation{}, ErrOperationNameRequired
	}

	u := c.baseURL + "/" + strings.TrimLeft(name, "/")

	var resp operationResponse
	if err := c.doRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return Operation{}, err
	}

	op := resp.toOperation()
	if op.Name == "" {
		op.Name = name
	}
	return op, nil
}

// Download fetches a generated artifact. The API key is appended to the URI
// as the "key" query parameter. The body is read completely before it is
// returned, so a failed transfer never yields partial data. Artifacts larger
// than the download limit fail with ErrArtifactTooLarge.
func (c *HTTPClient) Download(ctx context.Context, uri string) ([]byte, string, error) {
	if uri == "" {
		return nil, "", ErrArtifactURIRequired
	}

	key, err := c.key(ctx)
	if err != nil {
		return nil, "", err
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: parse artifact URI: %w", err)
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w with status %d", ErrDownloadFailed, resp.StatusCode)
	}

	if resp.ContentLength > c.maxDownload {
		return nil, "", fmt.Errorf("%w: %d bytes announced, limit is %d", ErrArtifactTooLarge, resp.ContentLength, c.maxDownload)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(data)) > c.maxDownload {
		return nil, "", fmt.Errorf("%w: limit is %d bytes", ErrArtifactTooLarge, c.maxDownload)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// key returns the key pinned on ctx, or the current key of the source.
func (c *HTTPClient) key(ctx context.Context) (string, error) {
	if key, ok := credential.KeyFrom(ctx); ok {
		return key, nil
	}
	return c.keys.Key()
}

func (c *HTTPClient) modelURL(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", c.baseURL, url.PathEscape(model), method)
}

func (r operationResponse) toOperation() Operation {
	op := Operation{Name: r.Name, Done: r.Done}
	if r.Error != nil {
		op.Error = &OperationError{Code: r.Error.Code, Message: r.Error.Message}
	}
	if r.Response != nil {
		for _, s := range r.Response.GenerateVideoResponse.GeneratedSamples {
			if s.Video.URI != "" {
				op.VideoURIs = append(op.VideoURIs, s.Video.URI)
			}
		}
	}
	return op
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, endpoint string, body any, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("gemini: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, endpoint, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("gemini: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, endpoint string, body any, result any) error {
	key, err := c.key(ctx)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gemini: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("gemini: create request: %w", err)
	}

	req.Header.Set("x-goog-api-key", key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("gemini: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("gemini: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("gemini: unmarshal response: %w", err)
		}
	}

	return nil
}

// classifyError maps a non-2xx response to a sentinel error.
func classifyError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	switch {
	case status == http.StatusNotFound || strings.Contains(msg, entityNotFoundMessage):
		return fmt.Errorf("%w: %s", ErrEntityNotFound, msg)
	case status >= 500:
		return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, status, msg)}
	case status == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
	default:
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, status, msg)
	}
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
