package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/genstudio-api/internal/generator"
	"github.com/maauso/genstudio-api/internal/storage"
)

// DefaultPollInterval is the wait before each status check.
const DefaultPollInterval = 10 * time.Second

const defaultVideoMimeType = "video/mp4"

// Input describes one image-to-video generation.
type Input struct {
	// Prompt may be empty; the backend then applies its default framing.
	Prompt string
	// Image is the source frame. Required.
	Image *generator.Image
	// AspectRatio is "16:9" or "9:16".
	AspectRatio string
}

// Artifact is the materialized result of a successful generation.
type Artifact struct {
	// Operation is the backend handle the artifact was produced by.
	Operation string
	// SourceURI is the backend URI the video was downloaded from.
	SourceURI string
	// Path is the local file holding the video.
	Path string
	// MimeType is the content type of the video.
	MimeType string
	// Size is the number of bytes written.
	Size int64
}

// Recorder receives poller and job outcomes for metrics.
type Recorder interface {
	// PollObserved is called after every status check with "running",
	// "done" or "error".
	PollObserved(outcome string)
	// JobFinished is called once per job with "done" or the failure kind.
	JobFinished(outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) PollObserved(string)               {}
func (nopRecorder) JobFinished(string, time.Duration) {}

// Poller drives one generation from submission to a local artifact.
// It holds no state between invocations.
type Poller struct {
	generator generator.VideoGenerator
	storage   storage.Storage
	interval  time.Duration
	maxWait   time.Duration
	logger    *slog.Logger
	recorder  Recorder
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval sets the fixed wait before each status check.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxWait bounds the total polling time. Zero means no bound.
func WithMaxWait(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d >= 0 {
			p.maxWait = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) PollerOption {
	return func(p *Poller) {
		if r != nil {
			p.recorder = r
		}
	}
}

// NewPoller creates a new Poller.
func NewPoller(gen generator.VideoGenerator, store storage.Storage, opts ...PollerOption) *Poller {
	p := &Poller{
		generator: gen,
		storage:   store,
		interval:  DefaultPollInterval,
		logger:    slog.Default(),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run submits the generation, polls until the backend reports completion,
// downloads the video and stores it locally.
//
// Progress events are sent on events, which may be nil. Sends block, so the
// caller must keep receiving until Run returns. Failures are returned as
// *Error; ErrImageRequired is returned as is, before any network call.
func (p *Poller) Run(ctx context.Context, in Input, events chan<- Event) (*Artifact, error) {
	if in.Image == nil || len(in.Image.Data) == 0 {
		return nil, ErrImageRequired
	}

	if err := ctx.Err(); err != nil {
		return nil, p.fail(events, "", newError(KindCancelled, err))
	}

	operation, err := p.generator.Submit(ctx, *in.Image, generator.VideoOptions{
		Prompt:      in.Prompt,
		AspectRatio: in.AspectRatio,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, p.fail(events, "", newError(KindCancelled, ctx.Err()))
		}
		return nil, p.fail(events, "", newError(KindSubmissionFailed, err))
	}

	log := p.logger.With(slog.String("operation", operation))
	log.Info("video generation submitted", slog.String("aspect_ratio", in.AspectRatio))
	emit(events, Event{Type: EventTypeSubmitted, Message: MsgSubmitted, Operation: operation})

	result, jerr := p.await(ctx, operation, events, log)
	if jerr != nil {
		return nil, p.fail(events, operation, jerr)
	}

	emit(events, Event{Type: EventTypeFetching, Message: MsgFetching, Operation: operation})

	if result.Failed {
		return nil, p.fail(events, operation, newError(KindGenerationFailed, errors.New(result.Error)))
	}
	if result.VideoURI == "" {
		return nil, p.fail(events, operation, newError(KindMissingResult, nil))
	}

	artifact, jerr := p.fetch(ctx, operation, result.VideoURI)
	if jerr != nil {
		return nil, p.fail(events, operation, jerr)
	}

	log.Info("video materialized",
		slog.String("path", artifact.Path),
		slog.Int64("size", artifact.Size),
	)
	emit(events, Event{Type: EventTypeDone, Message: MsgReady, Operation: operation})

	return artifact, nil
}

// await waits one interval before every status check until the operation is
// done. Any check error ends the loop.
func (p *Poller) await(ctx context.Context, operation string, events chan<- Event, log *slog.Logger) (generator.PollResult, *Error) {
	start := time.Now()
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return generator.PollResult{}, newError(KindCancelled, ctx.Err())
		case <-timer.C:
		}

		if p.maxWait > 0 && time.Since(start) >= p.maxWait {
			return generator.PollResult{}, newError(KindTimeout,
				fmt.Errorf("no result after %s", p.maxWait))
		}

		result, err := p.generator.Poll(ctx, operation)
		if err != nil {
			p.recorder.PollObserved("error")
			switch {
			case ctx.Err() != nil:
				return generator.PollResult{}, newError(KindCancelled, ctx.Err())
			case errors.Is(err, generator.ErrEntityNotFound), errors.Is(err, generator.ErrNoCredential):
				return generator.PollResult{}, newError(KindInvalidCredential, err)
			default:
				return generator.PollResult{}, newError(KindPollFailed, err)
			}
		}

		if result.Status.IsTerminal() {
			p.recorder.PollObserved("done")
			log.Debug("operation done", slog.Int("attempts", attempt))
			return result, nil
		}

		p.recorder.PollObserved("running")
		log.Debug("operation still running", slog.Int("attempt", attempt))
		emit(events, Event{Type: EventTypeRunning, Message: MsgStillGoing, Operation: operation})
		timer.Reset(p.interval)
	}
}

// fetch downloads the artifact fully before writing it, so a failed transfer
// never leaves a partial file behind.
func (p *Poller) fetch(ctx context.Context, operation, uri string) (*Artifact, *Error) {
	data, contentType, err := p.generator.Download(ctx, uri)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindCancelled, ctx.Err())
		}
		return nil, newError(KindDownloadFailed, err)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = defaultVideoMimeType
	}

	path, err := p.storage.Put(ctx, "video.mp4", bytes.NewReader(data))
	if err != nil {
		return nil, newError(KindDownloadFailed, fmt.Errorf("store video: %w", err))
	}

	return &Artifact{
		Operation: operation,
		SourceURI: uri,
		Path:      path,
		MimeType:  contentType,
		Size:      int64(len(data)),
	}, nil
}

// fail reports e on events and returns it.
func (p *Poller) fail(events chan<- Event, operation string, e *Error) error {
	p.logger.Warn("video generation failed",
		slog.String("operation", operation),
		slog.String("kind", string(e.Kind)),
		slog.String("error", e.Error()),
	)
	emit(events, Event{Type: EventTypeFailed, Message: e.Message, Operation: operation, Kind: e.Kind})
	return e
}

func emit(events chan<- Event, e Event) {
	if events == nil {
		return
	}
	events <- e
}
