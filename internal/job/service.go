package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/genstudio-api/internal/credential"
	"github.com/maauso/genstudio-api/internal/generator"
	"github.com/maauso/genstudio-api/internal/storage"
)

// CredentialGate supplies the API key a job is submitted with and is reset
// when the backend rejects that key.
type CredentialGate interface {
	Key() (string, error)
	// ResetIf clears the gate only while rejected is still the active key.
	ResetIf(rejected string) bool
}

// AnimateInput contains the input parameters for an animate request.
type AnimateInput struct {
	// Prompt is optional.
	Prompt string
	// Image is the source frame.
	Image *generator.Image
	// AspectRatio is "16:9" or "9:16".
	AspectRatio string
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool
}

// AnimateService orchestrates image-to-video jobs. It tracks every job in
// the repository and publishes its progress on the event bus.
type AnimateService struct {
	poller   *Poller
	repo     Repository
	gate     CredentialGate
	storage  storage.Storage
	bus      *EventBus
	logger   *slog.Logger
	recorder Recorder

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// ServiceOption configures an AnimateService.
type ServiceOption func(*AnimateService)

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *AnimateService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceRecorder sets the metrics recorder.
func WithServiceRecorder(r Recorder) ServiceOption {
	return func(s *AnimateService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithEventBus sets the event bus used to expose progress.
func WithEventBus(b *EventBus) ServiceOption {
	return func(s *AnimateService) {
		if b != nil {
			s.bus = b
		}
	}
}

// NewAnimateService creates a new AnimateService.
func NewAnimateService(poller *Poller, repo Repository, gate CredentialGate, store storage.Storage, opts ...ServiceOption) *AnimateService {
	s := &AnimateService{
		poller:   poller,
		repo:     repo,
		gate:     gate,
		storage:  store,
		bus:      NewEventBus(0),
		logger:   slog.Default(),
		recorder: nopRecorder{},
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a job and runs it in the background. The returned job is
// still pending. The context only scopes job creation; the generation keeps
// running after ctx is cancelled and stops through Cancel.
func (s *AnimateService) Start(ctx context.Context, input AnimateInput) (*Job, error) {
	job, key, err := s.create(ctx, input)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(credential.WithKey(context.WithoutCancel(ctx), key))
	s.track(job.ID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(runCtx, job.ID, input)
	}()

	return job.Clone(), nil
}

// Run creates a job and waits for it to finish. The returned job is in a
// terminal state when err is nil or a *Error.
func (s *AnimateService) Run(ctx context.Context, input AnimateInput) (*Job, error) {
	job, key, err := s.create(ctx, input)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(credential.WithKey(ctx, key))
	s.track(job.ID, cancel)

	return s.execute(runCtx, job.ID, input)
}

// Get retrieves a job by ID.
func (s *AnimateService) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns all tracked jobs, newest first.
func (s *AnimateService) List(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Events returns the progress events of a job published after seq.
func (s *AnimateService) Events(ctx context.Context, id string, since int64) ([]Event, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.bus.Since(id, since), nil
}

// Cancel stops a running job. The job fails with KindCancelled.
func (s *AnimateService) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrJobNotRunning
}

// Video opens the generated video of a done job.
func (s *AnimateService) Video(ctx context.Context, id string) (io.ReadCloser, *Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != StatusDone || job.Result == nil {
		return nil, job, ErrJobNotDone
	}

	rc, err := s.storage.Open(ctx, job.Result.Path)
	if err != nil {
		return nil, job, fmt.Errorf("open video: %w", err)
	}
	return rc, job, nil
}

// Prune removes jobs that reached a terminal state more than maxAge ago,
// together with their local video files. It returns the number of removed
// jobs.
func (s *AnimateService) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := s.repo.DeleteFinishedBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}

	var paths []string
	for _, j := range removed {
		s.bus.Forget(j.ID)
		if j.Result != nil && j.Result.Path != "" {
			paths = append(paths, j.Result.Path)
		}
	}
	if len(paths) > 0 {
		if err := s.storage.Remove(ctx, paths...); err != nil {
			s.logger.Warn("failed to remove video files",
				slog.Int("count", len(paths)),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(removed) > 0 {
		s.logger.Info("pruned finished jobs", slog.Int("count", len(removed)))
	}
	return len(removed), nil
}

// RunJanitor prunes jobs older than maxAge every interval until ctx is done.
func (s *AnimateService) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, maxAge); err != nil && ctx.Err() == nil {
				s.logger.Warn("job pruning failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Wait blocks until all background jobs have finished.
func (s *AnimateService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all running jobs and waits for them to finish.
func (s *AnimateService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// create stores a new job and returns the key it will run with. The key is
// read once so that every call of the job uses the same credential.
func (s *AnimateService) create(ctx context.Context, input AnimateInput) (*Job, string, error) {
	key, err := s.gate.Key()
	if err != nil {
		return nil, "", ErrCredentialRequired
	}
	if input.Image == nil || len(input.Image.Data) == 0 {
		return nil, "", ErrImageRequired
	}

	job := New()
	job.Prompt = input.Prompt
	job.AspectRatio = input.AspectRatio
	job.PushToS3 = input.PushToS3
	job.Progress = MsgStarting

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("aspect_ratio", input.AspectRatio),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, "", err
	}

	s.bus.Publish(Event{JobID: job.ID, Type: EventTypeStarting, Message: MsgStarting})
	return job, key, nil
}

func (s *AnimateService) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()
}

func (s *AnimateService) untrack(id string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
}

// execute runs the poller for a tracked job and records the outcome.
func (s *AnimateService) execute(ctx context.Context, jobID string, input AnimateInput) (*Job, error) {
	defer s.untrack(jobID)
	started := time.Now()
	log := s.logger.With(slog.String("job_id", jobID))

	events := make(chan Event, 8)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for e := range events {
			s.record(ctx, jobID, e)
		}
	}()

	artifact, runErr := s.poller.Run(ctx, Input{
		Prompt:      input.Prompt,
		Image:       input.Image,
		AspectRatio: input.AspectRatio,
	}, events)
	close(events)
	<-consumed

	// The outcome is stored even if the job was cancelled.
	storeCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		kind, ok := KindOf(runErr)
		if !ok {
			kind = KindSubmissionFailed
		}
		if kind == KindInvalidCredential {
			s.rejectKey(ctx, log)
		}
		s.recorder.JobFinished(string(kind), time.Since(started))

		if err := s.repo.Update(storeCtx, jobID, func(j *Job) error {
			j.SetProgress(UserMessage(runErr))
			return j.Fail(kind, UserMessage(runErr))
		}); err != nil {
			log.Error("failed to record job failure", slog.String("error", err.Error()))
		}
		job, err := s.repo.FindByID(storeCtx, jobID)
		if err != nil {
			log.Error("failed to load failed job", slog.String("error", err.Error()))
		}
		return job, runErr
	}

	result := Result{
		Path:      artifact.Path,
		MimeType:  artifact.MimeType,
		Size:      artifact.Size,
		SourceURI: artifact.SourceURI,
	}
	if err := s.repo.Update(storeCtx, jobID, func(j *Job) error {
		return j.Complete(result)
	}); err != nil {
		log.Error("failed to record job result", slog.String("error", err.Error()))
		return nil, err
	}
	s.recorder.JobFinished("done", time.Since(started))

	if input.PushToS3 {
		s.push(storeCtx, jobID, artifact, log)
	}

	log.Info("job completed", slog.Duration("duration", time.Since(started)))
	return s.repo.FindByID(storeCtx, jobID)
}

// rejectKey resets the gate when the key the job ran with is still the
// selected one. A key selected in the meantime is left alone.
func (s *AnimateService) rejectKey(ctx context.Context, log *slog.Logger) {
	key, _ := credential.KeyFrom(ctx)
	if s.gate.ResetIf(key) {
		log.Warn("credential rejected by backend, resetting gate")
		return
	}
	log.Warn("credential rejected by backend, a newer key is already selected")
}

// record publishes a poller event and mirrors it on the job.
func (s *AnimateService) record(ctx context.Context, jobID string, e Event) {
	e.JobID = jobID
	s.bus.Publish(e)

	err := s.repo.Update(context.WithoutCancel(ctx), jobID, func(j *Job) error {
		if e.Operation != "" && j.Operation == "" {
			j.SetOperation(e.Operation)
		}
		j.SetProgress(e.Message)
		return nil
	})
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		s.logger.Warn("failed to record progress",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// push uploads the video to S3. A failed upload keeps the local result.
func (s *AnimateService) push(ctx context.Context, jobID string, artifact *Artifact, log *slog.Logger) {
	rc, err := s.storage.Open(ctx, artifact.Path)
	if err != nil {
		log.Warn("failed to open video for upload", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = rc.Close() }()

	url, err := s.storage.Publish(ctx, "videos/"+jobID+".mp4", artifact.MimeType, rc)
	if err != nil {
		log.Warn("failed to upload video to S3", slog.String("error", err.Error()))
		return
	}

	if err := s.repo.Update(ctx, jobID, func(j *Job) error {
		j.SetResultURL(url)
		return nil
	}); err != nil {
		log.Error("failed to record video URL", slog.String("error", err.Error()))
		return
	}
	log.Info("video uploaded to S3", slog.String("url", url))
}
