package job

import (
	"errors"
	"fmt"
)

// Kind classifies why a generation failed.
type Kind string

// Failure kinds.
const (
	KindSubmissionFailed  Kind = "SUBMISSION_FAILED"
	KindInvalidCredential Kind = "INVALID_CREDENTIAL"
	KindPollFailed        Kind = "POLL_FAILED"
	KindGenerationFailed  Kind = "GENERATION_FAILED"
	KindMissingResult     Kind = "MISSING_RESULT"
	KindDownloadFailed    Kind = "DOWNLOAD_FAILED"
	KindTimeout           Kind = "TIMEOUT"
	KindCancelled         Kind = "CANCELLED"
)

// Sentinel errors, one per kind, so callers can use errors.Is.
var (
	ErrSubmissionFailed  = errors.New("job: submission failed")
	ErrInvalidCredential = errors.New("job: invalid credential")
	ErrPollFailed        = errors.New("job: status check failed")
	ErrGenerationFailed  = errors.New("job: generation failed")
	ErrMissingResult     = errors.New("job: missing result")
	ErrDownloadFailed    = errors.New("job: download failed")
	ErrTimeout           = errors.New("job: timed out")
	ErrCancelled         = errors.New("job: cancelled")
)

// Precondition errors.
var (
	// ErrImageRequired is returned before any network call when no image is given.
	ErrImageRequired = errors.New("job: image is required")
	// ErrCredentialRequired is returned when no API credential is selected.
	ErrCredentialRequired = errors.New("job: API credential required")
	// ErrJobNotRunning is returned when cancelling a job that already finished.
	ErrJobNotRunning = errors.New("job: not running")
	// ErrJobNotDone is returned when reading the video of an unfinished job.
	ErrJobNotDone = errors.New("job: video not available")
)

// User-facing messages.
const (
	msgInvalidCredential = "Your API key is invalid. Please select a valid key."
	msgMissingResult     = "Could not retrieve video download link."
	msgDownloadFailed    = "Failed to download the generated video."
	msgTimeout           = "Video generation timed out."
	msgCancelled         = "Video generation was cancelled."
	msgGenerationPrefix  = "Video generation failed: "
)

var kindSentinels = map[Kind]error{
	KindSubmissionFailed:  ErrSubmissionFailed,
	KindInvalidCredential: ErrInvalidCredential,
	KindPollFailed:        ErrPollFailed,
	KindGenerationFailed:  ErrGenerationFailed,
	KindMissingResult:     ErrMissingResult,
	KindDownloadFailed:    ErrDownloadFailed,
	KindTimeout:           ErrTimeout,
	KindCancelled:         ErrCancelled,
}

// Error is a classified generation failure.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Message is safe to show to end users.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

// newError builds an Error for kind with its user-facing message.
func newError(kind Kind, cause error) *Error {
	e := &Error{Kind: kind, Err: cause}
	switch kind {
	case KindInvalidCredential:
		e.Message = msgInvalidCredential
	case KindGenerationFailed:
		e.Message = msgGenerationPrefix + causeText(cause)
	case KindMissingResult:
		e.Message = msgMissingResult
	case KindDownloadFailed:
		e.Message = msgDownloadFailed
	case KindTimeout:
		e.Message = msgTimeout
	case KindCancelled:
		e.Message = msgCancelled
	default:
		e.Message = causeText(cause)
	}
	return e
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != e.Err.Error() {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the failure kind carried by err.
func KindOf(err error) (Kind, bool) {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind, true
	}
	return "", false
}

// UserMessage returns the message to show for err.
func UserMessage(err error) string {
	var je *Error
	if errors.As(err, &je) {
		return je.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
