package job

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// EventType classifies progress events.
type EventType string

// Progress event types.
const (
	EventTypeStarting  EventType = "starting"
	EventTypeSubmitted EventType = "submitted"
	EventTypeRunning   EventType = "running"
	EventTypeFetching  EventType = "fetching"
	EventTypeDone      EventType = "done"
	EventTypeFailed    EventType = "failed"
)

// Progress messages.
const (
	MsgStarting   = "Starting video generation... This may take a few minutes."
	MsgSubmitted  = "Processing your request. The model is now creating the video."
	MsgStillGoing = "Checking video status... Still generating."
	MsgFetching   = "Video generation complete! Fetching the video file."
	MsgReady      = "Video ready."
)

// Event is a human-readable progress report.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id,omitempty"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Operation string    `json:"operation,omitempty"`
	Kind      Kind      `json:"kind,omitempty"`
}

// EventBus stores recent events and provides incremental reads per job.
// Each job keeps its own bounded history, so a busy job never evicts the
// events of another one. Sequence numbers are global across jobs.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	byJob     map[string][]Event
}

// NewEventBus creates an in-memory event buffer holding at most maxEvents
// events per job.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}

	return &EventBus{
		maxEvents: maxEvents,
		byJob:     make(map[string][]Event),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	events := append(b.byJob[event.JobID], event)
	if len(events) > b.maxEvents {
		events = slices.Clone(events[len(events)-b.maxEvents:])
	}
	b.byJob[event.JobID] = events

	return event
}

// Since returns events of jobID with sequence strictly greater than seq.
// An empty jobID matches every job, ordered by sequence.
func (b *EventBus) Since(jobID string, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if jobID != "" {
		return after(b.byJob[jobID], seq)
	}

	var out []Event
	for _, events := range b.byJob {
		out = append(out, after(events, seq)...)
	}
	slices.SortFunc(out, func(x, y Event) int {
		return cmp.Compare(x.Seq, y.Seq)
	})
	return out
}

// Forget drops the buffered events of jobID.
func (b *EventBus) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.byJob, jobID)
}

// after returns a copy of the events newer than seq. events is ordered by
// sequence.
func after(events []Event, seq int64) []Event {
	i, _ := slices.BinarySearchFunc(events, seq, func(e Event, s int64) int {
		return cmp.Compare(e.Seq, s+1)
	})
	if i == len(events) {
		return nil
	}
	return slices.Clone(events[i:])
}
