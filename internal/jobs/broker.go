package jobs

import (
	"log/slog"
	"sync"

	"github.com/chyon8/AI-consultant-sub001/internal/models"
)

// EventType distinguishes chunk appends from status changes.
type EventType string

const (
	EventChunk  EventType = "chunk"
	EventStatus EventType = "status"
)

// Event is one live update forwarded to attached streaming consumers. Chunk
// events carry the appended chunk; status events carry the job's current
// status, progress, and (once completed) its result.
type Event struct {
	Type     EventType        `json:"type"`
	JobID    string           `json:"jobId"`
	Chunk    *models.Chunk    `json:"chunk,omitempty"`
	Status   models.JobStatus `json:"status,omitempty"`
	Progress int              `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
	Result   *models.Result   `json:"result,omitempty"`
}

// subscriberBuffer bounds how far a slow consumer may lag before events are
// dropped. Dropped subscribers recover via chunk replay.
const subscriberBuffer = 64

// Broker fans job events out to per-job subscribers. Publishing never
// blocks: a full subscriber channel drops the event and logs once per drop.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	logger *slog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[string]map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers interest in one job's events. The returned cancel
// function must be called exactly once; it closes the channel.
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan Event]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[jobID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its job.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber", "job_id", ev.JobID, "type", ev.Type)
		}
	}
}
