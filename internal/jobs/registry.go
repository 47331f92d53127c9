// Package jobs provides the concurrency-safe job registry: the single owner
// of mutable job state, its session index, and the background reaper.
package jobs

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chyon8/AI-consultant-sub001/internal/models"
)

// FullLog is the sentinel for GetChunksAfter that requests the entire chunk
// log from sequence 0.
const FullLog = -1

// entry pairs a job with its own lock so appends on different jobs never
// contend.
type entry struct {
	mu  sync.RWMutex
	job models.Job
}

// Registry stores and mutates jobs. Every mutation is a single atomic
// operation keyed by job id; chunk sequence assignment is the serialization
// point for concurrent appends on the same job.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*entry
	sessions map[string][]string // session id -> job ids, creation order

	broker *Broker
	logger *slog.Logger

	retention    time.Duration
	reapInterval time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options configures a Registry.
type Options struct {
	// Retention is how long terminal jobs are kept after completion.
	Retention time.Duration
	// ReapInterval is how often the reaper runs.
	ReapInterval time.Duration
	Logger       *slog.Logger
}

// NewRegistry creates a registry. Lifecycle is owned by the caller: Start
// spawns the reaper, Shutdown stops it.
func NewRegistry(opts Options) *Registry {
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		jobs:         make(map[string]*entry),
		sessions:     make(map[string][]string),
		broker:       NewBroker(opts.Logger),
		logger:       opts.Logger,
		retention:    opts.Retention,
		reapInterval: opts.ReapInterval,
		done:         make(chan struct{}),
	}
}

// Broker returns the registry's event broker for live subscribers.
func (r *Registry) Broker() *Broker {
	return r.broker
}

// Start launches the background reaper.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.CleanupOldJobs(r.retention); n > 0 {
					r.logger.Info("reaped old jobs", "count", n)
				}
			case <-r.done:
				return
			}
		}
	}()
}

// Shutdown stops the reaper and waits for it to exit.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// CreateJob allocates a fresh job in status pending and indexes it under its
// session. It never fails.
func (r *Registry) CreateJob(sessionID string, jobType models.JobType, payload models.JobPayload) models.Job {
	now := time.Now()
	job := models.Job{
		ID:              uuid.New().String()[:8], // short id for convenience
		SessionID:       sessionID,
		Type:            jobType,
		Status:          models.JobStatusPending,
		Payload:         payload,
		CompletedStages: make(map[string]bool),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = &entry{job: job}
	r.sessions[sessionID] = append(r.sessions[sessionID], job.ID)
	r.mu.Unlock()

	r.logger.Info("job created", "job_id", job.ID, "session_id", sessionID, "type", jobType)
	return snapshot(&job)
}

// GetJob returns a point-in-time snapshot of a job, or nil when the id is
// unknown or the job has been reaped. Absence is an outcome, not an error.
func (r *Registry) GetJob(id string) *models.Job {
	e := r.lookup(id)
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := snapshot(&e.job)
	return &s
}

// GetActiveJobForSession returns the oldest pending or running job in the
// session, or nil. Repeated double-submissions therefore converge on the
// same job.
func (r *Registry) GetActiveJobForSession(sessionID string) *models.Job {
	r.mu.RLock()
	ids := slices.Clone(r.sessions[sessionID])
	r.mu.RUnlock()

	for _, id := range ids {
		e := r.lookup(id)
		if e == nil {
			continue
		}
		e.mu.RLock()
		active := e.job.Active()
		s := snapshot(&e.job)
		e.mu.RUnlock()
		if active {
			return &s
		}
	}
	return nil
}

// GetJobsBySession returns snapshots of every job in the session, creation
// order, without chunk logs.
func (r *Registry) GetJobsBySession(sessionID string) []models.Job {
	r.mu.RLock()
	ids := slices.Clone(r.sessions[sessionID])
	r.mu.RUnlock()

	out := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		e := r.lookup(id)
		if e == nil {
			continue
		}
		e.mu.RLock()
		s := snapshot(&e.job)
		e.mu.RUnlock()
		s.Chunks = nil
		out = append(out, s)
	}
	return out
}

// UpdateJobStatus moves a job forward through the state machine. Backward
// and post-terminal transitions are logged and ignored. Setting a terminal
// status stamps CompletedAt exactly once; failed carries the error message.
func (r *Registry) UpdateJobStatus(id string, status models.JobStatus, errMsg string) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	if !r.transition(&e.job, status, errMsg) {
		e.mu.Unlock()
		return
	}
	ev := statusEvent(&e.job)
	e.mu.Unlock()

	r.broker.Publish(ev)
}

// transition applies a forward-only status change; caller holds the entry
// lock. Returns false when the change was rejected.
func (r *Registry) transition(job *models.Job, status models.JobStatus, errMsg string) bool {
	if job.Status == status {
		return false
	}
	if job.Status.Terminal() || statusRank(status) < statusRank(job.Status) {
		r.logger.Warn("ignoring backward status transition",
			"job_id", job.ID, "from", job.Status, "to", status)
		return false
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	if status == models.JobStatusFailed {
		job.Error = errMsg
	}
	if status.Terminal() && job.CompletedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
	}
	return true
}

func statusRank(s models.JobStatus) int {
	switch s {
	case models.JobStatusPending:
		return 0
	case models.JobStatusRunning:
		return 1
	default:
		return 2
	}
}

// UpdateJobProgress sets progress, clamped to [0,100]. Monotonicity is the
// caller's concern; regression does not corrupt state.
func (r *Registry) UpdateJobProgress(id string, progress int) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	e.mu.Lock()
	e.job.Progress = progress
	e.job.UpdatedAt = time.Now()
	ev := statusEvent(&e.job)
	e.mu.Unlock()

	r.broker.Publish(ev)
}

// AppendChunk appends text to the job's chunk log, assigning the next
// sequence number. Assignment and append are atomic under the job's lock, so
// sequences are gap-free and strictly increasing. Returns the stored chunk
// and false when the job does not exist.
func (r *Registry) AppendChunk(id, text string, kind models.ChunkKind) (models.Chunk, bool) {
	e := r.lookup(id)
	if e == nil {
		return models.Chunk{}, false
	}
	e.mu.Lock()
	chunk := appendChunkLocked(&e.job, text, kind)
	e.mu.Unlock()

	r.broker.Publish(Event{Type: EventChunk, JobID: id, Chunk: &chunk})
	return chunk, true
}

func appendChunkLocked(job *models.Job, text string, kind models.ChunkKind) models.Chunk {
	chunk := models.Chunk{
		Sequence:  len(job.Chunks),
		Text:      text,
		Kind:      kind,
		Timestamp: time.Now(),
	}
	job.Chunks = append(job.Chunks, chunk)
	job.UpdatedAt = chunk.Timestamp
	return chunk
}

// AddStagedResult publishes a stage's parsed payload exactly once. A stage
// already in the completed set is a silent no-op (observable via log only).
// The serialized result is also appended as a stage-kind chunk so
// replay-by-chunk consumers see it in-band.
func (r *Registry) AddStagedResult(id, stage string, data []byte) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.job.CompletedStages[stage] {
		e.mu.Unlock()
		r.logger.Debug("stage already completed", "job_id", id, "stage", stage)
		return
	}
	now := time.Now()
	e.job.StagedResults = append(e.job.StagedResults, models.StagedResult{
		Stage:       stage,
		Data:        slices.Clone(data),
		CompletedAt: now,
	})
	e.job.CompletedStages[stage] = true
	chunk := appendChunkLocked(&e.job, stageChunkText(stage, data), models.ChunkKindStage)
	e.mu.Unlock()

	r.logger.Info("stage completed", "job_id", id, "stage", stage)
	r.broker.Publish(Event{Type: EventChunk, JobID: id, Chunk: &chunk})
}

// GetChunksAfter returns all chunks with sequence > after, in order. Pass
// FullLog (-1) for the entire log. Returns nil for unknown jobs.
func (r *Registry) GetChunksAfter(id string, after int) []models.Chunk {
	e := r.lookup(id)
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	start := after + 1
	if start < 0 {
		start = 0
	}
	if start >= len(e.job.Chunks) {
		return []models.Chunk{}
	}
	return slices.Clone(e.job.Chunks[start:])
}

// GetNewStagedResults returns staged results whose stage is not in the
// caller-supplied acknowledged set, letting clients track their own cursors.
func (r *Registry) GetNewStagedResults(id string, acknowledged []string) []models.StagedResult {
	e := r.lookup(id)
	if e == nil {
		return nil
	}
	acked := make(map[string]bool, len(acknowledged))
	for _, s := range acknowledged {
		acked[s] = true
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.StagedResult, 0, len(e.job.StagedResults))
	for _, sr := range e.job.StagedResults {
		if !acked[sr.Stage] {
			out = append(out, sr)
		}
	}
	return out
}

// Complete marks the job completed with its final result (which may be nil
// for a degraded completion) and forces progress to 100.
func (r *Registry) Complete(id string, result *models.Result) {
	e := r.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	if !r.transition(&e.job, models.JobStatusCompleted, "") {
		e.mu.Unlock()
		return
	}
	e.job.Result = result
	e.job.Progress = 100
	ev := statusEvent(&e.job)
	e.mu.Unlock()

	r.logger.Info("job completed", "job_id", id, "has_result", result != nil)
	r.broker.Publish(ev)
}

// Fail marks the job failed with the generator's message surfaced verbatim.
func (r *Registry) Fail(id, errMsg string) {
	r.UpdateJobStatus(id, models.JobStatusFailed, errMsg)
	r.logger.Error("job failed", "job_id", id, "error", errMsg)
}

// CancelJob requests cooperative cancellation. It returns true only when the
// job was still pending or running; terminal jobs are left untouched. The
// orchestrator observes the flipped status at its next fragment boundary, so
// the stop latency is bounded by one fragment.
func (r *Registry) CancelJob(id string) bool {
	e := r.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.job.Status.Terminal() {
		e.mu.Unlock()
		return false
	}
	r.transition(&e.job, models.JobStatusCancelled, "")
	ev := statusEvent(&e.job)
	e.mu.Unlock()

	r.logger.Info("job cancelled", "job_id", id)
	r.broker.Publish(ev)
	return true
}

// CleanupOldJobs removes every job whose CompletedAt is older than maxAge
// and compacts emptied session index entries. Incomplete jobs are never
// reaped. Readers racing a removal see "not found" afterwards, which they
// must tolerate anyway.
func (r *Registry) CleanupOldJobs(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.jobs {
		e.mu.RLock()
		expired := e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff)
		sessionID := e.job.SessionID
		e.mu.RUnlock()
		if !expired {
			continue
		}
		delete(r.jobs, id)
		ids := r.sessions[sessionID]
		ids = slices.DeleteFunc(ids, func(s string) bool { return s == id })
		if len(ids) == 0 {
			delete(r.sessions, sessionID)
		} else {
			r.sessions[sessionID] = ids
		}
		removed++
	}
	return removed
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

// statusEvent builds a status event; caller holds the entry lock.
func statusEvent(job *models.Job) Event {
	return Event{
		Type:     EventStatus,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
		Result:   job.Result,
	}
}

// snapshot deep-copies the mutable parts of a job so readers never alias
// registry-owned state.
func snapshot(job *models.Job) models.Job {
	s := *job
	s.Chunks = slices.Clone(job.Chunks)
	s.ChunkCount = len(job.Chunks)
	s.StagedResults = slices.Clone(job.StagedResults)
	s.CompletedStages = make(map[string]bool, len(job.CompletedStages))
	for k, v := range job.CompletedStages {
		s.CompletedStages[k] = v
	}
	return s
}

func stageChunkText(stage string, data []byte) string {
	return `{"stage":"` + stage + `","data":` + string(data) + `}`
}
