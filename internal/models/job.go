// Package models defines the data structures for consulting generation jobs.
package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a generation job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is absorbing: once a job reaches a
// terminal status it never transitions again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobType identifies the kind of generation task.
type JobType string

const (
	JobTypeAnalyze          JobType = "analyze"
	JobTypeGenerateDocument JobType = "generate-document"
	JobTypeChat             JobType = "chat"
)

// ValidJobType reports whether t is one of the known task kinds.
func ValidJobType(t JobType) bool {
	switch t {
	case JobTypeAnalyze, JobTypeGenerateDocument, JobTypeChat:
		return true
	}
	return false
}

// ChunkKind classifies an entry in a job's chunk log.
type ChunkKind string

const (
	ChunkKindContent ChunkKind = "content"
	ChunkKindStage   ChunkKind = "stage"
	ChunkKindError   ChunkKind = "error"
)

// Chunk is one atomic unit of appended text or event in a job's replay log.
// Sequence numbers start at 0, are gap-free, and strictly increase per job.
type Chunk struct {
	Sequence  int       `json:"sequence"`
	Text      string    `json:"text"`
	Kind      ChunkKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// StagedResult is the parsed, de-duplicated payload for one completed stage.
// At most one StagedResult per stage identifier exists for a given job.
type StagedResult struct {
	Stage       string          `json:"stage"`
	Data        json.RawMessage `json:"data"`
	CompletedAt time.Time       `json:"completedAt"`
}

// JobPayload holds the original input parameters, immutable after creation.
type JobPayload struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// Job captures one generation task's full lifecycle. Instances handed out by
// the registry are point-in-time snapshots; the registry owns the mutable
// state.
type Job struct {
	ID              string
	SessionID       string
	Type            JobType
	Status          JobStatus
	Progress        int
	Payload         JobPayload
	Chunks          []Chunk
	// ChunkCount is the log length at snapshot time; it stays valid even
	// when the projection strips the chunk log itself.
	ChunkCount      int
	StagedResults   []StagedResult
	CompletedStages map[string]bool
	Result          *Result
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Active reports whether the job still occupies its session's single
// active-job slot.
func (j *Job) Active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}
