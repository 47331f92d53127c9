package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chyon8/AI-consultant-sub001/internal/jobs"
	"github.com/chyon8/AI-consultant-sub001/internal/models"
)

// JobSummary is the polling projection of a job. It never exposes raw chunk
// text; StagedResults only carries results the caller has not acknowledged.
type JobSummary struct {
	ID            string                `json:"id"`
	SessionID     string                `json:"sessionId"`
	Type          models.JobType        `json:"type"`
	Status        models.JobStatus      `json:"status"`
	Progress      int                   `json:"progress"`
	ChunkCount    int                   `json:"chunkCount"`
	StagedResults []models.StagedResult `json:"stagedResults"`
	Result        *models.Result        `json:"result,omitempty"`
	Error         string                `json:"error,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
}

// ChunksResponse is the replay projection: the chunk suffix plus enough
// state for a reconnecting consumer to resume with a single request.
type ChunksResponse struct {
	Chunks   []models.Chunk   `json:"chunks"`
	Status   models.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Result   *models.Result   `json:"result,omitempty"`
}

// CreateJobRequest is the submission payload.
type CreateJobRequest struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
}

// CancelResponse reports whether cancellation took effect.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Prompt == "" {
		httpError(w, http.StatusBadRequest, "sessionId and prompt are required")
		return
	}
	jobType := models.JobType(req.Type)
	if !models.ValidJobType(jobType) {
		httpError(w, http.StatusBadRequest, "unknown job type: "+req.Type)
		return
	}

	job, created := s.service.Submit(req.SessionID, jobType, models.JobPayload{
		Prompt: req.Prompt,
		Model:  req.Model,
	})

	// An already-active session returns the existing job with 200 so the
	// caller can tell no new work was started.
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, summarize(&job, nil))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.registry.GetJob(r.PathValue("id"))
	if job == nil {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	staged := s.registry.GetNewStagedResults(job.ID, parseAcknowledged(r))
	writeJSON(w, http.StatusOK, summarize(job, staged))
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job := s.registry.GetJob(id)
	if job == nil {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}

	after := jobs.FullLog
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpError(w, http.StatusBadRequest, "after must be an integer")
			return
		}
		after = n
	}

	resp := ChunksResponse{
		Chunks:   s.registry.GetChunksAfter(id, after),
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.Status == models.JobStatusCompleted {
		resp.Result = job.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.registry.GetJob(id) == nil {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: s.registry.CancelJob(id)})
}

func (s *Server) handleSessionJobs(w http.ResponseWriter, r *http.Request) {
	sessionJobs := s.registry.GetJobsBySession(r.PathValue("sessionId"))
	summaries := make([]JobSummary, 0, len(sessionJobs))
	for i := range sessionJobs {
		summaries = append(summaries, summarize(&sessionJobs[i], nil))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// parseAcknowledged reads the caller's acknowledged stage names from the
// comma-separated ack query parameter.
func parseAcknowledged(r *http.Request) []string {
	raw := r.URL.Query().Get("ack")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// summarize projects a job snapshot. The chunk log itself stays private;
// only its length is exposed.
func summarize(job *models.Job, staged []models.StagedResult) JobSummary {
	if staged == nil {
		staged = []models.StagedResult{}
	}
	return JobSummary{
		ID:            job.ID,
		SessionID:     job.SessionID,
		Type:          job.Type,
		Status:        job.Status,
		Progress:      job.Progress,
		ChunkCount:    job.ChunkCount,
		StagedResults: staged,
		Result:        job.Result,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		CompletedAt:   job.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
