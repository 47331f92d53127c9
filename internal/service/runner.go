// Package service drives generation jobs: it submits them, runs one
// orchestration goroutine per job, and feeds fragments through the stage
// detector into the registry.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chyon8/AI-consultant-sub001/internal/jobs"
	"github.com/chyon8/AI-consultant-sub001/internal/llm"
	"github.com/chyon8/AI-consultant-sub001/internal/metrics"
	"github.com/chyon8/AI-consultant-sub001/internal/models"
	"github.com/chyon8/AI-consultant-sub001/internal/parser"
)

// stageProgress maps each completed stage to the job's progress value.
// 100 is reserved for overall completion.
var stageProgress = map[string]int{
	parser.StageProjectOverview: 10,
	parser.StageModules:         25,
	parser.StageEstimates:       50,
	parser.StageSchedule:        75,
	parser.StageSummary:         90,
}

// errCancelled is the internal signal that the runner observed a cancelled
// status at a fragment boundary. It is not a generation failure.
var errCancelled = errors.New("job cancelled")

// errJobGone signals that the job disappeared from the registry mid-run.
var errJobGone = errors.New("job no longer exists")

// Service submits and runs generation jobs.
type Service struct {
	registry  *jobs.Registry
	generator llm.Generator
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// New creates a job service. metrics may be nil.
func New(registry *jobs.Registry, generator llm.Generator, collector *metrics.Collector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  registry,
		generator: generator,
		metrics:   collector,
		logger:    logger,
	}
}

// Submit creates a job and starts its orchestration goroutine, returning
// immediately. When the session already has a pending or running job, that
// job is returned instead and created is false: at most one active job per
// session, enforced here at the submission boundary.
func (s *Service) Submit(sessionID string, jobType models.JobType, payload models.JobPayload) (models.Job, bool) {
	if active := s.registry.GetActiveJobForSession(sessionID); active != nil {
		s.logger.Info("session already has an active job",
			"session_id", sessionID, "job_id", active.ID, "status", active.Status)
		return *active, false
	}

	job := s.registry.CreateJob(sessionID, jobType, payload)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				s.registry.Fail(job.ID, fmt.Sprintf("internal panic: %v", r))
			}
		}()
		s.run(context.Background(), job.ID, jobType, payload)
	}()

	return job, true
}

// run drives one job from pending to a terminal state.
func (s *Service) run(ctx context.Context, jobID string, jobType models.JobType, payload models.JobPayload) {
	s.registry.UpdateJobStatus(jobID, models.JobStatusRunning, "")

	start := time.Now()
	scanner := parser.NewScanner()
	var buf strings.Builder
	var fragments int64

	err := s.generator.Generate(ctx, payload.Prompt, payload.Model, func(ctx context.Context, fragment string) error {
		// Cancellation is cooperative: check at every fragment boundary and
		// stop mutating state once the flip is observed.
		cur := s.registry.GetJob(jobID)
		if cur == nil {
			return errJobGone
		}
		if cur.Status == models.JobStatusCancelled {
			return errCancelled
		}

		fragments++
		buf.WriteString(fragment)
		s.registry.AppendChunk(jobID, fragment, models.ChunkKindContent)

		if det := scanner.Scan(buf.String()); det != nil {
			s.registry.AddStagedResult(jobID, det.Stage, det.Data)
			if p, ok := stageProgress[det.Stage]; ok {
				s.registry.UpdateJobProgress(jobID, p)
			}
		}
		return nil
	})

	switch {
	case errors.Is(err, errCancelled):
		s.logger.Info("job stopped on cancellation", "job_id", jobID, "fragments", fragments)
		if s.metrics != nil {
			s.metrics.RecordCancellation(string(jobType))
		}

	case errors.Is(err, errJobGone):
		s.logger.Warn("job vanished mid-run", "job_id", jobID)

	case err != nil:
		s.registry.AppendChunk(jobID, err.Error(), models.ChunkKindError)
		s.registry.Fail(jobID, err.Error())
		if s.metrics != nil {
			s.metrics.RecordFailure(string(jobType))
		}

	default:
		text := buf.String()
		result := buildResult(jobType, text)
		s.registry.Complete(jobID, result)
		if s.metrics != nil {
			s.metrics.RecordGeneration(string(jobType), time.Since(start),
				fragments, int64(len(text)), int64(len(scanner.Seen())))
		}
	}
}

// buildResult parses the complete text into the job type's result variant.
// An analyze job that yields no parsable stages or fallback block completes
// with a nil result: degraded but terminal.
func buildResult(jobType models.JobType, text string) *models.Result {
	switch jobType {
	case models.JobTypeAnalyze:
		if consulting := parser.ParseFinal(text); consulting != nil {
			return &models.Result{Kind: models.ResultKindConsulting, Consulting: consulting}
		}
		return nil
	default:
		return &models.Result{Kind: models.ResultKindDocument, Document: text}
	}
}
