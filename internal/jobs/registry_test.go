package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chyon8/AI-consultant-sub001/internal/models"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(Options{
		Retention:    time.Hour,
		ReapInterval: time.Hour,
		Logger:       slog.New(slog.DiscardHandler),
	})
}

func testPayload() models.JobPayload {
	return models.JobPayload{Prompt: "analyze this project"}
}

func TestCreateAndGetJob(t *testing.T) {
	r := testRegistry(t)

	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.CompletedAt)

	got := r.GetJob(job.ID)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "s1", got.SessionID)

	assert.Nil(t, r.GetJob("missing"), "unknown id is an absent value, not an error")
}

func TestAppendChunk_SequencesAreGapFree(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())

	for i := 0; i < 5; i++ {
		chunk, ok := r.AppendChunk(job.ID, fmt.Sprintf("frag-%d", i), models.ChunkKindContent)
		require.True(t, ok)
		assert.Equal(t, i, chunk.Sequence)
	}

	got := r.GetJob(job.ID)
	require.NotNil(t, got)
	for i, chunk := range got.Chunks {
		assert.Equal(t, i, chunk.Sequence)
	}
}

func TestAppendChunk_ConcurrentAppendsLinearized(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, ok := r.AppendChunk(job.ID, "x", models.ChunkKindContent)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	got := r.GetJob(job.ID)
	require.NotNil(t, got)
	require.Len(t, got.Chunks, writers*perWriter)
	for i, chunk := range got.Chunks {
		assert.Equal(t, i, chunk.Sequence, "sequence %d has a gap or duplicate", i)
	}
}

func TestGetChunksAfter(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	for i := 0; i < 4; i++ {
		r.AppendChunk(job.ID, fmt.Sprintf("frag-%d", i), models.ChunkKindContent)
	}

	all := r.GetChunksAfter(job.ID, FullLog)
	require.Len(t, all, 4)
	assert.Equal(t, "frag-0", all[0].Text)

	suffix := r.GetChunksAfter(job.ID, 1)
	require.Len(t, suffix, 2)
	assert.Equal(t, 2, suffix[0].Sequence)
	assert.Equal(t, 3, suffix[1].Sequence)

	assert.Empty(t, r.GetChunksAfter(job.ID, 99))
	assert.Nil(t, r.GetChunksAfter("missing", FullLog))
}

func TestAddStagedResult_Idempotent(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())

	data := []byte(`{"modules":[]}`)
	r.AddStagedResult(job.ID, "modules", data)
	r.AddStagedResult(job.ID, "modules", []byte(`{"modules":["other"]}`))

	got := r.GetJob(job.ID)
	require.NotNil(t, got)
	require.Len(t, got.StagedResults, 1, "duplicate stage must be a no-op")
	assert.Equal(t, "modules", got.StagedResults[0].Stage)
	assert.JSONEq(t, string(data), string(got.StagedResults[0].Data), "first publication wins")
	assert.True(t, got.CompletedStages["modules"])

	// The staged result is mirrored in-band as a stage-kind chunk, once.
	stageChunks := 0
	for _, chunk := range got.Chunks {
		if chunk.Kind == models.ChunkKindStage {
			stageChunks++
			var inband struct {
				Stage string          `json:"stage"`
				Data  json.RawMessage `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(chunk.Text), &inband))
			assert.Equal(t, "modules", inband.Stage)
		}
	}
	assert.Equal(t, 1, stageChunks)
}

func TestGetNewStagedResults(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	r.AddStagedResult(job.ID, "projectOverview", []byte(`{}`))
	r.AddStagedResult(job.ID, "modules", []byte(`{}`))

	all := r.GetNewStagedResults(job.ID, nil)
	assert.Len(t, all, 2)

	unacked := r.GetNewStagedResults(job.ID, []string{"projectOverview"})
	require.Len(t, unacked, 1)
	assert.Equal(t, "modules", unacked[0].Stage)

	assert.Empty(t, r.GetNewStagedResults(job.ID, []string{"projectOverview", "modules"}))
}

func TestUpdateJobStatus_ForwardOnly(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())

	r.UpdateJobStatus(job.ID, models.JobStatusRunning, "")
	assert.Equal(t, models.JobStatusRunning, r.GetJob(job.ID).Status)

	// Backward transition is ignored.
	r.UpdateJobStatus(job.ID, models.JobStatusPending, "")
	assert.Equal(t, models.JobStatusRunning, r.GetJob(job.ID).Status)

	r.UpdateJobStatus(job.ID, models.JobStatusFailed, "provider exploded")
	got := r.GetJob(job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "provider exploded", got.Error)
	require.NotNil(t, got.CompletedAt)
	firstCompleted := *got.CompletedAt

	// Terminal states are absorbing and CompletedAt is set exactly once.
	r.UpdateJobStatus(job.ID, models.JobStatusCompleted, "")
	got = r.GetJob(job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, firstCompleted, *got.CompletedAt)
}

func TestUpdateJobProgress_Clamps(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())

	r.UpdateJobProgress(job.ID, 150)
	assert.Equal(t, 100, r.GetJob(job.ID).Progress)

	r.UpdateJobProgress(job.ID, -5)
	assert.Equal(t, 0, r.GetJob(job.ID).Progress)

	r.UpdateJobProgress(job.ID, 42)
	assert.Equal(t, 42, r.GetJob(job.ID).Progress)
}

func TestCancelJob(t *testing.T) {
	r := testRegistry(t)

	pending := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	assert.True(t, r.CancelJob(pending.ID))
	got := r.GetJob(pending.ID)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Empty(t, got.Error, "cancellation is not a failure")
	require.NotNil(t, got.CompletedAt)

	// Terminal jobs are left untouched.
	assert.False(t, r.CancelJob(pending.ID))

	completed := r.CreateJob("s2", models.JobTypeAnalyze, testPayload())
	r.UpdateJobStatus(completed.ID, models.JobStatusRunning, "")
	r.Complete(completed.ID, nil)
	assert.False(t, r.CancelJob(completed.ID))
	assert.Equal(t, models.JobStatusCompleted, r.GetJob(completed.ID).Status)

	assert.False(t, r.CancelJob("missing"))
}

func TestComplete_SetsResultAndProgress(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	r.UpdateJobStatus(job.ID, models.JobStatusRunning, "")

	result := &models.Result{Kind: models.ResultKindConsulting, Consulting: models.DefaultConsultingResult()}
	r.Complete(job.ID, result)

	got := r.GetJob(job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, models.ResultKindConsulting, got.Result.Kind)
}

func TestComplete_NilResultIsDegradedButTerminal(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	r.UpdateJobStatus(job.ID, models.JobStatusRunning, "")

	r.Complete(job.ID, nil)

	got := r.GetJob(job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Error)
}

func TestGetActiveJobForSession(t *testing.T) {
	r := testRegistry(t)

	assert.Nil(t, r.GetActiveJobForSession("s1"))

	first := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	second := r.CreateJob("s1", models.JobTypeChat, testPayload())

	active := r.GetActiveJobForSession("s1")
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID, "oldest active job wins")

	r.CancelJob(first.ID)
	active = r.GetActiveJobForSession("s1")
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	r.CancelJob(second.ID)
	assert.Nil(t, r.GetActiveJobForSession("s1"))
}

func TestGetJobsBySession(t *testing.T) {
	r := testRegistry(t)
	a := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	b := r.CreateJob("s1", models.JobTypeChat, testPayload())
	r.CreateJob("s2", models.JobTypeAnalyze, testPayload())
	r.AppendChunk(a.ID, "hello", models.ChunkKindContent)

	list := r.GetJobsBySession("s1")
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
	assert.Nil(t, list[0].Chunks, "session projection strips chunk logs")
	assert.Equal(t, 1, list[0].ChunkCount)

	assert.Empty(t, r.GetJobsBySession("unknown"))
}

func TestCleanupOldJobs(t *testing.T) {
	r := testRegistry(t)

	old := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	r.Complete(old.ID, nil)
	fresh := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	r.Complete(fresh.ID, nil)
	running := r.CreateJob("s2", models.JobTypeAnalyze, testPayload())
	r.UpdateJobStatus(running.ID, models.JobStatusRunning, "")

	// Backdate the first job's completion to two hours ago.
	e := r.lookup(old.ID)
	require.NotNil(t, e)
	e.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	e.job.CompletedAt = &past
	e.mu.Unlock()

	removed := r.CleanupOldJobs(time.Hour)
	assert.Equal(t, 1, removed)

	assert.Nil(t, r.GetJob(old.ID), "reaped job is indistinguishable from never existed")
	assert.NotNil(t, r.GetJob(fresh.ID))
	assert.NotNil(t, r.GetJob(running.ID), "incomplete jobs are never reaped")

	ids := r.GetJobsBySession("s1")
	require.Len(t, ids, 1)
	assert.Equal(t, fresh.ID, ids[0].ID)
}

func TestCleanupOldJobs_CompactsSessionIndex(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("solo", models.JobTypeAnalyze, testPayload())
	r.Complete(job.ID, nil)

	e := r.lookup(job.ID)
	e.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	e.job.CompletedAt = &past
	e.mu.Unlock()

	r.CleanupOldJobs(time.Hour)

	r.mu.RLock()
	_, exists := r.sessions["solo"]
	r.mu.RUnlock()
	assert.False(t, exists, "empty session entries are compacted")
}

func TestSnapshotIsolation(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	r.AppendChunk(job.ID, "one", models.ChunkKindContent)

	snap := r.GetJob(job.ID)
	r.AppendChunk(job.ID, "two", models.ChunkKindContent)

	assert.Len(t, snap.Chunks, 1, "snapshot must not observe later appends")
	assert.Len(t, r.GetJob(job.ID).Chunks, 2)
}

func TestBrokerPublishSubscribe(t *testing.T) {
	r := testRegistry(t)
	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())

	events, cancel := r.Broker().Subscribe(job.ID)
	defer cancel()

	r.AppendChunk(job.ID, "hello", models.ChunkKindContent)

	select {
	case ev := <-events:
		assert.Equal(t, EventChunk, ev.Type)
		require.NotNil(t, ev.Chunk)
		assert.Equal(t, "hello", ev.Chunk.Text)
		assert.Equal(t, 0, ev.Chunk.Sequence)
	case <-time.After(time.Second):
		t.Fatal("expected a chunk event")
	}

	r.CancelJob(job.ID)
	select {
	case ev := <-events:
		assert.Equal(t, EventStatus, ev.Type)
		assert.Equal(t, models.JobStatusCancelled, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a status event")
	}
}

func TestBrokerSubscriberIsolation(t *testing.T) {
	r := testRegistry(t)
	a := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	b := r.CreateJob("s2", models.JobTypeAnalyze, testPayload())

	eventsA, cancelA := r.Broker().Subscribe(a.ID)
	defer cancelA()

	r.AppendChunk(b.ID, "other job", models.ChunkKindContent)

	select {
	case ev := <-eventsA:
		t.Fatalf("subscriber for %s received event for %s", a.ID, ev.JobID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(Options{
		Retention:    time.Hour,
		ReapInterval: 10 * time.Millisecond,
		Logger:       slog.New(slog.DiscardHandler),
	})
	r.Start()

	job := r.CreateJob("s1", models.JobTypeAnalyze, testPayload())
	r.Complete(job.ID, nil)
	e := r.lookup(job.ID)
	e.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	e.job.CompletedAt = &past
	e.mu.Unlock()

	assert.Eventually(t, func() bool {
		return r.GetJob(job.ID) == nil
	}, time.Second, 10*time.Millisecond, "reaper should remove the expired job")

	r.Shutdown()
	// Shutdown is idempotent.
	r.Shutdown()
}
