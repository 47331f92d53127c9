package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chyon8/AI-consultant-sub001/internal/jobs"
	"github.com/chyon8/AI-consultant-sub001/internal/llm"
	"github.com/chyon8/AI-consultant-sub001/internal/metrics"
	"github.com/chyon8/AI-consultant-sub001/internal/models"
	"github.com/chyon8/AI-consultant-sub001/internal/service"
)

// blockedGenerator parks every job until release is closed, keeping jobs
// observable in a non-terminal state.
type blockedGenerator struct {
	release chan struct{}
}

func (g *blockedGenerator) Generate(ctx context.Context, prompt, modelID string, onFragment llm.FragmentFunc) error {
	<-g.release
	return onFragment(ctx, "done")
}

type fixture struct {
	ts       *httptest.Server
	registry *jobs.Registry
	release  chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	registry := jobs.NewRegistry(jobs.Options{
		Retention:    time.Hour,
		ReapInterval: time.Hour,
		Logger:       logger,
	})
	gen := &blockedGenerator{release: make(chan struct{})}
	collector := metrics.NewCollector()
	svc := service.New(registry, gen, collector, logger)
	srv := New(":0", registry, svc, collector, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		registry.Shutdown()
	})
	return &fixture{ts: ts, registry: registry, release: gen.release}
}

func (f *fixture) createJob(t *testing.T, sessionID string) JobSummary {
	t.Helper()
	return f.postJob(t, sessionID, http.StatusAccepted)
}

func (f *fixture) postJob(t *testing.T, sessionID string, wantStatus int) JobSummary {
	t.Helper()
	body, _ := json.Marshal(CreateJobRequest{
		SessionID: sessionID,
		Type:      string(models.JobTypeAnalyze),
		Prompt:    "analyze my shop idea",
	})
	resp, err := http.Post(f.ts.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var summary JobSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	return summary
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)

	summary := f.createJob(t, "s1")
	assert.NotEmpty(t, summary.ID)
	assert.Equal(t, "s1", summary.SessionID)
	assert.Equal(t, models.JobTypeAnalyze, summary.Type)
	assert.NotNil(t, summary.StagedResults, "stagedResults serializes as [], not null")

	// Resubmitting while the job is active returns it with 200.
	again := f.postJob(t, "s1", http.StatusOK)
	assert.Equal(t, summary.ID, again.ID)
}

func TestCreateJob_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"sessionId": `},
		{name: "missing session", body: `{"type": "analyze", "prompt": "p"}`},
		{name: "missing prompt", body: `{"sessionId": "s1", "type": "analyze"}`},
		{name: "unknown type", body: `{"sessionId": "s1", "type": "mine-bitcoin", "prompt": "p"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.ts.URL+"/api/jobs", "application/json", bytes.NewReader([]byte(tt.body)))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)
	created := f.createJob(t, "s1")

	f.registry.AddStagedResult(created.ID, "projectOverview", []byte(`{"title": "Shop"}`))
	f.registry.AddStagedResult(created.ID, "modules", []byte(`{"modules": []}`))

	resp, err := http.Get(f.ts.URL + "/api/jobs/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decodeJSON[JobSummary](t, resp)
	assert.Equal(t, created.ID, summary.ID)
	assert.Len(t, summary.StagedResults, 2)

	// Acknowledged stages are filtered out of the projection.
	resp, err = http.Get(f.ts.URL + "/api/jobs/" + created.ID + "?ack=projectOverview")
	require.NoError(t, err)
	summary = decodeJSON[JobSummary](t, resp)
	require.Len(t, summary.StagedResults, 1)
	assert.Equal(t, "modules", summary.StagedResults[0].Stage)

	resp, err = http.Get(f.ts.URL + "/api/jobs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetChunks(t *testing.T) {
	f := newFixture(t)
	created := f.createJob(t, "s1")

	f.registry.AppendChunk(created.ID, "alpha ", models.ChunkKindContent)
	f.registry.AppendChunk(created.ID, "beta ", models.ChunkKindContent)
	f.registry.AppendChunk(created.ID, "gamma", models.ChunkKindContent)

	resp, err := http.Get(f.ts.URL + "/api/jobs/" + created.ID + "/chunks")
	require.NoError(t, err)
	full := decodeJSON[ChunksResponse](t, resp)
	require.Len(t, full.Chunks, 3)
	assert.Equal(t, 0, full.Chunks[0].Sequence)

	resp, err = http.Get(f.ts.URL + "/api/jobs/" + created.ID + "/chunks?after=1")
	require.NoError(t, err)
	suffix := decodeJSON[ChunksResponse](t, resp)
	require.Len(t, suffix.Chunks, 1)
	assert.Equal(t, "gamma", suffix.Chunks[0].Text)

	resp, err = http.Get(f.ts.URL + "/api/jobs/" + created.ID + "/chunks?after=nonsense")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(f.ts.URL + "/api/jobs/nope/chunks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetChunks_ResultOnlyWhenCompleted(t *testing.T) {
	f := newFixture(t)
	created := f.createJob(t, "s1")

	resp, err := http.Get(f.ts.URL + "/api/jobs/" + created.ID + "/chunks")
	require.NoError(t, err)
	active := decodeJSON[ChunksResponse](t, resp)
	assert.Nil(t, active.Result)

	close(f.release)
	require.Eventually(t, func() bool {
		job := f.registry.GetJob(created.ID)
		return job != nil && job.Status == models.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	resp, err = http.Get(f.ts.URL + "/api/jobs/" + created.ID + "/chunks")
	require.NoError(t, err)
	done := decodeJSON[ChunksResponse](t, resp)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	created := f.createJob(t, "s1")

	resp, err := http.Post(f.ts.URL+"/api/jobs/"+created.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	first := decodeJSON[CancelResponse](t, resp)
	assert.True(t, first.Cancelled)

	// Cancelling a terminal job reports false, still 200.
	resp, err = http.Post(f.ts.URL+"/api/jobs/"+created.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	second := decodeJSON[CancelResponse](t, resp)
	assert.False(t, second.Cancelled)

	resp, err = http.Post(f.ts.URL+"/api/jobs/nope/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionJobs(t *testing.T) {
	f := newFixture(t)
	first := f.createJob(t, "s1")
	f.registry.CancelJob(first.ID)
	second := f.createJob(t, "s1")

	resp, err := http.Get(f.ts.URL + "/api/sessions/s1/jobs")
	require.NoError(t, err)
	list := decodeJSON[[]JobSummary](t, resp)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	resp, err = http.Get(f.ts.URL + "/api/sessions/empty/jobs")
	require.NoError(t, err)
	assert.Empty(t, decodeJSON[[]JobSummary](t, resp))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	created := f.createJob(t, "s1")
	f.registry.CancelJob(created.ID)

	resp, err := http.Get(f.ts.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestParseAcknowledged(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/x?ack=a,%20b,,c", nil)
	assert.Equal(t, []string{"a", "b", "c"}, parseAcknowledged(req))

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/x", nil)
	assert.Nil(t, parseAcknowledged(req))
}
