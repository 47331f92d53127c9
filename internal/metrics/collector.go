// Package metrics provides in-memory runtime statistics for generation jobs.
package metrics

import (
	"math"
	"sync"
	"time"
)

// GenerationMetrics holds aggregated metrics for one job type.
type GenerationMetrics struct {
	Count     int64
	Failures  int64
	Cancelled int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	TotalFragments int64
	TotalChars     int64
	TotalStages    int64
}

// GenerationSnapshot provides computed stats from raw metrics.
type GenerationSnapshot struct {
	Count        int64   `json:"count"`
	Failures     int64   `json:"failures"`
	Cancelled    int64   `json:"cancelled"`
	TotalTimeMs  int64   `json:"totalTimeMs"`
	AvgTimeMs    float64 `json:"avgTimeMs"`
	MinTimeMs    int64   `json:"minTimeMs"`
	MaxTimeMs    int64   `json:"maxTimeMs"`
	AvgFragments float64 `json:"avgFragments"`
	AvgChars     float64 `json:"avgChars"`
	TotalStages  int64   `json:"totalStages"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptimeSeconds"`
	Generations   map[string]GenerationSnapshot `json:"generations"`
}

// Collector aggregates in-memory runtime statistics, keyed by job type.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	gens      map[string]*GenerationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		gens:      make(map[string]*GenerationMetrics),
	}
}

// getOrCreate returns existing metrics for a job type or creates new ones.
// Caller must hold the write lock.
func (c *Collector) getOrCreate(jobType string) *GenerationMetrics {
	m, ok := c.gens[jobType]
	if !ok {
		m = &GenerationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.gens[jobType] = m
	}
	return m
}

// RecordGeneration records one finished generation run.
func (c *Collector) RecordGeneration(jobType string, duration time.Duration, fragments, chars, stages int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(jobType)
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
	m.TotalFragments += fragments
	m.TotalChars += chars
	m.TotalStages += stages
}

// RecordFailure counts a generation that ended in a provider error.
func (c *Collector) RecordFailure(jobType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(jobType).Failures++
}

// RecordCancellation counts a generation stopped by the caller.
func (c *Collector) RecordCancellation(jobType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(jobType).Cancelled++
}

// snapshotGen creates a snapshot for one job type, returning a zero value
// when no run has finished yet.
func snapshotGen(m *GenerationMetrics) GenerationSnapshot {
	snap := GenerationSnapshot{
		Failures:    m.Failures,
		Cancelled:   m.Cancelled,
		TotalStages: m.TotalStages,
	}
	if m.Count == 0 {
		return snap
	}
	snap.Count = m.Count
	snap.TotalTimeMs = m.TotalTime.Milliseconds()
	snap.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Count)
	snap.MinTimeMs = m.MinTime.Milliseconds()
	snap.MaxTimeMs = m.MaxTime.Milliseconds()
	snap.AvgFragments = float64(m.TotalFragments) / float64(m.Count)
	snap.AvgChars = float64(m.TotalChars) / float64(m.Count)
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	gens := make(map[string]GenerationSnapshot, len(c.gens))
	for jobType, m := range c.gens {
		gens[jobType] = snapshotGen(m)
	}
	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Generations:   gens,
	}
}
