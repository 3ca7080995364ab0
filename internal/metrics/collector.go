// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"sync"
	"time"
)

// span tracks count, sum and range of one measured quantity.
type span struct {
	n, total, min, max int64
}

func (s *span) add(v int64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	s.n++
	s.total += v
}

func (s span) avg() float64 {
	if s.n == 0 {
		return 0
	}
	return float64(s.total) / float64(s.n)
}

// opStats aggregates one operation. Durations are kept in nanoseconds.
type opStats struct {
	elapsed span
	in, out span
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Embedding     *OperationSnapshot `json:"embedding,omitempty"`
	Completion    *OperationSnapshot `json:"completion,omitempty"`
	Rerank        *OperationSnapshot `json:"rerank,omitempty"`
	VectorSearch  *OperationSnapshot `json:"vector_search,omitempty"`
	Extraction    *OperationSnapshot `json:"extraction,omitempty"`
	IngestFile    *OperationSnapshot `json:"ingest_file,omitempty"`
	Counters      map[string]int64   `json:"counters"`
}

// Operation names for the collector.
const (
	OpEmbedding    = "embedding"
	OpCompletion   = "completion"
	OpRerank       = "rerank"
	OpVectorSearch = "vector_search"
	OpExtraction   = "extraction"
	OpIngestFile   = "ingest_file"
)

// Counter names.
const (
	CounterJobsSubmitted   = "jobs_submitted"
	CounterJobsFailed      = "jobs_failed"
	CounterFilesSucceeded  = "files_succeeded"
	CounterFilesFailed     = "files_failed"
	CounterRerankFallbacks = "rerank_fallbacks"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and safe to call on a nil *Collector.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*opStats
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*opStats),
		counters:  make(map[string]int64),
	}
}

// Inc adds one to a named counter.
func (c *Collector) Inc(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// Since records the time elapsed from start for op. Meant for defer.
func (c *Collector) Since(op string, start time.Time) {
	c.RecordTiming(op, time.Since(start))
}

// stats returns the aggregate for op. Caller must hold the write lock.
func (c *Collector) stats(op string) *opStats {
	st, ok := c.ops[op]
	if !ok {
		st = &opStats{}
		c.ops[op] = st
	}
	return st
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stats(op).elapsed.add(int64(duration))
	c.mu.Unlock()
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stats(op)
	st.elapsed.add(int64(duration))
	st.in.add(inputTokens)
	st.out.add(outputTokens)
}

// snapshot returns nil for operations that never ran. Token fields are
// only filled for LLM operations that reported usage.
func (st *opStats) snapshot(withTokens bool) *OperationSnapshot {
	if st == nil || st.elapsed.n == 0 {
		return nil
	}

	ms := func(ns int64) int64 { return time.Duration(ns).Milliseconds() }
	snap := &OperationSnapshot{
		Count:       st.elapsed.n,
		TotalTimeMs: ms(st.elapsed.total),
		AvgTimeMs:   float64(ms(st.elapsed.total)) / float64(st.elapsed.n),
		MinTimeMs:   ms(st.elapsed.min),
		MaxTimeMs:   ms(st.elapsed.max),
	}
	if !withTokens || st.in.total+st.out.total == 0 {
		return snap
	}

	avgIn, avgOut := st.in.avg(), st.out.avg()
	in, out := st.in, st.out
	snap.TotalInputTokens = &in.total
	snap.TotalOutputTokens = &out.total
	snap.AvgInputTokens = &avgIn
	snap.AvgOutputTokens = &avgOut
	snap.MinInputTokens = &in.min
	snap.MaxInputTokens = &in.max
	snap.MinOutputTokens = &out.min
	snap.MaxOutputTokens = &out.max
	return snap
}

// Snapshot returns a point-in-time copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Counters: map[string]int64{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Embedding:     c.ops[OpEmbedding].snapshot(false),
		Completion:    c.ops[OpCompletion].snapshot(true),
		Rerank:        c.ops[OpRerank].snapshot(false),
		VectorSearch:  c.ops[OpVectorSearch].snapshot(false),
		Extraction:    c.ops[OpExtraction].snapshot(false),
		IngestFile:    c.ops[OpIngestFile].snapshot(false),
		Counters:      counters,
	}
}
