package prometheus

import (
	"strconv"
	"time"

	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
)

var (
	DefaultChunkDurationBuckets = []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30}
	DefaultJobDurationBuckets   = []float64{.05, .1, .5, 1, 5, 10, 30, 60, 300, 600}
	DefaultCandidateBuckets     = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512}
)

// DecompositionMetrics records engine and worker activity. It implements
// rgroup.Observer.
type DecompositionMetrics struct {
	MoleculesTotal        CounterVec
	CandidatesPerMolecule HistogramVec
	ChunksTotal           CounterVec
	CombinationsTotal     CounterVec
	ChunkDuration         HistogramVec
	ProcessTotal          CounterVec
	ProcessDuration       HistogramVec

	JobsTotal        CounterVec
	JobDuration      HistogramVec
	JobRetries       CounterVec
	JobsInFlight     GaugeVec
	DeadLetteredJobs CounterVec
}

// NewDecompositionMetrics registers every metric on collector.
func NewDecompositionMetrics(collector MetricsCollector) *DecompositionMetrics {
	m := &DecompositionMetrics{}

	m.MoleculesTotal = collector.RegisterCounter("molecules_total", "Molecules offered to a decomposition", "status")
	m.CandidatesPerMolecule = collector.RegisterHistogram("candidates_per_molecule", "Candidate assignments kept per accepted molecule", DefaultCandidateBuckets)
	m.ChunksTotal = collector.RegisterCounter("optimizer_chunks_total", "Optimizer chunks searched")
	m.CombinationsTotal = collector.RegisterCounter("optimizer_combinations_total", "Candidate combinations scored")
	m.ChunkDuration = collector.RegisterHistogram("optimizer_chunk_duration_seconds", "Time spent searching one chunk", DefaultChunkDurationBuckets)
	m.ProcessTotal = collector.RegisterCounter("process_total", "Completed optimizations", "strategy", "complete", "timed_out")
	m.ProcessDuration = collector.RegisterHistogram("process_duration_seconds", "Optimization wall time", DefaultJobDurationBuckets, "strategy")

	m.JobsTotal = collector.RegisterCounter("jobs_total", "Decomposition jobs handled", "status")
	m.JobDuration = collector.RegisterHistogram("job_duration_seconds", "End to end job duration", DefaultJobDurationBuckets, "status")
	m.JobRetries = collector.RegisterCounter("job_retries_total", "Job attempts retried after a transient failure", "code")
	m.JobsInFlight = collector.RegisterGauge("jobs_in_flight", "Jobs currently being processed")
	m.DeadLetteredJobs = collector.RegisterCounter("jobs_dead_lettered_total", "Jobs sent to the dead letter topic", "code")

	return m
}

var _ rgroup.Observer = (*DecompositionMetrics)(nil)

func (m *DecompositionMetrics) MoleculeRegistered(accepted bool, candidates int) {
	if !accepted {
		m.MoleculesTotal.WithLabelValues("rejected").Inc()
		return
	}
	m.MoleculesTotal.WithLabelValues("accepted").Inc()
	m.CandidatesPerMolecule.WithLabelValues().Observe(float64(candidates))
}

func (m *DecompositionMetrics) ChunkScored(combinations int64, elapsed time.Duration) {
	m.ChunksTotal.WithLabelValues().Inc()
	m.CombinationsTotal.WithLabelValues().Add(float64(combinations))
	m.ChunkDuration.WithLabelValues().Observe(elapsed.Seconds())
}

func (m *DecompositionMetrics) ProcessCompleted(strategy rgroup.MatchingStrategy, elapsed time.Duration, complete, timedOut bool) {
	s := string(strategy)
	m.ProcessTotal.WithLabelValues(s, strconv.FormatBool(complete), strconv.FormatBool(timedOut)).Inc()
	m.ProcessDuration.WithLabelValues(s).Observe(elapsed.Seconds())
}

// JobStarted marks a job in flight and returns the function that records its
// outcome.
func (m *DecompositionMetrics) JobStarted() func(status string) {
	start := time.Now()
	m.JobsInFlight.WithLabelValues().Inc()
	return func(status string) {
		m.JobsInFlight.WithLabelValues().Dec()
		m.JobsTotal.WithLabelValues(status).Inc()
		m.JobDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

func (m *DecompositionMetrics) JobRetried(code string) {
	m.JobRetries.WithLabelValues(code).Inc()
}

func (m *DecompositionMetrics) JobDeadLettered(code string) {
	m.DeadLetteredJobs.WithLabelValues(code).Inc()
}

// CacheStats is the read side of a fingerprint cache.
type CacheStats interface {
	Stats() (hits, misses int64)
}

// RegisterCacheStats exports the hit and miss totals of cache.
func RegisterCacheStats(collector MetricsCollector, cache CacheStats) {
	collector.RegisterGaugeFunc("fingerprint_cache_hits", "Fingerprint lookups served by the shared cache", func() float64 {
		h, _ := cache.Stats()
		return float64(h)
	})
	collector.RegisterGaugeFunc("fingerprint_cache_misses", "Fingerprint lookups missing from the shared cache", func() float64 {
		_, mi := cache.Stats()
		return float64(mi)
	})
}
