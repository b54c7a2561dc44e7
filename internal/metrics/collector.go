package metrics

import (
	"sync"
	"sync/atomic"
)

// Collector tracks the counters of one load-test run and mirrors them
// into Prometheus when an exporter is attached. All methods are safe
// for concurrent use and cheap enough for hot paths.
type Collector struct {
	pipelinesBuilt     atomic.Int64
	pipelinesSucceeded atomic.Int64
	pipelinesFailed    atomic.Int64
	artifactsSubmitted atomic.Int64
	distributionRounds atomic.Int64

	PipelineLatency *Latency

	mu     sync.Mutex
	errors []string

	prom *Prometheus // nil when no exporter is attached
}

// NewCollector creates a collector. prom may be nil.
func NewCollector(prom *Prometheus) *Collector {
	return &Collector{
		PipelineLatency: NewLatency(),
		prom:            prom,
	}
}

// PipelineBuilt records one completed pipeline construction.
func (c *Collector) PipelineBuilt() {
	c.pipelinesBuilt.Add(1)
}

// PipelineSucceeded records a pipeline that submitted and confirmed.
func (c *Collector) PipelineSucceeded(elapsedMs float64, steps int) {
	c.pipelinesSucceeded.Add(1)
	c.artifactsSubmitted.Add(int64(steps))
	c.PipelineLatency.Add(elapsedMs)
	if c.prom != nil {
		c.prom.PipelinesTotal.WithLabelValues("succeeded").Inc()
		c.prom.OperationsTotal.Add(float64(steps))
		c.prom.PipelineLatency.Observe(elapsedMs / 1000)
	}
}

// PipelineFailed records a pipeline that errored during construction or
// submission. The error text is kept for the final report.
func (c *Collector) PipelineFailed(errText string) {
	c.pipelinesFailed.Add(1)
	c.mu.Lock()
	c.errors = append(c.errors, errText)
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.PipelinesTotal.WithLabelValues("failed").Inc()
		c.prom.ErrorsTotal.WithLabelValues("pipeline").Inc()
	}
}

// DistributionRound records one completed fan-out round.
func (c *Collector) DistributionRound() {
	c.distributionRounds.Add(1)
	if c.prom != nil {
		c.prom.DistributionRounds.Inc()
	}
}

// Succeeded returns the successful pipeline count.
func (c *Collector) Succeeded() int64 { return c.pipelinesSucceeded.Load() }

// Failed returns the failed pipeline count.
func (c *Collector) Failed() int64 { return c.pipelinesFailed.Load() }

// Submitted returns the total submitted artifact count.
func (c *Collector) Submitted() int64 { return c.artifactsSubmitted.Load() }

// Errors returns a copy of the collected error texts.
func (c *Collector) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.errors))
	copy(out, c.errors)
	return out
}

// Reset clears all counters for a new run.
func (c *Collector) Reset() {
	c.pipelinesBuilt.Store(0)
	c.pipelinesSucceeded.Store(0)
	c.pipelinesFailed.Store(0)
	c.artifactsSubmitted.Store(0)
	c.distributionRounds.Store(0)
	c.PipelineLatency.Reset()
	c.mu.Lock()
	c.errors = nil
	c.mu.Unlock()
}
