package master

import (
	"fmt"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/hashicorp/go-multierror"
)

// Outcome is the result of one chunk. Exactly one of Value and Err is meaningful.
type Outcome struct {
	Position int
	Endpoint string
	TaskID   string
	Value    any
	Err      error
	Latency  time.Duration
}

// Failed reports whether the chunk failed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// RunResult holds the outcome of every chunk, indexed by chunk position.
type RunResult struct {
	RunID    string
	Outcomes []Outcome
	Stats    Stats
	Elapsed  time.Duration
}

// Len returns the number of chunks in the run.
func (r *RunResult) Len() int {
	return len(r.Outcomes)
}

// Complete reports whether every position succeeded.
func (r *RunResult) Complete() bool {
	return len(r.Failed()) == 0
}

// Failed returns the failed positions in ascending order.
func (r *RunResult) Failed() []int {
	var failed []int
	for _, o := range r.Outcomes {
		if o.Failed() {
			failed = append(failed, o.Position)
		}
	}
	return failed
}

// Values returns the successful values in position order. Failed positions
// are skipped.
func (r *RunResult) Values() []any {
	values := make([]any, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if !o.Failed() {
			values = append(values, o.Value)
		}
	}
	return values
}

// Err returns one error listing every failed position, or nil.
func (r *RunResult) Err() error {
	var merr *multierror.Error
	for _, o := range r.Outcomes {
		if o.Failed() {
			merr = multierror.Append(merr, o.Err)
		}
	}
	if merr == nil {
		return nil
	}
	merr.ErrorFormat = func(errs []error) string {
		s := fmt.Sprintf("%d of %d chunks failed:", len(errs), len(r.Outcomes))
		for _, err := range errs {
			s += "\n\t* " + err.Error()
		}
		return s
	}
	return merr
}

// Stats summarizes per-chunk latency for the chunks that resolved.
type Stats struct {
	Count  int64         `json:"count"`
	Failed int           `json:"failed"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
}

// Latencies are recorded in microseconds up to one day.
const (
	maxLatencyMicros = int64(24 * time.Hour / time.Microsecond)
	latencySigFigs   = 3
)

func newStats(outcomes []Outcome) Stats {
	h := hdrhistogram.New(1, maxLatencyMicros, latencySigFigs)
	var stats Stats
	for _, o := range outcomes {
		if o.Failed() {
			stats.Failed++
		}
		if o.Latency <= 0 {
			continue
		}
		us := o.Latency.Microseconds()
		if us > maxLatencyMicros {
			us = maxLatencyMicros
		}
		_ = h.RecordValue(us)
	}

	stats.Count = h.TotalCount()
	if stats.Count == 0 {
		return stats
	}
	micros := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	stats.Min = micros(h.Min())
	stats.Max = micros(h.Max())
	stats.Mean = time.Duration(h.Mean() * float64(time.Microsecond))
	stats.P50 = micros(h.ValueAtQuantile(50))
	stats.P95 = micros(h.ValueAtQuantile(95))
	stats.P99 = micros(h.ValueAtQuantile(99))
	return stats
}

func (s Stats) String() string {
	return fmt.Sprintf("count=%d failed=%d min=%s mean=%s p50=%s p95=%s p99=%s max=%s",
		s.Count, s.Failed, s.Min, s.Mean, s.P50, s.P95, s.P99, s.Max)
}
