package validation

import (
	"sync/atomic"
	"time"
)

// stageCounters accumulates one stage's lifetime totals.
type stageCounters struct {
	calls      atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	durationNS atomic.Int64
}

// Metrics tracks validation activity across all pipeline runs. Counters
// are lock-free; Snapshot reads them individually, which is consistent
// enough for status surfaces.
type Metrics struct {
	order  []string
	stages map[string]*stageCounters

	runs        atomic.Int64
	rejections  atomic.Int64
	durationNS  atomic.Int64
	slowRuns    atomic.Int64
	corrections atomic.Int64
}

// NewMetrics creates counters for the given stage names, reported in that
// order.
func NewMetrics(stageNames []string) *Metrics {
	m := &Metrics{
		order:  stageNames,
		stages: make(map[string]*stageCounters, len(stageNames)),
	}
	for _, name := range stageNames {
		m.stages[name] = &stageCounters{}
	}
	return m
}

func (m *Metrics) recordStage(name string, passed bool, d time.Duration) {
	c := m.stages[name]
	if c == nil {
		return
	}
	c.calls.Add(1)
	if passed {
		c.successes.Add(1)
	} else {
		c.failures.Add(1)
	}
	c.durationNS.Add(int64(d))
}

func (m *Metrics) recordPipeline(valid bool, corrections int, d time.Duration, slow bool) {
	m.runs.Add(1)
	if !valid {
		m.rejections.Add(1)
	}
	m.corrections.Add(int64(corrections))
	m.durationNS.Add(int64(d))
	if slow {
		m.slowRuns.Add(1)
	}
}

// StageSnapshot is a point-in-time view of one stage's counters.
type StageSnapshot struct {
	Name        string        `json:"name"`
	Calls       int64         `json:"calls"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Snapshot is a point-in-time view of the whole pipeline.
type Snapshot struct {
	Stages      []StageSnapshot `json:"stages"`
	Runs        int64           `json:"runs"`
	Rejections  int64           `json:"rejections"`
	Corrections int64           `json:"corrections"`
	SuccessRate float64         `json:"success_rate"`
	AvgDuration time.Duration   `json:"avg_duration"`
	SlowRuns    int64           `json:"slow_runs"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Stages:      make([]StageSnapshot, 0, len(m.order)),
		Runs:        m.runs.Load(),
		Rejections:  m.rejections.Load(),
		Corrections: m.corrections.Load(),
		SlowRuns:    m.slowRuns.Load(),
	}
	for _, name := range m.order {
		c := m.stages[name]
		s := StageSnapshot{
			Name:      name,
			Calls:     c.calls.Load(),
			Successes: c.successes.Load(),
			Failures:  c.failures.Load(),
		}
		if s.Calls > 0 {
			s.AvgDuration = time.Duration(c.durationNS.Load() / s.Calls)
		}
		snap.Stages = append(snap.Stages, s)
	}
	if snap.Runs > 0 {
		snap.SuccessRate = float64(snap.Runs-snap.Rejections) / float64(snap.Runs)
		snap.AvgDuration = time.Duration(m.durationNS.Load() / snap.Runs)
	}
	return snap
}
