package validation

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/models"
)

// Pipeline runs planned tool calls through the staged validators.
type Pipeline struct {
	stages        []Stage
	metrics       *Metrics
	slowThreshold time.Duration
	logger        *slog.Logger
}

// NewPipeline assembles the default stage order from the config. ring may
// be nil (history checks off); reviewer is consulted only when
// cfg.EnableLLMStage is set.
func NewPipeline(cfg *config.ValidationConfig, ring *history.Ring, catalog Catalog, reviewer Reviewer) *Pipeline {
	stages := []Stage{
		FormatStage{},
		NewHistoryStage(ring, cfg),
		NewSchemaStage(catalog, cfg.SimilarityThreshold),
		NewSyncStage(catalog, cfg.SimilarityThreshold),
	}
	if cfg.EnableLLMStage && reviewer != nil {
		stages = append(stages, NewLLMStage(reviewer))
	}
	return newPipeline(stages, cfg.SlowValidationThreshold)
}

func newPipeline(stages []Stage, slowThreshold time.Duration) *Pipeline {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return &Pipeline{
		stages:        stages,
		metrics:       NewMetrics(names),
		slowThreshold: slowThreshold,
		logger:        slog.With("component", "validation"),
	}
}

// Validate runs the calls through every stage in order. A critical stage
// failing stops the pipeline and rejects the list; a non-critical stage
// failing turns into warnings. The result always carries the call list
// with all corrections applied so far, even when rejected.
func (p *Pipeline) Validate(ctx context.Context, action string, calls []models.ToolCall) *Result {
	started := time.Now()
	res := &Result{Valid: true, Calls: slices.Clone(calls)}

	for _, stage := range p.stages {
		stageStart := time.Now()
		out := stage.Check(ctx, Input{Action: action, Calls: res.Calls})
		p.metrics.recordStage(stage.Name(), out.Valid, time.Since(stageStart))
		res.StagesExecuted = append(res.StagesExecuted, stage.Name())

		res.Corrections = append(res.Corrections, out.Corrections...)
		if out.Calls != nil {
			res.Calls = out.Calls
		}
		for _, w := range out.Warnings {
			res.Warnings = append(res.Warnings, Issue{Stage: stage.Name(), Message: w})
		}

		if out.Valid {
			continue
		}
		if stage.Critical() {
			for _, e := range out.Errors {
				res.Errors = append(res.Errors, Issue{Stage: stage.Name(), Message: e})
			}
			res.Valid = false
			res.RejectedAt = stage.Name()
			break
		}
		for _, e := range out.Errors {
			res.Warnings = append(res.Warnings, Issue{Stage: stage.Name(), Message: e})
		}
	}

	res.Duration = time.Since(started)
	slow := p.slowThreshold > 0 && res.Duration >= p.slowThreshold
	p.metrics.recordPipeline(res.Valid, len(res.Corrections), res.Duration, slow)

	switch {
	case !res.Valid:
		p.logger.Warn("Tool calls rejected",
			"rejected_at", res.RejectedAt,
			"errors", len(res.Errors),
			"duration_ms", res.Duration.Milliseconds())
	case len(res.Corrections) > 0:
		p.logger.Info("Tool calls repaired during validation",
			"corrections", len(res.Corrections),
			"warnings", len(res.Warnings))
	}
	if slow {
		p.logger.Warn("Validation ran slow",
			"duration_ms", res.Duration.Milliseconds(),
			"threshold_ms", p.slowThreshold.Milliseconds())
	}

	return res
}

// Metrics returns a snapshot of the pipeline's counters.
func (p *Pipeline) Metrics() Snapshot {
	return p.metrics.Snapshot()
}
