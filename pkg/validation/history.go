package validation

import (
	"context"
	"fmt"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/mcp"
)

// HistoryStage consults the execution history before letting a call
// through again. A call whose exact shape kept failing recently is
// blocked; a tool with a poor overall track record earns a warning. The
// stage is non-critical, so its verdicts reach the caller as warnings.
type HistoryStage struct {
	ring *history.Ring
	cfg  *config.ValidationConfig
}

// NewHistoryStage creates the history guard. A nil ring disables it.
func NewHistoryStage(ring *history.Ring, cfg *config.ValidationConfig) *HistoryStage {
	return &HistoryStage{ring: ring, cfg: cfg}
}

func (s *HistoryStage) Name() string   { return StageHistory }
func (s *HistoryStage) Critical() bool { return false }

func (s *HistoryStage) Check(_ context.Context, in Input) Outcome {
	if s.ring == nil {
		return Outcome{Valid: true}
	}

	var errs, warns []string
	for i, call := range in.Calls {
		key := history.KeyFor(call)
		rep := s.ring.CheckRepetitionAfterFailure(key,
			s.cfg.AntiRepetitionWindow, s.cfg.MaxFailuresBeforeBlock)
		if rep.Blocked {
			msg := fmt.Sprintf("call %d: %s failed %d times in the last %d executions",
				i, key, rep.Count, s.cfg.AntiRepetitionWindow)
			if rep.LastError != "" {
				msg += ": " + rep.LastError
			}
			errs = append(errs, msg)
			continue
		}

		rate, total := s.ring.SuccessRate(call.Server, call.Tool)
		if total >= 1 && rate < s.cfg.MinSuccessRate {
			warns = append(warns, fmt.Sprintf(
				"call %d: %s succeeded in %.0f%% of %d recorded calls",
				i, mcp.Canonical(call.Server, call.Tool), rate*100, total))
		}
	}

	if len(errs) > 0 {
		return Outcome{Errors: errs, Warnings: warns}
	}
	return Outcome{Valid: true, Warnings: warns}
}
