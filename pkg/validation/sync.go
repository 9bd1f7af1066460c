package validation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/maestro-agent/maestro/pkg/mcp"
	"github.com/maestro-agent/maestro/pkg/models"
)

// SyncStage verifies that every call names a tool the live catalog
// actually advertises. Bare and single-underscore spellings are
// normalized to canonical form, near-miss names above the threshold are
// repaired, and anything else is rejected with the closest candidates as
// a hint.
type SyncStage struct {
	catalog   Catalog
	threshold float64
}

// NewSyncStage creates the existence check. threshold is the fuzzy cutoff
// for tool-name repairs.
func NewSyncStage(catalog Catalog, threshold float64) *SyncStage {
	return &SyncStage{catalog: catalog, threshold: threshold}
}

func (s *SyncStage) Name() string   { return StageSync }
func (s *SyncStage) Critical() bool { return true }

func (s *SyncStage) Check(ctx context.Context, in Input) Outcome {
	defs, err := s.catalog.ListTools(ctx)
	if err != nil {
		return Outcome{Errors: []string{fmt.Sprintf("live tool catalog unavailable: %s", err)}}
	}
	servers := s.catalog.Servers()

	known := make(map[string]bool, len(defs))
	byServer := make(map[string][]string)
	for _, def := range defs {
		known[def.Name] = true
		if server, _, ok := mcp.SplitCanonical(def.Name); ok {
			byServer[server] = append(byServer[server], def.Name)
		}
	}

	var (
		errs      []string
		fixes     []Correction
		corrected []models.ToolCall
	)
	repair := func(i int, kind CorrectionKind, from, to string, score float64) {
		fixes = append(fixes, Correction{
			Kind:       kind,
			Stage:      StageSync,
			CallIndex:  i,
			From:       from,
			To:         to,
			Similarity: score,
		})
		if corrected == nil {
			corrected = slices.Clone(in.Calls)
		}
		corrected[i].Tool = to
	}

	for i, call := range in.Calls {
		if !slices.Contains(servers, call.Server) {
			errs = append(errs, fmt.Sprintf(
				"call %d: MCP server %q is not available for this item, available: %s",
				i, call.Server, strings.Join(servers, ", ")))
			continue
		}

		canonical := mcp.Canonical(call.Server, call.Tool)
		if known[canonical] {
			if call.Tool != canonical {
				repair(i, CorrectionToolPrefixAdded, call.Tool, canonical, 0)
			}
			continue
		}

		if m, ok := bestMatch(canonical, byServer[call.Server]); ok && m.score >= s.threshold {
			repair(i, CorrectionToolNameCorrected, call.Tool, m.name, m.score)
			continue
		}

		msg := fmt.Sprintf("call %d: tool %q does not exist on server %q",
			i, call.Tool, call.Server)
		if hint := suggest(canonical, byServer[call.Server], 3); hint != "" {
			msg += ", closest: " + hint
		}
		errs = append(errs, msg)
	}

	return Outcome{
		Valid:       len(errs) == 0,
		Errors:      errs,
		Corrections: fixes,
		Calls:       corrected,
	}
}
