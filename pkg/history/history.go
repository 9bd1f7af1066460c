// Package history keeps a process-global record of executed tool calls.
// The ring feeds the validation pipeline's history stage, the repetition
// inspectors, and the planner prompt context.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maestro-agent/maestro/pkg/models"
)

// DefaultMaxSize is the ring capacity when none is configured.
const DefaultMaxSize = 100

// Entry records one executed tool call.
type Entry struct {
	Server     string
	Tool       string
	ParamsHash string
	Success    bool
	Duration   time.Duration
	Timestamp  time.Time
	Error      string
	SessionID  string
}

// CallKey identifies a tool call for repetition tracking.
type CallKey struct {
	Server     string
	Tool       string
	ParamsHash string
}

func (k CallKey) String() string {
	return fmt.Sprintf("%s__%s#%s", k.Server, k.Tool, shortHash(k.ParamsHash))
}

// KeyFor derives the repetition key for a tool call.
func KeyFor(call models.ToolCall) CallKey {
	return CallKey{
		Server:     call.Server,
		Tool:       call.Tool,
		ParamsHash: ParamsHash(call.Parameters),
	}
}

func (e Entry) key() CallKey {
	return CallKey{Server: e.Server, Tool: e.Tool, ParamsHash: e.ParamsHash}
}

// ParamsHash returns the canonical digest of a parameter map. encoding/json
// sorts map keys, so structurally equal maps hash identically. nil and empty
// maps are the same call shape and share a hash.
func ParamsHash(params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RepetitionReport summarizes recent failures of one call shape.
type RepetitionReport struct {
	Blocked       bool
	Count         int
	LastError     string
	LastTimestamp time.Time
}

// Ring is a bounded, thread-safe execution history. Entries are evicted
// oldest-first once capacity is reached.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	count   int
	journal *Journal
}

// NewRing creates a history ring with the given capacity.
func NewRing(maxSize int) *Ring {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Ring{entries: make([]Entry, maxSize)}
}

// AttachJournal makes every recorded entry also append to j.
func (r *Ring) AttachJournal(j *Journal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal = j
}

// Record appends an entry, evicting the oldest once full.
func (r *Ring) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
	j := r.journal
	r.mu.Unlock()

	if j != nil {
		j.Append(e)
	}
}

// Len returns the number of recorded entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Snapshot returns all entries, oldest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Ring) snapshotLocked() []Entry {
	out := make([]Entry, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}

// RecentCalls returns up to limit entries, newest first.
func (r *Ring) RecentCalls(limit int) []Entry {
	all := r.Snapshot()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]Entry, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out
}

// SuccessRate returns the success rate and call count for one tool over the
// recorded window. Rate is 0 when the tool has never been called.
func (r *Ring) SuccessRate(server, tool string) (float64, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total, succeeded int
	for _, e := range r.snapshotLocked() {
		if e.Server == server && e.Tool == tool {
			total++
			if e.Success {
				succeeded++
			}
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(succeeded) / float64(total), total
}

// CheckRepetitionAfterFailure counts failures of the given call shape within
// the last window executions. Blocked is set once the failure count reaches
// maxFailures.
func (r *Ring) CheckRepetitionAfterFailure(key CallKey, window, maxFailures int) RepetitionReport {
	recent := r.RecentCalls(window)

	var report RepetitionReport
	for _, e := range recent {
		if e.Success || e.key() != key {
			continue
		}
		report.Count++
		// recent is newest first; keep the first match we see
		if report.LastTimestamp.IsZero() {
			report.LastError = e.Error
			report.LastTimestamp = e.Timestamp
		}
	}
	if maxFailures > 0 && report.Count >= maxFailures {
		report.Blocked = true
	}
	return report
}

// consecutiveMatches counts how many of the newest entries share the key,
// stopping at the first mismatch.
func (r *Ring) consecutiveMatches(key CallKey) int {
	recent := r.RecentCalls(0)
	n := 0
	for _, e := range recent {
		if e.key() != key {
			break
		}
		n++
	}
	return n
}

// totalCalls counts entries for (server, tool) regardless of parameters.
func (r *Ring) totalCalls(server, tool string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.snapshotLocked() {
		if e.Server == server && e.Tool == tool {
			n++
		}
	}
	return n
}

// FormatForPrompt renders the newest entries as a short digest suitable for
// inclusion in planner prompts.
func (r *Ring) FormatForPrompt(limit int) string {
	recent := r.RecentCalls(limit)
	if len(recent) == 0 {
		return "No tool executions recorded yet."
	}

	var sb strings.Builder
	sb.WriteString("Recent tool executions (most recent first):\n")
	now := time.Now()
	for _, e := range recent {
		age := now.Sub(e.Timestamp).Round(time.Second)
		if e.Success {
			fmt.Fprintf(&sb, "- %s__%s: ok (%s ago)\n", e.Server, e.Tool, age)
		} else {
			msg := e.Error
			if msg == "" {
				msg = "failed"
			}
			fmt.Fprintf(&sb, "- %s__%s: FAILED: %s (%s ago)\n", e.Server, e.Tool, msg, age)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
