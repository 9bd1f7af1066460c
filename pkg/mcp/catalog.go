package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/models"
)

// catalog holds one server's tool inventory. defs carry canonical
// `server__tool` names for planners and validators; known holds the raw wire
// names the server advertises, consulted for last-hop conversion.
type catalog struct {
	mu        sync.RWMutex
	defs      []models.ToolDefinition
	known     map[string]bool
	fetchedAt time.Time
	advisory  bool // seeded from disk, not yet confirmed live
}

// snapshot returns a copy of the definitions with their fetch metadata.
func (c *catalog) snapshot() (defs []models.ToolDefinition, fetchedAt time.Time, advisory bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.defs == nil {
		return nil, c.fetchedAt, c.advisory
	}
	out := make([]models.ToolDefinition, len(c.defs))
	copy(out, c.defs)
	return out, c.fetchedAt, c.advisory
}

// set installs a live catalog.
func (c *catalog) set(defs []models.ToolDefinition, known map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs = defs
	c.known = known
	c.fetchedAt = time.Now()
	c.advisory = false
}

// preload seeds advisory definitions from the disk cache. The zero fetch
// time keeps the entry permanently stale, so the first Tools call attempts a
// live refresh and the advisory data only ever serves as a fallback.
func (c *catalog) preload(defs []models.ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.defs != nil {
		return // live data already present
	}
	c.defs = defs
	c.advisory = true
}

// invalidate forces the next Tools call to re-probe the server. The stale
// definitions are kept for degraded-period serving.
func (c *catalog) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

// wireNames returns the raw name set for last-hop conversion. The map is
// read-only after set; callers must not mutate it.
func (c *catalog) wireNames() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known
}

// toolCount returns the number of known tools, advisory or live.
func (c *catalog) toolCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}

// buildCatalog converts a tools/list result into canonical definitions plus
// the raw wire-name set. When two raw spellings collapse to the same
// canonical name, the spelling carrying the server prefix wins.
func buildCatalog(server string, tools []*mcpsdk.Tool, logger *slog.Logger) ([]models.ToolDefinition, map[string]bool) {
	known := make(map[string]bool, len(tools))
	byCanonical := make(map[string]*mcpsdk.Tool, len(tools))

	for _, t := range tools {
		known[t.Name] = true
		name := Canonical(server, t.Name)
		if prev, dup := byCanonical[name]; dup {
			dropped := t.Name
			if strings.HasPrefix(t.Name, server+"_") {
				byCanonical[name] = t
				dropped = prev.Name
			}
			logger.Warn("Tool spellings collide in catalog",
				"server", server, "canonical", name,
				"kept", byCanonical[name].Name, "dropped", dropped)
			continue
		}
		byCanonical[name] = t
	}

	names := make([]string, 0, len(byCanonical))
	for name := range byCanonical {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]models.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := byCanonical[name]
		defs = append(defs, models.ToolDefinition{
			Name:        name,
			Description: t.Description,
			InputSchema: marshalSchema(t.InputSchema),
		})
	}
	return defs, known
}

// marshalSchema serializes a tool's InputSchema to raw JSON.
func marshalSchema(schema any) json.RawMessage {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return nil
	}
	return data
}

// diskCatalog is the advisory on-disk mirror of server catalogs. It pre-seeds
// prompt context at startup before servers finish spawning; it never counts
// as fresh, so a restart always re-probes the live servers. Files are keyed
// by a hash of the server's transport config, so a config change orphans the
// old entry instead of reviving it.
type diskCatalog struct {
	dir    string
	logger *slog.Logger
}

// diskEntry is the stored JSON document for one server.
type diskEntry struct {
	Server     string                  `json:"server"`
	ConfigHash string                  `json:"config_hash"`
	FetchedAt  time.Time               `json:"fetched_at"`
	Tools      []models.ToolDefinition `json:"tools"`
}

// newDiskCatalog creates the cache rooted at dataDir. Empty dataDir disables
// it and returns nil; all methods are nil-safe.
func newDiskCatalog(dataDir string, logger *slog.Logger) *diskCatalog {
	if dataDir == "" {
		return nil
	}
	return &diskCatalog{
		dir:    filepath.Join(dataDir, "catalog"),
		logger: logger,
	}
}

// load reads the stored definitions for a server, if present and written for
// the same transport config. Read failures are advisory-grade: logged at
// debug and reported as a miss.
func (d *diskCatalog) load(server, hash string) []models.ToolDefinition {
	if d == nil {
		return nil
	}
	data, err := os.ReadFile(d.path(server, hash))
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Debug("Catalog cache read failed", "server", server, "error", err)
		}
		return nil
	}
	var entry diskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		d.logger.Debug("Catalog cache entry unreadable", "server", server, "error", err)
		return nil
	}
	if entry.ConfigHash != hash {
		return nil
	}
	return entry.Tools
}

// store writes the definitions for a server, replacing entries written for
// older configs. Failures are logged, never fatal.
func (d *diskCatalog) store(server, hash string, defs []models.ToolDefinition) {
	if d == nil {
		return
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Warn("Catalog cache dir unavailable", "dir", d.dir, "error", err)
		return
	}

	entry := diskEntry{
		Server:     server,
		ConfigHash: hash,
		FetchedAt:  time.Now(),
		Tools:      defs,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		d.logger.Warn("Catalog cache marshal failed", "server", server, "error", err)
		return
	}
	if err := os.WriteFile(d.path(server, hash), data, 0o600); err != nil {
		d.logger.Warn("Catalog cache write failed", "server", server, "error", err)
		return
	}

	// Drop entries written for this server under older config hashes.
	if stale, err := filepath.Glob(filepath.Join(d.dir, server+"-*.json")); err == nil {
		current := d.path(server, hash)
		for _, f := range stale {
			if f != current {
				_ = os.Remove(f)
			}
		}
	}
}

func (d *diskCatalog) path(server, hash string) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s-%s.json", server, hash))
}

// configHash fingerprints a server's transport config. Env keys marshal in
// sorted order, so the hash is deterministic.
func configHash(cfg *config.MCPServerConfig) string {
	data, err := json.Marshal(cfg.Transport)
	if err != nil {
		return "unhashed"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}
