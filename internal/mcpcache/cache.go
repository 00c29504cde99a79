// Package mcpcache implements the persistent metadata cache of
// spec.md §4.2: a read-merge-write JSON file mapping server name to its
// last-known tool/resource advertisement, keyed so stale or
// config-incompatible entries are never served to the host.
package mcpcache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
	"github.com/pi-agent/mcp-core/internal/nametransform"
)

var cacheLog = logging.ForComponent(logging.CompCache)

// Clock abstracts time.Now so tests can inject a fixed instant; it is
// the explicit "clock function" spec.md §9 asks every filesystem/timing
// component to accept instead of reaching for a mutable global.
type Clock func() time.Time

// Cache reads and writes <agentDir>/mcp-cache.json.
type Cache struct {
	agentDir string
	now      Clock
}

// New builds a Cache rooted at agentDir. now defaults to time.Now.
func New(agentDir string, now Clock) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{agentDir: agentDir, now: now}
}

func (c *Cache) path() string {
	return filepath.Join(c.agentDir, "mcp-cache.json")
}

// Load reads the cache file. It returns (nil, nil) when the file is
// absent or undecodable, and discards the whole file if its version
// field doesn't match CurrentCacheVersion (spec.md §4.2).
func (c *Cache) Load() (*mcptypes.MetadataCacheFile, error) {
	data, err := os.ReadFile(c.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}
	var file mcptypes.MetadataCacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		cacheLog.Warn("cache_undecodable", slog.String("error", err.Error()))
		return nil, nil
	}
	if file.Version != mcptypes.CurrentCacheVersion {
		cacheLog.Info("cache_version_mismatch", slog.Int("found", file.Version), slog.Int("want", mcptypes.CurrentCacheVersion))
		return nil, nil
	}
	if file.Servers == nil {
		file.Servers = map[string]mcptypes.ServerCacheEntry{}
	}
	return &file, nil
}

// Save performs the read-merge-write of spec.md §4.2: the current
// on-disk cache is loaded, each entry in partial overlays (replacing the
// whole entry for that server name), and the result is written
// atomically. Entries for servers not present in partial are preserved.
func (c *Cache) Save(partial map[string]mcptypes.ServerCacheEntry) error {
	current, err := c.Load()
	if err != nil || current == nil {
		current = &mcptypes.MetadataCacheFile{
			Version: mcptypes.CurrentCacheVersion,
			Servers: map[string]mcptypes.ServerCacheEntry{},
		}
	}
	for name, entry := range partial {
		current.Servers[name] = entry
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mcp cache: %w", err)
	}

	if err := c.atomicWrite(data); err != nil {
		cacheLog.Warn("atomic_write_failed_fallback", slog.String("error", err.Error()))
		// Best-effort direct write, per spec.md §4.2 fallback clause.
		return os.WriteFile(c.path(), data, 0o644)
	}
	return nil
}

// atomicWrite writes to <path>.<pid>.tmp and renames over the target,
// which is atomic on the same filesystem. A uuid suffix is appended so
// two Cache instances sharing a process (as in tests) never collide on
// the same temp path.
func (c *Cache) atomicWrite(data []byte) error {
	if err := os.MkdirAll(c.agentDir, 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.%s.tmp", c.path(), os.Getpid(), uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path()); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Validate reports whether entry is still usable for def, per
// spec.md §4.2/§3: its configHash must match def's current hash and its
// age must be under the 7-day TTL.
func (c *Cache) Validate(entry mcptypes.ServerCacheEntry, def mcptypes.ServerDefinition) bool {
	return entry.Valid(ComputeHash(def), c.now())
}

// ReconstructToolMetadata returns the same ToolMetadata list the server
// would produce if freshly connected, built entirely from a cache entry
// (spec.md §4.2). Resource-backed pseudo-tools are included only when
// exposeResources is true.
func ReconstructToolMetadata(serverName string, entry mcptypes.ServerCacheEntry, prefix mcptypes.ToolPrefixMode, exposeResources bool) []mcptypes.ToolMetadata {
	out := make([]mcptypes.ToolMetadata, 0, len(entry.Tools)+len(entry.Resources))
	for _, t := range entry.Tools {
		out = append(out, mcptypes.ToolMetadata{
			PrefixedName: nametransform.FormatToolName(t.Name, serverName, string(prefix)),
			OriginalName: t.Name,
			Server:       serverName,
			Description:  t.Description,
			InputSchema:  t.InputSchema,
		})
	}
	if exposeResources {
		for _, r := range entry.Resources {
			toolName := nametransform.ResourceNameToToolName(r.Name)
			out = append(out, mcptypes.ToolMetadata{
				PrefixedName: nametransform.FormatToolName(toolName, serverName, string(prefix)),
				OriginalName: toolName,
				Server:       serverName,
				Description:  r.Description,
				ResourceURI:  r.URI,
				IsResource:   true,
			})
		}
	}
	return out
}
