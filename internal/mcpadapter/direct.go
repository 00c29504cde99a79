package mcpadapter

import (
	"os"
	"sort"
	"strings"

	"github.com/pi-agent/mcp-core/internal/mcpcache"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// DirectToolsEnvVar is spec.md §6.3's override for which direct tools
// are exposed.
const DirectToolsEnvVar = "MCP_DIRECT_TOOLS"

// directToolsDisableAll is the sentinel value of spec.md §4.8.1.
const directToolsDisableAll = "__none__"

// reservedToolNames are the host's built-in tools; a direct tool spec
// colliding with one of these (or with a name already emitted) is
// skipped rather than registered.
var reservedToolNames = []string{"read", "bash", "edit", "write", "grep", "find", "ls", "mcp", "subagent"}

// directOverride is the parsed form of MCP_DIRECT_TOOLS.
type directOverride struct {
	disableAll bool
	// servers maps server name to its allowed tool names; an entry
	// present with a nil/empty set means "all tools for this server".
	servers map[string]map[string]bool
}

func parseDirectToolsEnv(raw string) *directOverride {
	if strings.TrimSpace(raw) == directToolsDisableAll {
		return &directOverride{disableAll: true}
	}
	ov := &directOverride{servers: make(map[string]map[string]bool)}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		server, tool, hasTool := strings.Cut(entry, "/")
		if _, ok := ov.servers[server]; !ok {
			ov.servers[server] = nil
		}
		if hasTool {
			if ov.servers[server] == nil {
				ov.servers[server] = make(map[string]bool)
			}
			ov.servers[server][tool] = true
		}
	}
	return ov
}

// resolvedPolicy is what per-server direct-tool policy resolution
// produces: whether direct exposure is enabled and, if enabled, an
// optional name filter (nil means "all tools").
type resolvedPolicy struct {
	enabled bool
	names   map[string]bool
}

func resolveServerPolicy(serverName string, def mcptypes.ServerDefinition, settingsDefault bool, override *directOverride) resolvedPolicy {
	if override != nil {
		if override.disableAll {
			return resolvedPolicy{enabled: false}
		}
		names, ok := override.servers[serverName]
		if !ok {
			return resolvedPolicy{enabled: false}
		}
		return resolvedPolicy{enabled: true, names: names}
	}

	if def.DirectTools != nil && def.DirectTools.IsSet() {
		if !def.DirectTools.Enabled {
			return resolvedPolicy{enabled: false}
		}
		if len(def.DirectTools.Names) == 0 {
			return resolvedPolicy{enabled: true}
		}
		names := make(map[string]bool, len(def.DirectTools.Names))
		for _, n := range def.DirectTools.Names {
			names[n] = true
		}
		return resolvedPolicy{enabled: true, names: names}
	}

	return resolvedPolicy{enabled: settingsDefault}
}

// BuildDirectToolSpecs implements spec.md §4.8.1: decide, per server,
// whether it contributes direct tools, and emit one ToolMetadata per
// eligible tool (and resource pseudo-tool), skipping anything that
// collides with a reserved or already-emitted prefixed name. A server
// contributes only if it has a valid cache entry; servers without one
// get no direct spec here, and their tools reach the adapter's index
// only after their first connect (via refreshServerMetadata).
func BuildDirectToolSpecs(config mcptypes.McpConfig, cacheFile *mcptypes.MetadataCacheFile, isValid func(serverName string, entry mcptypes.ServerCacheEntry) bool) []mcptypes.ToolMetadata {
	taken := make(map[string]bool, len(reservedToolNames))
	for _, n := range reservedToolNames {
		taken[n] = true
	}

	var override *directOverride
	if raw, ok := os.LookupEnv(DirectToolsEnvVar); ok {
		override = parseDirectToolsEnv(raw)
	}

	prefix := config.EffectiveToolPrefix()

	names := make([]string, 0, len(config.Servers))
	for name := range config.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []mcptypes.ToolMetadata
	for _, serverName := range names {
		def := config.Servers[serverName]
		policy := resolveServerPolicy(serverName, def, config.Settings.DirectTools, override)
		if !policy.enabled || cacheFile == nil {
			continue
		}
		entry, ok := cacheFile.Servers[serverName]
		if !ok || !isValid(serverName, entry) {
			continue
		}

		for _, meta := range mcpcache.ReconstructToolMetadata(serverName, entry, prefix, def.ExposeResources) {
			if policy.names != nil && !policy.names[meta.OriginalName] {
				continue
			}
			if taken[meta.PrefixedName] {
				continue
			}
			taken[meta.PrefixedName] = true
			out = append(out, meta)
		}
	}
	return out
}
