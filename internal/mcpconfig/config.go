// Package mcpconfig implements the Config Loader & Import Merger of
// spec.md §4.1: it loads <agent_dir>/mcp.json (or an override path),
// resolves each entry in its "imports" list against a fixed table of
// known editor/IDE config locations, merges without overwriting, then
// overlays a project-local <cwd>/.pi/mcp.json that overwrites. Grounded
// on the teacher's config-loading idioms (userconfig.go's tilde
// expansion, storage.go's path-safety checks) adapted from TOML to the
// JSON schema spec.md §6.1 defines.
package mcpconfig

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
	"github.com/pi-agent/mcp-core/internal/platform"
)

var configLog = logging.ForComponent(logging.CompConfig)

// ConfigEnvOverride names the environment variable (and matching host
// CLI flag) that overrides the base config path, per spec.md §6.3.
const ConfigEnvOverride = "MCP_CONFIG"

// ProjectOverlayRelPath is the project-local overlay loaded relative to
// the current working directory, per spec.md §6.1.
const ProjectOverlayRelPath = ".pi/mcp.json"

// SourceTag identifies where a server definition came from, for the
// provenance operation spec.md §4.1 asks for.
type SourceTag string

const (
	SourceConfig  SourceTag = "config"
	SourceProject SourceTag = "project"
)

// Provenance maps a server name to where its definition was found.
type Provenance struct {
	Source       SourceTag
	ResolvedPath string
}

// knownImportSources maps the import names spec.md §6.1 lists to a
// function producing their fixed config path. vscode is resolved
// relative to the working directory rather than the home directory.
var knownImportSources = map[string]func(homeDir, cwd string) string{
	"cursor": func(home, _ string) string {
		return filepath.Join(home, ".cursor", "mcp.json")
	},
	"claude-code": func(home, _ string) string {
		return filepath.Join(home, ".claude.json")
	},
	"claude-desktop": func(home, _ string) string {
		switch platform.Detect() {
		case platform.OSMacOS:
			return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json")
		case platform.OSWindows:
			appData := os.Getenv("APPDATA")
			if appData == "" {
				appData = filepath.Join(home, "AppData", "Roaming")
			}
			return filepath.Join(appData, "Claude", "claude_desktop_config.json")
		default:
			return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json")
		}
	},
	"codex": func(home, _ string) string {
		return filepath.Join(home, ".codex", "config.json")
	},
	"windsurf": func(home, _ string) string {
		return filepath.Join(home, ".codeium", "windsurf", "mcp_config.json")
	},
	"vscode": func(_, cwd string) string {
		return filepath.Join(cwd, ".vscode", "mcp.json")
	},
}

// rawDocument is the permissive shape every import source and the base
// config is decoded into before source-specific unwrapping, since each
// source's server map lives under a different key.
type rawDocument struct {
	MCPServersCamel map[string]mcptypes.ServerDefinition `json:"mcpServers"`
	MCPServersDash  map[string]mcptypes.ServerDefinition `json:"mcp-servers"`
	Servers         map[string]mcptypes.ServerDefinition `json:"servers"` // vscode
	MCP             *struct {
		Servers map[string]mcptypes.ServerDefinition `json:"servers"` // codex
	} `json:"mcp"`
	Imports  []string          `json:"imports,omitempty"`
	Settings mcptypes.Settings `json:"settings,omitempty"`
}

// serverMap extracts this document's server definitions per
// spec.md §4.1's source-specific unwrap rules: root mcpServers/
// mcp-servers always apply; codex also checks mcp.servers; vscode also
// checks servers.
func (d rawDocument) serverMap(source string) map[string]mcptypes.ServerDefinition {
	out := map[string]mcptypes.ServerDefinition{}
	for name, def := range d.MCPServersCamel {
		out[name] = def
	}
	for name, def := range d.MCPServersDash {
		out[name] = def
	}
	if source == "codex" && d.MCP != nil {
		for name, def := range d.MCP.Servers {
			out[name] = def
		}
	}
	if source == "vscode" {
		for name, def := range d.Servers {
			out[name] = def
		}
	}
	return out
}

// Load runs the full algorithm of spec.md §4.1: base config, import
// resolution, then the project overlay. overridePath (a host CLI flag
// value) takes precedence over the MCP_CONFIG environment variable,
// which in turn takes precedence over <agentDir>/mcp.json; pass "" to
// fall through. cwd scopes the vscode import and the project overlay.
func Load(agentDir, overridePath, cwd string) (mcptypes.McpConfig, map[string]Provenance, error) {
	basePath := overridePath
	if basePath == "" {
		basePath = os.Getenv(ConfigEnvOverride)
	}
	if basePath == "" {
		basePath = filepath.Join(agentDir, "mcp.json")
	}

	base, err := readDocument(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			base = rawDocument{}
		} else {
			return mcptypes.McpConfig{}, nil, &mcptypes.ConfigError{Path: basePath, Err: err}
		}
	}

	cfg := mcptypes.McpConfig{
		Servers:  base.serverMap("config"),
		Settings: base.Settings,
	}
	prov := make(map[string]Provenance, len(cfg.Servers))
	for name := range cfg.Servers {
		prov[name] = Provenance{Source: SourceConfig, ResolvedPath: basePath}
	}

	home, _ := os.UserHomeDir()
	for _, name := range base.Imports {
		resolveImport(name, home, cwd, cfg.Servers, prov)
	}

	overlayPath := filepath.Join(cwd, ProjectOverlayRelPath)
	if overlay, err := readDocument(overlayPath); err == nil {
		for name, def := range overlay.serverMap("project") {
			cfg.Servers[name] = def
			prov[name] = Provenance{Source: SourceProject, ResolvedPath: overlayPath}
		}
		cfg.Settings = mergeSettings(cfg.Settings, overlay.Settings)
	} else if !os.IsNotExist(err) {
		configLog.Warn("project_overlay_undecodable", slog.String("path", overlayPath), slog.String("error", err.Error()))
	}

	return cfg, prov, nil
}

// resolveImport handles one imports[] entry: a known source name, or a
// file path with "~" expansion. Absent files and undecodable documents
// are silently skipped, per spec.md §4.1's failure policy. Names
// already present in servers are left untouched (non-overwriting
// merge).
func resolveImport(name, home, cwd string, servers map[string]mcptypes.ServerDefinition, prov map[string]Provenance) {
	var path string
	if resolver, ok := knownImportSources[name]; ok {
		path = resolver(home, cwd)
	} else {
		path = expandTilde(name, home)
	}

	doc, err := readDocument(path)
	if err != nil {
		if !os.IsNotExist(err) {
			configLog.Debug("import_undecodable", slog.String("import", name), slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}

	for serverName, def := range doc.serverMap(name) {
		if _, exists := servers[serverName]; exists {
			continue
		}
		servers[serverName] = def
		prov[serverName] = Provenance{Source: SourceTag(name), ResolvedPath: path}
	}
}

// mergeSettings applies last-write-wins per field, overlay over base.
func mergeSettings(base, overlay mcptypes.Settings) mcptypes.Settings {
	out := base
	if overlay.ToolPrefix != "" {
		out.ToolPrefix = overlay.ToolPrefix
	}
	if overlay.IdleTimeout != 0 {
		out.IdleTimeout = overlay.IdleTimeout
	}
	out.DirectTools = overlay.DirectTools
	return out
}

func readDocument(path string) (rawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rawDocument{}, err
	}
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return rawDocument{}, err
	}
	return doc, nil
}

// expandTilde expands a leading "~/" against home, mirroring the
// teacher's storage.go path-traversal guard: the cleaned result must
// still live under home.
func expandTilde(path, home string) string {
	if home == "" || !strings.HasPrefix(path, "~/") {
		return path
	}
	expanded := filepath.Join(home, path[2:])
	cleaned := filepath.Clean(expanded)
	if !strings.HasPrefix(cleaned, home) {
		return path
	}
	return cleaned
}
