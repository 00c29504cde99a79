package mcpadapter

import (
	"testing"

	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

func alwaysValid(string, mcptypes.ServerCacheEntry) bool { return true }

func cacheWith(servers map[string]mcptypes.ServerCacheEntry) *mcptypes.MetadataCacheFile {
	return &mcptypes.MetadataCacheFile{Version: mcptypes.CurrentCacheVersion, Servers: servers}
}

func entryWithTools(names ...string) mcptypes.ServerCacheEntry {
	var tools []mcptypes.CachedTool
	for _, n := range names {
		tools = append(tools, mcptypes.CachedTool{Name: n, Description: n + " tool"})
	}
	return mcptypes.ServerCacheEntry{Tools: tools}
}

func TestBuildDirectToolSpecsDisabledByDefault(t *testing.T) {
	cfg := mcptypes.McpConfig{
		Servers: map[string]mcptypes.ServerDefinition{"exa": {}},
	}
	cache := cacheWith(map[string]mcptypes.ServerCacheEntry{"exa": entryWithTools("search")})

	got := BuildDirectToolSpecs(cfg, cache, alwaysValid)
	if len(got) != 0 {
		t.Errorf("expected no direct tools with settings default false, got %+v", got)
	}
}

func TestBuildDirectToolSpecsSettingsDefaultEnablesAll(t *testing.T) {
	cfg := mcptypes.McpConfig{
		Servers:  map[string]mcptypes.ServerDefinition{"exa": {}},
		Settings: mcptypes.Settings{DirectTools: true},
	}
	cache := cacheWith(map[string]mcptypes.ServerCacheEntry{"exa": entryWithTools("search", "fetch")})

	got := BuildDirectToolSpecs(cfg, cache, alwaysValid)
	if len(got) != 2 {
		t.Fatalf("expected 2 direct tools, got %d: %+v", len(got), got)
	}
}

func TestBuildDirectToolSpecsPerServerOverrideWithNameFilter(t *testing.T) {
	dt := &mcptypes.DirectTools{}
	if err := dt.UnmarshalJSON([]byte(`{"tools":["search"]}`)); err != nil {
		t.Fatal(err)
	}
	def := mcptypes.ServerDefinition{DirectTools: dt}

	cfg := mcptypes.McpConfig{Servers: map[string]mcptypes.ServerDefinition{"exa": def}}
	cache := cacheWith(map[string]mcptypes.ServerCacheEntry{"exa": entryWithTools("search", "fetch")})

	got := BuildDirectToolSpecs(cfg, cache, alwaysValid)
	if len(got) != 1 || got[0].OriginalName != "search" {
		t.Errorf("expected only search to be direct, got %+v", got)
	}
}

func TestBuildDirectToolSpecsPerServerFalseDisables(t *testing.T) {
	dt := &mcptypes.DirectTools{}
	if err := dt.UnmarshalJSON([]byte(`false`)); err != nil {
		t.Fatal(err)
	}
	cfg := mcptypes.McpConfig{
		Servers:  map[string]mcptypes.ServerDefinition{"exa": {DirectTools: dt}},
		Settings: mcptypes.Settings{DirectTools: true},
	}
	cache := cacheWith(map[string]mcptypes.ServerCacheEntry{"exa": entryWithTools("search")})

	got := BuildDirectToolSpecs(cfg, cache, alwaysValid)
	if len(got) != 0 {
		t.Errorf("expected explicit per-server false to override settings default, got %+v", got)
	}
}

func TestBuildDirectToolSpecsSkipsInvalidCacheEntry(t *testing.T) {
	cfg := mcptypes.McpConfig{
		Servers:  map[string]mcptypes.ServerDefinition{"exa": {}},
		Settings: mcptypes.Settings{DirectTools: true},
	}
	cache := cacheWith(map[string]mcptypes.ServerCacheEntry{"exa": entryWithTools("search")})

	got := BuildDirectToolSpecs(cfg, cache, func(string, mcptypes.ServerCacheEntry) bool { return false })
	if len(got) != 0 {
		t.Errorf("expected invalid cache entry to be skipped, got %+v", got)
	}
}

func TestBuildDirectToolSpecsSkipsReservedNameCollision(t *testing.T) {
	cfg := mcptypes.McpConfig{
		Servers:  map[string]mcptypes.ServerDefinition{"exa": {}},
		Settings: mcptypes.Settings{ToolPrefix: mcptypes.ToolPrefixNone, DirectTools: true},
	}
	cache := cacheWith(map[string]mcptypes.ServerCacheEntry{"exa": entryWithTools("bash", "search")})

	got := BuildDirectToolSpecs(cfg, cache, alwaysValid)
	if len(got) != 1 || got[0].OriginalName != "search" {
		t.Errorf("expected reserved name 'bash' to be skipped, got %+v", got)
	}
}

func TestBuildDirectToolSpecsEnvOverrideDisableAll(t *testing.T) {
	t.Setenv(DirectToolsEnvVar, "__none__")
	cfg := mcptypes.McpConfig{
		Servers:  map[string]mcptypes.ServerDefinition{"exa": {}},
		Settings: mcptypes.Settings{DirectTools: true},
	}
	cache := cacheWith(map[string]mcptypes.ServerCacheEntry{"exa": entryWithTools("search")})

	got := BuildDirectToolSpecs(cfg, cache, alwaysValid)
	if len(got) != 0 {
		t.Errorf("expected __none__ override to disable all direct tools, got %+v", got)
	}
}

func TestBuildDirectToolSpecsEnvOverrideSelectsServerAndTool(t *testing.T) {
	t.Setenv(DirectToolsEnvVar, "exa/search,other")
	cfg := mcptypes.McpConfig{
		Servers: map[string]mcptypes.ServerDefinition{
			"exa":   {},
			"other": {},
		},
	}
	cache := cacheWith(map[string]mcptypes.ServerCacheEntry{
		"exa":   entryWithTools("search", "fetch"),
		"other": entryWithTools("list"),
	})

	got := BuildDirectToolSpecs(cfg, cache, alwaysValid)
	if len(got) != 2 {
		t.Fatalf("expected 2 direct tools (exa/search + all of other), got %d: %+v", len(got), got)
	}
	var foundSearch, foundList bool
	for _, m := range got {
		if m.Server == "exa" && m.OriginalName == "search" {
			foundSearch = true
		}
		if m.Server == "other" && m.OriginalName == "list" {
			foundList = true
		}
	}
	if !foundSearch || !foundList {
		t.Errorf("unexpected result set: %+v", got)
	}
}

func TestBuildDirectToolSpecsNilCacheFileYieldsNoTools(t *testing.T) {
	cfg := mcptypes.McpConfig{
		Servers:  map[string]mcptypes.ServerDefinition{"exa": {}},
		Settings: mcptypes.Settings{DirectTools: true},
	}
	got := BuildDirectToolSpecs(cfg, nil, alwaysValid)
	if len(got) != 0 {
		t.Errorf("expected nil cache file to yield no direct tools, got %+v", got)
	}
}

func TestParseDirectToolsEnvDisableAllIgnoresTrailingWhitespace(t *testing.T) {
	ov := parseDirectToolsEnv("  __none__  ")
	if !ov.disableAll {
		t.Error("expected whitespace-padded sentinel to still disable all")
	}
}

