package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// ProxyInput is the parameter schema of spec.md §4.8's unified proxy
// tool: `{tool?, args?, connect?, describe?, search?, regex?,
// includeSchemas?, server?}`.
type ProxyInput struct {
	Tool           string
	Args           json.RawMessage
	Connect        string
	Describe       string
	Search         string
	Regex          bool
	IncludeSchemas bool
	Server         string
}

// mode implements spec.md §4.8.2's resolution precedence:
// tool > connect > describe > search > server > status.
type mode int

const (
	modeTool mode = iota
	modeConnect
	modeDescribe
	modeSearch
	modeServerFilter
	modeStatus
)

func (in ProxyInput) resolveMode() mode {
	switch {
	case in.Tool != "":
		return modeTool
	case in.Connect != "":
		return modeConnect
	case in.Describe != "":
		return modeDescribe
	case in.Search != "":
		return modeSearch
	case in.Server != "":
		return modeServerFilter
	default:
		return modeStatus
	}
}

// Dispatch implements the proxy tool's full behavior.
func (a *Adapter) Dispatch(ctx context.Context, in ProxyInput) (string, []mcptypes.ContentBlock, error) {
	switch in.resolveMode() {
	case modeTool:
		return a.dispatchTool(ctx, in)
	case modeConnect:
		return a.dispatchConnect(ctx, in.Connect), nil, nil
	case modeDescribe:
		return a.dispatchDescribe(in.Describe, in.Server), nil, nil
	case modeSearch:
		return a.dispatchSearch(in), nil, nil
	case modeServerFilter:
		return a.dispatchServerFilter(in.Server), nil, nil
	default:
		return a.dispatchStatus(), nil, nil
	}
}

// normalizeName maps `-` and `_` to the same character so "exa-search"
// and "exa_search" compare equal, per spec.md §4.8.2's "normalized
// match" fallback.
func normalizeName(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// findTool locates a tool by exact match first, then by normalized
// match, optionally restricted to server.
func (a *Adapter) findTool(name, server string) (mcptypes.ToolMetadata, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if meta, ok := a.index[name]; ok && (server == "" || meta.Server == server) {
		return meta, true
	}

	target := normalizeName(name)
	for _, meta := range a.index {
		if server != "" && meta.Server != server {
			continue
		}
		if normalizeName(meta.PrefixedName) == target {
			return meta, true
		}
	}
	return mcptypes.ToolMetadata{}, false
}

func (a *Adapter) dispatchTool(ctx context.Context, in ProxyInput) (string, []mcptypes.ContentBlock, error) {
	meta, ok := a.findTool(in.Tool, in.Server)
	if !ok {
		return fmt.Sprintf("no such tool: %s", in.Tool), nil, nil
	}

	if blocked, secs := a.failures.Blocked(meta.Server); blocked {
		return fmt.Sprintf("%s is in backoff after a recent failure; retry in %ds or reconnect", meta.Server, secs), nil, nil
	}

	def := a.config.Servers[meta.Server]
	conn, err := a.servers.Connect(ctx, meta.Server, def)
	if err != nil {
		a.failures.RecordFailure(meta.Server)
		return fmt.Sprintf("failed to connect to %s: %s", meta.Server, err.Error()), nil, nil
	}

	a.servers.IncrementInFlight(meta.Server)
	defer a.servers.DecrementInFlight(meta.Server)
	a.lifecycle.ToolCalled()
	logging.Aggregate(logging.CompAdapter, "tool_call", slog.String("mcp", meta.Server), slog.String("tool", meta.PrefixedName))

	var args interface{}
	if len(in.Args) > 0 {
		if err := json.Unmarshal(in.Args, &args); err != nil {
			return fmt.Sprintf("undecodable args: %s", err.Error()), nil, nil
		}
	}

	if meta.IsResource {
		result, err := conn.Client.ReadResource(ctx, meta.ResourceURI)
		if err != nil {
			a.failures.RecordFailure(meta.Server)
			return fmt.Sprintf("%s failed: %s", in.Tool, err.Error()), nil, nil
		}
		a.failures.Clear(meta.Server)
		return "", TransformAll(result.Contents), nil
	}

	result, err := conn.Client.CallTool(ctx, meta.OriginalName, args)
	if err != nil {
		a.failures.RecordFailure(meta.Server)
		return fmt.Sprintf("%s failed: %s", in.Tool, err.Error()), nil, nil
	}
	a.failures.Clear(meta.Server)
	return "", TransformAll(result.Content), nil
}

func (a *Adapter) dispatchConnect(ctx context.Context, serverName string) string {
	def, ok := a.config.Servers[serverName]
	if !ok {
		return fmt.Sprintf("no such server: %s", serverName)
	}
	// Best-effort: drop any existing connection before reconnecting.
	_ = a.servers.Close(serverName)
	if _, err := a.servers.Connect(ctx, serverName, def); err != nil {
		a.failures.RecordFailure(serverName)
		return fmt.Sprintf("failed to connect to %s: %s", serverName, err.Error())
	}
	a.failures.Clear(serverName)
	a.lifecycle.ResetFailures(serverName)
	a.refreshServerMetadata(serverName)

	tools, resources := 0, 0
	for _, meta := range a.snapshotIndex() {
		if meta.Server != serverName {
			continue
		}
		if meta.IsResource {
			resources++
		} else {
			tools++
		}
	}
	return fmt.Sprintf("connected to %s: %d tools, %d resources", serverName, tools, resources)
}

func (a *Adapter) dispatchDescribe(toolName, server string) string {
	meta, ok := a.findTool(toolName, server)
	if !ok {
		return fmt.Sprintf("no such tool: %s", toolName)
	}
	var schema string
	if len(meta.InputSchema) > 0 {
		pretty, err := json.MarshalIndent(json.RawMessage(meta.InputSchema), "", "  ")
		if err == nil {
			schema = string(pretty)
		} else {
			schema = string(meta.InputSchema)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", meta.PrefixedName)
	fmt.Fprintf(&b, "server: %s\n", meta.Server)
	fmt.Fprintf(&b, "original name: %s\n", meta.OriginalName)
	fmt.Fprintf(&b, "description: %s\n", meta.Description)
	if schema != "" {
		fmt.Fprintf(&b, "input schema:\n%s\n", schema)
	}
	return b.String()
}

func (a *Adapter) dispatchSearch(in ProxyInput) string {
	var re *regexp.Regexp
	var tokens []string
	if in.Regex {
		compiled, err := regexp.Compile("(?i)" + in.Search)
		if err != nil {
			return fmt.Sprintf("invalid regex: %s", err.Error())
		}
		re = compiled
	} else {
		tokens = strings.Fields(strings.ToLower(in.Search))
	}

	matches := func(meta mcptypes.ToolMetadata) bool {
		if re != nil {
			return re.MatchString(meta.PrefixedName) || re.MatchString(meta.OriginalName) || re.MatchString(meta.Description)
		}
		haystack := meta.OriginalName + " " + meta.PrefixedName + " " + meta.Description
		lower := strings.ToLower(haystack)
		for _, tok := range tokens {
			if !strings.Contains(lower, tok) {
				return false
			}
		}
		return true
	}

	var b strings.Builder
	found := 0
	for _, meta := range a.snapshotIndex() {
		if in.Server != "" && meta.Server != in.Server {
			continue
		}
		if !matches(meta) {
			continue
		}
		found++
		fmt.Fprintf(&b, "%s (%s): %s\n", meta.PrefixedName, meta.Server, meta.Description)
		if in.IncludeSchemas && len(meta.InputSchema) > 0 {
			fmt.Fprintf(&b, "  schema: %s\n", string(meta.InputSchema))
		}
	}
	if found == 0 {
		return "no matching tools"
	}
	return b.String()
}

func (a *Adapter) dispatchServerFilter(server string) string {
	var b strings.Builder
	found := 0
	for _, meta := range a.snapshotIndex() {
		if meta.Server != server {
			continue
		}
		found++
		fmt.Fprintf(&b, "%s: %s\n", meta.PrefixedName, meta.Description)
	}
	if found == 0 {
		return fmt.Sprintf("no cached tools for server %s", server)
	}
	return b.String()
}

// serverStatus is one entry of the status mode's report, per
// spec.md §4.8.2's "status: per-server {name, toolCount, lifecycle}".
type serverStatus struct {
	Name      string `json:"name"`
	ToolCount int    `json:"toolCount"`
	Lifecycle string `json:"lifecycle"`
	Connected bool   `json:"connected"`
}

type statusReport struct {
	Servers        []serverStatus `json:"servers"`
	TotalServers   int            `json:"totalServers"`
	TotalTools     int            `json:"totalTools"`
	ConnectedTotal int            `json:"connectedTotal"`
}

func (a *Adapter) dispatchStatus() string {
	counts := make(map[string]int)
	for _, meta := range a.snapshotIndex() {
		counts[meta.Server]++
	}

	names := make([]string, 0, len(a.config.Servers))
	for name := range a.config.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	report := statusReport{TotalServers: len(names)}
	for _, name := range names {
		def := a.config.Servers[name]
		lifecycle := string(def.Lifecycle)
		if lifecycle == "" {
			lifecycle = string(mcptypes.LifecycleLazy)
		}
		connected := a.servers.IsConnected(name)
		report.Servers = append(report.Servers, serverStatus{
			Name:      name,
			ToolCount: counts[name],
			Lifecycle: lifecycle,
			Connected: connected,
		})
		report.TotalTools += counts[name]
		if connected {
			report.ConnectedTotal++
		}
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Sprintf("status unavailable: %s", err.Error())
	}
	return string(out)
}
