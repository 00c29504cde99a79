package mcpadapter

import (
	"encoding/json"
	"fmt"

	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// proxyToolInputSchema is the JSON Schema for ProxyInput, authored by
// hand since there is no upstream MCP server to reconstruct it from.
const proxyToolInputSchema = `{
  "type": "object",
  "properties": {
    "tool": {"type": "string", "description": "prefixed tool name to call"},
    "args": {"type": "object", "description": "arguments for the tool call"},
    "connect": {"type": "string", "description": "server name to (re)connect"},
    "describe": {"type": "string", "description": "tool name to describe"},
    "search": {"type": "string", "description": "substring or regex query"},
    "regex": {"type": "boolean", "description": "treat search as a regex"},
    "includeSchemas": {"type": "boolean", "description": "include input schemas in search results"},
    "server": {"type": "string", "description": "restrict tool/describe/search to one server; given alone, list that server's cached tools"}
  }
}`

// BuildMcpProxyTool returns the host-registrable descriptor for the
// single unified proxy tool of spec.md §4.8: its description is a
// live, human-readable summary of the servers and direct tools
// currently known to the adapter, matching spec.md §6.4's
// `buildMcpProxyTool(...)`.
func (a *Adapter) BuildMcpProxyTool() mcptypes.ToolMetadata {
	return mcptypes.ToolMetadata{
		PrefixedName: "mcp",
		OriginalName: "mcp",
		Description:  a.proxyToolSummary(),
		InputSchema:  json.RawMessage(proxyToolInputSchema),
	}
}

// proxyToolSummary renders the short description surfaced alongside
// the proxy tool's schema: server count, connected count, and total
// known tool count, so a host can show something useful before the
// first `status` call.
func (a *Adapter) proxyToolSummary() string {
	a.mu.RLock()
	total := len(a.index)
	a.mu.RUnlock()

	connected := 0
	for name := range a.config.Servers {
		if a.servers.IsConnected(name) {
			connected++
		}
	}
	return fmt.Sprintf(
		"Call an MCP tool, connect/describe/search servers, or check status. %d server(s) configured, %d connected, %d tool(s) known.",
		len(a.config.Servers), connected, total,
	)
}

// BuildDirectTools returns the already-resolved direct tool specs
// computed synchronously in New, matching spec.md §6.4's
// `buildDirectTools(...)` naming. It is a thin accessor: the real
// computation happens in BuildDirectToolSpecs during New so direct
// tools are available before async init completes.
func (a *Adapter) BuildDirectTools() DirectToolSpecs {
	return a.directTools
}
