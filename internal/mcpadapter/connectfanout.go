package mcpadapter

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcpserver"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

var adapterLog = logging.ForComponent(logging.CompAdapter)

// eagerConnectConcurrency bounds the Adapter Façade's startup connect
// fan-out, mirroring the teacher's tmux status-refresh worker pool
// (internal/ui/home.go: g.SetLimit(10)).
const eagerConnectConcurrency = 10

// eagerConnectServers returns the servers that should be connected
// during async init: everything whose lifecycle is "eager", plus every
// "keep-alive" server (spec.md §4.6/§4.7 both start keep-alive
// connections immediately so the health loop only ever has to
// reconnect, never do the first connect).
func eagerConnectServers(config mcptypes.McpConfig) map[string]mcptypes.ServerDefinition {
	out := make(map[string]mcptypes.ServerDefinition)
	for name, def := range config.Servers {
		if def.Lifecycle == mcptypes.LifecycleEager || def.Lifecycle == mcptypes.LifecycleKeepAlive {
			out[name] = def
		}
	}
	return out
}

// eagerConnectAll connects every server returned by eagerConnectServers
// concurrently, bounded to eagerConnectConcurrency in flight at once. A
// single server's connect failure is logged and otherwise ignored: it
// stays disconnected and is picked up by the lifecycle health loop
// (keep-alive) or by the proxy tool's lazy connect (eager, on demand).
func eagerConnectAll(ctx context.Context, servers *mcpserver.Manager, targets map[string]mcptypes.ServerDefinition) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(eagerConnectConcurrency)

	for name, def := range targets {
		name, def := name, def
		g.Go(func() error {
			if _, err := servers.Connect(gctx, name, def); err != nil {
				adapterLog.Warn("eager_connect_failed", slog.String("mcp", name), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	// Every Go func above always returns nil; Wait only blocks until the
	// bounded fan-out drains.
	_ = g.Wait()
}
