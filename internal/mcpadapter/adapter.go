// Package mcpadapter implements the Adapter Façade of spec.md §4.8: the
// top-level object a host session creates, which synchronously exposes
// a proxy tool and any direct tools, then asynchronously brings up the
// Server Manager, Lifecycle Manager, and eager connections.
package mcpadapter

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pi-agent/mcp-core/internal/mcpcache"
	"github.com/pi-agent/mcp-core/internal/mcpconfig"
	"github.com/pi-agent/mcp-core/internal/mcplifecycle"
	"github.com/pi-agent/mcp-core/internal/mcpserver"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// defaultIdleTimeout is the settings.idleTimeout fallback of spec.md
// §3 ("Lifecycle state"): 10 minutes.
const defaultIdleTimeout = 10 * time.Minute

// Adapter is the façade a host session owns for the lifetime of one
// MCP-enabled session.
type Adapter struct {
	agentDir   string
	clientInfo mcpserver.ClientInfo

	config mcptypes.McpConfig

	cache *mcpcache.Cache

	servers   *mcpserver.Manager
	lifecycle *mcplifecycle.Manager
	failures  *FailureTracker

	mu        sync.RWMutex
	cacheFile *mcptypes.MetadataCacheFile
	index     map[string]mcptypes.ToolMetadata // prefixed name -> metadata

	directTools DirectToolSpecs

	initDone chan struct{}
}

// DirectToolSpecs is the synchronous output of spec.md §4.8 step 1:
// the direct tool specs to register with the host immediately, before
// async init has run.
type DirectToolSpecs = []mcptypes.ToolMetadata

// New loads config and the metadata cache synchronously, computes the
// direct tool specs, and returns the adapter in its pre-init state. The
// caller registers the returned direct specs and the proxy tool with
// the host, then calls StartAsyncInit.
func New(agentDir, overridePath, cwd string, clientInfo mcpserver.ClientInfo, promReg prometheus.Registerer) (*Adapter, DirectToolSpecs, error) {
	config, _, err := mcpconfig.Load(agentDir, overridePath, cwd)
	if err != nil {
		return nil, nil, err
	}

	cache := mcpcache.New(agentDir, nil)
	cacheFile, err := cache.Load()
	if err != nil {
		cacheFile = nil
	}

	a := &Adapter{
		agentDir:   agentDir,
		clientInfo: clientInfo,
		config:     config,
		cache:      cache,
		cacheFile:  cacheFile,
		index:      make(map[string]mcptypes.ToolMetadata),
		failures:   NewFailureTracker(),
		initDone:   make(chan struct{}),
	}

	direct := BuildDirectToolSpecs(config, cacheFile, func(name string, entry mcptypes.ServerCacheEntry) bool {
		return cache.Validate(entry, config.Servers[name])
	})

	a.mu.Lock()
	if cacheFile != nil {
		for name, entry := range cacheFile.Servers {
			def, ok := config.Servers[name]
			if !ok || !cache.Validate(entry, def) {
				continue
			}
			a.seedLocked(name, entry, def)
		}
	}
	a.mu.Unlock()

	a.directTools = direct

	a.servers = mcpserver.New(agentDir, clientInfo)
	a.lifecycle = mcplifecycle.New(a.servers, mcplifecycle.Callbacks{
		OnReconnect:    a.onReconnect,
		OnIdleShutdown: a.onIdleShutdown,
	}, promReg)

	return a, direct, nil
}

// seedLocked populates the in-memory tool index from a valid cache
// entry. Caller must hold a.mu.
func (a *Adapter) seedLocked(name string, entry mcptypes.ServerCacheEntry, def mcptypes.ServerDefinition) {
	for _, meta := range mcpcache.ReconstructToolMetadata(name, entry, a.config.EffectiveToolPrefix(), def.ExposeResources) {
		a.index[meta.PrefixedName] = meta
	}
}

// effectiveIdleTimeoutMillis implements spec.md §3's resolution order.
func effectiveIdleTimeoutMillis(def mcptypes.ServerDefinition, settings mcptypes.Settings) int64 {
	if def.IdleTimeout > 0 {
		return int64(def.IdleTimeout) * 60000
	}
	if def.Lifecycle == mcptypes.LifecycleEager {
		return 0
	}
	if settings.IdleTimeout > 0 {
		return int64(settings.IdleTimeout) * 60000
	}
	return defaultIdleTimeout.Milliseconds()
}

// StartAsyncInit runs spec.md §4.8 steps 2-4 in the background: it
// returns immediately, and callers that need to observe completion use
// WaitInit.
func (a *Adapter) StartAsyncInit(ctx context.Context) {
	go a.asyncInit(ctx)
}

func (a *Adapter) asyncInit(ctx context.Context) {
	defer close(a.initDone)

	for name, def := range a.config.Servers {
		a.lifecycle.Register(name, def, effectiveIdleTimeoutMillis(def, a.config.Settings))
	}

	targets := eagerConnectServers(a.config)
	if a.allServersUncached() {
		targets = make(map[string]mcptypes.ServerDefinition, len(a.config.Servers))
		for name, def := range a.config.Servers {
			targets[name] = def
		}
	}
	eagerConnectAll(ctx, a.servers, targets)

	for name := range targets {
		a.refreshServerMetadata(name)
	}

	a.lifecycle.Start(ctx)
}

// allServersUncached reports whether the metadata cache was entirely
// absent at startup, per spec.md §4.8 step 3's "if existingCache == null
// ⇒ all servers" clause.
func (a *Adapter) allServersUncached() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cacheFile == nil
}

// WaitInit blocks until async init has completed.
func (a *Adapter) WaitInit() {
	<-a.initDone
}

// onReconnect refreshes metadata and the on-disk cache for name, per
// spec.md §4.7's reconnect callback.
func (a *Adapter) onReconnect(name string) {
	a.refreshServerMetadata(name)
}

// onIdleShutdown logs; spec.md §4.7 requires nothing else here. The
// connection has already been closed by the Lifecycle Manager.
func (a *Adapter) onIdleShutdown(name string) {
	adapterLog.Info("idle_shutdown", slog.String("mcp", name))
}

// refreshServerMetadata pulls the live tool/resource list from the
// connection (if any) into the in-memory index and the on-disk cache,
// per spec.md §4.8 step 3/§4.7's reconnect callback.
func (a *Adapter) refreshServerMetadata(name string) {
	conn, ok := a.servers.Get(name)
	if !ok || conn.Status != mcptypes.StatusConnected {
		return
	}
	def := a.config.Servers[name]

	entry := mcptypes.ServerCacheEntry{
		ConfigHash:     mcpcache.ComputeHash(def),
		CachedAtMillis: time.Now().UnixMilli(),
	}
	for _, t := range conn.Tools {
		entry.Tools = append(entry.Tools, mcptypes.CachedTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	for _, r := range conn.Resources {
		entry.Resources = append(entry.Resources, mcptypes.CachedResource{URI: r.URI, Name: r.Name, Description: r.Description})
	}

	if err := a.cache.Save(map[string]mcptypes.ServerCacheEntry{name: entry}); err != nil {
		adapterLog.Warn("cache_save_failed", slog.String("mcp", name), slog.String("error", err.Error()))
	}

	a.mu.Lock()
	for key, meta := range a.index {
		if meta.Server == name {
			delete(a.index, key)
		}
	}
	if a.cacheFile == nil {
		a.cacheFile = &mcptypes.MetadataCacheFile{Version: mcptypes.CurrentCacheVersion, Servers: map[string]mcptypes.ServerCacheEntry{}}
	}
	a.cacheFile.Servers[name] = entry
	a.seedLocked(name, entry, def)
	a.mu.Unlock()
}

// snapshotIndex returns a stable-ordered copy of the tool index.
func (a *Adapter) snapshotIndex() []mcptypes.ToolMetadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]mcptypes.ToolMetadata, 0, len(a.index))
	for _, meta := range a.index {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrefixedName < out[j].PrefixedName })
	return out
}

// Shutdown implements spec.md §4.8's session shutdown: await
// in-progress init, run Lifecycle Manager graceful shutdown, clear
// in-memory state.
func (a *Adapter) Shutdown() {
	a.WaitInit()
	a.lifecycle.Shutdown()
	a.mu.Lock()
	a.index = make(map[string]mcptypes.ToolMetadata)
	a.mu.Unlock()
}
