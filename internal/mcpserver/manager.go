// Package mcpserver implements the Server Manager of spec.md §4.6: a
// mutex-guarded map from server name to live connection state, owning
// lazy connect, idle detection, and in-flight call accounting.
package mcpserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcpclient"
	"github.com/pi-agent/mcp-core/internal/mcptransport"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
	"github.com/pi-agent/mcp-core/internal/npxresolve"
)

var serverLog = logging.ForComponent(logging.CompServer)

// ClientInfo is forwarded to the protocol client's initialize handshake.
type ClientInfo = mcpclient.ClientInfo

// Connection is the live state of one connected (or connecting) server.
type Connection struct {
	Status     mcptypes.ConnStatus
	Client     *mcpclient.Client
	Tools      []mcpclient.Tool
	Resources  []mcpclient.Resource
	LastUsedAt time.Time
	InFlight   int

	// ExternallyOwned is set when this HTTP server was already
	// reachable at connect time (SPEC_FULL.md §6.1): the manager never
	// tears it down on closeAll, though it still counts for
	// status/search.
	ExternallyOwned bool
}

// Manager owns the name → Connection map. All mutations are serialized
// by mu, per spec.md §5.
type Manager struct {
	agentDir   string
	clientInfo ClientInfo
	npx        *npxresolve.Resolver

	mu    sync.Mutex
	conns map[string]*Connection
}

// New builds a Manager. agentDir roots the NPX resolver's disk cache
// and HTTP oauth token lookups.
func New(agentDir string, clientInfo ClientInfo) *Manager {
	return &Manager{
		agentDir:   agentDir,
		clientInfo: clientInfo,
		npx:        npxresolve.New(agentDir, nil),
		conns:      make(map[string]*Connection),
	}
}

// Get returns the named connection entry, if any; the bool reports
// whether an entry exists, whatever its status. Callers needing the client for a
// call must not retain the pointer across an await without this lock
// discipline in mind — the map itself is consistent, but reconnects
// replace the *Connection value wholesale.
func (m *Manager) Get(name string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[name]
	return c, ok
}

// IsConnected reports whether name currently has a connected client.
func (m *Manager) IsConnected(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[name]
	return ok && c.Status == mcptypes.StatusConnected
}

// Connect implements spec.md §4.6's connect algorithm: if already
// connected, return it; otherwise insert a connecting placeholder,
// build the transport (rewriting npx/npm through the NPX Resolver),
// run the handshake plus listAllTools/listAllResources, and install
// the result.
func (m *Manager) Connect(ctx context.Context, name string, def mcptypes.ServerDefinition) (*Connection, error) {
	m.mu.Lock()
	if existing, ok := m.conns[name]; ok && existing.Status == mcptypes.StatusConnected {
		m.mu.Unlock()
		return existing, nil
	}
	m.conns[name] = &Connection{Status: mcptypes.StatusConnecting}
	m.mu.Unlock()

	conn, err := m.doConnect(ctx, name, def)
	if err != nil {
		m.mu.Lock()
		m.conns[name] = &Connection{Status: mcptypes.StatusError}
		m.mu.Unlock()
		return nil, &mcptypes.ConnectionFailedError{Server: name, Err: err}
	}

	m.mu.Lock()
	m.conns[name] = conn
	m.mu.Unlock()
	return conn, nil
}

func (m *Manager) doConnect(ctx context.Context, name string, def mcptypes.ServerDefinition) (*Connection, error) {
	var transport mcptransport.Transport
	externallyOwned := false

	if def.IsHTTP() {
		if isURLReachable(def.URL) {
			externallyOwned = true
		}
		transport = mcptransport.NewHTTP(mcptransport.HTTPSpawnSpec{
			ServerName:     name,
			URL:            def.URL,
			Headers:        def.Headers,
			Auth:           def.Auth,
			BearerToken:    def.BearerToken,
			BearerTokenEnv: def.BearerTokenEnv,
			AgentDir:       m.agentDir,
		})
	} else {
		command, args := def.Command, def.Args
		if command == "npx" || command == "npm" {
			if resolved, err := m.npx.Resolve(ctx, command, args); err == nil && resolved != nil {
				command, args = resolved.Command, resolved.Args
			}
			// Resolution failure: fall through and spawn the original
			// npx/npm command as a fallback, per spec.md §7.
		}
		connId := uuid.NewString()
		serverLog.Info("stdio_connecting", slog.String("mcp", name), slog.String("conn", connId))
		t, err := mcptransport.StartStdio(ctx, name, mcptransport.StdioSpawnSpec{
			Command: command,
			Args:    args,
			Env:     def.Env,
			Cwd:     def.Cwd,
			Debug:   def.Debug,
		})
		if err != nil {
			return nil, err
		}
		transport = t
	}

	client := mcpclient.New(name, transport)
	if err := client.Initialize(ctx, m.clientInfo); err != nil {
		client.Close()
		return nil, err
	}

	tools, err := client.ListAllTools(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}

	var resources []mcpclient.Resource
	if def.ExposeResources {
		resources, err = client.ListAllResources(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
	}

	return &Connection{
		Status:          mcptypes.StatusConnected,
		Client:          client,
		Tools:           tools,
		Resources:       resources,
		LastUsedAt:      time.Now(),
		ExternallyOwned: externallyOwned,
	}, nil
}

// isURLReachable is the supplemented external-process-discovery check
// of SPEC_FULL.md §6.1, grounded on the teacher's isSocketAlive idiom
// but probing an HTTP URL instead of a unix socket.
func isURLReachable(url string) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Head(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Close closes and removes name's connection, unless it is externally
// owned (SPEC_FULL.md §6.1: the manager never tears down a server it
// didn't start).
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	conn, ok := m.conns[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if conn.ExternallyOwned {
		m.mu.Unlock()
		return nil
	}
	delete(m.conns, name)
	m.mu.Unlock()

	if conn.Client != nil {
		return conn.Client.Close()
	}
	return nil
}

// CloseAll closes every owned connection, for session shutdown.
// Externally-owned connections are left in place (SPEC_FULL.md §6.1):
// this process never started them, so shutdown doesn't touch them.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	remaining := make(map[string]*Connection, len(m.conns))
	var toClose []string
	for name, conn := range m.conns {
		if conn.ExternallyOwned {
			remaining[name] = conn
		} else {
			toClose = append(toClose, name)
		}
	}
	closing := m.conns
	m.conns = remaining
	m.mu.Unlock()

	for _, name := range toClose {
		conn := closing[name]
		if conn.Client == nil {
			continue
		}
		if err := conn.Client.Close(); err != nil {
			serverLog.Warn("close_failed", slog.String("mcp", name), slog.String("error", err.Error()))
		}
	}
}

// Touch refreshes name's LastUsedAt.
func (m *Manager) Touch(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[name]; ok {
		c.LastUsedAt = time.Now()
	}
}

// IncrementInFlight bumps InFlight and refreshes LastUsedAt.
func (m *Manager) IncrementInFlight(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[name]; ok {
		c.InFlight++
		c.LastUsedAt = time.Now()
	}
}

// DecrementInFlight decrements InFlight, guarding against underflow.
func (m *Manager) DecrementInFlight(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[name]; ok && c.InFlight > 0 {
		c.InFlight--
	}
}

// IsIdle reports whether name is connected, has no in-flight calls, and
// has been unused for longer than timeout, per spec.md §4.6.
func (m *Manager) IsIdle(name string, timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[name]
	if !ok || c.Status != mcptypes.StatusConnected || c.InFlight != 0 {
		return false
	}
	return time.Since(c.LastUsedAt) > timeout
}

// Names returns the names of every currently-tracked connection.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns))
	for name := range m.conns {
		out = append(out, name)
	}
	return out
}
