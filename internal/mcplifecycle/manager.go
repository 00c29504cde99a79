// Package mcplifecycle implements the Lifecycle Manager of spec.md §4.7:
// a health loop that reconnects keep-alive servers and evicts idle
// ones, plus the restart-rate-limiting/permanent-failure quarantine
// supplemented in SPEC_FULL.md §6, grounded on the teacher's
// RestartProxyWithRateLimit.
package mcplifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcpserver"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

var lifecycleLog = logging.ForComponent(logging.CompLifecycle)

// HealthInterval is the default health-loop tick of spec.md §4.7.
const HealthInterval = 30 * time.Second

// maxTotalRestartFailures is the cumulative-failure ceiling of the
// permanent-failure quarantine (SPEC_FULL.md §6 item 2).
const maxTotalRestartFailures = 10

// minRestartInterval and maxRestartsPerMinute bound how often a
// keep-alive server may be retried, matching the teacher's
// RestartProxyWithRateLimit rate limiting.
const (
	minRestartInterval   = 5 * time.Second
	maxRestartsPerMinute = 3
)

type registration struct {
	def                     mcptypes.ServerDefinition
	effectiveIdleTimeoutMs  int64
	keepAlive               bool
	lastRestart             time.Time
	restartsThisMinuteSince time.Time
	restartsThisMinute      int
	totalFailures           int
	permanentlyFailed       bool
}

// Callbacks are invoked by the health loop, per spec.md §4.7.
type Callbacks struct {
	OnReconnect    func(name string)
	OnIdleShutdown func(name string)
}

// Manager owns the registered-server table and the health-loop
// goroutine.
type Manager struct {
	servers   *mcpserver.Manager
	callbacks Callbacks

	mu   sync.Mutex
	regs map[string]*registration

	cancel context.CancelFunc
	done   chan struct{}

	metrics *metrics
}

type metrics struct {
	connected       prometheus.Gauge
	reconnectsTotal prometheus.Counter
	idleEvictions   prometheus.Counter
	toolCallsTotal  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_connected_servers",
			Help: "Number of currently connected MCP servers.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_reconnect_total",
			Help: "Total keep-alive reconnect attempts that succeeded.",
		}),
		idleEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_idle_evictions_total",
			Help: "Total connections closed by idle eviction.",
		}),
		toolCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_tool_calls_total",
			Help: "Total tool calls dispatched through the proxy tool.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connected, m.reconnectsTotal, m.idleEvictions, m.toolCallsTotal)
	}
	return m
}

// New builds a Manager bound to servers. reg may be nil to skip metrics
// registration (e.g. in tests, or when the host doesn't expose a
// Prometheus endpoint).
func New(servers *mcpserver.Manager, callbacks Callbacks, reg prometheus.Registerer) *Manager {
	return &Manager{
		servers:   servers,
		callbacks: callbacks,
		regs:      make(map[string]*registration),
		metrics:   newMetrics(reg),
	}
}

// Register adds name to the registered-server table with its effective
// idle timeout (already resolved from server/settings defaults by the
// caller) and keep-alive membership.
func (m *Manager) Register(name string, def mcptypes.ServerDefinition, effectiveIdleTimeoutMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[name] = &registration{
		def:                    def,
		effectiveIdleTimeoutMs: effectiveIdleTimeoutMs,
		keepAlive:              def.Lifecycle == mcptypes.LifecycleKeepAlive,
	}
}

// ToolCalled increments the tool-call counter; the Adapter Façade calls
// this on every proxy tool dispatch.
func (m *Manager) ToolCalled() {
	m.metrics.toolCallsTotal.Inc()
}

// Start launches the health-loop goroutine at HealthInterval.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

func (m *Manager) tick() {
	m.mu.Lock()
	names := make([]string, 0, len(m.regs))
	for name := range m.regs {
		names = append(names, name)
	}
	m.mu.Unlock()

	connected := 0
	for _, name := range names {
		m.mu.Lock()
		reg := m.regs[name]
		m.mu.Unlock()
		if reg == nil {
			continue
		}

		if reg.keepAlive {
			if m.servers.IsConnected(name) {
				connected++
				continue
			}
			if !m.tryStartReconnect(reg) {
				continue
			}
			m.reconnect(name, reg)
			continue
		}

		if m.servers.IsConnected(name) {
			connected++
		}
		if reg.effectiveIdleTimeoutMs <= 0 {
			continue
		}
		timeout := time.Duration(reg.effectiveIdleTimeoutMs) * time.Millisecond
		if m.servers.IsIdle(name, timeout) {
			if err := m.servers.Close(name); err != nil {
				lifecycleLog.Warn("idle_close_failed", slog.String("mcp", name), slog.String("error", err.Error()))
				continue
			}
			m.metrics.idleEvictions.Inc()
			if m.callbacks.OnIdleShutdown != nil {
				m.callbacks.OnIdleShutdown(name)
			}
		}
	}
	m.metrics.connected.Set(float64(connected))
	logging.Aggregate(logging.CompLifecycle, "health_tick", slog.Int("connected", connected), slog.Int("registered", len(names)))
}

// rateLimitOKLocked applies the teacher's RestartProxyWithRateLimit
// rules: minimum interval between attempts, and a per-minute ceiling.
// Caller must hold m.mu.
func (m *Manager) rateLimitOKLocked(reg *registration) bool {
	now := time.Now()
	if now.Sub(reg.lastRestart) < minRestartInterval {
		return false
	}
	if now.Sub(reg.restartsThisMinuteSince) > time.Minute {
		reg.restartsThisMinuteSince = now
		reg.restartsThisMinute = 0
	}
	return reg.restartsThisMinute < maxRestartsPerMinute
}

// rateLimitOK is rateLimitOKLocked with its own locking, kept for unit
// tests that exercise the rate-limit rules directly against a
// registration outside of tick().
func (m *Manager) rateLimitOK(reg *registration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateLimitOKLocked(reg)
}

// tryStartReconnect reports whether reg may attempt a reconnect right
// now and, if so, marks the attempt (lastRestart, restartsThisMinute)
// before releasing the lock, so the permanently-failed check, the
// rate-limit check, and the counter bump happen as one atomic step —
// never interleaved with a concurrent reconnect()'s failure bookkeeping
// or an explicit ResetFailures call.
func (m *Manager) tryStartReconnect(reg *registration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg.permanentlyFailed {
		return false
	}
	if !m.rateLimitOKLocked(reg) {
		return false
	}
	reg.lastRestart = time.Now()
	reg.restartsThisMinute++
	return true
}

// reconnect attempts to reconnect name. The blocking connect call runs
// without m.mu held, per the snapshot-then-await discipline of SPEC_FULL.md
// §5; the resulting failure/quarantine bookkeeping is applied under the
// lock in one step so it can never race with ResetFailures.
func (m *Manager) reconnect(name string, reg *registration) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := m.servers.Connect(ctx, name, reg.def)

	if err != nil {
		m.mu.Lock()
		reg.totalFailures++
		totalFailures := reg.totalFailures
		permanentlyFailed := totalFailures >= maxTotalRestartFailures
		if permanentlyFailed {
			reg.permanentlyFailed = true
		}
		m.mu.Unlock()

		lifecycleLog.Warn("reconnect_failed", slog.String("mcp", name), slog.Int("total_failures", totalFailures), slog.String("error", err.Error()))
		if permanentlyFailed {
			lifecycleLog.Error("permanently_disabled", slog.String("mcp", name), slog.Int("total_failures", totalFailures))
		}
		return
	}

	m.metrics.reconnectsTotal.Inc()
	if m.callbacks.OnReconnect != nil {
		m.callbacks.OnReconnect(name)
	}
}

// ResetFailures clears a server's failure count and permanent-failure
// quarantine, e.g. after an explicit connect proxy-tool call or config
// reload (SPEC_FULL.md §6 item 2).
func (m *Manager) ResetFailures(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.regs[name]; ok {
		reg.totalFailures = 0
		reg.permanentlyFailed = false
	}
}

// Shutdown cancels the health loop and waits for it to exit, then
// closes every owned connection.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.servers.CloseAll()
}
