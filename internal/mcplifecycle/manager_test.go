package mcplifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pi-agent/mcp-core/internal/mcpserver"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

func newTestManager(t *testing.T) *Manager {
	servers := mcpserver.New(t.TempDir(), mcpserver.ClientInfo{Name: "test-host", Version: "0.0.1"})
	return New(servers, Callbacks{}, nil)
}

func TestRateLimitOKEnforcesMinInterval(t *testing.T) {
	m := newTestManager(t)
	reg := &registration{lastRestart: time.Now()}
	if m.rateLimitOK(reg) {
		t.Error("expected restart within minRestartInterval to be rate limited")
	}
	reg.lastRestart = time.Now().Add(-minRestartInterval - time.Second)
	if !m.rateLimitOK(reg) {
		t.Error("expected restart past minRestartInterval to be allowed")
	}
}

func TestRateLimitOKEnforcesPerMinuteCeiling(t *testing.T) {
	m := newTestManager(t)
	reg := &registration{
		lastRestart:             time.Now().Add(-minRestartInterval - time.Second),
		restartsThisMinuteSince: time.Now(),
		restartsThisMinute:      maxRestartsPerMinute,
	}
	if m.rateLimitOK(reg) {
		t.Error("expected per-minute ceiling to block further restarts")
	}

	reg.restartsThisMinuteSince = time.Now().Add(-2 * time.Minute)
	if !m.rateLimitOK(reg) {
		t.Error("expected the per-minute window to reset after a minute elapses")
	}
}

// TestServerLifecycleReconnectScenario exercises the keep-alive
// quarantine of SPEC_FULL.md §6 item 2: a server stuck failing to
// connect accumulates failures over repeated reconnect attempts, gets
// quarantined at the ceiling, a tick then skips it, and an explicit
// ResetFailures (the proxy tool's "connect" mode) clears the failure
// count and lifts the quarantine.
func TestServerLifecycleReconnectScenario(t *testing.T) {
	m := newTestManager(t)
	reg := &registration{
		keepAlive: true,
		def:       mcptypes.ServerDefinition{Command: "/definitely/does/not/exist/mcpcore-test-binary"},
	}
	m.regs["broken"] = reg

	for i := 0; i < maxTotalRestartFailures; i++ {
		m.reconnect("broken", reg)
	}

	require.Equal(t, maxTotalRestartFailures, reg.totalFailures)
	require.True(t, reg.permanentlyFailed, "expected server to be permanently failed after reaching the ceiling")

	m.tick()
	require.Equal(t, maxTotalRestartFailures, reg.totalFailures, "expected tick to skip the quarantined server")

	m.ResetFailures("broken")
	require.False(t, m.regs["broken"].permanentlyFailed)
	require.Zero(t, m.regs["broken"].totalFailures)
}

func TestResetFailuresClearsQuarantine(t *testing.T) {
	m := newTestManager(t)
	m.regs["broken"] = &registration{totalFailures: 10, permanentlyFailed: true}

	m.ResetFailures("broken")

	reg := m.regs["broken"]
	if reg.totalFailures != 0 || reg.permanentlyFailed {
		t.Errorf("expected failures cleared, got %+v", reg)
	}
}

func TestTickSkipsPermanentlyFailedServers(t *testing.T) {
	m := newTestManager(t)
	reg := &registration{
		keepAlive:         true,
		permanentlyFailed: true,
		def:               mcptypes.ServerDefinition{Command: "/definitely/does/not/exist/mcpcore-test-binary"},
	}
	m.regs["broken"] = reg

	m.tick()

	if reg.totalFailures != 0 {
		t.Errorf("expected tick to skip a permanently failed server, but totalFailures=%d", reg.totalFailures)
	}
}

func TestRegisterSetsKeepAliveFromLifecycle(t *testing.T) {
	m := newTestManager(t)
	m.Register("exa", mcptypes.ServerDefinition{Lifecycle: mcptypes.LifecycleKeepAlive}, 0)
	m.Register("lazy-one", mcptypes.ServerDefinition{Lifecycle: mcptypes.LifecycleLazy}, 0)

	if !m.regs["exa"].keepAlive {
		t.Error("expected keep-alive lifecycle to be tracked as keepAlive=true")
	}
	if m.regs["lazy-one"].keepAlive {
		t.Error("expected lazy lifecycle to be tracked as keepAlive=false")
	}
}
