package mcpadapter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pi-agent/mcp-core/internal/mcpserver"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

func writeConfig(t *testing.T, dir string, config map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mcp.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewWithMissingConfigYieldsNoDirectTools(t *testing.T) {
	dir := t.TempDir()
	_, direct, err := New(dir, "", dir, mcpserver.ClientInfo{Name: "test-host", Version: "0.0.1"}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(direct) != 0 {
		t.Errorf("expected no direct tools with no config, got %+v", direct)
	}
}

func TestAsyncInitRegistersAndStartsHealthLoop(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, map[string]interface{}{
		"mcpServers": map[string]interface{}{
			"broken": map[string]interface{}{
				"command":   "this-binary-does-not-exist-anywhere",
				"lifecycle": "eager",
			},
		},
	})

	a, _, err := New(dir, "", dir, mcpserver.ClientInfo{Name: "test-host", Version: "0.0.1"}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.StartAsyncInit(ctx)

	done := make(chan struct{})
	go func() {
		a.WaitInit()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("async init did not complete")
	}

	if a.servers.IsConnected("broken") {
		t.Error("expected the unreachable server to remain disconnected")
	}

	a.Shutdown()
}

func TestEffectiveIdleTimeoutMillisResolutionOrder(t *testing.T) {
	settings := mcptypes.Settings{IdleTimeout: 5}

	if got := effectiveIdleTimeoutMillis(mcptypes.ServerDefinition{IdleTimeout: 2}, settings); got != 2*60000 {
		t.Errorf("expected per-server idleTimeout to win, got %d", got)
	}
	if got := effectiveIdleTimeoutMillis(mcptypes.ServerDefinition{Lifecycle: mcptypes.LifecycleEager}, settings); got != 0 {
		t.Errorf("expected eager lifecycle to never evict, got %d", got)
	}
	if got := effectiveIdleTimeoutMillis(mcptypes.ServerDefinition{}, settings); got != 5*60000 {
		t.Errorf("expected global setting fallback, got %d", got)
	}
	if got := effectiveIdleTimeoutMillis(mcptypes.ServerDefinition{}, mcptypes.Settings{}); got != defaultIdleTimeout.Milliseconds() {
		t.Errorf("expected default 10-minute fallback, got %d", got)
	}
}

func TestShutdownClearsInMemoryIndex(t *testing.T) {
	dir := t.TempDir()
	a, _, err := New(dir, "", dir, mcpserver.ClientInfo{Name: "test-host", Version: "0.0.1"}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a.index["leftover"] = mcptypes.ToolMetadata{PrefixedName: "leftover"}

	ctx, cancel := context.WithCancel(context.Background())
	a.StartAsyncInit(ctx)
	cancel()
	a.Shutdown()

	if len(a.snapshotIndex()) != 0 {
		t.Error("expected Shutdown to clear the in-memory tool index")
	}
}
