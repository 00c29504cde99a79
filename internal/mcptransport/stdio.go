package mcptransport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

var stdioLog = logging.ForComponent(logging.CompTransport)

// CrashDumpDir is the directory a panicking read loop writes its
// ring-buffer crash dump to (spec.md §4.0's "mcp-crash.log"). The host
// sets this once at startup (mcpcore-probe sets it to the agent dir);
// an empty value disables the dump.
var CrashDumpDir string

// maxLineBuffer mirrors the teacher's socket proxy buffer sizing: start
// small, grow to 10MB to accommodate large MCP payloads.
const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 10 * 1024 * 1024
)

// StdioTransport spawns a child process and frames JSON-RPC messages as
// newline-delimited lines over its stdin/stdout, per spec.md §4.4.1.
type StdioTransport struct {
	serverName string
	debug      bool

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	closed bool
	frames chan []byte
	errCh  chan error

	doneOnce sync.Once
}

// StdioSpawnSpec is the spawn target after NPX rewriting. StartStdio
// itself interpolates Env values and leaves the PATH lookup of Command
// to exec.
type StdioSpawnSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
	Debug   bool
}

// StartStdio spawns the child described by spec and begins reading its
// stdout. If spec.Command contains a path separator it is executed
// directly; otherwise exec.Command performs the usual PATH lookup.
func StartStdio(ctx context.Context, serverName string, spec StdioSpawnSpec) (*StdioTransport, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)

	cmdEnv := os.Environ()
	for k, v := range InterpolateMap(spec.Env) {
		cmdEnv = append(cmdEnv, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = cmdEnv
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}

	// New process group so grandchildren (node spawned by npx, uvx's
	// python) die together with the parent instead of being orphaned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 3 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport %s: stdin pipe: %w", serverName, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport %s: stdout pipe: %w", serverName, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport %s: stderr pipe: %w", serverName, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stdio transport %s: start: %w", serverName, err)
	}
	stdioLog.Info("stdio_started", slog.String("mcp", serverName), slog.Int("pid", cmd.Process.Pid))

	t := &StdioTransport{
		serverName: serverName,
		debug:      spec.Debug,
		cmd:        cmd,
		stdin:      stdin,
		frames:     make(chan []byte, 64),
		errCh:      make(chan error, 1),
	}

	go t.drainStderr(stderr)
	go t.readLoop(stdout)

	return t, nil
}

func (t *StdioTransport) drainStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)
	for scanner.Scan() {
		if t.debug {
			stdioLog.Debug("stderr", slog.String("mcp", t.serverName), slog.String("line", scanner.Text()))
		}
	}
}

func (t *StdioTransport) readLoop(stdout io.ReadCloser) {
	defer func() {
		if r := recover(); r != nil {
			stdioLog.Error("read_loop_panic", slog.String("mcp", t.serverName), slog.Any("panic", r))
			t.dumpCrash(r)
			t.fail(&mcptypes.TransportClosedError{Server: t.serverName, Reason: fmt.Sprintf("panic: %v", r)})
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		frame := append([]byte(nil), line...)
		t.frames <- frame
	}
	t.fail(&mcptypes.TransportClosedError{Server: t.serverName, Reason: "stdout closed"})
}

// dumpCrash flushes the structured-log ring buffer to CrashDumpDir after
// a read-loop panic, mirroring the teacher's SIGUSR1-triggered
// DumpRingBuffer, but driven from the panic itself rather than a signal.
func (t *StdioTransport) dumpCrash(r any) {
	if CrashDumpDir == "" {
		return
	}
	path := filepath.Join(CrashDumpDir, "mcp-crash.log")
	if err := logging.DumpRingBuffer(path); err != nil {
		stdioLog.Error("crash_dump_failed", slog.String("mcp", t.serverName), slog.String("error", err.Error()))
		return
	}
	stdioLog.Error("crash_dump_written", slog.String("mcp", t.serverName), slog.String("path", path), slog.Any("panic", r))
}

func (t *StdioTransport) fail(err error) {
	t.doneOnce.Do(func() {
		t.errCh <- err
		close(t.frames)
	})
}

func (t *StdioTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return &mcptypes.TransportClosedError{Server: t.serverName}
	}
	_, err := t.stdin.Write(append(frame, '\n'))
	if err != nil {
		return &mcptypes.TransportClosedError{Server: t.serverName, Reason: err.Error()}
	}
	return nil
}

func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.frames:
		if !ok {
			select {
			case err := <-t.errCh:
				return nil, err
			default:
				return nil, &mcptypes.TransportClosedError{Server: t.serverName}
			}
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			stdioLog.Warn("stdio_exit_error", slog.String("mcp", t.serverName), slog.String("error", err.Error()))
		}
	case <-time.After(5 * time.Second):
		stdioLog.Warn("stdio_wait_timeout", slog.String("mcp", t.serverName))
		if t.cmd.Process != nil {
			_ = syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
	}
	return nil
}
