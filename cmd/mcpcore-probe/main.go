// Command mcpcore-probe is a small host stand-in that wires up
// internal/mcpadapter against the hostapi.HookAPI contract (spec.md
// §6.4) and drives the proxy tool from the command line, for
// exercising a config/cache directory without a full host process.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pi-agent/mcp-core/internal/hostapi"
	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcpadapter"
	"github.com/pi-agent/mcp-core/internal/mcpserver"
	"github.com/pi-agent/mcp-core/internal/mcptransport"
)

const Version = "0.1.0"

// localHookAPI is an in-process HookAPI implementation: this probe
// plays the role of the host, so there is no separate process to
// register against.
type localHookAPI struct {
	commands map[string]hostapi.CommandHandler
	handlers map[string][]func()
}

func newLocalHookAPI() *localHookAPI {
	return &localHookAPI{
		commands: make(map[string]hostapi.CommandHandler),
		handlers: make(map[string][]func()),
	}
}

func (h *localHookAPI) RegisterFlag(name, description string, handler hostapi.FlagHandler) {
	// This probe takes its config/cache directory from -agent-dir
	// instead of per-registration flags; nothing to wire here.
}

func (h *localHookAPI) RegisterCommand(name, description string, handler hostapi.CommandHandler) {
	h.commands[name] = handler
}

func (h *localHookAPI) On(event string, handler func()) {
	h.handlers[event] = append(h.handlers[event], handler)
}

func (h *localHookAPI) fire(event string) {
	for _, handler := range h.handlers[event] {
		handler()
	}
}

func main() {
	agentDir := flag.String("agent-dir", ".", "directory holding mcp.json and mcp-cache.json")
	configPath := flag.String("config", "", "override path to mcp.json")
	debug := flag.Bool("debug", false, "enable debug logging to <agent-dir>/debug.log")
	flag.Parse()

	abs, err := filepath.Abs(*agentDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve agent dir:", err)
		os.Exit(1)
	}
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "getwd:", err)
		os.Exit(1)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	logging.Init(logging.Config{LogDir: abs, Level: level, Debug: *debug})
	defer logging.Shutdown()
	mcptransport.CrashDumpDir = abs

	// SIGUSR1 dumps the ring buffer for post-mortem debugging, matching
	// the teacher's cmd/agent-deck signal handler; a panicking transport
	// read loop dumps the same way without waiting for the signal.
	usr1Ch := make(chan os.Signal, 1)
	signal.Notify(usr1Ch, syscall.SIGUSR1)
	go func() {
		for range usr1Ch {
			dumpPath := filepath.Join(abs, fmt.Sprintf("mcp-crash-%d.log", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				slog.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				slog.Info("crash_dump_written", slog.String("path", dumpPath))
			}
		}
	}()

	adapter, direct, err := mcpadapter.New(abs, *configPath, cwd, mcpserver.ClientInfo{Name: "mcpcore-probe", Version: Version}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	proxyTool := adapter.BuildMcpProxyTool()
	fmt.Printf("registered proxy tool %q: %s\n", proxyTool.PrefixedName, proxyTool.Description)
	fmt.Printf("loaded %d direct tool(s)\n", len(direct))

	hooks := newLocalHookAPI()
	registerCommands(hooks, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	hooks.On(hostapi.EventSessionStart, func() { adapter.StartAsyncInit(ctx) })
	hooks.On(hostapi.EventSessionShutdown, func() { cancel(); adapter.Shutdown() })

	hooks.fire(hostapi.EventSessionStart)
	adapter.WaitInit()
	fmt.Println("async init complete; type 'help' for commands, 'quit' to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		hooks.fire(hostapi.EventSessionShutdown)
		os.Exit(0)
	}()

	runRepl(hooks)
	hooks.fire(hostapi.EventSessionShutdown)
}

// registerCommands wires the two commands spec.md §6.4 names: a status
// dump (`mcp`) and an OAuth setup instruction printer (`mcp-auth
// <server>`).
func registerCommands(hooks *localHookAPI, adapter *mcpadapter.Adapter) {
	hooks.RegisterCommand("mcp", "show MCP server/tool status", func(args []string) (string, error) {
		msg, _, err := adapter.Dispatch(context.Background(), mcpadapter.ProxyInput{})
		return msg, err
	})

	hooks.RegisterCommand("mcp-auth", "print OAuth setup instructions for a server", func(args []string) (string, error) {
		if len(args) == 0 {
			return "usage: mcp-auth <server>", nil
		}
		server := args[0]
		return fmt.Sprintf(
			"%s uses OAuth. Run the server's documented device-code or\nauthorization-code flow, then store the resulting token where this\ncore's HTTP transport reads it (spec.md §4.4.2).", server,
		), nil
	})
}

func runRepl(hooks *localHookAPI) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return
		case "help":
			printHelp(hooks)
		default:
			handler, ok := hooks.commands[fields[0]]
			if !ok {
				fmt.Printf("unknown command %q; type 'help'\n", fields[0])
				continue
			}
			out, err := handler(fields[1:])
			if err != nil {
				slog.Error("command_failed", slog.String("command", fields[0]), slog.String("error", err.Error()))
				continue
			}
			fmt.Println(out)
		}
	}
}

func printHelp(hooks *localHookAPI) {
	fmt.Println("commands:")
	for name := range hooks.commands {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("  help")
	fmt.Println("  quit")
}
