// Package hostapi declares the minimal host-registration contract of
// spec.md §6.4: a HookAPI-like object the Adapter Façade registers
// itself against. The host process implements this interface; this
// package exists only so mcpcore-probe and the adapter can depend on
// its shape without importing the host.
package hostapi

// Event names the adapter subscribes to via HookAPI.On.
const (
	EventSessionStart    = "session_start"
	EventSessionShutdown = "session_shutdown"
)

// CommandHandler implements one registered slash command's body. args
// is whatever the host's command parser hands back after the command
// name itself.
type CommandHandler func(args []string) (string, error)

// FlagHandler implements one registered CLI flag's body.
type FlagHandler func(value string) error

// HookAPI is the subset of the host's plugin-registration surface the
// Adapter Façade needs: flags, commands, and session lifecycle events.
type HookAPI interface {
	// RegisterFlag adds a CLI flag the host parses at startup.
	RegisterFlag(name, description string, handler FlagHandler)

	// RegisterCommand adds a slash command the host dispatches by name.
	RegisterCommand(name, description string, handler CommandHandler)

	// On subscribes handler to a named lifecycle event. The adapter
	// uses EventSessionStart to begin async init and
	// EventSessionShutdown to run graceful shutdown.
	On(event string, handler func())
}
