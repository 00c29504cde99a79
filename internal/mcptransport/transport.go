// Package mcptransport implements the two interchangeable MCP transports
// of spec.md §4.4: line-delimited JSON over a spawned child process, and
// HTTP/SSE. Both satisfy the same Transport contract so the protocol
// client above them never branches on which one it holds.
package mcptransport

import (
	"context"
)

// Transport is the shared contract of spec.md §4.4: send delivers one
// application-level frame without waiting for a response; receive
// yields exactly one inbound frame or fails with a TransportClosedError;
// close is idempotent and causes subsequent send/receive to fail.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// envLookup is the signature of a process-environment lookup.
// Interpolate does not take one; it calls os.LookupEnv directly.
type envLookup func(string) (string, bool)
