// Package mcpclient implements the JSON-RPC 2.0 protocol client of
// spec.md §4.5: one instance per connection, owning a monotonically
// increasing request id, a pending-response map, and a single reader
// task that dispatches frames from the underlying transport.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcptransport"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

var clientLog = logging.ForComponent(logging.CompClient)

const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *int64           `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *mcptypes.RpcError `json:"error,omitempty"`
}

type pending struct {
	result chan json.RawMessage
	err    chan error
}

// Client is the protocol client bound to one connected Transport.
type Client struct {
	serverName string
	transport  mcptransport.Transport

	nextID int64 // atomic

	mu      sync.Mutex
	pending map[int64]*pending
	closed  bool

	Capabilities json.RawMessage
	ServerInfo   json.RawMessage

	readerDone chan struct{}
}

// ClientInfo identifies the host to the MCP server during initialize.
type ClientInfo struct {
	Name    string
	Version string
}

// New constructs a Client over an already-connected transport. Call
// Initialize before any other method.
func New(serverName string, transport mcptransport.Transport) *Client {
	c := &Client{
		serverName: serverName,
		transport:  transport,
		pending:    make(map[int64]*pending),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		frame, err := c.transport.Receive(context.Background())
		if err != nil {
			c.failAllPending(err)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(frame, &resp); err != nil {
			clientLog.Warn("undecodable_frame", slog.String("mcp", c.serverName), slog.String("error", err.Error()))
			continue
		}
		if resp.ID == nil {
			// Server->client notification; discarded in this version per
			// spec.md §4.5.
			continue
		}
		c.dispatch(*resp.ID, resp.Result, resp.Error)
	}
}

func (c *Client) dispatch(id int64, result json.RawMessage, rpcErr *mcptypes.RpcError) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if rpcErr != nil {
		p.err <- rpcErr
		return
	}
	p.result <- result
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	closedErr := &mcptypes.TransportClosedError{Server: c.serverName, Reason: err.Error()}
	stranded := c.pending
	c.pending = make(map[int64]*pending)
	c.closed = true
	c.mu.Unlock()

	for _, p := range stranded {
		p.err <- closedErr
	}
}

// call sends method/params and awaits a single response.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &mcptypes.TransportClosedError{Server: c.serverName}
	}
	id := atomic.AddInt64(&c.nextID, 1)
	p := &pending{result: make(chan json.RawMessage, 1), err: make(chan error, 1)}
	c.pending[id] = p
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if err := c.transport.Send(ctx, data); err != nil {
		c.removePending(id)
		return nil, err
	}

	select {
	case result := <-p.result:
		return result, nil
	case err := <-p.err:
		return nil, err
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// notify sends method/params without an id and does not await a response.
func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", method, err)
	}
	return c.transport.Send(ctx, data)
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      map[string]string      `json:"clientInfo"`
}

type initializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   json.RawMessage `json:"serverInfo"`
}

// Initialize performs the handshake of spec.md §4.5: an initialize
// request with the fixed protocolVersion, followed by the
// notifications/initialized notification once the response arrives.
func (c *Client) Initialize(ctx context.Context, info ClientInfo) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      map[string]string{"name": info.Name, "version": info.Version},
	}
	raw, err := c.call(ctx, "initialize", params)
	if err != nil {
		return err
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return &mcptypes.ProtocolError{Server: c.serverName, Body: "undecodable initialize result: " + err.Error()}
	}
	c.Capabilities = result.Capabilities
	c.ServerInfo = result.ServerInfo

	return c.notify(ctx, "notifications/initialized", nil)
}

// Close cancels the reader, closes the transport, and fails any pendings.
func (c *Client) Close() error {
	err := c.transport.Close()
	<-c.readerDone
	return err
}
