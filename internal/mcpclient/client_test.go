package mcpclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

// fakeTransport is an in-memory Transport driven entirely by the test:
// Send appends to sent, and respond pushes a synthesized response
// directly into inbound.
type fakeTransport struct {
	sent    chan []byte
	inbound chan []byte
	closed  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:    make(chan []byte, 16),
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case f.sent <- frame:
		return nil
	case <-f.closed:
		return &mcptypes.TransportClosedError{}
	}
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case <-f.closed:
		return nil, &mcptypes.TransportClosedError{}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// respond reads one request off sent, extracts its id, and pushes back
// a synthesized JSON-RPC response built by build(id).
func (f *fakeTransport) respond(t *testing.T, build func(id int64) []byte) {
	t.Helper()
	select {
	case raw := <-f.sent:
		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Fatalf("undecodable request: %v", err)
		}
		f.inbound <- build(req.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func TestInitializeHandshake(t *testing.T) {
	ft := newFakeTransport()
	c := New("test-server", ft)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		done <- c.Initialize(context.Background(), ClientInfo{Name: "host", Version: "1.0"})
	}()

	ft.respond(t, func(id int64) []byte {
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"result": map[string]interface{}{
				"capabilities": map[string]interface{}{"tools": map[string]interface{}{}},
				"serverInfo":   map[string]interface{}{"name": "srv", "version": "0.1"},
			},
		}
		data, _ := json.Marshal(resp)
		return data
	})

	// the notifications/initialized notification carries no id and
	// expects no response; drain it so Send doesn't block forever.
	select {
	case <-ft.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notifications/initialized")
	}

	if err := <-done; err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if c.Capabilities == nil || c.ServerInfo == nil {
		t.Error("expected capabilities/serverInfo to be recorded")
	}
}

func TestCallToolSuccess(t *testing.T) {
	ft := newFakeTransport()
	c := New("test-server", ft)
	defer c.Close()

	done := make(chan *ToolsCallResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := c.CallTool(context.Background(), "search", map[string]string{"q": "x"})
		done <- result
		errCh <- err
	}()

	ft.respond(t, func(id int64) []byte {
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"result": map[string]interface{}{
				"content": []map[string]interface{}{
					{"type": "text", "text": "hello"},
				},
			},
		}
		data, _ := json.Marshal(resp)
		return data
	})

	result := <-done
	if err := <-errCh; err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestCallToolRpcError(t *testing.T) {
	ft := newFakeTransport()
	c := New("test-server", ft)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "search", nil)
		errCh <- err
	}()

	ft.respond(t, func(id int64) []byte {
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
		}
		data, _ := json.Marshal(resp)
		return data
	})

	err := <-errCh
	if err == nil {
		t.Fatal("expected rpc error")
	}
	rpcErr, ok := err.(*mcptypes.RpcError)
	if !ok {
		t.Fatalf("expected *mcptypes.RpcError, got %T", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("unexpected code: %d", rpcErr.Code)
	}
}

func TestListAllToolsPaginates(t *testing.T) {
	ft := newFakeTransport()
	c := New("test-server", ft)
	defer c.Close()

	done := make(chan []Tool, 1)
	errCh := make(chan error, 1)
	go func() {
		tools, err := c.ListAllTools(context.Background())
		done <- tools
		errCh <- err
	}()

	ft.respond(t, func(id int64) []byte {
		resp := map[string]interface{}{
			"jsonrpc": "2.0", "id": id,
			"result": map[string]interface{}{
				"tools":      []map[string]interface{}{{"name": "a"}},
				"nextCursor": "page2",
			},
		}
		data, _ := json.Marshal(resp)
		return data
	})
	ft.respond(t, func(id int64) []byte {
		resp := map[string]interface{}{
			"jsonrpc": "2.0", "id": id,
			"result": map[string]interface{}{
				"tools": []map[string]interface{}{{"name": "b"}},
			},
		}
		data, _ := json.Marshal(resp)
		return data
	})

	tools := <-done
	if err := <-errCh; err != nil {
		t.Fatalf("ListAllTools failed: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "a" || tools[1].Name != "b" {
		t.Errorf("unexpected tools: %+v", tools)
	}
}

func TestTransportCloseFailsAllPending(t *testing.T) {
	ft := newFakeTransport()
	c := New("test-server", ft)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "search", nil)
		errCh <- err
	}()

	// Give the call a moment to register its pending slot before closing.
	select {
	case <-ft.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request to be sent")
	}
	ft.Close()

	err := <-errCh
	if err == nil {
		t.Fatal("expected error after transport close")
	}
	if _, ok := err.(*mcptypes.TransportClosedError); !ok {
		t.Errorf("expected TransportClosedError, got %T: %v", err, err)
	}
}
