package mcptransport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pi-agent/mcp-core/internal/logging"
	"github.com/pi-agent/mcp-core/internal/mcptypes"
)

var httpLog = logging.ForComponent(logging.CompTransport)

// HTTPSpawnSpec describes one HTTP/SSE server connection, per
// spec.md §4.4.2.
type HTTPSpawnSpec struct {
	ServerName     string
	URL            string
	Headers        map[string]string
	Auth           mcptypes.AuthKind
	BearerToken    string
	BearerTokenEnv string
	AgentDir       string // for oauth token lookup
}

// HTTPTransport speaks MCP over HTTP POST, handling both plain JSON
// responses and Server-Sent-Events streamed responses (spec.md §4.4.2).
type HTTPTransport struct {
	spec   HTTPSpawnSpec
	client *http.Client

	mu     sync.Mutex
	closed bool
	frames chan []byte
}

// NewHTTP builds an HTTPTransport; it performs no network I/O until
// Send is first called.
func NewHTTP(spec HTTPSpawnSpec) *HTTPTransport {
	return &HTTPTransport{
		spec:   spec,
		client: &http.Client{},
		frames: make(chan []byte, 64),
	}
}

func (t *HTTPTransport) resolveAuthHeader(now time.Time) (string, error) {
	switch t.spec.Auth {
	case mcptypes.AuthBearer:
		token := t.spec.BearerToken
		if token == "" && t.spec.BearerTokenEnv != "" {
			token, _ = os.LookupEnv(t.spec.BearerTokenEnv)
		}
		if token == "" {
			return "", &mcptypes.AuthMissingError{Server: t.spec.ServerName, Reason: "no bearerToken or bearerTokenEnv resolved"}
		}
		return "Bearer " + token, nil
	case mcptypes.AuthOAuth:
		token, err := loadOAuthToken(t.spec.AgentDir, t.spec.ServerName, now)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	default:
		return "", nil
	}
}

func (t *HTTPTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &mcptypes.TransportClosedError{Server: t.spec.ServerName}
	}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.spec.URL, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range InterpolateMap(t.spec.Headers) {
		req.Header.Set(k, v)
	}
	if auth, err := t.resolveAuthHeader(time.Now()); err != nil {
		return err
	} else if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &mcptypes.TransportClosedError{Server: t.spec.ServerName, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		// Notification ack; no response frame to enqueue.
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return &mcptypes.ProtocolError{Server: t.spec.ServerName, StatusCode: resp.StatusCode, Body: string(body)}
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		return t.consumeSSE(resp.Body)
	default:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &mcptypes.ProtocolError{Server: t.spec.ServerName, Body: err.Error()}
		}
		t.enqueue(body)
		return nil
	}
}

// consumeSSE parses `data:` lines into events, per spec.md §4.4.2: each
// blank line terminates the current event, whose concatenated data
// lines are enqueued as one frame; a final event is flushed even if the
// stream ends without a trailing blank line.
func (t *HTTPTransport) consumeSSE(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)

	var current strings.Builder
	haveData := false
	flush := func() {
		if haveData {
			t.enqueue([]byte(current.String()))
			current.Reset()
			haveData = false
		}
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			if haveData {
				current.WriteByte('\n')
			}
			current.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			haveData = true
		default:
			// Other SSE fields (event:, id:, retry:) carry no meaning for
			// this protocol's framing and are ignored.
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return &mcptypes.ProtocolError{Server: t.spec.ServerName, Body: err.Error()}
	}
	return nil
}

func (t *HTTPTransport) enqueue(frame []byte) {
	t.frames <- frame
}

func (t *HTTPTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.frames:
		if !ok {
			return nil, &mcptypes.TransportClosedError{Server: t.spec.ServerName}
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.client.CloseIdleConnections()
	close(t.frames)
	httpLog.Info("http_transport_closed", slog.String("mcp", t.spec.ServerName))
	return nil
}

