// Package connection implements the connection supervisor: fingerprinting,
// API-key validation with retry, outbound WebSocket with subprotocol
// auth, reconnect with capped backoff, and the single-writer send
// primitive. Grounded on goclaw's ws_client.go (coder/websocket dial
// pattern) and listener.go (reconnect/backoff shape), adapted from an
// inbound channel listener to an outbound edge client.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/todoforai/edge/internal/protocol"
)

const maxReadLimit = 5 * 1024 * 1024 // 5 MiB
const maxSendWarnBytes = 100 * 1024  // 100 kB

// transport wraps a single coder/websocket connection with a
// single-writer send queue, mirroring goclaw's WSClient.
type transport struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  *slog.Logger
}

func dial(ctx context.Context, wsURL, apiKey string, log *slog.Logger) (*transport, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{apiKey},
		HTTPClient:   insecureClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("connection: dial: %w", err)
	}
	conn.SetReadLimit(maxReadLimit)
	return &transport{conn: conn, log: log}, nil
}

// insecureClient disables certificate verification, for internal
// deployments that terminate TLS with a self-signed or unverifiable cert.
func insecureClient() *http.Client {
	return &http.Client{Transport: &http.Transport{
		TLSClientConfig: insecureTLSConfig(),
	}}
}

func (t *transport) read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

// send serializes msg to JSON and writes it; drop-with-warning semantics
// for the not-connected case are the caller's responsibility (Supervisor
// tracks connectedness).
func (t *transport) send(ctx context.Context, typ string, payload interface{}) error {
	msg, err := protocol.NewMessage(typ, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(raw) > maxSendWarnBytes {
		t.log.Warn("connection.large_payload", "type", typ, "bytes", len(raw))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, raw)
}

func (t *transport) close(code websocket.StatusCode, reason string) {
	_ = t.conn.Close(code, reason)
}

func buildWSURL(apiBaseURL, fingerprint string) (string, error) {
	u, err := url.Parse(apiBaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/ws/v1/edge"
	q := u.Query()
	q.Set("fingerprint", fingerprint)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// backoff returns the reconnect delay for attempt (1-indexed):
// min(4 + attempt, 20) seconds.
func backoff(attempt int) time.Duration {
	secs := 4 + attempt
	if secs > 20 {
		secs = 20
	}
	return time.Duration(secs) * time.Second
}

// authBackoff returns the exponential auth-precheck retry delay,
// starting at 5s, doubling, capped at 60s.
func authBackoff(attempt int) time.Duration {
	d := 5 * time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= 60*time.Second {
			return 60 * time.Second
		}
	}
	return d
}
