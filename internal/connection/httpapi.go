// httpapi.go implements the REST convenience endpoints the supervisor
// and function registry call out to: key validation, config PATCH,
// attachment/todo GET, and multipart resource registration.
package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// HTTPClient is the thin authenticated REST client derived from the
// WebSocket base URL by swapping scheme.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, apiKey: apiKey, client: insecureClient()}
}

// ValidateResult is the outcome of GET /api/v1/apikey/validate.
type ValidateResult struct {
	Valid  bool
	UserID string
}

// ErrConnectionUnreachable wraps timeouts/connection errors so the
// supervisor's auth precheck can distinguish them from an invalid key.
type ErrConnectionUnreachable struct{ Err error }

func (e *ErrConnectionUnreachable) Error() string { return fmt.Sprintf("connection unreachable: %v", e.Err) }
func (e *ErrConnectionUnreachable) Unwrap() error  { return e.Err }

// ValidateAPIKey calls GET /api/v1/apikey/validate with the x-api-key
// header. A transport-level failure surfaces as ErrConnectionUnreachable
// so callers can retry; a 200 with valid:false, or any 4xx/5xx, is
// reported as an invalid key (Valid=false, nil error).
func (c *HTTPClient) ValidateAPIKey(ctx context.Context) (*ValidateResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/apikey/validate", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ErrConnectionUnreachable{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &ValidateResult{Valid: false}, nil
	}

	var body struct {
		Valid  bool   `json:"valid"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &ValidateResult{Valid: body.Valid, UserID: body.UserID}, nil
}

// SyncConfigFor PATCHes /api/v1/edges/<edgeId> with delta; Supervisor's
// SyncConfig calls it to implement config.Syncer.
func (c *HTTPClient) SyncConfigFor(ctx context.Context, edgeID string, delta map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"updates": delta})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/api/v1/edges/"+edgeID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("connection: PATCH edges/%s: status %d", edgeID, resp.StatusCode)
	}
	return nil
}

// GetFile downloads GET /api/v1/files/<attachmentId>.
func (c *HTTPClient) GetFile(ctx context.Context, attachmentID string) ([]byte, string, error) {
	return c.getBytes(ctx, "/api/v1/files/"+attachmentID)
}

// GetTodo downloads GET /api/v1/todos/<todoId>.
func (c *HTTPClient) GetTodo(ctx context.Context, todoID string) ([]byte, string, error) {
	return c.getBytes(ctx, "/api/v1/todos/"+todoID)
}

func (c *HTTPClient) getBytes(ctx context.Context, path string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("connection: GET %s: status %d", path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// RegisterResource posts a multipart form to /api/v1/resources/register.
func (c *HTTPClient) RegisterResource(ctx context.Context, filename string, content []byte, fields map[string]string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/resources/register", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("connection: register resource: status %d", resp.StatusCode)
	}
	return nil
}

// DeriveHTTPBaseURL swaps a ws(s):// URL's scheme to http(s)://, or
// returns apiURL unchanged if it's already http(s).
func DeriveHTTPBaseURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "wss://"):
		return "https://" + strings.TrimPrefix(apiURL, "wss://")
	case strings.HasPrefix(apiURL, "ws://"):
		return "http://" + strings.TrimPrefix(apiURL, "ws://")
	default:
		return apiURL
	}
}
