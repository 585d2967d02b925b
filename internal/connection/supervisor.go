package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/todoforai/edge/internal/config"
	"github.com/todoforai/edge/internal/dispatch"
	"github.com/todoforai/edge/internal/fingerprint"
)

// maxReconnectAttempts caps the reconnect loop at 10 attempts total; a
// clean close resets the counter, a failure increments it, auth/server
// errors are terminal.
const maxReconnectAttempts = 10

// KeyPrompter re-prompts interactively for a new API key when the
// current one is rejected; implemented by cmd/edge using huh when
// attached to a TTY.
type KeyPrompter interface {
	PromptForKey(ctx context.Context) (string, error)
}

// Supervisor owns the connection lifecycle: fingerprint, auth precheck,
// dial, reconnect, and the send primitive. Grounded on goclaw's
// listener.go retry/backoff shape.
type Supervisor struct {
	apiURL       string
	apiKey       string
	interactive  bool
	prompter     KeyPrompter
	record       *config.Record
	dispatcher   *dispatch.Dispatcher
	http         *HTTPClient
	log          *slog.Logger

	tr *transport
}

// New builds a Supervisor. prompter may be nil when interactive is
// false.
func New(apiURL, apiKey string, interactive bool, prompter KeyPrompter, record *config.Record, dispatcher *dispatch.Dispatcher, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		apiURL:      apiURL,
		apiKey:      apiKey,
		interactive: interactive,
		prompter:    prompter,
		record:      record,
		dispatcher:  dispatcher,
		http:        NewHTTPClient(DeriveHTTPBaseURL(apiURL), apiKey),
		log:         log,
	}
}

// Run performs the auth precheck once, then loops dial→serve→reconnect
// until a fatal error occurs, the context is cancelled, or the attempt
// cap is exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.authPrecheck(ctx); err != nil {
		return err
	}

	attempts := 0
	for attempts < maxReconnectAttempts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.record.SetStatus(config.StatusConnecting)
		err := s.connectAndServe(ctx)
		if err == nil {
			// clean close resets the counter.
			attempts = 0
			continue
		}

		var fatal *dispatch.FatalErr
		if errors.As(err, &fatal) {
			s.log.Error("connection.fatal", "kind", fatal.Kind, "message", fatal.Message)
			s.record.SetStatus(config.StatusError)
			return err
		}

		attempts++
		s.record.SetStatus(config.StatusError)
		delay := backoff(attempts)
		s.log.Warn("connection.reconnecting", "attempt", attempts, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("connection: exceeded %d reconnect attempts", maxReconnectAttempts)
}

// authPrecheck validates the API key before the first dial, retrying on
// unreachable indefinitely and re-prompting interactively on invalid.
func (s *Supervisor) authPrecheck(ctx context.Context) error {
	attempt := 0
	for {
		result, err := s.http.ValidateAPIKey(ctx)
		if err != nil {
			var unreachable *ErrConnectionUnreachable
			if errors.As(err, &unreachable) {
				delay := authBackoff(attempt)
				attempt++
				s.log.Warn("connection.auth_precheck_unreachable", "delay", delay, "error", err)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return err
		}

		if result.Valid {
			s.record.SetIdentity("", result.UserID)
			return nil
		}

		if !s.interactive || s.prompter == nil {
			return fmt.Errorf("connection: invalid API key and interactive re-prompt disabled")
		}
		newKey, err := s.prompter.PromptForKey(ctx)
		if err != nil {
			return err
		}
		s.apiKey = newKey
		s.http = NewHTTPClient(DeriveHTTPBaseURL(s.apiURL), newKey)
	}
}

// connectAndServe dials, marks connected, and pumps inbound frames
// through the dispatcher until the socket closes or errors.
func (s *Supervisor) connectAndServe(ctx context.Context) error {
	fp := fingerprint.Generate()
	wsURL, err := buildWSURL(s.apiURL, fp)
	if err != nil {
		return err
	}

	tr, err := dial(ctx, wsURL, s.apiKey, s.log)
	if err != nil {
		return err
	}
	s.tr = tr
	defer func() { s.tr = nil }()

	s.record.MarkConnected()
	s.record.SetStatus(config.StatusOnline)
	defer s.record.MarkDisconnected()

	for {
		raw, err := tr.read(ctx)
		if err != nil {
			return err
		}
		if dispatchErr := s.dispatcher.Dispatch(ctx, raw); dispatchErr != nil {
			tr.close(1000, "fatal error")
			return dispatchErr
		}
	}
}

// Send implements the single-writer outbound frame primitive used by
// every handler (dispatch.Handler, functions.Conn, shellexec.Sender).
// It drops with a warning if not currently connected.
func (s *Supervisor) Send(msgType string, payload interface{}) error {
	if s.tr == nil {
		s.log.Warn("connection.send_while_disconnected", "type", msgType)
		return fmt.Errorf("connection: not connected")
	}
	return s.tr.send(context.Background(), msgType, payload)
}

// SyncConfig implements config.Syncer by delegating to the HTTP client,
// keyed by the record's own edge-id.
func (s *Supervisor) SyncConfig(delta map[string]interface{}) error {
	snap := s.record.Snapshot()
	if snap.EdgeID == "" {
		return nil
	}
	return s.http.SyncConfigFor(context.Background(), snap.EdgeID, delta)
}

// GetFile, GetTodo and RegisterResource expose the supervisor's
// authenticated HTTP client to the function registry's attachment/chat
// download and registration handlers.
func (s *Supervisor) GetFile(ctx context.Context, attachmentID string) ([]byte, string, error) {
	return s.http.GetFile(ctx, attachmentID)
}

func (s *Supervisor) GetTodo(ctx context.Context, todoID string) ([]byte, string, error) {
	return s.http.GetTodo(ctx, todoID)
}

func (s *Supervisor) RegisterResource(ctx context.Context, filename string, content []byte, fields map[string]string) error {
	return s.http.RegisterResource(ctx, filename, content, fields)
}
