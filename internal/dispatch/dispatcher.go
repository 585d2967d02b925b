// Package dispatch decodes inbound frames, detects ERROR frames as
// authentication/server errors, and routes every other frame to a
// fire-and-forget handler bounded by a semaphore so one slow handler
// never starves the inbound loop. Concurrency bound is
// golang.org/x/sync/semaphore, the same dependency goclaw and hector
// both reach for to cap worker fan-out.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/todoforai/edge/internal/protocol"
)

// FatalKind distinguishes the two terminal ERROR-frame kinds.
type FatalKind int

const (
	NotFatal FatalKind = iota
	AuthenticationError
	ServerError
)

// FatalErr is returned by Dispatch when an ERROR frame
// must close the socket and break the reconnect loop.
type FatalErr struct {
	Kind    FatalKind
	Message string
}

func (e *FatalErr) Error() string { return e.Message }

// Handler processes one decoded message. It must not panic; handlers run
// inside a recovered goroutine regardless.
type Handler func(ctx context.Context, msg *protocol.Message)

// Dispatcher owns the type→handler table and bounds concurrent handler
// execution.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sem      *semaphore.Weighted
	log      *slog.Logger
	debug    bool
}

// New builds a Dispatcher allowing up to maxConcurrent handlers running
// at once.
func New(maxConcurrent int64, log *slog.Logger, debug bool) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		sem:      semaphore.NewWeighted(maxConcurrent),
		log:      log,
		debug:    debug,
	}
}

// Register adds typ → h to the routing table.
func (d *Dispatcher) Register(typ string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = h
}

// Dispatch parses raw as a Message and routes it. Parse failures are
// silently dropped. An ERROR-typed frame is classified and, if fatal,
// returns a *FatalErr without spawning a handler.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) error {
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.log.Debug("dispatch.parse_error", "error", err)
		return nil
	}

	if msg.Type == protocol.TypeError {
		var payload protocol.ErrorPayload
		_ = msg.Decode(&payload)
		d.log.Error("dispatch.server_error_frame", "message", payload.Message)

		lower := strings.ToLower(payload.Message)
		if strings.Contains(lower, "api key") || strings.Contains(lower, "authentication") {
			return &FatalErr{Kind: AuthenticationError, Message: payload.Message}
		}
		return &FatalErr{Kind: ServerError, Message: payload.Message}
	}

	d.mu.RLock()
	h, ok := d.handlers[msg.Type]
	d.mu.RUnlock()
	if !ok {
		if d.debug {
			d.log.Warn("dispatch.unknown_type", "type", msg.Type)
		}
		return nil
	}

	// The semaphore is acquired inside the goroutine, never by the
	// caller: Dispatch is called synchronously from the inbound read
	// loop, which must keep reading frames (e.g. a block:signal meant to
	// interrupt one of the in-flight handlers) even while all slots are
	// full.
	go func() {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("dispatch.handler_panic", "type", msg.Type, "recovered", r)
			}
		}()
		h(ctx, &msg)
	}()
	return nil
}
