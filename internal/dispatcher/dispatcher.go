package dispatcher

import (
	"context"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// Dispatcher routes parsed wire frames to registered verb handlers. It is
// transport-agnostic: Server (server.go) wraps it with a WebSocket listener,
// but HandleMessage is exercised directly in tests without any socket.
type Dispatcher struct {
	Registry   *Registry
	Components *Components
}

// New builds a Dispatcher with the canonical verb table registered.
func New(components *Components) *Dispatcher {
	d := &Dispatcher{Registry: NewRegistry(), Components: components}
	registerHandlers(d.Registry)
	return d
}

// HandleMessage parses, validates, and routes one client frame, returning
// the response frame bytes. It never panics on malformed input; parse
// failures become ArgumentInvalid error frames with id="" (the id cannot be
// recovered from unparsable JSON).
func (d *Dispatcher) HandleMessage(ctx context.Context, clientID string, raw []byte) []byte {
	req, err := ParseRequest(raw)
	if err != nil {
		return errorFrame("", err)
	}
	if req.Command == "" {
		return errorFrame(req.ID, errs.New(errs.ArgumentMissing, "CommandRequired"))
	}

	entry, ok := d.Registry.resolve(req.Command)
	if !ok {
		return errorFrame(req.ID, errs.New(errs.UnknownCommand, "Unknown command: "+req.Command))
	}
	if err := validate(entry.schema, req.Args); err != nil {
		return errorFrame(req.ID, err)
	}

	fields, err := entry.handler(ctx, d, clientID, req.Args)
	if err != nil {
		return errorFrame(req.ID, err)
	}
	return successFrame(req.ID, fields)
}
