// Package dispatcher implements the Command Dispatcher (spec.md §4.J): a
// verb-keyed handler registry, wire-protocol framing, and a WebSocket
// transport that routes client commands to components B-K.
//
// Grounded on the teacher's internal/queries/dispatcher.go /
// dispatcher_commands.go (verb → handler registry with validated args) and
// internal/mcp/protocol.go / errors.go (request/response envelope, typed
// error kinds). Transport is generalized from the teacher's bespoke
// stdio/SSE bridge to a real WebSocket server grounded on
// streamspace-dev-streamspace's gorilla/websocket usage.
package dispatcher

import (
	"encoding/json"
	"errors"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// Request is one parsed client frame: {"id":..., "command":..., ...args}.
type Request struct {
	ID      string
	Command string
	Args    map[string]any
}

// ParseRequest decodes a flat JSON object, lifting out "id"/"command" and
// treating every remaining key as a command argument.
func ParseRequest(raw []byte) (Request, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Request{}, errs.Wrap(errs.ArgumentInvalid, "dispatcher: malformed frame", err)
	}
	id, _ := m["id"].(string)
	cmd, _ := m["command"].(string)
	delete(m, "id")
	delete(m, "command")
	return Request{ID: id, Command: cmd, Args: m}, nil
}

// successFrame builds a {"id":..., "success":true, ...fields} response.
func successFrame(id string, fields map[string]any) []byte {
	out := map[string]any{"id": id, "success": true}
	for k, v := range fields {
		out[k] = v
	}
	buf, _ := json.Marshal(out)
	return buf
}

// errorFrame builds a {"id":..., "success":false, "error":..., "kind":...}
// response.
func errorFrame(id string, err error) []byte {
	msg := err.Error()
	var e *errs.Error
	if errors.As(err, &e) {
		msg = e.Message
		if e.Cause != nil {
			msg += ": " + e.Cause.Error()
		}
	}
	out := map[string]any{
		"id": id, "success": false,
		"error": msg,
		"kind":  string(errs.KindOf(err)),
	}
	buf, _ := json.Marshal(out)
	return buf
}

// BroadcastFrame builds a server-initiated {"type":..., ...fields} frame
// carrying no "id".
func BroadcastFrame(kind string, fields map[string]any) []byte {
	out := map[string]any{"type": kind}
	for k, v := range fields {
		out[k] = v
	}
	buf, _ := json.Marshal(out)
	return buf
}
