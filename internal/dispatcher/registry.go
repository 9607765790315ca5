package dispatcher

import (
	"context"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// HandlerFunc implements one command verb. Returned fields are merged into
// the success response envelope.
type HandlerFunc func(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error)

// Schema describes a verb's required arguments (Design Notes §9: a registry
// keyed by verb string mapping to a validator+handler pair, described by a
// schema rather than ad-hoc string checks scattered through each handler).
type Schema struct {
	Required []string
}

type registryEntry struct {
	schema  Schema
	handler HandlerFunc
}

// Registry is the open-set verb → handler table.
type Registry struct {
	entries map[string]registryEntry
	aliases map[string]string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry), aliases: make(map[string]string)}
}

// Register adds a verb with its argument schema and handler.
func (r *Registry) Register(verb string, schema Schema, handler HandlerFunc) {
	r.entries[verb] = registryEntry{schema: schema, handler: handler}
}

// Alias makes aliasVerb resolve to the same entry as verb (used for the
// MCP-prefixed browser_* names spec §4.J requires alongside the canonical
// verbs).
func (r *Registry) Alias(aliasVerb, verb string) {
	r.aliases[aliasVerb] = verb
}

// resolve returns the registry entry for verb, following one alias hop.
func (r *Registry) resolve(verb string) (registryEntry, bool) {
	if target, ok := r.aliases[verb]; ok {
		verb = target
	}
	e, ok := r.entries[verb]
	return e, ok
}

func validate(schema Schema, args map[string]any) error {
	for _, name := range schema.Required {
		v, ok := args[name]
		if !ok || v == nil || v == "" {
			return errs.MissingArg(name)
		}
	}
	return nil
}
