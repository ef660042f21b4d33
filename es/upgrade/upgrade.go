// Package upgrade transforms stored events to their current schema at read
// time.
//
// Stored payloads are never rewritten. Instead, upgrade functions registered
// per (event type, schema version) pair are applied when events are read:
// each function maps one stored payload onto zero, one, or many replacement
// events, and replacements are re-matched against the registry until no
// upgrader applies. Splitting a legacy event into several current ones,
// collapsing one into nothing, and plain payload rewrites are all expressed
// the same way.
//
// Expanded events inherit the stored record's identity - sequence number,
// global position, event id, source id, metadata, and timestamp. Only the
// event type, schema version, and payload change.
package upgrade

import (
	"fmt"

	"github.com/tidemark-io/tidemark/es"
)

// DefaultMaxHops bounds the upgrade chain applied to one stored record.
// A chain this long is always a registration cycle in practice.
const DefaultMaxHops = 64

// Upgraded is one output of an upgrade function. It carries its own type and
// schema version so the registry can re-match it until a fixed point.
type Upgraded struct {
	// EventType of the replacement event
	EventType string

	// EventVersion is the replacement's schema version
	EventVersion int

	// Payload is the replacement's data
	Payload []byte
}

// Func rewrites one stored payload into its replacements. Returning an empty
// slice suppresses the event; returning several fans it out. Functions must
// be pure: same payload in, same replacements out.
type Func func(payload []byte) ([]Upgraded, error)

// CycleError reports an upgrade chain that never reached a fixed point.
// It indicates a registration cycle and is surfaced to the reader
// immediately; no partial result is returned.
type CycleError struct {
	// EventType and EventVersion identify the stored record whose
	// expansion cycled.
	EventType    string
	EventVersion int

	// Hops is the chain length at which expansion was abandoned.
	Hops int
}

// Error implements error.
func (e *CycleError) Error() string {
	return fmt.Sprintf("upgrade cycle detected expanding %s v%d: chain exceeded %d hops",
		e.EventType, e.EventVersion, e.Hops)
}

type registryKey struct {
	eventType    string
	eventVersion int
}

// Registry maps (event type, schema version) pairs to upgrade functions.
//
// A nil *Registry is valid and passes every record through unchanged, so
// stores can hold one without nil checks. Register everything at
// configuration time, before the store serves reads; registration is not
// synchronized with Apply.
type Registry struct {
	upgraders map[registryKey]Func
	maxHops   int
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxHops overrides the per-record chain bound. n must be positive.
func WithMaxHops(n int) Option {
	if n < 1 {
		panic(fmt.Sprintf("max hops must be positive, got %d", n))
	}
	return func(r *Registry) {
		r.maxHops = n
	}
}

// NewRegistry creates an empty upgrade registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		upgraders: make(map[registryKey]Func),
		maxHops:   DefaultMaxHops,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds fn to events stored with the given type and schema version.
// Registering the same pair twice panics: two upgraders for one stored shape
// is a configuration bug, not a runtime condition.
func (r *Registry) Register(eventType string, eventVersion int, fn Func) {
	if fn == nil {
		panic(fmt.Sprintf("nil upgrade func for %s v%d", eventType, eventVersion))
	}
	key := registryKey{eventType: eventType, eventVersion: eventVersion}
	if _, exists := r.upgraders[key]; exists {
		panic(fmt.Sprintf("upgrade func already registered for %s v%d", eventType, eventVersion))
	}
	r.upgraders[key] = fn
}

// Apply expands one stored record into its current-schema events. Records
// with no matching upgrader pass through unchanged. An empty result means
// the record was suppressed.
func (r *Registry) Apply(rec es.PersistedEvent) ([]es.PersistedEvent, error) {
	if r == nil || len(r.upgraders) == 0 {
		return []es.PersistedEvent{rec}, nil
	}

	type pending struct {
		eventType    string
		eventVersion int
		payload      []byte
		hops         int
	}

	work := []pending{{eventType: rec.EventType, eventVersion: rec.EventVersion, payload: rec.Payload}}
	var out []es.PersistedEvent

	// Depth-first so a fan-out's own expansions stay ahead of its
	// siblings, preserving the order upgraders returned.
	for len(work) > 0 {
		item := work[0]
		work = work[1:]

		fn, ok := r.upgraders[registryKey{eventType: item.eventType, eventVersion: item.eventVersion}]
		if !ok {
			e := rec
			e.EventType = item.eventType
			e.EventVersion = item.eventVersion
			e.Payload = item.payload
			out = append(out, e)
			continue
		}

		if item.hops >= r.maxHops {
			return nil, &CycleError{
				EventType:    rec.EventType,
				EventVersion: rec.EventVersion,
				Hops:         item.hops,
			}
		}

		results, err := fn(item.payload)
		if err != nil {
			return nil, fmt.Errorf("upgrade %s v%d: %w", item.eventType, item.eventVersion, err)
		}

		next := make([]pending, 0, len(results)+len(work))
		for _, res := range results {
			next = append(next, pending{
				eventType:    res.EventType,
				eventVersion: res.EventVersion,
				payload:      res.Payload,
				hops:         item.hops + 1,
			})
		}
		work = append(next, work...)
	}

	return out, nil
}

// ApplyAll expands every record in order, flattening the results.
func (r *Registry) ApplyAll(recs []es.PersistedEvent) ([]es.PersistedEvent, error) {
	if r == nil || len(r.upgraders) == 0 {
		return recs, nil
	}

	out := make([]es.PersistedEvent, 0, len(recs))
	for i := range recs {
		expanded, err := r.Apply(recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}
