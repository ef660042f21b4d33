// Package es provides core event store interfaces and types.
package es

import (
	"time"

	"github.com/google/uuid"
)

// Reserved metadata keys stamped onto every event at commit time.
// Caller-supplied metadata never overwrites them.
const (
	// MetaSourceID keys the identifier of the commit's originator.
	MetaSourceID = "source_id"

	// MetaEventID keys the event's unique identifier.
	MetaEventID = "event_id"

	// MetaCommittedAt keys the commit timestamp (RFC 3339, UTC).
	MetaCommittedAt = "committed_at"
)

// Event represents an immutable domain event prior to persistence.
// Events are value objects without identity until committed.
type Event struct {
	// EventType identifies the type of event
	EventType string

	// EventVersion is the schema version of this event type (>= 1)
	EventVersion int

	// Payload contains the event data
	// Stored as raw bytes for flexibility - allows any serialization format
	Payload []byte

	// Metadata contains caller-supplied key/value pairs.
	// The reserved keys are stamped during commit; see CommitMetadata.
	Metadata map[string]string
}

// PersistedEvent represents an event that has been committed to a stream.
// Identity fields are assigned by the store during commit and are read-only
// thereafter.
type PersistedEvent struct {
	// GlobalPosition orders this event across all streams.
	// Assigned at commit, never reused or reassigned.
	GlobalPosition Position

	// AggregateType identifies the type of aggregate this event belongs to
	AggregateType string

	// AggregateID uniquely identifies the aggregate instance
	AggregateID string

	// AggregateVersion is this event's sequence number within its stream,
	// contiguous from 1
	AggregateVersion int64

	// EventID is a unique identifier for this event
	EventID uuid.UUID

	// SourceID identifies the commit that produced this event.
	// Never empty: the store generates one when the batch left it blank.
	SourceID string

	// EventType identifies the type of event
	EventType string

	// EventVersion is the schema version of this event type
	EventVersion int

	// Payload contains the event data
	Payload []byte

	// Metadata contains the reserved commit keys plus caller-supplied pairs
	Metadata map[string]string

	// CreatedAt is the commit timestamp (UTC, microsecond precision)
	CreatedAt time.Time
}

// CommitMetadata merges caller-supplied metadata with the reserved commit
// keys. The input map is not modified; the result is always a fresh copy.
func CommitMetadata(meta map[string]string, eventID uuid.UUID, sourceID string, committedAt time.Time) map[string]string {
	merged := make(map[string]string, len(meta)+3)
	for k, v := range meta {
		merged[k] = v
	}
	merged[MetaSourceID] = sourceID
	merged[MetaEventID] = eventID.String()
	merged[MetaCommittedAt] = committedAt.UTC().Format(time.RFC3339Nano)
	return merged
}
