// Package store defines the storage contracts implemented by every event
// store backend, plus the helpers the backends share.
package store

import (
	"context"
	"errors"

	"github.com/tidemark-io/tidemark/es"
)

var (
	// ErrUnavailable indicates the backing storage could not be reached or
	// failed while serving an operation. StorageError values match it via
	// errors.Is. Stores never retry internally; retry policy belongs to
	// the caller.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrInvalidLimit indicates a LoadAllEvents call with a non-positive
	// page size.
	ErrInvalidLimit = errors.New("page limit must be positive")
)

// StreamStore is the per-aggregate contract: durable append-only streams
// with optimistic concurrency control and whole-stream deletion.
type StreamStore interface {
	// LoadStream returns the stream's persisted events with sequence
	// numbers >= fromVersion, in ascending sequence order, upgraded to
	// their current schema. The returned stream's Version is the highest
	// sequence number ever committed regardless of filtering. An unknown
	// identity yields an empty stream with Version 0 and a nil error.
	LoadStream(ctx context.Context, aggregateType, aggregateID string, fromVersion int64) (es.Stream, error)

	// Commit atomically appends the batch to its stream, assigning
	// contiguous sequence numbers continuing from the expected version and
	// fresh global positions. It returns the persisted events in order.
	//
	// A zero-length batch is a legal no-op: Commit returns (nil, nil)
	// without touching storage or validating the expected version.
	//
	// When the stream's version does not match batch.Expected, Commit
	// returns *es.ConcurrencyError and persists nothing. Exactly one of
	// any set of racing commits at the same expected version succeeds.
	Commit(ctx context.Context, batch es.CommitBatch) ([]es.PersistedEvent, error)

	// DeleteStream removes the stream's entire history. Afterwards the
	// identity behaves as never committed to: loads return an empty
	// stream and a recreated stream restarts at sequence 1 with fresh
	// positions. Deleting an unknown identity is a no-op. There is no
	// tombstone and no undelete.
	DeleteStream(ctx context.Context, aggregateType, aggregateID string) error
}

// GlobalLog is the cross-aggregate contract: one totally ordered index over
// every stream's events, supporting gap-tolerant resumable scans.
type GlobalLog interface {
	// LoadAllEvents returns up to maxCount live events with positions
	// strictly greater than from (everything when from is es.Start), in
	// ascending position order, upgraded to their current schema.
	//
	// Deleted streams leave gaps in the position sequence and suppressed
	// records contribute nothing; neither is an error and neither stalls
	// the scan. The page's Next position resumes the scan: when Next
	// equals from, no progress was made and the caller has caught up.
	//
	// maxCount must be positive; otherwise ErrInvalidLimit is returned.
	LoadAllEvents(ctx context.Context, from es.Position, maxCount int) (Page, error)
}

// Store combines the stream and global log contracts. Every adapter
// implements it; the storetest package holds the conformance suite.
type Store interface {
	StreamStore
	GlobalLog
}

// CheckpointStore persists consumer progress through the global log.
type CheckpointStore interface {
	// GetCheckpoint returns the last saved position for the named
	// consumer, or es.Start when none has been saved.
	GetCheckpoint(ctx context.Context, consumerName string) (es.Position, error)

	// SaveCheckpoint records the consumer's progress.
	SaveCheckpoint(ctx context.Context, consumerName string, pos es.Position) error
}

// Page is one result of a global log scan.
type Page struct {
	// Events holds up to the requested number of live, upgraded events.
	Events []es.PersistedEvent

	// Next is the resume position for the following LoadAllEvents call:
	// the stored position of the last returned event, or the scanned-from
	// position when the page is empty.
	Next es.Position
}
