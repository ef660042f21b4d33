package es

import (
	"errors"
	"fmt"
)

// CommitBatch is the atomic unit of persistence: an ordered group of events
// destined for a single aggregate stream. Either every event in the batch
// is persisted or none is.
type CommitBatch struct {
	// AggregateType identifies the type of aggregate
	AggregateType string

	// AggregateID identifies the aggregate instance
	AggregateID string

	// SourceID identifies the originator of this commit, for idempotency
	// and correlation. When empty, the store generates one so persisted
	// metadata always carries a non-empty source id.
	SourceID string

	// Expected declares the stream version this commit was prepared
	// against. The zero value is Exact(0): the stream must not exist yet.
	Expected ExpectedVersion

	// Events are persisted in order, with sequence numbers continuing
	// from the expected version. An empty slice makes the commit a no-op.
	Events []Event
}

// Validate checks the batch shape. Stores call it before touching storage.
func (b CommitBatch) Validate() error {
	if b.AggregateType == "" {
		return errors.New("commit batch: aggregate type is required")
	}
	if b.AggregateID == "" {
		return errors.New("commit batch: aggregate id is required")
	}
	for i := range b.Events {
		e := &b.Events[i]
		if e.EventType == "" {
			return fmt.Errorf("commit batch: event %d: event type is required", i)
		}
		if e.EventVersion < 1 {
			return fmt.Errorf("commit batch: event %d: event version must be >= 1, got %d", i, e.EventVersion)
		}
	}
	return nil
}
