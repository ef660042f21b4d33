// Package es provides core event store infrastructure.
//
// # Overview
//
// This package defines the fundamental types for an event-sourced
// persistence core:
//   - Event / PersistedEvent: immutable domain events, before and after commit
//   - CommitBatch: the atomic unit of persistence
//   - Stream: the ordered events of one aggregate identity
//   - Position: an opaque location in the globally ordered event log
//   - ExpectedVersion: optimistic concurrency declarations
//
// # Design Philosophy
//
// Clean Architecture: Core types are storage-agnostic. Infrastructure
// concerns (SQLite, PostgreSQL, MySQL, in-memory) are isolated in adapter
// packages under es/adapters; the contracts they implement live in es/store.
//
// Atomic Commits: Stores own their transaction boundaries. A CommitBatch is
// persisted wholly or not at all, with contiguous sequence numbers and
// strictly increasing global positions assigned in the same atomic step. No
// reader ever observes a partial batch.
//
// Immutability: Events are value objects. They gain identity (event id,
// sequence number, global position, commit timestamp) only when a commit
// succeeds, and stored records are never rewritten afterward - schema
// evolution happens at read time via the es/upgrade package.
//
// # Quick Start
//
// 1. Generate database migrations:
//
//	go run github.com/tidemark-io/tidemark/cmd/migrate-gen -adapter sqlite -output migrations
//
// 2. Apply migrations to your database
//
// 3. Create a store:
//
//	import (
//	    "github.com/tidemark-io/tidemark/es"
//	    "github.com/tidemark-io/tidemark/es/adapters/sqlite"
//	)
//
//	st := sqlite.NewStore(db, sqlite.NewStoreConfig())
//
// 4. Commit events:
//
//	persisted, err := st.Commit(ctx, es.CommitBatch{
//	    AggregateType: "Order",
//	    AggregateID:   orderID,
//	    SourceID:      commandID,
//	    Expected:      es.Exact(0),
//	    Events: []es.Event{
//	        {EventType: "OrderPlaced", EventVersion: 1, Payload: payload},
//	    },
//	})
//
// 5. Load a stream and commit against its version:
//
//	stream, err := st.LoadStream(ctx, "Order", orderID, 1)
//	if err != nil {
//	    return err
//	}
//	_, err = st.Commit(ctx, es.CommitBatch{
//	    AggregateType: "Order",
//	    AggregateID:   orderID,
//	    Expected:      es.Exact(stream.Version),
//	    Events:        next,
//	})
//
// 6. Scan the global log:
//
//	pos := es.Start
//	for {
//	    page, err := st.LoadAllEvents(ctx, pos, 100)
//	    if err != nil {
//	        return err
//	    }
//	    if page.Next.Equal(pos) {
//	        break // caught up
//	    }
//	    for _, e := range page.Events {
//	        handle(e)
//	    }
//	    pos = page.Next
//	}
//
// # Optimistic Concurrency
//
// Commits declare the stream version they were prepared against via
// ExpectedVersion. When the stream has moved, the store rejects the whole
// batch with *ConcurrencyError carrying the expected and actual versions.
// Exactly one of any set of racing commits at the same version wins; losers
// reload and retry. Exact(0) expresses "this stream must not exist yet";
// Any() skips the check for last-writer-wins appends.
//
// # Global Ordering
//
// Every committed event receives a Position in a single log spanning all
// streams. Positions are strictly increasing in commit order but not
// contiguous: deleting a stream leaves permanent gaps, which paged scans
// skip transparently. Resume tokens are just the last page's Next position,
// serialized with Position.String and restored with ParsePosition.
//
// # Metadata
//
// Persisted metadata always carries source_id, event_id, and committed_at
// alongside caller-supplied pairs. The source id is the commit's
// correlation/idempotency token; when the batch leaves it empty the store
// generates one.
//
// See the es/store package for the storage contracts, es/upgrade for
// read-time schema evolution, es/storetest for the conformance suite that
// every adapter must pass, and es/projection for checkpointed consumers of
// the global log.
package es
