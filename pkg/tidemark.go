// Package tidemark provides event sourcing persistence for Go applications.
//
// This package serves as the main entry point for the tidemark library.
// For the core event store functionality, see the es package and its
// subpackages:
//
//	es            - Core types: events, streams, positions, commit batches
//	es/store      - Store contracts and paging helpers
//	es/upgrade    - Read-time schema upgrade pipeline
//	es/adapters/memory   - In-memory implementation
//	es/adapters/sqlite   - SQLite implementation
//	es/adapters/postgres - PostgreSQL implementation
//	es/adapters/mysql    - MySQL/MariaDB implementation
//	es/projection - Checkpointed global log consumers
//	es/migrations - Migration generation for the SQL adapters
//	es/storetest  - Conformance suite for store implementations
//
// Quick Start:
//
//  1. Generate migrations:
//     go run github.com/tidemark-io/tidemark/cmd/migrate-gen -adapter sqlite -output migrations
//
//  2. Create a store and commit events:
//     st := sqlite.NewStore(db, sqlite.DefaultStoreConfig())
//     persisted, err := st.Commit(ctx, es.CommitBatch{
//         AggregateType: "user",
//         AggregateID:   id,
//         Expected:      es.Exact(0),
//         Events:        events,
//     })
//
//  3. Consume the global log:
//     processor := projection.NewProcessor(st, st, projection.DefaultProcessorConfig())
//     processor.Run(ctx, myProjection)
//
// See the examples directory for complete working examples.
package tidemark

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
