// Package integration_test contains integration tests for the SQLite adapter.
// These tests require SQLite (which is embedded).
//
// Run with: go test -tags=integration ./es/adapters/sqlite/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/tidemark-io/tidemark/es"
	"github.com/tidemark-io/tidemark/es/adapters/sqlite"
	"github.com/tidemark-io/tidemark/es/migrations"
	"github.com/tidemark-io/tidemark/es/store"
	"github.com/tidemark-io/tidemark/es/storetest"
	"github.com/tidemark-io/tidemark/es/upgrade"
	_ "modernc.org/sqlite"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Create a temporary database file
	dbFile := fmt.Sprintf("/tmp/tidemark_test_%d.db", time.Now().UnixNano())
	t.Cleanup(func() {
		os.Remove(dbFile)
		os.Remove(dbFile + "-wal")
		os.Remove(dbFile + "-shm")
	})

	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	// A single connection serializes writers at the pool, so concurrent
	// commits contend on the version check instead of on SQLite's file lock.
	db.SetMaxOpenConns(1)

	// Enable foreign keys and WAL mode for better concurrency
	_, err = db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;")
	if err != nil {
		t.Fatalf("Failed to configure database: %v", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	return db
}

func setupTestTables(t *testing.T, db *sql.DB) {
	t.Helper()

	// Drop existing objects to ensure clean state
	_, err := db.Exec(`
		DROP TABLE IF EXISTS projection_checkpoints;
		DROP TABLE IF EXISTS aggregate_heads;
		DROP TABLE IF EXISTS events;
	`)
	if err != nil {
		t.Fatalf("Failed to drop tables: %v", err)
	}

	// Generate and execute migration
	tmpDir := t.TempDir()
	config := migrations.Config{
		OutputFolder:        tmpDir,
		OutputFilename:      "test.sql",
		EventsTable:         "events",
		CheckpointsTable:    "projection_checkpoints",
		AggregateHeadsTable: "aggregate_heads",
	}

	if err := migrations.GenerateSQLite(&config); err != nil {
		t.Fatalf("Failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}

	_, err = db.Exec(string(migrationSQL))
	if err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, upgrades *upgrade.Registry) store.Store {
		db := getTestDB(t)
		setupTestTables(t, db)
		return sqlite.NewStore(db, sqlite.NewStoreConfig(sqlite.WithUpgrades(upgrades)))
	})
}

func TestCheckpoints(t *testing.T) {
	db := getTestDB(t)
	setupTestTables(t, db)

	st := sqlite.NewStore(db, sqlite.NewStoreConfig())
	ctx := context.Background()

	// Unknown consumers start at the beginning.
	pos, err := st.GetCheckpoint(ctx, "order-projector")
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if !pos.IsStart() {
		t.Errorf("initial checkpoint = %v, want Start", pos)
	}

	persisted, err := st.Commit(ctx, es.CommitBatch{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      es.Exact(0),
		Events: []es.Event{
			{EventType: "OrderPlaced", EventVersion: 1, Payload: []byte(`{}`)},
			{EventType: "OrderShipped", EventVersion: 1, Payload: []byte(`{}`)},
		},
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := st.SaveCheckpoint(ctx, "order-projector", persisted[1].GlobalPosition); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	pos, err = st.GetCheckpoint(ctx, "order-projector")
	if err != nil {
		t.Fatalf("GetCheckpoint after save failed: %v", err)
	}
	if !pos.Equal(persisted[1].GlobalPosition) {
		t.Errorf("checkpoint = %v, want %v", pos, persisted[1].GlobalPosition)
	}

	// Saving again overwrites.
	if err := st.SaveCheckpoint(ctx, "order-projector", persisted[0].GlobalPosition); err != nil {
		t.Fatalf("SaveCheckpoint overwrite failed: %v", err)
	}
	pos, err = st.GetCheckpoint(ctx, "order-projector")
	if err != nil {
		t.Fatalf("GetCheckpoint after overwrite failed: %v", err)
	}
	if !pos.Equal(persisted[0].GlobalPosition) {
		t.Errorf("overwritten checkpoint = %v, want %v", pos, persisted[0].GlobalPosition)
	}

	// Other consumers are unaffected.
	other, err := st.GetCheckpoint(ctx, "audit-projector")
	if err != nil {
		t.Fatalf("GetCheckpoint for other consumer failed: %v", err)
	}
	if !other.IsStart() {
		t.Errorf("other consumer's checkpoint = %v, want Start", other)
	}
}

func TestCustomTableNames(t *testing.T) {
	db := getTestDB(t)

	tmpDir := t.TempDir()
	config := migrations.Config{
		OutputFolder:        tmpDir,
		OutputFilename:      "custom.sql",
		EventsTable:         "custom_events",
		CheckpointsTable:    "custom_checkpoints",
		AggregateHeadsTable: "custom_heads",
	}
	if err := migrations.GenerateSQLite(&config); err != nil {
		t.Fatalf("Failed to generate migration: %v", err)
	}
	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}

	st := sqlite.NewStore(db, sqlite.NewStoreConfig(
		sqlite.WithEventsTable("custom_events"),
		sqlite.WithCheckpointsTable("custom_checkpoints"),
		sqlite.WithAggregateHeadsTable("custom_heads"),
	))
	ctx := context.Background()

	if _, err := st.Commit(ctx, es.CommitBatch{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      es.Exact(0),
		Events:        []es.Event{{EventType: "OrderPlaced", EventVersion: 1, Payload: []byte(`{}`)}},
	}); err != nil {
		t.Fatalf("Commit with custom tables failed: %v", err)
	}

	stream, err := st.LoadStream(ctx, "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("LoadStream with custom tables failed: %v", err)
	}
	if stream.Version != 1 || len(stream.Events) != 1 {
		t.Errorf("stream version %d with %d events, want 1 with 1", stream.Version, len(stream.Events))
	}
}

func TestTimestampPrecision(t *testing.T) {
	db := getTestDB(t)
	setupTestTables(t, db)

	st := sqlite.NewStore(db, sqlite.NewStoreConfig())
	ctx := context.Background()

	persisted, err := st.Commit(ctx, es.CommitBatch{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      es.Exact(0),
		Events:        []es.Event{{EventType: "OrderPlaced", EventVersion: 1, Payload: []byte(`{}`)}},
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	stream, err := st.LoadStream(ctx, "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("LoadStream failed: %v", err)
	}

	// Timestamps are stored at microsecond precision and must survive the
	// round trip exactly.
	if !stream.Events[0].CreatedAt.Equal(persisted[0].CreatedAt) {
		t.Errorf("CreatedAt round trip: stored %v, loaded %v",
			persisted[0].CreatedAt, stream.Events[0].CreatedAt)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := getTestDB(t)

	if _, err := db.Exec(`CREATE TABLE unique_probe (id INTEGER PRIMARY KEY, name TEXT UNIQUE)`); err != nil {
		t.Fatalf("Failed to create probe table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO unique_probe (name) VALUES ('taken')`); err != nil {
		t.Fatalf("Failed to insert probe row: %v", err)
	}

	_, err := db.Exec(`INSERT INTO unique_probe (name) VALUES ('taken')`)
	if err == nil {
		t.Fatal("duplicate insert should fail")
	}
	if !sqlite.IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}

	_, err = db.Exec(`SELECT * FROM does_not_exist`)
	if err == nil {
		t.Fatal("query against missing table should fail")
	}
	if sqlite.IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = true for a non-constraint error", err)
	}

	if sqlite.IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) = true")
	}
	if sqlite.IsUniqueViolation(errors.New("plain error")) {
		t.Error("IsUniqueViolation(plain error) = true")
	}
}

func TestStorageErrorOnMissingTables(t *testing.T) {
	db := getTestDB(t)
	// No setupTestTables: every operation hits missing tables.

	st := sqlite.NewStore(db, sqlite.NewStoreConfig())
	ctx := context.Background()

	_, err := st.Commit(ctx, es.CommitBatch{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      es.Exact(0),
		Events:        []es.Event{{EventType: "OrderPlaced", EventVersion: 1, Payload: []byte(`{}`)}},
	})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Commit error = %v, want store.ErrUnavailable", err)
	}

	if _, err := st.LoadStream(ctx, "Order", "order-1", 1); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("LoadStream error = %v, want store.ErrUnavailable", err)
	}

	if _, err := st.LoadAllEvents(ctx, es.Start, 10); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("LoadAllEvents error = %v, want store.ErrUnavailable", err)
	}
}
