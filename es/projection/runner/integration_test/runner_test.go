// Package integration_test contains integration tests for the runner package.
// These tests require a running PostgreSQL instance.
//
// Run with: go test -tags=integration ./es/projection/runner/integration_test/...
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
	"github.com/tidemark-io/tidemark/es/adapters/postgres"
	"github.com/tidemark-io/tidemark/es/migrations"
	"github.com/tidemark-io/tidemark/es/projection"
	"github.com/tidemark-io/tidemark/es/projection/runner"

	_ "github.com/lib/pq"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}

	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}

	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "postgres"
	}

	dbname := os.Getenv("POSTGRES_DB")
	if dbname == "" {
		dbname = "tidemark_test"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	return db
}

func setupTestTables(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`
		DROP TABLE IF EXISTS projection_checkpoints CASCADE;
		DROP TABLE IF EXISTS aggregate_heads CASCADE;
		DROP TABLE IF EXISTS events CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to drop tables: %v", err)
	}

	tmpDir := t.TempDir()
	config := migrations.Config{
		OutputFolder:        tmpDir,
		OutputFilename:      "test.sql",
		EventsTable:         "events",
		CheckpointsTable:    "projection_checkpoints",
		AggregateHeadsTable: "aggregate_heads",
	}

	if err := migrations.GeneratePostgres(&config); err != nil {
		t.Fatalf("Failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}
}

func testConfig() projection.ProcessorConfig {
	config := projection.DefaultProcessorConfig()
	config.PollInterval = 5 * time.Millisecond
	return config
}

func commitEvents(t *testing.T, st *postgres.Store, aggregateType, aggregateID string, eventTypes ...string) []es.PersistedEvent {
	t.Helper()

	events := make([]es.Event, len(eventTypes))
	for i, eventType := range eventTypes {
		events[i] = es.Event{
			EventType:    eventType,
			EventVersion: 1,
			Payload:      []byte(fmt.Sprintf(`{"type":%q}`, eventType)),
		}
	}

	persisted, err := st.Commit(context.Background(), es.CommitBatch{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Expected:      es.Any(),
		Events:        events,
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return persisted
}

func TestRunner_RunsMultipleProjections(t *testing.T) {
	db := getTestDB(t)
	setupTestTables(t, db)

	st := postgres.NewStore(db, postgres.NewStoreConfig())
	persisted := commitEvents(t, st, "User", "user-1", "UserCreated", "UserRenamed")
	persisted = append(persisted, commitEvents(t, st, "Order", "order-1", "OrderPlaced")...)

	alpha := projection.NewRecorder("runner_alpha")
	beta := projection.NewRecorder("runner_beta")

	runners := []runner.ProjectionRunner{
		{Projection: alpha, Processor: projection.NewProcessor(st, st, testConfig())},
		{Projection: beta, Processor: projection.NewProcessor(st, st, testConfig())},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.New().Run(ctx, runners)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	if err := alpha.WaitFor(waitCtx, len(persisted)); err != nil {
		t.Fatalf("alpha WaitFor failed: %v", err)
	}
	if err := beta.WaitFor(waitCtx, len(persisted)); err != nil {
		t.Fatalf("beta WaitFor failed: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Each projection tracked its own checkpoint row.
	for _, name := range []string{"runner_alpha", "runner_beta"} {
		pos, err := st.GetCheckpoint(context.Background(), name)
		if err != nil {
			t.Fatalf("GetCheckpoint(%s) failed: %v", name, err)
		}
		if !pos.Equal(persisted[len(persisted)-1].GlobalPosition) {
			t.Errorf("checkpoint %s = %v, want %v", name, pos, persisted[len(persisted)-1].GlobalPosition)
		}
	}
}

func TestRunPartitioned_CheckpointsPerPartition(t *testing.T) {
	db := getTestDB(t)
	setupTestTables(t, db)

	st := postgres.NewStore(db, postgres.NewStoreConfig())

	total := 8
	var last es.Position
	for i := 0; i < total; i++ {
		persisted := commitEvents(t, st, "User", fmt.Sprintf("agg-%d", i), "UserCreated")
		last = persisted[0].GlobalPosition
	}

	rec := projection.NewRecorder("pg_splitter")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.RunPartitioned(ctx, st, st, rec, testConfig(), 2)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	if err := rec.WaitFor(waitCtx, total); err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}

	// Both partitions drain the full log under their own checkpoint rows.
	for _, name := range []string{"pg_splitter:0/2", "pg_splitter:1/2"} {
		deadline := time.Now().Add(10 * time.Second)
		for {
			pos, err := st.GetCheckpoint(context.Background(), name)
			if err != nil {
				t.Fatalf("GetCheckpoint(%s) failed: %v", name, err)
			}
			if pos.Equal(last) {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("checkpoint %s never reached %v", name, last)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunPartitioned returned %v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("RunPartitioned did not return after cancellation")
	}

	seen := make(map[string]int)
	for _, event := range rec.Events() {
		seen[event.AggregateID]++
	}
	if len(seen) != total {
		t.Errorf("saw %d aggregates, want %d", len(seen), total)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("aggregate %s delivered %d times, want 1", id, count)
		}
	}
}
