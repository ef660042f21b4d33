// Package integration_test contains integration tests for the MySQL adapter.
// These tests require a running MySQL/MariaDB instance.
//
// Start MySQL: docker run -d -p 3306:3306 -e MYSQL_ROOT_PASSWORD=password -e MYSQL_DATABASE=tidemark_test mysql:8
// Run with: go test -tags=integration ./es/adapters/mysql/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tidemark-io/tidemark/es"
	"github.com/tidemark-io/tidemark/es/adapters/mysql"
	"github.com/tidemark-io/tidemark/es/migrations"
	"github.com/tidemark-io/tidemark/es/store"
	"github.com/tidemark-io/tidemark/es/storetest"
	"github.com/tidemark-io/tidemark/es/upgrade"

	_ "github.com/go-sql-driver/mysql"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Default to localhost, but allow override via env var for CI
	host := os.Getenv("MYSQL_HOST")
	if host == "" {
		host = "localhost"
	}

	port := os.Getenv("MYSQL_PORT")
	if port == "" {
		port = "3306"
	}

	user := os.Getenv("MYSQL_USER")
	if user == "" {
		user = "root"
	}

	password := os.Getenv("MYSQL_PASSWORD")
	if password == "" {
		password = "password"
	}

	dbname := os.Getenv("MYSQL_DATABASE")
	if dbname == "" {
		dbname = "tidemark_test"
	}

	// parseTime=true is required: the store scans created_at into time.Time.
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		user, password, host, port, dbname)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	return db
}

// execStatements runs a migration script one statement at a time. MySQL
// rejects multi-statement Exec calls by default.
func execStatements(t *testing.T, db *sql.DB, migrationSQL string) {
	t.Helper()

	statements := strings.Split(migrationSQL, ";")
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		// Skip comment-only statements
		lines := strings.Split(stmt, "\n")
		hasNonComment := false
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				hasNonComment = true
				break
			}
		}
		if !hasNonComment {
			continue
		}

		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute migration statement: %v\nStatement: %s", err, stmt)
		}
	}
}

func setupTestTables(t *testing.T, db *sql.DB) {
	t.Helper()

	// Drop existing objects to ensure clean state
	for _, table := range []string{"projection_checkpoints", "aggregate_heads", "events"} {
		if _, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
			t.Fatalf("Failed to drop %s table: %v", table, err)
		}
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

	if err := migrations.GenerateMySQL(&config); err != nil {
		t.Fatalf("Failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}

	execStatements(t, db, string(migrationSQL))
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, upgrades *upgrade.Registry) store.Store {
		db := getTestDB(t)
		setupTestTables(t, db)
		return mysql.NewStore(db, mysql.NewStoreConfig(mysql.WithUpgrades(upgrades)))
	})
}

func TestCheckpoints(t *testing.T) {
	db := getTestDB(t)
	setupTestTables(t, db)

	st := mysql.NewStore(db, mysql.NewStoreConfig())
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
}

func TestCustomTableNames(t *testing.T) {
	db := getTestDB(t)

	for _, table := range []string{"custom_checkpoints", "custom_heads", "custom_events"} {
		if _, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
			t.Fatalf("Failed to drop %s table: %v", table, err)
		}
	}

	tmpDir := t.TempDir()
	config := migrations.Config{
		OutputFolder:        tmpDir,
		OutputFilename:      "custom.sql",
		EventsTable:         "custom_events",
		CheckpointsTable:    "custom_checkpoints",
		AggregateHeadsTable: "custom_heads",
	}

	if err := migrations.GenerateMySQL(&config); err != nil {
		t.Fatalf("Failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}
	execStatements(t, db, string(migrationSQL))

	st := mysql.NewStore(db, mysql.NewStoreConfig(
		mysql.WithEventsTable("custom_events"),
		mysql.WithCheckpointsTable("custom_checkpoints"),
		mysql.WithAggregateHeadsTable("custom_heads"),
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

	st := mysql.NewStore(db, mysql.NewStoreConfig())
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

	// Timestamps are stored in a TIMESTAMP(6) column and must survive the
	// round trip exactly at microsecond precision.
	if !stream.Events[0].CreatedAt.Equal(persisted[0].CreatedAt) {
		t.Errorf("CreatedAt round trip: stored %v, loaded %v",
			persisted[0].CreatedAt, stream.Events[0].CreatedAt)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := getTestDB(t)

	if _, err := db.Exec(`DROP TABLE IF EXISTS unique_probe`); err != nil {
		t.Fatalf("Failed to drop probe table: %v", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE unique_probe (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			UNIQUE KEY unique_probe_name (name)
		) ENGINE=InnoDB
	`); err != nil {
		t.Fatalf("Failed to create probe table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO unique_probe (name) VALUES ('taken')`); err != nil {
		t.Fatalf("Failed to insert probe row: %v", err)
	}

	_, err := db.Exec(`INSERT INTO unique_probe (name) VALUES ('taken')`)
	if err == nil {
		t.Fatal("duplicate insert should fail")
	}
	if !mysql.IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}

	_, err = db.Exec(`SELECT * FROM does_not_exist`)
	if err == nil {
		t.Fatal("query against missing table should fail")
	}
	if mysql.IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = true for a non-constraint error", err)
	}

	if mysql.IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) = true")
	}
	if mysql.IsUniqueViolation(errors.New("plain error")) {
		t.Error("IsUniqueViolation(plain error) = true")
	}
}

func TestStorageErrorOnMissingTables(t *testing.T) {
	db := getTestDB(t)

	for _, table := range []string{"projection_checkpoints", "aggregate_heads", "events"} {
		if _, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
			t.Fatalf("Failed to drop %s table: %v", table, err)
		}
	}

	st := mysql.NewStore(db, mysql.NewStoreConfig())
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
