// Package mysql provides a MySQL/MariaDB adapter for event sourcing.
//
// The adapter reads event timestamps into time.Time, which requires the
// parseTime=true DSN parameter:
//
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/app?parseTime=true")
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/tidemark-io/tidemark/es"
	"github.com/tidemark-io/tidemark/es/store"
	"github.com/tidemark-io/tidemark/es/upgrade"
)

// StoreConfig contains configuration for the MySQL event store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Upgrades is applied to every event on the read paths. Nil means
	// events are returned exactly as stored.
	Upgrades *upgrade.Registry

	// EventsTable is the name of the events table
	EventsTable string

	// CheckpointsTable is the name of the projection checkpoints table
	CheckpointsTable string

	// AggregateHeadsTable is the name of the aggregate version tracking table
	AggregateHeadsTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EventsTable:         "events",
		CheckpointsTable:    "projection_checkpoints",
		AggregateHeadsTable: "aggregate_heads",
		Logger:              nil, // No logging by default
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithUpgrades sets the upgrade registry applied on reads.
func WithUpgrades(reg *upgrade.Registry) StoreOption {
	return func(c *StoreConfig) {
		c.Upgrades = reg
	}
}

// WithEventsTable sets a custom events table name.
func WithEventsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.EventsTable = tableName
	}
}

// WithCheckpointsTable sets a custom projection checkpoints table name.
func WithCheckpointsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.CheckpointsTable = tableName
	}
}

// WithAggregateHeadsTable sets a custom aggregate heads table name.
func WithAggregateHeadsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.AggregateHeadsTable = tableName
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a MySQL-backed event store implementation. It owns its
// transaction boundaries: every commit runs in a single transaction against
// the database handle it was created with.
type Store struct {
	db     *sql.DB
	config StoreConfig
}

var (
	_ store.Store           = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
)

// NewStore creates a new MySQL event store on the given database handle.
func NewStore(db *sql.DB, config StoreConfig) *Store {
	return &Store{
		db:     db,
		config: config,
	}
}

// Commit implements store.StreamStore.
// It assigns aggregate sequence numbers using the aggregate_heads table for
// O(1) version lookup. The unique key on (aggregate_type, aggregate_id,
// aggregate_version) enforces optimistic concurrency as a safety net - if
// another transaction commits between our version check and insert, the
// insert fails with a duplicate entry error.
//
//nolint:gocyclo // Cyclomatic complexity is acceptable here - comes from necessary logging and validation checks
func (s *Store) Commit(ctx context.Context, batch es.CommitBatch) ([]es.PersistedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if len(batch.Events) == 0 {
		return nil, nil
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "commit starting",
			"aggregate_type", batch.AggregateType,
			"aggregate_id", batch.AggregateID,
			"event_count", len(batch.Events),
			"expected_version", batch.Expected.String())
	}

	sourceID := batch.SourceID
	if sourceID == "" {
		sourceID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &store.StorageError{Op: "commit", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	currentVersion, err := s.queryHead(ctx, tx, batch.AggregateType, batch.AggregateID)
	if err != nil {
		return nil, &store.StorageError{Op: "commit", Err: err}
	}

	if err := es.ValidateExpected(batch.Expected, currentVersion, batch.AggregateType, batch.AggregateID); err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "expected version validation failed",
				"aggregate_type", batch.AggregateType,
				"aggregate_id", batch.AggregateID,
				"current_version", currentVersion,
				"expected_version", batch.Expected.String())
		}
		return nil, err
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (
			aggregate_type, aggregate_id, aggregate_version,
			event_id, source_id, event_type, event_version,
			payload, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.EventsTable)

	persisted := make([]es.PersistedEvent, len(batch.Events))
	for i := range batch.Events {
		event := &batch.Events[i]
		sequence := currentVersion + int64(i) + 1
		eventID := uuid.New()
		metadata := es.CommitMetadata(event.Metadata, eventID, sourceID, now)

		metadataJSON, merr := json.Marshal(metadata)
		if merr != nil {
			return nil, fmt.Errorf("encode metadata for event %d: %w", i, merr)
		}

		result, execErr := tx.ExecContext(ctx, insertQuery,
			batch.AggregateType,
			batch.AggregateID,
			sequence,
			eventID.String(),
			sourceID,
			event.EventType,
			event.EventVersion,
			event.Payload,
			string(metadataJSON),
			now,
		)
		if execErr != nil {
			if IsUniqueViolation(execErr) {
				return nil, s.commitConflict(ctx, batch, tx, sequence)
			}
			return nil, &store.StorageError{Op: "commit", Err: fmt.Errorf("insert event %d: %w", i, execErr)}
		}

		globalPos, lerr := result.LastInsertId()
		if lerr != nil {
			return nil, &store.StorageError{Op: "commit", Err: fmt.Errorf("last insert id: %w", lerr)}
		}

		persisted[i] = es.PersistedEvent{
			GlobalPosition:   es.PositionAt(globalPos),
			AggregateType:    batch.AggregateType,
			AggregateID:      batch.AggregateID,
			AggregateVersion: sequence,
			EventID:          eventID,
			SourceID:         sourceID,
			EventType:        event.EventType,
			EventVersion:     event.EventVersion,
			Payload:          event.Payload,
			Metadata:         metadata,
			CreatedAt:        now,
		}
	}

	latestVersion := currentVersion + int64(len(batch.Events))
	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (aggregate_type, aggregate_id, aggregate_version, updated_at)
		VALUES (?, ?, ?, NOW(6))
		ON DUPLICATE KEY UPDATE aggregate_version = ?, updated_at = NOW(6)
	`, s.config.AggregateHeadsTable)

	if _, err := tx.ExecContext(ctx, upsertQuery, batch.AggregateType, batch.AggregateID, latestVersion, latestVersion); err != nil {
		return nil, &store.StorageError{Op: "commit", Err: fmt.Errorf("update aggregate head: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return nil, &store.StorageError{Op: "commit", Err: fmt.Errorf("commit tx: %w", err)}
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "events committed",
			"aggregate_type", batch.AggregateType,
			"aggregate_id", batch.AggregateID,
			"event_count", len(batch.Events),
			"version_range", fmt.Sprintf("%d-%d", currentVersion+1, latestVersion),
			"source_id", sourceID)
	}

	return persisted, nil
}

// commitConflict turns a duplicate entry error into a concurrency error
// carrying the stream's committed version. The transaction is rolled back
// first so the fresh head read sees the winning writer's commit.
func (s *Store) commitConflict(ctx context.Context, batch es.CommitBatch, tx *sql.Tx, collidingVersion int64) error {
	_ = tx.Rollback()

	actual, err := s.queryHead(ctx, s.db, batch.AggregateType, batch.AggregateID)
	if err != nil {
		// Best effort: report the sequence that collided.
		actual = collidingVersion
	}

	if s.config.Logger != nil {
		s.config.Logger.Error(ctx, "optimistic concurrency conflict",
			"aggregate_type", batch.AggregateType,
			"aggregate_id", batch.AggregateID,
			"expected_version", batch.Expected.String(),
			"actual_version", actual)
	}

	return &es.ConcurrencyError{
		AggregateType: batch.AggregateType,
		AggregateID:   batch.AggregateID,
		Expected:      batch.Expected,
		Actual:        actual,
	}
}

// queryHead returns the stream's committed version from the aggregate heads
// table, or 0 if the stream has never been committed.
func (s *Store) queryHead(ctx context.Context, q es.DBTX, aggregateType, aggregateID string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT aggregate_version
		FROM %s
		WHERE aggregate_type = ? AND aggregate_id = ?
	`, s.config.AggregateHeadsTable)

	var version sql.NullInt64
	err := q.QueryRowContext(ctx, query, aggregateType, aggregateID).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query aggregate head: %w", err)
	}
	return version.Int64, nil
}

// IsUniqueViolation checks if an error is a MySQL unique constraint
// violation. This is exported so callers with raw database access can
// classify their own errors the same way the store does.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a MySQL error with duplicate entry code (1062)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "duplicate key") ||
		strings.Contains(errMsg, "unique constraint")
}

// LoadStream implements store.StreamStore.
// The version is read from the aggregate heads table first and the events
// query is bounded by it, so a concurrent commit cannot produce a stream
// whose events run past its version.
func (s *Store) LoadStream(ctx context.Context, aggregateType, aggregateID string, fromVersion int64) (es.Stream, error) {
	if err := ctx.Err(); err != nil {
		return es.Stream{}, err
	}

	stream := es.Stream{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
	}

	head, err := s.queryHead(ctx, s.db, aggregateType, aggregateID)
	if err != nil {
		return es.Stream{}, &store.StorageError{Op: "load stream", Err: err}
	}
	if head == 0 {
		return stream, nil
	}
	stream.Version = head

	query := fmt.Sprintf(`
		SELECT
			global_position, aggregate_type, aggregate_id, aggregate_version,
			event_id, source_id, event_type, event_version,
			payload, metadata, created_at
		FROM %s
		WHERE aggregate_type = ? AND aggregate_id = ?
			AND aggregate_version >= ? AND aggregate_version <= ?
		ORDER BY aggregate_version ASC
	`, s.config.EventsTable)

	rows, err := s.db.QueryContext(ctx, query, aggregateType, aggregateID, fromVersion, head)
	if err != nil {
		return es.Stream{}, &store.StorageError{Op: "load stream", Err: fmt.Errorf("query stream: %w", err)}
	}
	defer rows.Close()

	var raw []es.PersistedEvent
	for rows.Next() {
		e, serr := scanEvent(rows)
		if serr != nil {
			return es.Stream{}, &store.StorageError{Op: "load stream", Err: serr}
		}
		raw = append(raw, e)
	}
	if err := rows.Err(); err != nil {
		return es.Stream{}, &store.StorageError{Op: "load stream", Err: fmt.Errorf("rows: %w", err)}
	}

	events, err := s.config.Upgrades.ApplyAll(raw)
	if err != nil {
		return es.Stream{}, err
	}
	stream.Events = events

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "stream loaded",
			"aggregate_type", aggregateType,
			"aggregate_id", aggregateID,
			"version", stream.Version,
			"event_count", len(stream.Events))
	}

	return stream, nil
}

// DeleteStream implements store.StreamStore.
// Events and the head row are removed in one transaction; the global
// positions the events occupied are permanently burned because InnoDB's
// auto-increment counter never reissues values.
func (s *Store) DeleteStream(ctx context.Context, aggregateType, aggregateID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &store.StorageError{Op: "delete stream", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	deleteEvents := fmt.Sprintf(`DELETE FROM %s WHERE aggregate_type = ? AND aggregate_id = ?`, s.config.EventsTable)
	result, err := tx.ExecContext(ctx, deleteEvents, aggregateType, aggregateID)
	if err != nil {
		return &store.StorageError{Op: "delete stream", Err: fmt.Errorf("delete events: %w", err)}
	}

	deleteHead := fmt.Sprintf(`DELETE FROM %s WHERE aggregate_type = ? AND aggregate_id = ?`, s.config.AggregateHeadsTable)
	if _, err := tx.ExecContext(ctx, deleteHead, aggregateType, aggregateID); err != nil {
		return &store.StorageError{Op: "delete stream", Err: fmt.Errorf("delete aggregate head: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &store.StorageError{Op: "delete stream", Err: fmt.Errorf("commit tx: %w", err)}
	}

	if s.config.Logger != nil {
		removed, _ := result.RowsAffected()
		s.config.Logger.Info(ctx, "stream deleted",
			"aggregate_type", aggregateType,
			"aggregate_id", aggregateID,
			"events_removed", removed)
	}

	return nil
}

// LoadAllEvents implements store.GlobalLog.
func (s *Store) LoadAllEvents(ctx context.Context, from es.Position, maxCount int) (store.Page, error) {
	fetch := func(ctx context.Context, after es.Position, limit int) ([]es.PersistedEvent, error) {
		return s.fetchEvents(ctx, after, limit)
	}
	return store.CollectPage(ctx, from, maxCount, fetch, s.expand)
}

func (s *Store) expand(rec es.PersistedEvent) ([]es.PersistedEvent, error) {
	return s.config.Upgrades.Apply(rec)
}

// fetchEvents reads up to limit stored events past the given position in
// global order.
func (s *Store) fetchEvents(ctx context.Context, after es.Position, limit int) ([]es.PersistedEvent, error) {
	query := fmt.Sprintf(`
		SELECT
			global_position, aggregate_type, aggregate_id, aggregate_version,
			event_id, source_id, event_type, event_version,
			payload, metadata, created_at
		FROM %s
		WHERE global_position > ?
		ORDER BY global_position ASC
		LIMIT ?
	`, s.config.EventsTable)

	rows, err := s.db.QueryContext(ctx, query, after.Offset(), limit)
	if err != nil {
		return nil, &store.StorageError{Op: "load all events", Err: fmt.Errorf("query events: %w", err)}
	}
	defer rows.Close()

	var events []es.PersistedEvent
	for rows.Next() {
		e, serr := scanEvent(rows)
		if serr != nil {
			return nil, &store.StorageError{Op: "load all events", Err: serr}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "load all events", Err: fmt.Errorf("rows: %w", err)}
	}

	return events, nil
}

// scanEvent reads one stored event from the current row.
func scanEvent(rows *sql.Rows) (es.PersistedEvent, error) {
	var e es.PersistedEvent
	var offset int64
	var eventID string
	var metadataJSON []byte

	err := rows.Scan(
		&offset,
		&e.AggregateType,
		&e.AggregateID,
		&e.AggregateVersion,
		&eventID,
		&e.SourceID,
		&e.EventType,
		&e.EventVersion,
		&e.Payload,
		&metadataJSON,
		&e.CreatedAt,
	)
	if err != nil {
		return es.PersistedEvent{}, fmt.Errorf("scan event: %w", err)
	}

	e.GlobalPosition = es.PositionAt(offset)
	e.CreatedAt = e.CreatedAt.UTC()

	e.EventID, err = uuid.Parse(eventID)
	if err != nil {
		return es.PersistedEvent{}, fmt.Errorf("parse event id: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
		return es.PersistedEvent{}, fmt.Errorf("decode metadata: %w", err)
	}

	return e, nil
}

// GetCheckpoint implements store.CheckpointStore.
func (s *Store) GetCheckpoint(ctx context.Context, consumerName string) (es.Position, error) {
	if err := ctx.Err(); err != nil {
		return es.Position{}, err
	}

	query := fmt.Sprintf(`
		SELECT last_global_position
		FROM %s
		WHERE projection_name = ?
	`, s.config.CheckpointsTable)

	var offset int64
	err := s.db.QueryRowContext(ctx, query, consumerName).Scan(&offset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return es.Start, nil
		}
		return es.Position{}, &store.StorageError{Op: "get checkpoint", Err: err}
	}
	return es.PositionAt(offset), nil
}

// SaveCheckpoint implements store.CheckpointStore.
func (s *Store) SaveCheckpoint(ctx context.Context, consumerName string, position es.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (projection_name, last_global_position, updated_at)
		VALUES (?, ?, NOW(6))
		ON DUPLICATE KEY UPDATE
			last_global_position = VALUES(last_global_position),
			updated_at = VALUES(updated_at)
	`, s.config.CheckpointsTable)

	_, err := s.db.ExecContext(ctx, query, consumerName, position.Offset())
	if err != nil {
		return &store.StorageError{Op: "save checkpoint", Err: err}
	}
	return nil
}
