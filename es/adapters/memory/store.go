// Package memory provides an in-memory event store implementation.
//
// The store keeps every committed event in process memory and implements
// the same contract as the SQL-backed adapters, including optimistic
// concurrency, global ordering, stream deletion, and read-time upgrades.
// It is intended for tests and prototypes; nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidemark-io/tidemark/es"
	"github.com/tidemark-io/tidemark/es/store"
	"github.com/tidemark-io/tidemark/es/upgrade"
)

// record is one committed event in the global log. Deleting a stream marks
// its records instead of compacting the log, so global positions of deleted
// events are never reassigned.
type record struct {
	event   es.PersistedEvent
	deleted bool
}

type streamKey struct {
	aggregateType string
	aggregateID   string
}

// StoreConfig holds the configuration for the in-memory event store.
type StoreConfig struct {
	// Upgrades is applied to every event on the read paths. Nil means
	// events are returned exactly as stored.
	Upgrades *upgrade.Registry

	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger
}

// StoreOption is a function that configures a StoreConfig.
type StoreOption func(*StoreConfig)

// WithUpgrades sets the upgrade registry applied on reads.
func WithUpgrades(reg *upgrade.Registry) StoreOption {
	return func(c *StoreConfig) {
		c.Upgrades = reg
	}
}

// WithLogger sets the logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// NewStoreConfig creates a StoreConfig with the given options applied.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	var config StoreConfig
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is an in-memory implementation of store.Store and
// store.CheckpointStore. The zero value is not usable; create instances
// with NewStore.
type Store struct {
	config StoreConfig

	mu          sync.RWMutex
	streams     map[streamKey][]*record
	log         []*record
	heads       map[streamKey]int64
	checkpoints map[string]es.Position
	nextOffset  int64
}

var (
	_ store.Store           = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
)

// NewStore creates a new in-memory event store.
func NewStore(config StoreConfig) *Store {
	return &Store{
		config:      config,
		streams:     make(map[streamKey][]*record),
		heads:       make(map[streamKey]int64),
		checkpoints: make(map[string]es.Position),
		nextOffset:  1,
	}
}

// Commit appends the batch to the aggregate's stream. See store.StreamStore
// for the full contract.
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

	sourceID := batch.SourceID
	if sourceID == "" {
		sourceID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := streamKey{batch.AggregateType, batch.AggregateID}

	s.mu.Lock()
	defer s.mu.Unlock()

	actual := s.heads[key]
	if err := es.ValidateExpected(batch.Expected, actual, batch.AggregateType, batch.AggregateID); err != nil {
		return nil, err
	}

	persisted := make([]es.PersistedEvent, 0, len(batch.Events))
	for i, event := range batch.Events {
		eventID := uuid.New()
		payload := make([]byte, len(event.Payload))
		copy(payload, event.Payload)

		e := es.PersistedEvent{
			GlobalPosition:   es.PositionAt(s.nextOffset),
			AggregateType:    batch.AggregateType,
			AggregateID:      batch.AggregateID,
			AggregateVersion: actual + int64(i) + 1,
			EventID:          eventID,
			SourceID:         sourceID,
			EventType:        event.EventType,
			EventVersion:     event.EventVersion,
			Payload:          payload,
			Metadata:         es.CommitMetadata(event.Metadata, eventID, sourceID, now),
			CreatedAt:        now,
		}
		s.nextOffset++

		rec := &record{event: e}
		s.streams[key] = append(s.streams[key], rec)
		s.log = append(s.log, rec)
		persisted = append(persisted, e)
	}
	s.heads[key] = actual + int64(len(batch.Events))

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "committed batch",
			"aggregate_type", batch.AggregateType,
			"aggregate_id", batch.AggregateID,
			"events", len(batch.Events),
			"version", s.heads[key])
	}

	return persisted, nil
}

// LoadStream reads the aggregate's events from fromVersion onward and
// applies the upgrade registry.
func (s *Store) LoadStream(ctx context.Context, aggregateType, aggregateID string, fromVersion int64) (es.Stream, error) {
	if err := ctx.Err(); err != nil {
		return es.Stream{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key := streamKey{aggregateType, aggregateID}
	stream := es.Stream{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       s.heads[key],
	}

	var raw []es.PersistedEvent
	for _, rec := range s.streams[key] {
		if rec.event.AggregateVersion >= fromVersion {
			raw = append(raw, rec.event)
		}
	}

	events, err := s.config.Upgrades.ApplyAll(raw)
	if err != nil {
		return es.Stream{}, err
	}
	stream.Events = events
	return stream, nil
}

// DeleteStream removes the aggregate's events from both read paths. The
// global positions they occupied are permanently burned.
func (s *Store) DeleteStream(ctx context.Context, aggregateType, aggregateID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{aggregateType, aggregateID}
	records := s.streams[key]
	for _, rec := range records {
		rec.deleted = true
	}
	delete(s.streams, key)
	delete(s.heads, key)

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "deleted stream",
			"aggregate_type", aggregateType,
			"aggregate_id", aggregateID,
			"events", len(records))
	}

	return nil
}

// LoadAllEvents pages through the global log in commit order, applying the
// upgrade registry. See store.GlobalLog for the paging contract.
func (s *Store) LoadAllEvents(ctx context.Context, from es.Position, maxCount int) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fetch := func(ctx context.Context, after es.Position, limit int) ([]es.PersistedEvent, error) {
		batch := make([]es.PersistedEvent, 0, limit)
		for _, rec := range s.log {
			if rec.deleted || !after.Before(rec.event.GlobalPosition) {
				continue
			}
			batch = append(batch, rec.event)
			if len(batch) == limit {
				break
			}
		}
		return batch, nil
	}

	return store.CollectPage(ctx, from, maxCount, fetch, s.expand)
}

func (s *Store) expand(rec es.PersistedEvent) ([]es.PersistedEvent, error) {
	return s.config.Upgrades.Apply(rec)
}

// GetCheckpoint returns the saved position for the consumer, or es.Start if
// the consumer has never saved one.
func (s *Store) GetCheckpoint(ctx context.Context, consumerName string) (es.Position, error) {
	if err := ctx.Err(); err != nil {
		return es.Position{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[consumerName], nil
}

// SaveCheckpoint records the consumer's position.
func (s *Store) SaveCheckpoint(ctx context.Context, consumerName string, position es.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[consumerName] = position
	return nil
}
