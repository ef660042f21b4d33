// Package projection provides projection processing capabilities.
//
// A Processor polls the global event log from a stored checkpoint, delivers
// events to a Projection, and saves the advanced checkpoint after each
// batch. Delivery is at-least-once: a crash between delivery and checkpoint
// save redelivers the batch, so handlers own idempotency.
package projection

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/tidemark-io/tidemark/es"
	"github.com/tidemark-io/tidemark/es/store"
)

var (
	// ErrProjectionStopped indicates the projection was stopped due to an error.
	ErrProjectionStopped = errors.New("projection stopped")
)

// Projection defines the interface for event projection handlers.
type Projection interface {
	// Name returns the unique name of this projection.
	// This name is used for checkpoint tracking.
	Name() string

	// Handle processes a single event.
	// Return an error to stop projection processing.
	Handle(ctx context.Context, event es.PersistedEvent) error
}

// ScopedProjection is a Projection that only wants events for specific
// aggregate types. Projections that do not implement it receive every event.
type ScopedProjection interface {
	Projection

	// AggregateTypes returns the aggregate types this projection handles.
	// An empty list means all events are delivered.
	AggregateTypes() []string
}

// PartitionStrategy defines how events are partitioned across projection instances.
type PartitionStrategy interface {
	// ShouldProcess returns true if this projection instance should process the given event.
	// aggregateID is the aggregate ID of the event.
	// partitionKey identifies this projection instance (e.g., "0" for first of 4 workers).
	// totalPartitions is the total number of projection instances.
	ShouldProcess(aggregateID string, partitionKey int, totalPartitions int) bool
}

// HashPartitionStrategy implements deterministic hash-based partitioning.
// Events are distributed across partitions based on a hash of the aggregate ID.
// This ensures:
// - All events for the same aggregate go to the same partition
// - Even distribution across partitions
// - Deterministic assignment (same aggregate always goes to same partition)
//
// This strategy enables horizontal scaling of projection processing while
// maintaining ordering guarantees within each aggregate.
type HashPartitionStrategy struct{}

// ShouldProcess implements PartitionStrategy using FNV-1a hashing.
func (HashPartitionStrategy) ShouldProcess(aggregateID string, partitionKey int, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}

	h := fnv.New32a()
	h.Write([]byte(aggregateID))
	partition := int(h.Sum32()) % totalPartitions
	return partition == partitionKey
}

// ProcessorConfig configures a projection processor.
type ProcessorConfig struct {
	// BatchSize is the number of events to read per batch
	BatchSize int

	// PollInterval is how long the processor sleeps when it is caught up
	// with the log. Zero means busy polling.
	PollInterval time.Duration

	// PartitionKey identifies this processor instance (0-indexed)
	PartitionKey int

	// TotalPartitions is the total number of processor instances
	TotalPartitions int

	// PartitionStrategy determines which events this processor handles
	PartitionStrategy PartitionStrategy

	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger
}

// DefaultProcessorConfig returns the default configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         100,
		PollInterval:      100 * time.Millisecond,
		PartitionKey:      0,
		TotalPartitions:   1,
		PartitionStrategy: HashPartitionStrategy{},
		Logger:            nil, // No logging by default
	}
}

// ProcessorRunner runs a projection until its context is canceled.
// It is implemented by *Processor and mocked in tests.
type ProcessorRunner interface {
	Run(ctx context.Context, proj Projection) error
}

// Processor processes events for projections. It works against any global
// log and checkpoint store pairing, so the same processor serves every
// storage adapter.
type Processor struct {
	log         store.GlobalLog
	checkpoints store.CheckpointStore
	config      ProcessorConfig
}

var _ ProcessorRunner = (*Processor)(nil)

// NewProcessor creates a new projection processor reading from log and
// tracking progress in checkpoints.
func NewProcessor(log store.GlobalLog, checkpoints store.CheckpointStore, config ProcessorConfig) *Processor {
	return &Processor{
		log:         log,
		checkpoints: checkpoints,
		config:      config,
	}
}

// Run processes events for the given projection until the context is canceled.
// It reads events in batches, applies partition and aggregate type filters,
// and saves the checkpoint after each batch. When the processor is caught up
// it sleeps for the configured poll interval before reading again.
// Returns an error wrapping ErrProjectionStopped if the projection handler
// or the storage layer fails.
func (p *Processor) Run(ctx context.Context, proj Projection) error {
	if p.config.Logger != nil {
		p.config.Logger.Info(ctx, "projection processor starting",
			"projection", proj.Name(),
			"partition_key", p.config.PartitionKey,
			"total_partitions", p.config.TotalPartitions,
			"batch_size", p.config.BatchSize)
	}

	// Build aggregate type filter once for the projection (not per batch)
	aggregateTypeFilter := buildAggregateTypeFilter(proj)

	for {
		select {
		case <-ctx.Done():
			if p.config.Logger != nil {
				p.config.Logger.Info(ctx, "projection processor stopped",
					"projection", proj.Name(),
					"reason", ctx.Err())
			}
			return ctx.Err()
		default:
		}

		progressed, err := p.processBatch(ctx, proj, aggregateTypeFilter)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection processor error",
					"projection", proj.Name(),
					"error", err)
			}
			return fmt.Errorf("%w: %v", ErrProjectionStopped, err)
		}
		if progressed {
			continue
		}

		// Caught up with the log. Wait before polling again.
		if p.config.PollInterval > 0 {
			timer := time.NewTimer(p.config.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// buildAggregateTypeFilter builds a filter map for scoped projections.
// Returns nil if the projection is not scoped or has an empty aggregate types list.
func buildAggregateTypeFilter(proj Projection) map[string]bool {
	scopedProj, ok := proj.(ScopedProjection)
	if !ok {
		return nil
	}

	types := scopedProj.AggregateTypes()
	if len(types) == 0 {
		return nil
	}

	filter := make(map[string]bool, len(types))
	for _, aggType := range types {
		filter[aggType] = true
	}
	return filter
}

// shouldProcessEvent checks if an event should be processed based on partition and aggregate type filters.
//
//nolint:gocritic // hugeParam: Intentionally pass by value to match event processing pattern
func (p *Processor) shouldProcessEvent(event es.PersistedEvent, aggregateTypeFilter map[string]bool) bool {
	// Apply partition filter. A nil strategy processes everything.
	if p.config.PartitionStrategy != nil && !p.config.PartitionStrategy.ShouldProcess(
		event.AggregateID,
		p.config.PartitionKey,
		p.config.TotalPartitions,
	) {
		return false
	}

	// Apply aggregate type filter if projection is scoped
	if aggregateTypeFilter != nil && !aggregateTypeFilter[event.AggregateType] {
		return false
	}

	return true
}

// processBatch reads one page from the global log and delivers it. It
// reports whether the checkpoint advanced; false means caught up.
func (p *Processor) processBatch(ctx context.Context, proj Projection, aggregateTypeFilter map[string]bool) (bool, error) {
	checkpoint, err := p.checkpoints.GetCheckpoint(ctx, proj.Name())
	if err != nil {
		return false, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "processing batch",
			"projection", proj.Name(),
			"checkpoint", checkpoint.String(),
			"batch_size", p.config.BatchSize)
	}

	page, err := p.log.LoadAllEvents(ctx, checkpoint, p.config.BatchSize)
	if err != nil {
		return false, fmt.Errorf("failed to read events: %w", err)
	}

	if page.Next.Equal(checkpoint) {
		return false, nil
	}

	// Events are passed by value to projection handlers to enforce
	// immutability. Large data (Payload, Metadata) is not deep-copied since
	// slices share references to their backing arrays.
	var processedCount int
	var skippedCount int
	for i := range page.Events {
		event := page.Events[i]

		if !p.shouldProcessEvent(event, aggregateTypeFilter) {
			skippedCount++
			continue
		}

		// Handle event - projection manages its own persistence
		handlerErr := proj.Handle(ctx, event)
		if handlerErr != nil {
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection handler error",
					"projection", proj.Name(),
					"position", event.GlobalPosition.String(),
					"aggregate_type", event.AggregateType,
					"aggregate_id", event.AggregateID,
					"event_type", event.EventType,
					"error", handlerErr)
			}
			return false, fmt.Errorf("projection handler error at position %s: %w", event.GlobalPosition, handlerErr)
		}

		processedCount++
	}

	// The checkpoint is saved after the whole batch was handled, so a crash
	// in between redelivers the batch on restart.
	if err := p.checkpoints.SaveCheckpoint(ctx, proj.Name(), page.Next); err != nil {
		return false, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "batch processed",
			"projection", proj.Name(),
			"processed", processedCount,
			"skipped", skippedCount,
			"checkpoint", page.Next.String())
	}

	return true, nil
}
