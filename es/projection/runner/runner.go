// Package runner provides optional tooling for running multiple projections and scaling them safely.
// This package is designed to be explicit, deterministic, and CLI-friendly without imposing
// framework behavior or automatic scheduling.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tidemark-io/tidemark/es/projection"
	"github.com/tidemark-io/tidemark/es/store"
)

var (
	// ErrNoProjections indicates that no projections were provided to run.
	ErrNoProjections = errors.New("no projections provided")

	// ErrInvalidPartitionConfig indicates invalid partition configuration.
	ErrInvalidPartitionConfig = errors.New("invalid partition configuration")
)

// ProjectionRunner pairs a projection with its processor.
type ProjectionRunner struct {
	Projection projection.Projection
	Processor  projection.ProcessorRunner
}

// Runner orchestrates multiple projections concurrently.
// It works with any processor implementation.
//
// Example:
//
//	st := memory.NewStore(memory.NewStoreConfig())
//	processor1 := projection.NewProcessor(st, st, config1)
//	processor2 := projection.NewProcessor(st, st, config2)
//
//	runner := runner.New()
//	err := runner.Run(ctx, []runner.ProjectionRunner{
//	    {Projection: &MyProjection{}, Processor: processor1},
//	    {Projection: &MyOtherProjection{}, Processor: processor2},
//	})
type Runner struct{}

// New creates a new projection runner.
func New() *Runner {
	return &Runner{}
}

// Run runs multiple projections concurrently until the context is canceled.
// Each projection runs in its own goroutine with its processor.
// Returns when the context is canceled or when any projection returns an error.
//
// If a projection returns an error, all other projections are canceled and the error
// is returned. This ensures fail-fast behavior.
//
// This method is safe to call from CLIs and does not assume single-process ownership.
// Coordination happens via the processor's checkpoint management.
func (r *Runner) Run(ctx context.Context, runners []ProjectionRunner) error {
	if len(runners) == 0 {
		return ErrNoProjections
	}

	// Validate configurations
	for i, runner := range runners {
		if runner.Projection == nil {
			return fmt.Errorf("projection at index %d is nil", i)
		}
		if runner.Processor == nil {
			return fmt.Errorf("processor at index %d is nil", i)
		}
	}

	// Create a context that we can cancel if any projection fails
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(runners))

	// Start each projection in its own goroutine
	for _, runner := range runners {
		wg.Add(1)
		go func(pr ProjectionRunner) {
			defer wg.Done()

			err := pr.Processor.Run(ctx, pr.Projection)

			// Only report errors that aren't from context cancellation
			if err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("projection %q failed: %w", pr.Projection.Name(), err)
			}
		}(runner)
	}

	// Wait for all projections to complete or for an error
	go func() {
		wg.Wait()
		close(errChan)
	}()

	// Return the first error, or nil if context was canceled
	select {
	case err := <-errChan:
		if err != nil {
			cancel() // Cancel all other projections
			return err
		}
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunPartitioned runs one projection across totalPartitions hash partitions
// of the given log. Each partition gets its own processor and checkpoints
// independently under "<name>:<partition>/<total>", so partitions can be
// redistributed across processes without losing progress.
//
// The config's PartitionKey and TotalPartitions are overwritten per
// partition; a nil PartitionStrategy falls back to HashPartitionStrategy.
func RunPartitioned(ctx context.Context, log store.GlobalLog, checkpoints store.CheckpointStore, proj projection.Projection, config projection.ProcessorConfig, totalPartitions int) error {
	if totalPartitions < 1 {
		return fmt.Errorf("%w: total partitions must be at least 1, got %d", ErrInvalidPartitionConfig, totalPartitions)
	}
	if proj == nil {
		return errors.New("projection is nil")
	}

	if config.PartitionStrategy == nil {
		config.PartitionStrategy = projection.HashPartitionStrategy{}
	}

	runners := make([]ProjectionRunner, totalPartitions)
	for partition := 0; partition < totalPartitions; partition++ {
		partitionConfig := config
		partitionConfig.PartitionKey = partition
		partitionConfig.TotalPartitions = totalPartitions

		runners[partition] = ProjectionRunner{
			Projection: partitionName(proj, partition, totalPartitions),
			Processor:  projection.NewProcessor(log, checkpoints, partitionConfig),
		}
	}

	return New().Run(ctx, runners)
}

// partitionName wraps proj so its checkpoint name carries the partition
// assignment. The aggregate type scope is preserved when present.
func partitionName(proj projection.Projection, partitionKey, totalPartitions int) projection.Projection {
	named := &namedProjection{
		Projection: proj,
		name:       fmt.Sprintf("%s:%d/%d", proj.Name(), partitionKey, totalPartitions),
	}
	if scoped, ok := proj.(projection.ScopedProjection); ok {
		return &namedScopedProjection{namedProjection: named, scoped: scoped}
	}
	return named
}

type namedProjection struct {
	projection.Projection
	name string
}

func (p *namedProjection) Name() string {
	return p.name
}

type namedScopedProjection struct {
	*namedProjection
	scoped projection.ScopedProjection
}

func (p *namedScopedProjection) AggregateTypes() []string {
	return p.scoped.AggregateTypes()
}
