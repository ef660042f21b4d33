package es

import "fmt"

// ConcurrencyError reports an optimistic concurrency conflict: the stream's
// version at commit time did not match the commit's expected version. The
// whole batch was rejected and nothing was persisted.
//
// The conflict is recoverable. Callers reload the stream, re-derive their
// events against the observed state, and commit again; the store itself
// never retries.
type ConcurrencyError struct {
	// AggregateType and AggregateID identify the contested stream.
	AggregateType string
	AggregateID   string

	// Expected is the version the commit was prepared against.
	Expected ExpectedVersion

	// Actual is the stream's version observed during the commit.
	Actual int64
}

// Error implements error.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s/%s: expected %s, actual version %d",
		e.AggregateType, e.AggregateID, e.Expected, e.Actual)
}
