package es

// Stream is the ordered sequence of persisted events sharing one aggregate
// identity.
type Stream struct {
	// AggregateType identifies the type of aggregate
	AggregateType string

	// AggregateID identifies the aggregate instance
	AggregateID string

	// Version is the stream's current version: the highest sequence number
	// ever committed, or 0 for an identity that has never been committed
	// to. It reflects storage state even when a fromVersion filter or
	// upgrade suppression hides trailing events, so it is always safe to
	// feed into Exact for the next commit.
	Version int64

	// Events are ordered by ascending sequence number.
	Events []PersistedEvent
}

// IsEmpty reports whether the stream has never been committed to.
func (s Stream) IsEmpty() bool {
	return s.Version == 0
}

// Len returns the number of events in the stream.
func (s Stream) Len() int {
	return len(s.Events)
}
