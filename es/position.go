package es

import (
	"fmt"
	"strconv"
)

// Position locates an event in the global log. Positions are strictly
// increasing in commit order but not necessarily contiguous: deleting a
// stream leaves permanent gaps.
//
// The zero value is Start, which precedes every stored event. Application
// code should treat positions as opaque tokens: compare them, persist their
// String form, and otherwise hand them back to the store unchanged.
type Position struct {
	offset int64
}

// Start is the position before the first event in the global log.
// Scanning from Start visits the entire log.
var Start = Position{}

// PositionAt returns the position for a raw log offset.
// It exists for store implementations mapping their native ordering
// (auto-increment ids, sequences) onto positions and for restoring
// persisted offsets; application code has no reason to call it.
func PositionAt(offset int64) Position {
	if offset < 0 {
		panic(fmt.Sprintf("position offset must be non-negative, got %d", offset))
	}
	return Position{offset: offset}
}

// Offset returns the raw log offset backing this position.
// Like PositionAt, it is a bridge for store implementations only.
func (p Position) Offset() int64 {
	return p.offset
}

// IsStart reports whether p precedes every stored event.
func (p Position) IsStart() bool {
	return p.offset == 0
}

// Equal reports whether p and other reference the same point in the log.
func (p Position) Equal(other Position) bool {
	return p.offset == other.offset
}

// Before reports whether p precedes other in commit order.
func (p Position) Before(other Position) bool {
	return p.offset < other.offset
}

// Compare returns -1 when p precedes other, +1 when it follows, 0 when equal.
func (p Position) Compare(other Position) int {
	switch {
	case p.offset < other.offset:
		return -1
	case p.offset > other.offset:
		return 1
	default:
		return 0
	}
}

// String returns a stable decimal serialization of the position, suitable
// for checkpoints and resume tokens. ParsePosition reverses it.
func (p Position) String() string {
	return strconv.FormatInt(p.offset, 10)
}

// ParsePosition restores a position from its String serialization.
func ParsePosition(s string) (Position, error) {
	offset, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Position{}, fmt.Errorf("parse position %q: %w", s, err)
	}
	if offset < 0 {
		return Position{}, fmt.Errorf("parse position %q: offset must be non-negative", s)
	}
	return Position{offset: offset}, nil
}
