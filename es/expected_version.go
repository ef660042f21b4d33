package es

import "fmt"

// ExpectedVersion declares the stream version a commit was prepared against.
// It is used in the Commit operation for optimistic concurrency control.
//
// The zero value is Exact(0), meaning the stream must not have been
// committed to yet.
type ExpectedVersion struct {
	value int64
}

// expectedVersionAny indicates no version check should be performed
const expectedVersionAny = -1

// Any returns an ExpectedVersion that skips version validation.
// Use this when last-writer-wins semantics are acceptable.
func Any() ExpectedVersion {
	return ExpectedVersion{value: expectedVersionAny}
}

// Exact returns an ExpectedVersion that requires the stream to be at exactly
// the specified version. Exact(0) requires that the stream has never been
// committed to (or has been deleted). The version must be non-negative.
func Exact(version int64) ExpectedVersion {
	if version < 0 {
		panic(fmt.Sprintf("exact version must be non-negative, got %d", version))
	}
	return ExpectedVersion{value: version}
}

// IsAny returns true if this expected version skips validation.
func (ev ExpectedVersion) IsAny() bool {
	return ev.value == expectedVersionAny
}

// IsExact returns true if this expected version requires a specific stream
// version.
func (ev ExpectedVersion) IsExact() bool {
	return ev.value >= 0
}

// Value returns the required stream version for an Exact expected version.
// Returns 0 for Any.
func (ev ExpectedVersion) Value() int64 {
	if ev.value >= 0 {
		return ev.value
	}
	return 0
}

// String returns a string representation of the ExpectedVersion.
func (ev ExpectedVersion) String() string {
	if ev.IsAny() {
		return "Any"
	}
	return fmt.Sprintf("Exact(%d)", ev.value)
}

// ValidateExpected checks an expected version against a stream's actual
// version. It returns a *ConcurrencyError describing the mismatch, or nil
// when the commit may proceed. Stores call it inside their atomic commit
// step.
func ValidateExpected(expected ExpectedVersion, actual int64, aggregateType, aggregateID string) error {
	if expected.IsAny() {
		return nil
	}
	if expected.Value() != actual {
		return &ConcurrencyError{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			Expected:      expected,
			Actual:        actual,
		}
	}
	return nil
}
