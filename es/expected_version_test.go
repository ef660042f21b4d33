package es

import (
	"errors"
	"fmt"
	"testing"
)

func TestExpectedVersion_Any(t *testing.T) {
	ev := Any()

	if !ev.IsAny() {
		t.Error("Expected IsAny() to be true")
	}
	if ev.IsExact() {
		t.Error("Expected IsExact() to be false")
	}
	if ev.Value() != 0 {
		t.Errorf("Expected Value() to be 0, got %d", ev.Value())
	}
	if ev.String() != "Any" {
		t.Errorf("Expected String() to be 'Any', got '%s'", ev.String())
	}
}

func TestExpectedVersion_Exact(t *testing.T) {
	tests := []struct {
		name    string
		version int64
	}{
		{"version 0 (no commits yet)", 0},
		{"version 1", 1},
		{"version 5", 5},
		{"version 100", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Exact(tt.version)

			if ev.IsAny() {
				t.Error("Expected IsAny() to be false")
			}
			if !ev.IsExact() {
				t.Error("Expected IsExact() to be true")
			}
			if ev.Value() != tt.version {
				t.Errorf("Expected Value() to be %d, got %d", tt.version, ev.Value())
			}
			expectedStr := fmt.Sprintf("Exact(%d)", tt.version)
			if ev.String() != expectedStr {
				t.Errorf("Expected String() to be '%s', got '%s'", expectedStr, ev.String())
			}
		})
	}
}

func TestExpectedVersion_ZeroValueIsExactZero(t *testing.T) {
	var ev ExpectedVersion

	if !ev.IsExact() {
		t.Error("zero value should be an exact expectation")
	}
	if ev.Value() != 0 {
		t.Errorf("zero value Value() = %d, want 0", ev.Value())
	}
}

func TestExpectedVersion_Exact_Panic(t *testing.T) {
	tests := []struct {
		name    string
		version int64
	}{
		{"negative", -1},
		{"large negative", -100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Expected Exact(%d) to panic", tt.version)
				}
			}()
			Exact(tt.version)
		})
	}
}

func TestValidateExpected(t *testing.T) {
	tests := []struct {
		name     string
		expected ExpectedVersion
		actual   int64
		wantErr  bool
	}{
		{"any passes on empty stream", Any(), 0, false},
		{"any passes on advanced stream", Any(), 17, false},
		{"exact zero passes on empty stream", Exact(0), 0, false},
		{"exact zero fails on existing stream", Exact(0), 3, true},
		{"exact match passes", Exact(5), 5, false},
		{"exact behind actual fails", Exact(4), 5, true},
		{"exact ahead of actual fails", Exact(6), 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExpected(tt.expected, tt.actual, "Order", "order-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateExpected() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}

			var conflict *ConcurrencyError
			if !errors.As(err, &conflict) {
				t.Fatalf("error is %T, want *ConcurrencyError", err)
			}
			if conflict.AggregateType != "Order" || conflict.AggregateID != "order-1" {
				t.Errorf("conflict identity = %s/%s, want Order/order-1",
					conflict.AggregateType, conflict.AggregateID)
			}
			if conflict.Expected != tt.expected {
				t.Errorf("conflict.Expected = %v, want %v", conflict.Expected, tt.expected)
			}
			if conflict.Actual != tt.actual {
				t.Errorf("conflict.Actual = %d, want %d", conflict.Actual, tt.actual)
			}
		})
	}
}

func TestConcurrencyError_Message(t *testing.T) {
	err := &ConcurrencyError{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      Exact(2),
		Actual:        4,
	}

	want := "concurrency conflict on Order/order-1: expected Exact(2), actual version 4"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConcurrencyError_SurvivesWrapping(t *testing.T) {
	inner := &ConcurrencyError{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      Exact(1),
		Actual:        2,
	}
	wrapped := fmt.Errorf("commit failed: %w", inner)

	var conflict *ConcurrencyError
	if !errors.As(wrapped, &conflict) {
		t.Fatal("errors.As failed to find *ConcurrencyError through wrapping")
	}
	if conflict.Actual != 2 {
		t.Errorf("conflict.Actual = %d, want 2", conflict.Actual)
	}
}
