package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tidemark-io/tidemark/es"
	"github.com/tidemark-io/tidemark/es/store"
	"github.com/tidemark-io/tidemark/es/upgrade"
)

func testPagedScanVisitsAllInOrder(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	// Interleave commits across identities so global order differs from
	// any per-stream grouping.
	var wantIDs []string
	for round := 0; round < 4; round++ {
		for _, id := range []string{"order-1", "order-2", "order-3"} {
			persisted := commit(t, st, "Order", id, es.Any(),
				fmt.Sprintf("Round%d", round))
			wantIDs = append(wantIDs, persisted[0].EventID.String())
		}
	}

	for _, pageSize := range []int{1, 2, 3, 5, 100} {
		all := scanAll(t, st, pageSize)
		if len(all) != len(wantIDs) {
			t.Fatalf("pageSize %d: scanned %d events, want %d", pageSize, len(all), len(wantIDs))
		}
		for i, e := range all {
			if e.EventID.String() != wantIDs[i] {
				t.Fatalf("pageSize %d: event %d out of commit order", pageSize, i)
			}
		}
	}
}

func testGapTolerantPaging(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		commit(t, st, "Order", fmt.Sprintf("order-%d", i), es.Exact(0), "OrderPlaced")
	}
	for i := 2; i <= 6; i++ {
		if err := st.DeleteStream(ctx, "Order", fmt.Sprintf("order-%d", i)); err != nil {
			t.Fatalf("delete order-%d: %v", i, err)
		}
	}

	// A page of five must look past the deleted span and fill up.
	page, err := st.LoadAllEvents(ctx, es.Start, 5)
	if err != nil {
		t.Fatalf("load all events: %v", err)
	}
	wantIDs := []string{"order-1", "order-7", "order-8", "order-9", "order-10"}
	if len(page.Events) != len(wantIDs) {
		t.Fatalf("got %d events, want %d", len(page.Events), len(wantIDs))
	}
	for i, e := range page.Events {
		if e.AggregateID != wantIDs[i] {
			t.Errorf("event %d from %s, want %s", i, e.AggregateID, wantIDs[i])
		}
	}

	// The log is exhausted: the next page makes no progress.
	rest, err := st.LoadAllEvents(ctx, page.Next, 5)
	if err != nil {
		t.Fatalf("load past end: %v", err)
	}
	if len(rest.Events) != 0 || !rest.Next.Equal(page.Next) {
		t.Errorf("expected caught-up page, got %d events with Next %v", len(rest.Events), rest.Next)
	}
}

func testScanCaughtUpMakesNoProgress(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()

	// Empty store: the very first poll is already caught up.
	page, err := st.LoadAllEvents(ctx, es.Start, 10)
	if err != nil {
		t.Fatalf("load on empty store: %v", err)
	}
	if len(page.Events) != 0 || !page.Next.Equal(es.Start) {
		t.Errorf("empty store page: %d events, Next %v", len(page.Events), page.Next)
	}

	commit(t, st, "Order", "order-1", es.Exact(0), "OrderPlaced", "OrderShipped")

	page, err = st.LoadAllEvents(ctx, es.Start, 10)
	if err != nil {
		t.Fatalf("load all events: %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(page.Events))
	}

	again, err := st.LoadAllEvents(ctx, page.Next, 10)
	if err != nil {
		t.Fatalf("load from end: %v", err)
	}
	if len(again.Events) != 0 {
		t.Errorf("caught-up page returned %d events", len(again.Events))
	}
	if !again.Next.Equal(page.Next) {
		t.Errorf("caught-up Next = %v, want %v", again.Next, page.Next)
	}
}

func testScanRejectsInvalidLimit(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	for _, maxCount := range []int{0, -1} {
		_, err := st.LoadAllEvents(context.Background(), es.Start, maxCount)
		if !errors.Is(err, store.ErrInvalidLimit) {
			t.Errorf("maxCount %d: error = %v, want ErrInvalidLimit", maxCount, err)
		}
	}
}

func testUpgradeRewriteOnBothReadPaths(t *testing.T, newStore Factory) {
	reg := upgrade.NewRegistry()
	reg.Register("AddressChanged", 1, func(payload []byte) ([]upgrade.Upgraded, error) {
		return []upgrade.Upgraded{{
			EventType:    "AddressChanged",
			EventVersion: 2,
			Payload:      []byte(`{"street":"Main St","country":"US"}`),
		}}, nil
	})
	st := newStore(t, reg)

	stored := commit(t, st, "Customer", "cust-1", es.Exact(0), "AddressChanged")

	check := func(t *testing.T, got es.PersistedEvent) {
		t.Helper()
		if got.EventType != "AddressChanged" || got.EventVersion != 2 {
			t.Errorf("event = %s v%d, want AddressChanged v2", got.EventType, got.EventVersion)
		}
		if string(got.Payload) != `{"street":"Main St","country":"US"}` {
			t.Errorf("payload = %s", got.Payload)
		}
		// Identity comes from the stored record, not the upgrade.
		if got.EventID != stored[0].EventID {
			t.Error("upgraded event lost the stored event id")
		}
		if got.AggregateVersion != stored[0].AggregateVersion {
			t.Error("upgraded event lost the stored sequence")
		}
		if !got.GlobalPosition.Equal(stored[0].GlobalPosition) {
			t.Error("upgraded event lost the stored position")
		}
	}

	stream, err := st.LoadStream(context.Background(), "Customer", "cust-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if len(stream.Events) != 1 {
		t.Fatalf("stream has %d events, want 1", len(stream.Events))
	}
	check(t, stream.Events[0])

	all := scanAll(t, st, 10)
	if len(all) != 1 {
		t.Fatalf("global scan has %d events, want 1", len(all))
	}
	check(t, all[0])
}

func testUpgradeFanOut(t *testing.T, newStore Factory) {
	reg := upgrade.NewRegistry()
	reg.Register("OrderImported", 1, func(payload []byte) ([]upgrade.Upgraded, error) {
		return []upgrade.Upgraded{
			{EventType: "OrderPlaced", EventVersion: 1, Payload: []byte(`{"n":1}`)},
			{EventType: "ItemAdded", EventVersion: 1, Payload: []byte(`{"n":2}`)},
		}, nil
	})
	st := newStore(t, reg)

	stored := commit(t, st, "Order", "order-1", es.Exact(0), "OrderImported")

	stream, err := st.LoadStream(context.Background(), "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if len(stream.Events) != 2 {
		t.Fatalf("stream has %d events, want 2", len(stream.Events))
	}
	if stream.Version != 1 {
		t.Errorf("stream version = %d, want 1 (one stored record)", stream.Version)
	}
	if stream.Events[0].EventType != "OrderPlaced" || stream.Events[1].EventType != "ItemAdded" {
		t.Errorf("fan-out order = [%s %s]", stream.Events[0].EventType, stream.Events[1].EventType)
	}
	for i, e := range stream.Events {
		if e.EventID != stored[0].EventID {
			t.Errorf("expanded event %d has its own event id", i)
		}
		if e.AggregateVersion != 1 {
			t.Errorf("expanded event %d sequence = %d, want 1", i, e.AggregateVersion)
		}
		if !e.GlobalPosition.Equal(stored[0].GlobalPosition) {
			t.Errorf("expanded event %d has its own position", i)
		}
	}

	all := scanAll(t, st, 10)
	if len(all) != 2 {
		t.Fatalf("global scan has %d events, want 2", len(all))
	}
}

func testUpgradeFanOutPageBoundary(t *testing.T, newStore Factory) {
	reg := upgrade.NewRegistry()
	reg.Register("Imported", 1, func(payload []byte) ([]upgrade.Upgraded, error) {
		return []upgrade.Upgraded{
			{EventType: "PartA", EventVersion: 1, Payload: payload},
			{EventType: "PartB", EventVersion: 1, Payload: payload},
		}, nil
	})
	st := newStore(t, reg)
	ctx := context.Background()

	stored := make([]es.PersistedEvent, 0, 3)
	for i := 0; i < 3; i++ {
		persisted := commit(t, st, "Order", fmt.Sprintf("order-%d", i), es.Exact(0), "Imported")
		stored = append(stored, persisted[0])
	}

	// Page size 3 holds one whole expansion but not two: a record's
	// fan-out is never split across pages.
	page, err := st.LoadAllEvents(ctx, es.Start, 3)
	if err != nil {
		t.Fatalf("load all events: %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("got %d events, want 2 (one whole expansion)", len(page.Events))
	}
	if !page.Next.Equal(stored[0].GlobalPosition) {
		t.Errorf("Next = %v, want first record's position %v", page.Next, stored[0].GlobalPosition)
	}

	// Page size 1 is smaller than a single expansion: the first record's
	// expansion comes back whole so the scan still makes progress.
	small, err := st.LoadAllEvents(ctx, es.Start, 1)
	if err != nil {
		t.Fatalf("load with tiny page: %v", err)
	}
	if len(small.Events) != 2 {
		t.Fatalf("tiny page got %d events, want the whole 2-event expansion", len(small.Events))
	}
	if !small.Next.Equal(stored[0].GlobalPosition) {
		t.Errorf("tiny page Next = %v, want %v", small.Next, stored[0].GlobalPosition)
	}

	// Chained scanning still sees every expanded event exactly once.
	all := scanAll(t, st, 3)
	if len(all) != 6 {
		t.Fatalf("chained scan got %d events, want 6", len(all))
	}
	for i, e := range all {
		wantType := "PartA"
		if i%2 == 1 {
			wantType = "PartB"
		}
		if e.EventType != wantType {
			t.Errorf("event %d type = %s, want %s", i, e.EventType, wantType)
		}
	}
}

func testUpgradeSuppression(t *testing.T, newStore Factory) {
	reg := upgrade.NewRegistry()
	reg.Register("Deprecated", 1, func(payload []byte) ([]upgrade.Upgraded, error) {
		return nil, nil
	})
	st := newStore(t, reg)
	ctx := context.Background()

	commit(t, st, "Order", "order-1", es.Exact(0), "Kept", "Deprecated", "Kept")

	// Stream read: the suppressed record vanishes, the version does not.
	stream, err := st.LoadStream(ctx, "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if len(stream.Events) != 2 {
		t.Fatalf("stream has %d events, want 2", len(stream.Events))
	}
	if stream.Version != 3 {
		t.Errorf("stream version = %d, want 3 (suppression keeps the stored head)", stream.Version)
	}
	if stream.Events[0].AggregateVersion != 1 || stream.Events[1].AggregateVersion != 3 {
		t.Errorf("sequences = [%d %d], want [1 3]",
			stream.Events[0].AggregateVersion, stream.Events[1].AggregateVersion)
	}

	// Global read: the suppressed position is burned, paging steps over it.
	all := scanAll(t, st, 1)
	if len(all) != 2 {
		t.Fatalf("global scan has %d events, want 2", len(all))
	}
	if all[0].AggregateVersion != 1 || all[1].AggregateVersion != 3 {
		t.Errorf("scan sequences = [%d %d], want [1 3]",
			all[0].AggregateVersion, all[1].AggregateVersion)
	}
}

func testUpgradeCycleSurfaced(t *testing.T, newStore Factory) {
	reg := upgrade.NewRegistry(upgrade.WithMaxHops(8))
	reg.Register("Looping", 1, func(payload []byte) ([]upgrade.Upgraded, error) {
		return []upgrade.Upgraded{{EventType: "Looping", EventVersion: 1, Payload: payload}}, nil
	})
	st := newStore(t, reg)
	ctx := context.Background()

	commit(t, st, "Order", "order-1", es.Exact(0), "Looping")

	_, err := st.LoadStream(ctx, "Order", "order-1", 1)
	var cycle *upgrade.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("stream read error = %v, want *upgrade.CycleError", err)
	}
	if cycle.EventType != "Looping" || cycle.EventVersion != 1 {
		t.Errorf("cycle reported %s v%d, want Looping v1", cycle.EventType, cycle.EventVersion)
	}

	_, err = st.LoadAllEvents(ctx, es.Start, 10)
	if !errors.As(err, &cycle) {
		t.Fatalf("global read error = %v, want *upgrade.CycleError", err)
	}
}

func testCancelledContext(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.LoadStream(ctx, "Order", "order-1", 1); !errors.Is(err, context.Canceled) {
		t.Errorf("LoadStream error = %v, want context.Canceled", err)
	}
	_, err := st.Commit(ctx, es.CommitBatch{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      es.Exact(0),
		Events:        []es.Event{{EventType: "OrderPlaced", EventVersion: 1, Payload: []byte(`{}`)}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Commit error = %v, want context.Canceled", err)
	}
	if err := st.DeleteStream(ctx, "Order", "order-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("DeleteStream error = %v, want context.Canceled", err)
	}
	if _, err := st.LoadAllEvents(ctx, es.Start, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("LoadAllEvents error = %v, want context.Canceled", err)
	}

	// The rejected commit must have left no trace.
	stream, err := st.LoadStream(context.Background(), "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("load with live context: %v", err)
	}
	if !stream.IsEmpty() {
		t.Error("cancelled commit left events behind")
	}
}
