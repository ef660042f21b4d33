// Package storetest provides a conformance suite for event store
// implementations.
//
// Every adapter must pass Run against a factory producing fresh, empty
// stores. The in-memory adapter runs the suite unconditionally; the SQL
// adapters run it from their integration_test packages behind the
// integration build tag.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tidemark-io/tidemark/es"
	"github.com/tidemark-io/tidemark/es/store"
	"github.com/tidemark-io/tidemark/es/upgrade"
)

// Factory returns a fresh, empty store for one subtest. The upgrade registry
// may be nil; when it is not, the store must apply it on every read path.
type Factory func(t *testing.T, upgrades *upgrade.Registry) store.Store

// Run exercises the full store contract against the factory.
func Run(t *testing.T, newStore Factory) {
	t.Run("LoadStreamUnknownIdentity", func(t *testing.T) { testLoadStreamUnknownIdentity(t, newStore) })
	t.Run("CommitAssignsSequences", func(t *testing.T) { testCommitAssignsSequences(t, newStore) })
	t.Run("CommitStampsMetadata", func(t *testing.T) { testCommitStampsMetadata(t, newStore) })
	t.Run("CommitGeneratesSourceID", func(t *testing.T) { testCommitGeneratesSourceID(t, newStore) })
	t.Run("CommitZeroLengthIsNoOp", func(t *testing.T) { testCommitZeroLengthIsNoOp(t, newStore) })
	t.Run("CommitRejectsInvalidBatch", func(t *testing.T) { testCommitRejectsInvalidBatch(t, newStore) })
	t.Run("ExpectedVersionConflict", func(t *testing.T) { testExpectedVersionConflict(t, newStore) })
	t.Run("ConflictLoserRetriesAfterReload", func(t *testing.T) { testConflictLoserRetriesAfterReload(t, newStore) })
	t.Run("ConcurrentCommitsSingleWinner", func(t *testing.T) { testConcurrentCommitsSingleWinner(t, newStore) })
	t.Run("AnySkipsValidation", func(t *testing.T) { testAnySkipsValidation(t, newStore) })
	t.Run("LoadStreamFromVersion", func(t *testing.T) { testLoadStreamFromVersion(t, newStore) })
	t.Run("DeleteStreamRemovesEvents", func(t *testing.T) { testDeleteStreamRemovesEvents(t, newStore) })
	t.Run("DeleteStreamIdempotent", func(t *testing.T) { testDeleteStreamIdempotent(t, newStore) })
	t.Run("DeletedStreamRecreation", func(t *testing.T) { testDeletedStreamRecreation(t, newStore) })
	t.Run("BinaryPayloadFidelity", func(t *testing.T) { testBinaryPayloadFidelity(t, newStore) })
	t.Run("PagedScanVisitsAllInOrder", func(t *testing.T) { testPagedScanVisitsAllInOrder(t, newStore) })
	t.Run("GapTolerantPaging", func(t *testing.T) { testGapTolerantPaging(t, newStore) })
	t.Run("ScanCaughtUpMakesNoProgress", func(t *testing.T) { testScanCaughtUpMakesNoProgress(t, newStore) })
	t.Run("ScanRejectsInvalidLimit", func(t *testing.T) { testScanRejectsInvalidLimit(t, newStore) })
	t.Run("UpgradeRewriteOnBothReadPaths", func(t *testing.T) { testUpgradeRewriteOnBothReadPaths(t, newStore) })
	t.Run("UpgradeFanOut", func(t *testing.T) { testUpgradeFanOut(t, newStore) })
	t.Run("UpgradeFanOutPageBoundary", func(t *testing.T) { testUpgradeFanOutPageBoundary(t, newStore) })
	t.Run("UpgradeSuppression", func(t *testing.T) { testUpgradeSuppression(t, newStore) })
	t.Run("UpgradeCycleSurfaced", func(t *testing.T) { testUpgradeCycleSurfaced(t, newStore) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelledContext(t, newStore) })
}

// commit appends one event per type to the stream and fails the test on
// error.
func commit(t *testing.T, st store.Store, aggregateType, aggregateID string, expected es.ExpectedVersion, types ...string) []es.PersistedEvent {
	t.Helper()

	events := make([]es.Event, len(types))
	for i, typ := range types {
		events[i] = es.Event{
			EventType:    typ,
			EventVersion: 1,
			Payload:      []byte(fmt.Sprintf(`{"type":%q,"i":%d}`, typ, i)),
		}
	}

	persisted, err := st.Commit(context.Background(), es.CommitBatch{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Expected:      expected,
		Events:        events,
	})
	if err != nil {
		t.Fatalf("commit %s/%s: %v", aggregateType, aggregateID, err)
	}
	if len(persisted) != len(types) {
		t.Fatalf("commit returned %d events, want %d", len(persisted), len(types))
	}
	return persisted
}

// scanAll chains LoadAllEvents pages until the scan stops making progress.
func scanAll(t *testing.T, st store.Store, pageSize int) []es.PersistedEvent {
	t.Helper()

	var all []es.PersistedEvent
	pos := es.Start
	for {
		page, err := st.LoadAllEvents(context.Background(), pos, pageSize)
		if err != nil {
			t.Fatalf("load all events from %v: %v", pos, err)
		}
		if page.Next.Equal(pos) {
			if len(page.Events) != 0 {
				t.Fatalf("page made no progress but returned %d events", len(page.Events))
			}
			return all
		}
		all = append(all, page.Events...)
		pos = page.Next
	}
}

func testLoadStreamUnknownIdentity(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	stream, err := st.LoadStream(context.Background(), "Order", "never-committed", 1)
	if err != nil {
		t.Fatalf("load unknown stream: %v", err)
	}
	if stream.Version != 0 {
		t.Errorf("Version = %d, want 0", stream.Version)
	}
	if !stream.IsEmpty() {
		t.Error("unknown identity should be empty")
	}
	if len(stream.Events) != 0 {
		t.Errorf("got %d events, want 0", len(stream.Events))
	}
}

func testCommitAssignsSequences(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	persisted := commit(t, st, "Order", "order-1", es.Exact(0),
		"OrderPlaced", "ItemAdded", "ItemAdded")

	for i, e := range persisted {
		wantSeq := int64(i + 1)
		if e.AggregateVersion != wantSeq {
			t.Errorf("event %d sequence = %d, want %d", i, e.AggregateVersion, wantSeq)
		}
		if e.AggregateType != "Order" || e.AggregateID != "order-1" {
			t.Errorf("event %d identity = %s/%s", i, e.AggregateType, e.AggregateID)
		}
		if e.CreatedAt.IsZero() {
			t.Errorf("event %d has zero timestamp", i)
		}
		if e.EventID.String() == "00000000-0000-0000-0000-000000000000" {
			t.Errorf("event %d has zero event id", i)
		}
		if i > 0 && !persisted[i-1].GlobalPosition.Before(e.GlobalPosition) {
			t.Errorf("positions not strictly increasing at event %d", i)
		}
	}

	stream, err := st.LoadStream(context.Background(), "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if stream.Version != 3 {
		t.Errorf("stream version = %d, want 3", stream.Version)
	}
	if len(stream.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(stream.Events))
	}
	wantTypes := []string{"OrderPlaced", "ItemAdded", "ItemAdded"}
	for i, e := range stream.Events {
		if e.EventType != wantTypes[i] {
			t.Errorf("event %d type = %s, want %s", i, e.EventType, wantTypes[i])
		}
		if e.AggregateVersion != int64(i+1) {
			t.Errorf("event %d sequence = %d, want %d", i, e.AggregateVersion, i+1)
		}
	}

	// Continue the stream against its loaded version.
	more := commit(t, st, "Order", "order-1", es.Exact(stream.Version), "OrderShipped")
	if more[0].AggregateVersion != 4 {
		t.Errorf("continued sequence = %d, want 4", more[0].AggregateVersion)
	}
}

func testCommitStampsMetadata(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	persisted, err := st.Commit(context.Background(), es.CommitBatch{
		AggregateType: "Order",
		AggregateID:   "order-1",
		SourceID:      "command-17",
		Expected:      es.Exact(0),
		Events: []es.Event{{
			EventType:    "OrderPlaced",
			EventVersion: 1,
			Payload:      []byte(`{}`),
			Metadata:     map[string]string{"tenant": "acme"},
		}},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	check := func(t *testing.T, e es.PersistedEvent) {
		t.Helper()
		if e.SourceID != "command-17" {
			t.Errorf("SourceID = %q, want %q", e.SourceID, "command-17")
		}
		if got := e.Metadata[es.MetaSourceID]; got != "command-17" {
			t.Errorf("metadata source_id = %q, want %q", got, "command-17")
		}
		if got := e.Metadata[es.MetaEventID]; got != e.EventID.String() {
			t.Errorf("metadata event_id = %q, want %q", got, e.EventID.String())
		}
		stamp, ok := e.Metadata[es.MetaCommittedAt]
		if !ok {
			t.Fatal("metadata committed_at missing")
		}
		if _, perr := time.Parse(time.RFC3339Nano, stamp); perr != nil {
			t.Errorf("committed_at %q is not RFC3339: %v", stamp, perr)
		}
		if got := e.Metadata["tenant"]; got != "acme" {
			t.Errorf("caller metadata lost: tenant = %q", got)
		}
	}

	check(t, persisted[0])

	// The same metadata must round-trip through storage.
	stream, err := st.LoadStream(context.Background(), "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if len(stream.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(stream.Events))
	}
	check(t, stream.Events[0])
}

func testCommitGeneratesSourceID(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	persisted := commit(t, st, "Order", "order-1", es.Exact(0), "OrderPlaced")

	if persisted[0].SourceID == "" {
		t.Error("store should generate a source id for batches without one")
	}
	if persisted[0].Metadata[es.MetaSourceID] != persisted[0].SourceID {
		t.Errorf("metadata source_id = %q, field = %q",
			persisted[0].Metadata[es.MetaSourceID], persisted[0].SourceID)
	}
}

func testCommitZeroLengthIsNoOp(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	// The expected version is deliberately wrong: a zero-length batch
	// skips even the version check.
	persisted, err := st.Commit(context.Background(), es.CommitBatch{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      es.Exact(99),
	})
	if err != nil {
		t.Fatalf("zero-length commit: %v", err)
	}
	if len(persisted) != 0 {
		t.Errorf("zero-length commit returned %d events", len(persisted))
	}

	stream, err := st.LoadStream(context.Background(), "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if !stream.IsEmpty() {
		t.Error("zero-length commit should not create the stream")
	}
}

func testCommitRejectsInvalidBatch(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	_, err := st.Commit(context.Background(), es.CommitBatch{
		AggregateID: "order-1",
		Expected:    es.Exact(0),
		Events:      []es.Event{{EventType: "OrderPlaced", EventVersion: 1}},
	})
	if err == nil {
		t.Fatal("commit without aggregate type should fail")
	}
	var conflict *es.ConcurrencyError
	if errors.As(err, &conflict) {
		t.Fatal("validation failure must not be reported as a concurrency conflict")
	}
}

func testExpectedVersionConflict(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	commit(t, st, "Order", "order-1", es.Exact(0), "OrderPlaced")

	_, err := st.Commit(context.Background(), es.CommitBatch{
		AggregateType: "Order",
		AggregateID:   "order-1",
		Expected:      es.Exact(0),
		Events: []es.Event{
			{EventType: "ItemAdded", EventVersion: 1, Payload: []byte(`{}`)},
			{EventType: "ItemAdded", EventVersion: 1, Payload: []byte(`{}`)},
		},
	})

	var conflict *es.ConcurrencyError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want *es.ConcurrencyError", err)
	}
	if conflict.AggregateType != "Order" || conflict.AggregateID != "order-1" {
		t.Errorf("conflict identity = %s/%s", conflict.AggregateType, conflict.AggregateID)
	}
	if !conflict.Expected.IsExact() || conflict.Expected.Value() != 0 {
		t.Errorf("conflict.Expected = %v, want Exact(0)", conflict.Expected)
	}
	if conflict.Actual != 1 {
		t.Errorf("conflict.Actual = %d, want 1", conflict.Actual)
	}

	// The rejected batch must leave no trace.
	stream, err := st.LoadStream(context.Background(), "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if stream.Version != 1 || len(stream.Events) != 1 {
		t.Errorf("stream version %d with %d events, want 1 with 1", stream.Version, len(stream.Events))
	}
}

func testConflictLoserRetriesAfterReload(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()

	// Both writers observe the empty stream.
	first, err := st.LoadStream(ctx, "Account", "acct-1", 1)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := st.LoadStream(ctx, "Account", "acct-1", 1)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	commit(t, st, "Account", "acct-1", es.Exact(first.Version), "Deposited")

	_, err = st.Commit(ctx, es.CommitBatch{
		AggregateType: "Account",
		AggregateID:   "acct-1",
		Expected:      es.Exact(second.Version),
		Events:        []es.Event{{EventType: "Withdrawn", EventVersion: 1, Payload: []byte(`{}`)}},
	})
	var conflict *es.ConcurrencyError
	if !errors.As(err, &conflict) {
		t.Fatalf("stale commit error = %v, want *es.ConcurrencyError", err)
	}

	// Loser reloads and retries against the observed version.
	reloaded, err := st.LoadStream(ctx, "Account", "acct-1", 1)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Version != conflict.Actual {
		t.Errorf("reloaded version = %d, conflict reported %d", reloaded.Version, conflict.Actual)
	}
	commit(t, st, "Account", "acct-1", es.Exact(reloaded.Version), "Withdrawn")

	final, err := st.LoadStream(ctx, "Account", "acct-1", 1)
	if err != nil {
		t.Fatalf("final load: %v", err)
	}
	if final.Version != 2 || len(final.Events) != 2 {
		t.Fatalf("final stream version %d with %d events, want 2 with 2", final.Version, len(final.Events))
	}
	if final.Events[0].EventType != "Deposited" || final.Events[1].EventType != "Withdrawn" {
		t.Errorf("event order = [%s %s], want [Deposited Withdrawn]",
			final.Events[0].EventType, final.Events[1].EventType)
	}
}

func testConcurrentCommitsSingleWinner(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	const writers = 4
	start := make(chan struct{})
	results := make(chan error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, err := st.Commit(context.Background(), es.CommitBatch{
				AggregateType: "Counter",
				AggregateID:   "counter-1",
				Expected:      es.Exact(0),
				Events: []es.Event{{
					EventType:    "Initialized",
					EventVersion: 1,
					Payload:      []byte(fmt.Sprintf(`{"writer":%d}`, n)),
				}},
			})
			results <- err
		}(i)
	}

	close(start)
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			var conflict *es.ConcurrencyError
			if !errors.As(err, &conflict) {
				t.Fatalf("racing commit failed with %v, want *es.ConcurrencyError", err)
			}
			conflicts++
		}
	}

	if wins != 1 {
		t.Fatalf("got %d winners, want exactly 1", wins)
	}
	if conflicts != writers-1 {
		t.Fatalf("got %d conflicts, want %d", conflicts, writers-1)
	}

	stream, err := st.LoadStream(context.Background(), "Counter", "counter-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if stream.Version != 1 || len(stream.Events) != 1 {
		t.Fatalf("stream version %d with %d events, want 1 with 1", stream.Version, len(stream.Events))
	}
}

func testAnySkipsValidation(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	commit(t, st, "Feed", "feed-1", es.Any(), "EntryAppended")
	commit(t, st, "Feed", "feed-1", es.Any(), "EntryAppended", "EntryAppended")

	stream, err := st.LoadStream(context.Background(), "Feed", "feed-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if stream.Version != 3 {
		t.Errorf("stream version = %d, want 3", stream.Version)
	}
	for i, e := range stream.Events {
		if e.AggregateVersion != int64(i+1) {
			t.Errorf("event %d sequence = %d, want %d", i, e.AggregateVersion, i+1)
		}
	}
}

func testLoadStreamFromVersion(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	commit(t, st, "Order", "order-1", es.Exact(0), "E1", "E2", "E3", "E4", "E5")

	stream, err := st.LoadStream(context.Background(), "Order", "order-1", 3)
	if err != nil {
		t.Fatalf("load from version 3: %v", err)
	}
	if len(stream.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(stream.Events))
	}
	for i, e := range stream.Events {
		if e.AggregateVersion != int64(i+3) {
			t.Errorf("event %d sequence = %d, want %d", i, e.AggregateVersion, i+3)
		}
	}
	if stream.Version != 5 {
		t.Errorf("filtered stream version = %d, want 5", stream.Version)
	}

	// Filtering past the head yields no events but keeps the version.
	past, err := st.LoadStream(context.Background(), "Order", "order-1", 6)
	if err != nil {
		t.Fatalf("load from version 6: %v", err)
	}
	if len(past.Events) != 0 {
		t.Errorf("got %d events, want 0", len(past.Events))
	}
	if past.Version != 5 {
		t.Errorf("stream version = %d, want 5", past.Version)
	}
}

func testDeleteStreamRemovesEvents(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()

	commit(t, st, "Order", "order-1", es.Exact(0), "A1", "A2", "A3")
	commit(t, st, "Order", "order-2", es.Exact(0), "B1", "B2", "B3")

	if err := st.DeleteStream(ctx, "Order", "order-1"); err != nil {
		t.Fatalf("delete stream: %v", err)
	}

	deleted, err := st.LoadStream(ctx, "Order", "order-1", 1)
	if err != nil {
		t.Fatalf("load deleted stream: %v", err)
	}
	if !deleted.IsEmpty() {
		t.Errorf("deleted stream version = %d, want 0", deleted.Version)
	}

	kept, err := st.LoadStream(ctx, "Order", "order-2", 1)
	if err != nil {
		t.Fatalf("load kept stream: %v", err)
	}
	if kept.Version != 3 || len(kept.Events) != 3 {
		t.Errorf("kept stream version %d with %d events, want 3 with 3", kept.Version, len(kept.Events))
	}

	for _, e := range scanAll(t, st, 10) {
		if e.AggregateID == "order-1" {
			t.Errorf("deleted stream's event %s still visible in global scan", e.EventType)
		}
	}
}

func testDeleteStreamIdempotent(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()

	if err := st.DeleteStream(ctx, "Order", "never-existed"); err != nil {
		t.Fatalf("delete unknown stream: %v", err)
	}

	commit(t, st, "Order", "order-1", es.Exact(0), "OrderPlaced")
	if err := st.DeleteStream(ctx, "Order", "order-1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := st.DeleteStream(ctx, "Order", "order-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func testDeletedStreamRecreation(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()

	old := commit(t, st, "Order", "order-1", es.Exact(0), "OrderPlaced", "OrderShipped")
	lastOldPosition := old[len(old)-1].GlobalPosition

	if err := st.DeleteStream(ctx, "Order", "order-1"); err != nil {
		t.Fatalf("delete stream: %v", err)
	}

	// The identity behaves as brand new: sequence numbers restart at 1.
	fresh := commit(t, st, "Order", "order-1", es.Exact(0), "OrderPlaced")
	if fresh[0].AggregateVersion != 1 {
		t.Errorf("recreated sequence = %d, want 1", fresh[0].AggregateVersion)
	}

	// Positions are never reused: the new event sits past the old ones.
	if !lastOldPosition.Before(fresh[0].GlobalPosition) {
		t.Errorf("recreated position %v not after deleted position %v",
			fresh[0].GlobalPosition, lastOldPosition)
	}
}

func testBinaryPayloadFidelity(t *testing.T, newStore Factory) {
	st := newStore(t, nil)

	payload := []byte("snowman ☃, astral \U0001D508\U0001F680, bytes: ")
	for b := 0; b < 256; b++ {
		payload = append(payload, byte(b))
	}
	meta := map[string]string{"note": "emoji \U0001F680 and czech řeč"}

	persisted, err := st.Commit(context.Background(), es.CommitBatch{
		AggregateType: "Blob",
		AggregateID:   "blob-1",
		Expected:      es.Exact(0),
		Events: []es.Event{{
			EventType:    "BlobStored",
			EventVersion: 1,
			Payload:      payload,
			Metadata:     meta,
		}},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if string(persisted[0].Payload) != string(payload) {
		t.Error("commit result altered the payload")
	}

	stream, err := st.LoadStream(context.Background(), "Blob", "blob-1", 1)
	if err != nil {
		t.Fatalf("load stream: %v", err)
	}
	if string(stream.Events[0].Payload) != string(payload) {
		t.Error("stream read altered the payload")
	}
	if stream.Events[0].Metadata["note"] != meta["note"] {
		t.Errorf("metadata note = %q, want %q", stream.Events[0].Metadata["note"], meta["note"])
	}

	all := scanAll(t, st, 10)
	if len(all) != 1 {
		t.Fatalf("global scan found %d events, want 1", len(all))
	}
	if string(all[0].Payload) != string(payload) {
		t.Error("global read altered the payload")
	}
}
