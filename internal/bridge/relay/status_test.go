package relay

import (
	"context"
	sterrors "errors"
	"testing"
	"time"
)

func newTestStatusStore(t *testing.T) *SQLiteStatusStore {
	t.Helper()

	store, err := OpenStatusStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open status store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStatusCreateAndGet(t *testing.T) {
	store := newTestStatusStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	st, err := store.Get(ctx, "chan-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if st.State != StatusDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", st.State)
	}
	if !st.LastConnectedAt.IsZero() {
		t.Errorf("expected zero lastConnectedAt, got %v", st.LastConnectedAt)
	}

	// Creating again is a no-op, not an error.
	if err := store.Create(ctx, "chan-1"); err != nil {
		t.Errorf("repeated create should succeed: %v", err)
	}
}

func TestStatusGetUnknown(t *testing.T) {
	store := newTestStatusStore(t)

	_, err := store.Get(context.Background(), "ghost")
	if !sterrors.Is(err, ErrChannelUnknown) {
		t.Errorf("expected ErrChannelUnknown, got %v", err)
	}
}

func TestMarkConnectedIsIdempotent(t *testing.T) {
	store := newTestStatusStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if err := store.MarkConnected(ctx, "chan-1", "+4912345", first); err != nil {
		t.Fatalf("failed to mark connected: %v", err)
	}

	before, err := store.Get(ctx, "chan-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if before.State != StatusConnected || before.Identifier != "+4912345" {
		t.Fatalf("unexpected state %+v", before)
	}
	if !before.LastConnectedAt.Equal(first) {
		t.Fatalf("expected lastConnectedAt %v, got %v", first, before.LastConnectedAt)
	}

	// A duplicate with the same handle must not move lastConnectedAt.
	if err := store.MarkConnected(ctx, "chan-1", "+4912345", first.Add(time.Hour)); err != nil {
		t.Fatalf("duplicate mark connected failed: %v", err)
	}
	after, err := store.Get(ctx, "chan-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if after != before {
		t.Errorf("duplicate connected changed the row:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestMarkConnectedWithNewIdentifier(t *testing.T) {
	store := newTestStatusStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to create: %v", err)
	}

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if err := store.MarkConnected(ctx, "chan-1", "old-handle", first); err != nil {
		t.Fatalf("failed to mark connected: %v", err)
	}

	// A re-pair under a different handle is a real transition, not a duplicate.
	second := first.Add(time.Hour)
	if err := store.MarkConnected(ctx, "chan-1", "new-handle", second); err != nil {
		t.Fatalf("failed to mark connected: %v", err)
	}

	st, err := store.Get(ctx, "chan-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if st.Identifier != "new-handle" {
		t.Errorf("expected new identifier, got %q", st.Identifier)
	}
	if !st.LastConnectedAt.Equal(second) {
		t.Errorf("expected updated lastConnectedAt %v, got %v", second, st.LastConnectedAt)
	}
}

func TestMarkDisconnectedIsIdempotent(t *testing.T) {
	store := newTestStatusStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if err := store.MarkConnected(ctx, "chan-1", "handle", time.Now()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if err := store.MarkDisconnected(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to disconnect: %v", err)
	}
	if err := store.MarkDisconnected(ctx, "chan-1"); err != nil {
		t.Fatalf("duplicate disconnect failed: %v", err)
	}

	st, err := store.Get(ctx, "chan-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if st.State != StatusDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", st.State)
	}
	// lastConnectedAt survives the disconnect for display purposes.
	if st.LastConnectedAt.IsZero() {
		t.Error("expected lastConnectedAt to survive disconnect")
	}
}

func TestMarkUnknownChannel(t *testing.T) {
	store := newTestStatusStore(t)
	ctx := context.Background()

	if err := store.MarkConnected(ctx, "ghost", "h", time.Now()); !sterrors.Is(err, ErrChannelUnknown) {
		t.Errorf("expected ErrChannelUnknown, got %v", err)
	}
	if err := store.MarkDisconnected(ctx, "ghost"); !sterrors.Is(err, ErrChannelUnknown) {
		t.Errorf("expected ErrChannelUnknown, got %v", err)
	}
	if err := store.MarkConnecting(ctx, "ghost"); !sterrors.Is(err, ErrChannelUnknown) {
		t.Errorf("expected ErrChannelUnknown, got %v", err)
	}
}

func TestStatusDelete(t *testing.T) {
	store := newTestStatusStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if err := store.Delete(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := store.Get(ctx, "chan-1"); !sterrors.Is(err, ErrChannelUnknown) {
		t.Errorf("expected ErrChannelUnknown after delete, got %v", err)
	}

	// Deleting a row that is already gone is fine.
	if err := store.Delete(ctx, "chan-1"); err != nil {
		t.Errorf("repeated delete should succeed: %v", err)
	}
}

func TestMarkConnectingTransition(t *testing.T) {
	store := newTestStatusStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if err := store.MarkConnecting(ctx, "chan-1"); err != nil {
		t.Fatalf("failed to mark connecting: %v", err)
	}

	st, err := store.Get(ctx, "chan-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if st.State != StatusConnecting {
		t.Errorf("expected CONNECTING, got %s", st.State)
	}
}
