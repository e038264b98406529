package sqldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/orbitalai/lumara-gateway/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndQueryDispatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for i, outcome := range []string{"ok", "UPSTREAM_REJECTED", "ok"} {
		err := store.RecordDispatch(ctx, &storage.DispatchRecord{
			ID:         string(rune('a' + i)),
			IdentityID: "user-1",
			Provider:   "groq",
			ModelID:    "openai/gpt-oss-120b",
			Outcome:    outcome,
			LatencyMS:  int64(100 + i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordDispatch() error = %v", err)
		}
	}

	recs, err := store.RecentByIdentity(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("RecentByIdentity() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].ID != "c" || recs[1].ID != "b" {
		t.Errorf("order = %q, %q; want newest first", recs[0].ID, recs[1].ID)
	}
	if recs[1].Outcome != "UPSTREAM_REJECTED" {
		t.Errorf("outcome = %q", recs[1].Outcome)
	}
}

func TestRecentByIdentityScopesToIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"user-1", "user-2"} {
		err := store.RecordDispatch(ctx, &storage.DispatchRecord{
			ID:         id + "-rec",
			IdentityID: id,
			Provider:   "gemini",
			ModelID:    "gemini-3-flash-preview",
			Outcome:    "ok",
		})
		if err != nil {
			t.Fatalf("RecordDispatch() error = %v", err)
		}
	}

	recs, err := store.RecentByIdentity(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].IdentityID != "user-1" {
		t.Errorf("got %+v, want only user-1 rows", recs)
	}
}
