package cache

import (
	"path/filepath"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	if err := store.Set("prices:2026-07-30", []byte("payload"), now); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Get("prices:2026-07-30", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != "payload" {
		t.Fatalf("payload: got %q want %q", got, "payload")
	}
}

func TestGetMissingKey(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	_, ok, err := store.Get("missing", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected cache miss for missing key")
	}
}

func TestGetExpiredEntry(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	stale := time.Now().Add(-2 * time.Hour)
	if err := store.Set("prices:stale", []byte("old"), stale); err != nil {
		t.Fatal(err)
	}

	_, ok, err := store.Get("prices:stale", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected cache miss for expired entry")
	}
}
