package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pixcache/internal/fingerprint"
)

func TestStoreWriteAndRead(t *testing.T) {
	store := newTestStore(t)
	key := fingerprint.Compute("https://img.example/cat.png")

	payload := []byte("payload")
	entry, err := store.Write(context.Background(), key, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("write error: %v", err)
	}
	if entry.SizeBytes != 7 {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}
	if !store.Has(context.Background(), key) {
		t.Fatalf("expected Has to report written entry")
	}

	body, err := store.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
}

func TestStoreWriteOverwritesAndRefreshesTimestamp(t *testing.T) {
	store := newTestStore(t)
	fs := store.(*fileStore)
	key := fingerprint.Compute("https://img.example/dog.png")

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.now = func() time.Time { return first }
	if _, err := store.Write(context.Background(), key, bytes.NewReader([]byte("old"))); err != nil {
		t.Fatalf("write error: %v", err)
	}

	second := first.Add(time.Hour)
	fs.now = func() time.Time { return second }
	if _, err := store.Write(context.Background(), key, bytes.NewReader([]byte("newer"))); err != nil {
		t.Fatalf("write error: %v", err)
	}

	entries, err := store.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected single entry, got %d", len(entries))
	}
	if !entries[0].CreatedAt.Equal(second) {
		t.Fatalf("created_at not refreshed: %v", entries[0].CreatedAt)
	}
	body, _ := store.Read(context.Background(), key)
	if string(body) != "newer" {
		t.Fatalf("expected overwritten payload, got %s", string(body))
	}
}

func TestStoreReadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Read(context.Background(), fingerprint.Compute("https://missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	key := fingerprint.Compute("https://img.example/remove.png")
	if _, err := store.Write(context.Background(), key, bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("second delete should not fail: %v", err)
	}
	if store.Has(context.Background(), key) {
		t.Fatalf("expected entry to be gone")
	}
}

func TestStoreRejectsInvalidKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Write(context.Background(), "../escape", bytes.NewReader([]byte("x")))
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestStoreIgnoresForeignFiles(t *testing.T) {
	store := newTestStore(t)
	fs := store.(*fileStore)

	if err := os.WriteFile(filepath.Join(fs.basePath, "README"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(fs.basePath, fingerprint.Compute("dir")), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	entries, err := store.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("foreign files should be skipped, got %d entries", len(entries))
	}
	if store.Has(context.Background(), fingerprint.Compute("dir")) {
		t.Fatalf("directories should not count as entries")
	}
}

func TestStoreClearAll(t *testing.T) {
	store := newTestStore(t)
	for _, url := range []string{"https://a/1", "https://a/2", "https://a/3"} {
		if _, err := store.Write(context.Background(), fingerprint.Compute(url), bytes.NewReader([]byte(url))); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	if err := store.ClearAll(context.Background()); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	entries, _ := store.Entries(context.Background())
	if len(entries) != 0 {
		t.Fatalf("expected empty store, got %d entries", len(entries))
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
