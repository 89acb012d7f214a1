package cache

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tunabay/go-infounit"

	"github.com/any-hub/pixcache/internal/fingerprint"
)

func TestPlanEvictionWorkedExample(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := Entry{Key: "e1", SizeBytes: 10, CreatedAt: base}
	e2 := Entry{Key: "e2", SizeBytes: 10, CreatedAt: base.Add(time.Minute)}
	e3 := Entry{Key: "e3", SizeBytes: 40, CreatedAt: base.Add(2 * time.Minute)}

	plan := planEviction([]Entry{e2, e3, e1}, 45)

	if len(plan.keep) != 1 || plan.keep[0].Key != "e3" {
		t.Fatalf("expected only e3 kept, got %+v", plan.keep)
	}
	if len(plan.remove) != 2 {
		t.Fatalf("expected e2 and e1 removed, got %+v", plan.remove)
	}
	if plan.remove[0].Key != "e2" || plan.remove[1].Key != "e1" {
		t.Fatalf("unexpected removal order: %+v", plan.remove)
	}
}

func TestPlanEvictionDoesNotBackfillSmallerOlderEntries(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Key: "tiny-old", SizeBytes: 1, CreatedAt: base},
		{Key: "big", SizeBytes: 30, CreatedAt: base.Add(time.Minute)},
		{Key: "new", SizeBytes: 20, CreatedAt: base.Add(2 * time.Minute)},
	}
	plan := planEviction(entries, 45)
	if len(plan.keep) != 1 || plan.keep[0].Key != "new" {
		t.Fatalf("expected only newest kept, got %+v", plan.keep)
	}
	if len(plan.remove) != 2 {
		t.Fatalf("tiny-old must be removed with big, got %+v", plan.remove)
	}
}

func TestPlanEvictionBoundaryIsStrict(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := planEviction([]Entry{{Key: "exact", SizeBytes: 45, CreatedAt: base}}, 45)
	if len(plan.keep) != 0 || len(plan.remove) != 1 {
		t.Fatalf("entry filling the limit exactly must be removed, got %+v", plan)
	}
}

func TestPlanEvictionSameTimestampKeepsAllEntries(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Key: "a", SizeBytes: 1, CreatedAt: base},
		{Key: "b", SizeBytes: 1, CreatedAt: base},
		{Key: "c", SizeBytes: 1, CreatedAt: base},
	}
	plan := planEviction(entries, 100)
	if len(plan.keep) != 3 {
		t.Fatalf("entries sharing a timestamp must not collapse, got %+v", plan.keep)
	}
}

func TestStoreEvictRemovesFiles(t *testing.T) {
	store := newTestStore(t)
	fs := store.(*fileStore)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sizes := []int{10, 10, 40}
	keys := make([]string, len(sizes))
	for i, size := range sizes {
		keys[i] = fingerprint.Compute(strings.Repeat("u", i+1))
		created := base.Add(time.Duration(i) * time.Minute)
		fs.now = func() time.Time { return created }
		if _, err := store.Write(context.Background(), keys[i], bytes.NewReader(make([]byte, size))); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}

	result, err := store.Evict(context.Background(), 45)
	if err != nil {
		t.Fatalf("evict error: %v", err)
	}
	if result.Kept != 1 || result.Removed != 2 || result.RemovedBytes != 20 {
		t.Fatalf("unexpected evict result: %+v", result)
	}
	if !store.Has(context.Background(), keys[2]) {
		t.Fatalf("newest entry should be kept")
	}
	for _, key := range keys[:2] {
		if store.Has(context.Background(), key) {
			t.Fatalf("older entry %s should be evicted", key)
		}
	}

	entries, _ := store.Entries(context.Background())
	var total infounit.ByteCount
	for _, entry := range entries {
		total += entry.SizeBytes
	}
	if total > 45 {
		t.Fatalf("total size %d exceeds limit after eviction", total)
	}
}

func TestJanitorRunOnce(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		key := fingerprint.Compute(strings.Repeat("j", i+1))
		if _, err := store.Write(context.Background(), key, bytes.NewReader(make([]byte, 10))); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	janitor := NewJanitor(store, 5, 0, logger)
	janitor.Run(context.Background())

	entries, _ := store.Entries(context.Background())
	if len(entries) != 0 {
		t.Fatalf("all entries exceed limit and should be evicted, got %d", len(entries))
	}
}

func TestJanitorRunRepeatsUntilCancelled(t *testing.T) {
	store := &countingStore{Store: newTestStore(t), passes: make(chan int)}
	write := func(name string) {
		t.Helper()
		if _, err := store.Write(context.Background(), fingerprint.Compute(name), bytes.NewReader(make([]byte, 10))); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	write("first")

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	janitor := NewJanitor(store, 5, 5*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		janitor.Run(ctx)
		close(done)
	}()

	waitPass(t, store.passes)
	write("second")
	// 写入之后至少还要完整经过一轮，才能确认新条目被后续周期清理。
	waitPass(t, store.passes)
	waitPass(t, store.passes)

	entries, _ := store.Entries(context.Background())
	if len(entries) != 0 {
		t.Fatalf("later passes should evict the new entry, got %d", len(entries))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run should return after ctx is cancelled")
	}
}

func TestJanitorRunSinglePassWithoutInterval(t *testing.T) {
	store := &countingStore{Store: newTestStore(t)}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	done := make(chan struct{})
	go func() {
		NewJanitor(store, 5, 0, logger).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run with interval <= 0 should return after one pass")
	}
	if got := store.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one eviction pass, got %d", got)
	}
}

// countingStore 统计 Evict 次数；passes 非空时每轮结束后报告轮次。
type countingStore struct {
	Store
	calls  atomic.Int32
	passes chan int
}

func (s *countingStore) Evict(ctx context.Context, maxBytes infounit.ByteCount) (EvictResult, error) {
	result, err := s.Store.Evict(ctx, maxBytes)
	n := int(s.calls.Add(1))
	if s.passes != nil {
		select {
		case s.passes <- n:
		case <-ctx.Done():
		}
	}
	return result, err
}

func waitPass(t *testing.T, passes <-chan int) {
	t.Helper()
	select {
	case <-passes:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for an eviction pass")
	}
}

func TestMaintenanceClearOneAndAll(t *testing.T) {
	store := newTestStore(t)
	logBuf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(logBuf)
	m := NewMaintenance(store, logger)

	urls := []string{"https://img.example/a.png", "https://img.example/b.png"}
	for _, url := range urls {
		if _, err := store.Write(context.Background(), fingerprint.Compute(url), bytes.NewReader([]byte(url))); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}

	m.ClearOne(context.Background(), urls[0])
	if store.Has(context.Background(), fingerprint.Compute(urls[0])) {
		t.Fatalf("ClearOne should remove the entry")
	}
	if len(m.Entries(context.Background())) != 1 {
		t.Fatalf("ClearOne should leave other entries")
	}

	m.ClearAll(context.Background())
	if len(m.Entries(context.Background())) != 0 {
		t.Fatalf("ClearAll should remove everything")
	}
	if !strings.Contains(logBuf.String(), "cache_cleared") {
		t.Fatalf("expected cache_cleared log, got %s", logBuf.String())
	}
}

func TestPlanEvictionEmptyStore(t *testing.T) {
	plan := planEviction(nil, 10)
	if len(plan.keep) != 0 || len(plan.remove) != 0 {
		t.Fatalf("empty store should produce an empty plan: %+v", plan)
	}
}
