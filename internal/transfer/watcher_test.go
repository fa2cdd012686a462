package transfer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"synapse/internal/storage"
)

func TestTableWatcher_InvalidatesOnExternalWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	reader, err := NewEngine(store, Config{})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	writer, err := NewEngine(store, Config{})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}

	// Warm the reader's cache on an empty table.
	if _, ok := reader.Lookup("tool::watched"); ok {
		t.Fatal("table should start empty")
	}

	w, err := NewTableWatcher(reader)
	if err != nil {
		t.Fatalf("NewTableWatcher error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer w.Stop()

	if _, err := writer.Promote(eligiblePattern("tool::watched")); err != nil {
		t.Fatalf("Promote error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reader.Lookup("tool::watched"); ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher never invalidated the stale cache")
}
