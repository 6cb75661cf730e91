package storage

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T, opts Options) *boltStore {
	t.Helper()
	raw, err := openBolt(filepath.Join(t.TempDir(), "nested", "runs.db"), normalizeOptions(opts))
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	store := raw.(*boltStore)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStoreMarksAndExpiresDeliveries(t *testing.T) {
	store := openTestStore(t, Options{DeliveryTTL: time.Hour, CleanupInterval: time.Hour})
	clock := time.Now()
	store.now = func() time.Time { return clock }

	delivered, err := store.Delivered("r1")
	if err != nil || delivered {
		t.Fatalf("expected undelivered run, delivered=%v err=%v", delivered, err)
	}

	if err := store.MarkDelivered(Delivery{RunToken: "r1", JobToken: "j1", MD5Sum: "abc"}); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	delivered, err = store.Delivered("r1")
	if err != nil || !delivered {
		t.Fatalf("expected run delivered, got delivered=%v err=%v", delivered, err)
	}

	clock = clock.Add(2 * time.Hour)
	delivered, err = store.Delivered("r1")
	if err != nil {
		t.Fatalf("Delivered after expiry: %v", err)
	}
	if delivered {
		t.Fatalf("expected delivery to expire")
	}
}

func TestBoltStoreCleanupSweepsExpired(t *testing.T) {
	store := openTestStore(t, Options{DeliveryTTL: time.Minute, CleanupInterval: time.Minute})
	clock := time.Now()
	store.now = func() time.Time { return clock }

	for _, tok := range []string{"a", "b"} {
		if err := store.MarkDelivered(Delivery{RunToken: tok}); err != nil {
			t.Fatalf("MarkDelivered %s: %v", tok, err)
		}
	}

	clock = clock.Add(5 * time.Minute)
	if err := store.MarkDelivered(Delivery{RunToken: "c"}); err != nil {
		t.Fatalf("MarkDelivered c: %v", err)
	}

	var keys int
	if err := store.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(deliveryBucket)).ForEach(func(_, _ []byte) error {
			keys++
			return nil
		})
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
	if keys != 1 {
		t.Fatalf("expected only the fresh delivery to remain, got %d keys", keys)
	}
}

func TestMarkDeliveredRequiresRunToken(t *testing.T) {
	store := openTestStore(t, Options{})
	if err := store.MarkDelivered(Delivery{JobToken: "j"}); err == nil {
		t.Fatalf("expected error for empty run token")
	}
}

func TestNewStoreSupportsNoop(t *testing.T) {
	store, err := NewStore("none", "", Options{})
	if err != nil {
		t.Fatalf("NewStore none: %v", err)
	}
	if err := store.MarkDelivered(Delivery{RunToken: "x"}); err != nil {
		t.Fatalf("noop store MarkDelivered: %v", err)
	}
	if _, err := NewStore("bbolt", " ", Options{}); err == nil {
		t.Fatalf("expected error for bbolt without path")
	}
	if _, err := NewStore("redis", "", Options{}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
