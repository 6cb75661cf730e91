package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

const deliveryBucket = "deliveries"

// boltStore keeps one JSON-encoded Delivery per run token.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	ttl             time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
}

func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(deliveryBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	store := &boltStore{
		db:              db,
		ttl:             opts.DeliveryTTL,
		cleanupInterval: opts.CleanupInterval,
		now:             time.Now,
	}
	store.lastCleanup.Store(store.now().Unix())
	return store, nil
}

func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Delivered reports whether an unexpired delivery exists for runToken.
// Expired records are removed on read.
func (b *boltStore) Delivered(runToken string) (bool, error) {
	if b == nil || b.db == nil {
		return false, nil
	}
	now := b.now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return false, err
	}

	var found bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := deliveries(tx)
		if err != nil {
			return err
		}
		key := []byte(runToken)
		value := bucket.Get(key)
		if value == nil {
			return nil
		}
		if d, ok := decodeDelivery(value); ok && d.ExpiresAt.After(now) {
			found = true
			return nil
		}
		return bucket.Delete(key)
	})
	return found, err
}

// MarkDelivered stores d, stamping DeliveredAt and ExpiresAt.
func (b *boltStore) MarkDelivered(d Delivery) error {
	if b == nil || b.db == nil {
		return nil
	}
	if strings.TrimSpace(d.RunToken) == "" {
		return fmt.Errorf("delivery run token is empty")
	}

	now := b.now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = now.UTC()
	}
	d.ExpiresAt = now.Add(b.ttl).UTC()
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := deliveries(tx)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(d.RunToken), raw)
	})
}

// maybeCleanupExpired sweeps expired deliveries at most once per cleanup interval.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := deliveries(tx)
		if err != nil {
			return err
		}
		var expired [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			if d, ok := decodeDelivery(v); !ok || !d.ExpiresAt.After(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

func deliveries(tx *bolt.Tx) (*bolt.Bucket, error) {
	bucket := tx.Bucket([]byte(deliveryBucket))
	if bucket == nil {
		return nil, fmt.Errorf("delivery bucket missing")
	}
	return bucket, nil
}

func decodeDelivery(value []byte) (Delivery, bool) {
	var d Delivery
	if err := json.Unmarshal(value, &d); err != nil || d.ExpiresAt.IsZero() {
		return Delivery{}, false
	}
	return d, true
}
