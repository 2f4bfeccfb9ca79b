package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"termsguard/pkg/termsguard"
)

const boltOpenTimeout = time.Second

// Bolt persists namespaces as buckets of one bolt database file.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, fmt.Errorf("open bolt storage: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("open bolt storage %s: create directory: %w", path, err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt storage %s: %w", path, err)
	}

	return &Bolt{db: db}, nil
}

// Get reads one key. Missing buckets and keys report found=false.
func (b *Bolt) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("bolt storage get: %w", err)
	}

	var (
		value []byte
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		stored := bucket.Get([]byte(key))
		if stored == nil {
			return nil
		}
		value = append([]byte(nil), stored...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bolt storage get %s/%s: %w", namespace, key, err)
	}

	return value, found, nil
}

// Put writes one key, creating the namespace bucket on demand.
func (b *Bolt) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bolt storage put: %w", err)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("bolt storage put %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Delete removes one key.
func (b *Bolt) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bolt storage delete: %w", err)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("bolt storage delete %s/%s: %w", namespace, key, err)
	}

	return nil
}

// List copies every pair of one bucket.
func (b *Bolt) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bolt storage list: %w", err)
	}

	listed := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(key, value []byte) error {
			listed[string(key)] = append([]byte(nil), value...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt storage list %s: %w", namespace, err)
	}

	return listed, nil
}

// Clear drops the namespace bucket.
func (b *Bolt) Clear(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bolt storage clear: %w", err)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(namespace))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("bolt storage clear %s: %w", namespace, err)
	}

	return nil
}

// Close releases the database file lock.
func (b *Bolt) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close bolt storage: %w", err)
	}

	return nil
}

var _ termsguard.Storage = (*Bolt)(nil)
