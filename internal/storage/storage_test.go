package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"termsguard/pkg/termsguard"
)

const envTestRedisAddr = "TERMSGUARD_TEST_REDIS_ADDR"

func TestStorageImplementations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		open func(t *testing.T) termsguard.Storage
	}{
		{
			name: "memory",
			open: func(t *testing.T) termsguard.Storage {
				return NewMemory()
			},
		},
		{
			name: "bolt",
			open: func(t *testing.T) termsguard.Storage {
				store, err := OpenBolt(filepath.Join(t.TempDir(), "data", "termsguard.db"))
				if err != nil {
					t.Fatalf("open bolt failed: %v", err)
				}
				return store
			},
		},
		{
			name: "redis",
			open: func(t *testing.T) termsguard.Storage {
				addr := os.Getenv(envTestRedisAddr)
				if addr == "" {
					t.Skipf("%s not set", envTestRedisAddr)
				}
				store, err := NewRedis(context.Background(), RedisConfig{
					Addr:      addr,
					KeyPrefix: "termsguard-test-" + t.Name(),
				})
				if err != nil {
					t.Fatalf("new redis failed: %v", err)
				}
				return store
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			store := testCase.open(t)
			t.Cleanup(func() { _ = store.Close() })
			exerciseStorage(t, store)
		})
	}
}

func exerciseStorage(t *testing.T, store termsguard.Storage) {
	t.Helper()
	ctx := context.Background()

	if err := store.Clear(ctx, "alpha"); err != nil {
		t.Fatalf("clear missing namespace failed: %v", err)
	}
	if _, found, err := store.Get(ctx, "alpha", "missing"); err != nil || found {
		t.Fatalf("get missing = (found %v, err %v), want (false, nil)", found, err)
	}

	mustPut(t, store, "alpha", "k1", "v1")
	mustPut(t, store, "alpha", "k2", "v2")
	mustPut(t, store, "beta", "k1", "other")
	mustPut(t, store, "alpha", "k1", "v1-updated")

	value, found, err := store.Get(ctx, "alpha", "k1")
	if err != nil || !found {
		t.Fatalf("get k1 = (found %v, err %v), want found", found, err)
	}
	if string(value) != "v1-updated" {
		t.Fatalf("k1 = %q, want v1-updated", value)
	}

	listed, err := store.List(ctx, "alpha")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	got := make(map[string]string, len(listed))
	for key, raw := range listed {
		got[key] = string(raw)
	}
	want := map[string]string{"k1": "v1-updated", "k2": "v2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}

	if err := store.Delete(ctx, "alpha", "k2"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, found, _ := store.Get(ctx, "alpha", "k2"); found {
		t.Fatal("k2 still present after delete")
	}

	if err := store.Clear(ctx, "alpha"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	listed, err = store.List(ctx, "alpha")
	if err != nil {
		t.Fatalf("list after clear failed: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("list after clear = %d entries, want 0", len(listed))
	}
	if value, found, _ := store.Get(ctx, "beta", "k1"); !found || string(value) != "other" {
		t.Fatalf("beta/k1 = (%q, %v), want untouched", value, found)
	}
}

func mustPut(t *testing.T, store termsguard.Storage, namespace, key, value string) {
	t.Helper()
	if err := store.Put(context.Background(), namespace, key, []byte(value)); err != nil {
		t.Fatalf("put %s/%s failed: %v", namespace, key, err)
	}
}

func TestMemoryRejectsUseAfterClose(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	err := store.Put(context.Background(), "alpha", "k", []byte("v"))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("put after close error = %v, want ErrClosed", err)
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "persist.db")
	first, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	mustPut(t, first, termsguard.StorageNamespaceCache, "key", "value")
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	second, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	value, found, err := second.Get(context.Background(), termsguard.StorageNamespaceCache, "key")
	if err != nil || !found || string(value) != "value" {
		t.Fatalf("get after reopen = (%q, %v, %v), want (value, true, nil)", value, found, err)
	}
}
