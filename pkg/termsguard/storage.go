package termsguard

import "context"

// Storage namespaces used by the built-in components.
const (
	StorageNamespaceCache   = "cache"
	StorageNamespaceHistory = "history"
	StorageNamespaceStats   = "stats"
)

// Storage is a namespaced byte key/value store.
//
// Implementations must be concurrency-safe. Get reports absence with
// found=false and a nil error.
type Storage interface {
	Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	// List returns every key/value pair of one namespace.
	List(ctx context.Context, namespace string) (map[string][]byte, error)
	// Clear removes every key of one namespace.
	Clear(ctx context.Context, namespace string) error
	Close() error
}
