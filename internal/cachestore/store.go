package cachestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"termsguard/pkg/termsguard"
)

const (
	// DefaultTTL bounds how long a cached analysis stays fresh.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultMaxEntries bounds the number of cached analyses.
	DefaultMaxEntries = 100
	// DefaultEvictBatch is how many least-recently-accessed entries one full insert evicts.
	DefaultEvictBatch = 10
	// DefaultPurgeInterval is how often StartPurge sweeps expired entries.
	DefaultPurgeInterval = 10 * time.Minute
)

// Entry is one cached analysis of a document instance.
type Entry struct {
	CacheKey       string                    `json:"cache_key"`
	URL            string                    `json:"url"`
	ContentHash    string                    `json:"content_hash"`
	Result         termsguard.AnalysisResult `json:"result"`
	Metadata       map[string]string         `json:"metadata,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	LastAccessedAt time.Time                 `json:"last_accessed_at"`
	AccessCount    int                       `json:"access_count"`
}

func (e *Entry) clone() Entry {
	cloned := *e
	cloned.Metadata = maps.Clone(e.Metadata)

	return cloned
}

type config struct {
	ttl        time.Duration
	maxEntries int
	evictBatch int
	clock      func() time.Time
	logger     *slog.Logger
	policy     *Policy
}

// Option mutates store construction configuration.
type Option func(*config)

// WithTTL configures entry freshness.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *config) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMaxEntries configures the entry bound.
func WithMaxEntries(maxEntries int) Option {
	return func(cfg *config) {
		if maxEntries > 0 {
			cfg.maxEntries = maxEntries
		}
	}
}

// WithEvictBatch configures how many entries one full insert evicts.
func WithEvictBatch(batch int) Option {
	return func(cfg *config) {
		if batch > 0 {
			cfg.evictBatch = batch
		}
	}
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithLogger configures the logger used for swallowed storage failures.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithPolicy configures the URL caching policy.
func WithPolicy(policy *Policy) Option {
	return func(cfg *config) {
		if policy != nil {
			cfg.policy = policy
		}
	}
}

// Store is the content-addressed analysis cache.
//
// Entries are mirrored in memory and written through to Storage after every
// mutation. Storage failures are logged and never returned.
type Store struct {
	cfg     config
	storage termsguard.Storage

	mu      sync.Mutex
	entries map[string]*Entry
	loaded  bool
}

// New creates a cache store over storage.
func New(storage termsguard.Storage, options ...Option) *Store {
	cfg := config{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		evictBatch: DefaultEvictBatch,
		clock:      time.Now,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.policy == nil {
		policy, err := NewPolicy(DefaultExcludedNetworks)
		if err != nil {
			cfg.logger.Error("cache store default policy", "error", err)
		}
		cfg.policy = policy
	}

	return &Store{
		cfg:     cfg,
		storage: storage,
		entries: make(map[string]*Entry),
	}
}

// Load reads persisted entries and purges expired ones. It returns the number
// of fresh entries kept. Later operations load lazily when Load was not called.
func (s *Store) Load(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loaded = false
	s.ensureLoadedLocked(ctx)

	return len(s.entries)
}

// Get returns the fresh entry for (url, contentHash) and records the access.
func (s *Store) Get(ctx context.Context, url, contentHash string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	key := ComputeKey(url, contentHash)
	entry, exists := s.entries[key]
	if !exists {
		return Entry{}, false
	}

	now := s.cfg.clock()
	if s.expired(entry, now) {
		delete(s.entries, key)
		s.deleteStored(ctx, key)
		return Entry{}, false
	}

	entry.AccessCount++
	if now.After(entry.LastAccessedAt) {
		entry.LastAccessedAt = now
	}
	s.persist(ctx, entry)

	return entry.clone(), true
}

// Put caches result for (url, contentHash), evicting least-recently-accessed
// entries first when the store is full.
func (s *Store) Put(
	ctx context.Context,
	url string,
	contentHash string,
	result termsguard.AnalysisResult,
	metadata map[string]string,
) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	key := ComputeKey(url, contentHash)
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.cfg.maxEntries {
		// A batch as large as the store still spares the most recently accessed entry.
		batch := min(s.cfg.evictBatch, len(s.entries)-1)
		s.evictLocked(ctx, max(batch, len(s.entries)-s.cfg.maxEntries+1))
	}

	now := s.cfg.clock()
	entry := &Entry{
		CacheKey:       key,
		URL:            url,
		ContentHash:    contentHash,
		Result:         result,
		Metadata:       maps.Clone(metadata),
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    1,
	}
	s.entries[key] = entry
	s.persist(ctx, entry)

	return entry.clone()
}

// Clear drops every entry.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)
	s.loaded = true
	if err := s.storage.Clear(ctx, termsguard.StorageNamespaceCache); err != nil {
		s.cfg.logger.WarnContext(ctx, "cache store clear failed", "error", err)
	}
}

// PurgeExpired removes stale entries and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	return s.purgeExpiredLocked(ctx)
}

// StartPurge removes expired entries every interval until ctx is canceled.
func (s *Store) StartPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := s.PurgeExpired(ctx); purged > 0 {
				s.cfg.logger.DebugContext(ctx, "analysis cache purged expired entries", "count", purged)
			}
		}
	}
}

// Stats summarizes current cache contents.
func (s *Store) Stats(ctx context.Context) termsguard.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	stats := termsguard.CacheStats{
		TotalEntries: len(s.entries),
		MaxEntries:   s.cfg.maxEntries,
	}
	if len(s.entries) == 0 {
		return stats
	}

	totalAccess := 0
	var oldest, newest time.Time
	for _, entry := range s.entries {
		encoded, err := json.Marshal(entry)
		if err == nil {
			stats.TotalSizeBytes += int64(len(encoded))
		}
		totalAccess += entry.AccessCount
		if oldest.IsZero() || entry.CreatedAt.Before(oldest) {
			oldest = entry.CreatedAt
		}
		if newest.IsZero() || entry.CreatedAt.After(newest) {
			newest = entry.CreatedAt
		}
	}
	stats.AvgAccessCount = float64(totalAccess) / float64(len(s.entries))
	stats.UtilizationPercent = float64(len(s.entries)) / float64(s.cfg.maxEntries) * 100
	stats.OldestEntry = &oldest
	stats.NewestEntry = &newest

	return stats
}

// ShouldCache reports whether results for url may be cached.
func (s *Store) ShouldCache(url string) bool {
	return s.cfg.policy.ShouldCache(url)
}

func (s *Store) expired(entry *Entry, now time.Time) bool {
	return now.Sub(entry.CreatedAt) > s.cfg.ttl
}

func (s *Store) ensureLoadedLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	stored, err := s.storage.List(ctx, termsguard.StorageNamespaceCache)
	if err != nil {
		s.cfg.logger.WarnContext(ctx, "cache store load failed", "error", err)
		return
	}

	s.entries = make(map[string]*Entry, len(stored))
	for key, raw := range stored {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			s.cfg.logger.WarnContext(ctx, "cache store dropping undecodable entry", "cache_key", key, "error", err)
			s.deleteStored(ctx, key)
			continue
		}
		entry.CacheKey = key
		s.entries[key] = &entry
	}

	if purged := s.purgeExpiredLocked(ctx); purged > 0 {
		s.cfg.logger.InfoContext(ctx, "cache store purged expired entries", "count", purged)
	}
}

func (s *Store) purgeExpiredLocked(ctx context.Context) int {
	now := s.cfg.clock()
	purged := 0
	for key, entry := range s.entries {
		if !s.expired(entry, now) {
			continue
		}
		delete(s.entries, key)
		s.deleteStored(ctx, key)
		purged++
	}

	return purged
}

// evictLocked removes the count least-recently-accessed entries.
func (s *Store) evictLocked(ctx context.Context, count int) {
	candidates := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		left, right := candidates[i], candidates[j]
		if !left.LastAccessedAt.Equal(right.LastAccessedAt) {
			return left.LastAccessedAt.Before(right.LastAccessedAt)
		}
		if !left.CreatedAt.Equal(right.CreatedAt) {
			return left.CreatedAt.Before(right.CreatedAt)
		}
		return left.CacheKey < right.CacheKey
	})

	count = min(count, len(candidates))
	for _, entry := range candidates[:count] {
		delete(s.entries, entry.CacheKey)
		s.deleteStored(ctx, entry.CacheKey)
	}
	s.cfg.logger.DebugContext(ctx, "cache store evicted entries", "count", count)
}

func (s *Store) persist(ctx context.Context, entry *Entry) {
	encoded, err := json.Marshal(entry)
	if err != nil {
		s.cfg.logger.WarnContext(ctx, "cache store encode failed", "cache_key", entry.CacheKey, "error", err)
		return
	}
	if err := s.storage.Put(ctx, termsguard.StorageNamespaceCache, entry.CacheKey, encoded); err != nil {
		s.cfg.logger.WarnContext(ctx, "cache store persist failed", "cache_key", entry.CacheKey, "error", err)
	}
}

func (s *Store) deleteStored(ctx context.Context, key string) {
	if err := s.storage.Delete(ctx, termsguard.StorageNamespaceCache, key); err != nil {
		s.cfg.logger.WarnContext(ctx, "cache store delete failed", "cache_key", key, "error", err)
	}
}
