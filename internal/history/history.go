// Package history keeps the bounded list of recently completed analyses.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"termsguard/pkg/termsguard"
)

const (
	// DefaultLimit is how many analyses the history keeps.
	DefaultLimit = 10

	storageKey = "analyses"
)

// Store persists history entries newest first under one storage key.
type Store struct {
	storage termsguard.Storage
	limit   int
	clock   func() time.Time
	newID   func() string
	logger  *slog.Logger

	mu sync.Mutex
}

// Option mutates store construction configuration.
type Option func(*Store)

// WithLimit configures how many entries are kept.
func WithLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger configures where undecodable history is reported.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator injects entry id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New creates a history store over storage.
func New(storage termsguard.Storage, options ...Option) *Store {
	store := &Store{
		storage: storage,
		limit:   DefaultLimit,
		clock:   time.Now,
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(store)
	}

	return store
}

// Add records one completed analysis at the front of the history.
func (s *Store) Add(ctx context.Context, pageURL string, result termsguard.AnalysisResult) (termsguard.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(ctx)
	if err != nil {
		return termsguard.HistoryEntry{}, fmt.Errorf("history add: %w", err)
	}

	now := s.clock()
	entry := termsguard.HistoryEntry{
		ID:           s.newID(),
		Timestamp:    now,
		URL:          pageURL,
		Domain:       hostOf(pageURL),
		Summary:      result.Summary,
		RiskAnalysis: result.RiskAnalysis,
		ProcessedAt:  now,
	}

	entries = append([]termsguard.HistoryEntry{entry}, entries...)
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}
	if err := s.saveLocked(ctx, entries); err != nil {
		return termsguard.HistoryEntry{}, fmt.Errorf("history add: %w", err)
	}

	return entry, nil
}

// Latest returns the most recent entry.
func (s *Store) Latest(ctx context.Context) (termsguard.HistoryEntry, bool, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return termsguard.HistoryEntry{}, false, err
	}
	if len(entries) == 0 {
		return termsguard.HistoryEntry{}, false, nil
	}

	return entries[0], true, nil
}

// FindByURL returns the most recent entry recorded for pageURL.
func (s *Store) FindByURL(ctx context.Context, pageURL string) (termsguard.HistoryEntry, bool, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return termsguard.HistoryEntry{}, false, err
	}
	for _, entry := range entries {
		if entry.URL == pageURL {
			return entry, true, nil
		}
	}

	return termsguard.HistoryEntry{}, false, nil
}

// List returns all entries newest first.
func (s *Store) List(ctx context.Context) ([]termsguard.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}

	return entries, nil
}

// Clear drops every entry.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Delete(ctx, termsguard.StorageNamespaceHistory, storageKey); err != nil {
		return fmt.Errorf("history clear: %w", err)
	}

	return nil
}

func (s *Store) loadLocked(ctx context.Context) ([]termsguard.HistoryEntry, error) {
	raw, found, err := s.storage.Get(ctx, termsguard.StorageNamespaceHistory, storageKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	// An undecodable blob is treated as empty; the next Add overwrites it.
	var entries []termsguard.HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.WarnContext(ctx, "history dropped undecodable entries", "error", err)
		return nil, nil
	}

	return entries, nil
}

func (s *Store) saveLocked(ctx context.Context, entries []termsguard.HistoryEntry) error {
	encoded, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	return s.storage.Put(ctx, termsguard.StorageNamespaceHistory, storageKey, encoded)
}

func hostOf(pageURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return ""
	}

	return strings.ToLower(parsed.Hostname())
}

var _ termsguard.AnalysisHistory = (*Store)(nil)
