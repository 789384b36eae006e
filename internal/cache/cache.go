// Package cache provides a namespaced TTL cache backed by SQLite. Values
// are stored as JSON so any serializable type works; each namespace carries
// its own time-to-live. Expired entries are deleted lazily on read and
// swept in bulk by the maintenance scheduler.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Namespace identifies a logical cache region with a uniform TTL.
type Namespace string

const (
	// NamespaceIdentity holds resolved catalog identities keyed by
	// normalized name or ISRC.
	NamespaceIdentity Namespace = "identity"
	// NamespaceTrack holds full catalog track details keyed by track ID.
	NamespaceTrack Namespace = "track"
	// NamespaceTags holds artist tag lists keyed by normalized artist name.
	NamespaceTags Namespace = "tags"
	// NamespaceSimilarity holds similarity candidate lists keyed by
	// normalized "artist|track".
	NamespaceSimilarity Namespace = "similarity"
)

// TTL returns the time-to-live for entries in this namespace.
func (n Namespace) TTL() time.Duration {
	switch n {
	case NamespaceIdentity, NamespaceTrack:
		return 7 * 24 * time.Hour
	case NamespaceTags:
		return 30 * 24 * time.Hour
	case NamespaceSimilarity:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Namespaces lists every known namespace, for bulk maintenance.
func Namespaces() []Namespace {
	return []Namespace{NamespaceIdentity, NamespaceTrack, NamespaceTags, NamespaceSimilarity}
}

// Store reads and writes values of type V in one namespace.
type Store[V any] struct {
	db        *sql.DB
	namespace Namespace
	ttl       time.Duration
	logger    *slog.Logger
}

// NewStore creates a store for the given namespace using its default TTL.
func NewStore[V any](db *sql.DB, namespace Namespace, logger *slog.Logger) *Store[V] {
	return &Store[V]{
		db:        db,
		namespace: namespace,
		ttl:       namespace.TTL(),
		logger:    logger.With(slog.String("cache", string(namespace))),
	}
}

// Get returns the cached value for key, or ok=false when the key is
// absent, expired, or unreadable. Expired rows are deleted on the spot.
func (s *Store[V]) Get(ctx context.Context, key string) (value V, ok bool) {
	var zero V

	var raw string
	var cachedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT value, cached_at FROM cache_entries WHERE namespace = ? AND cache_key = ?`,
		string(s.namespace), key,
	).Scan(&raw, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false
	}
	if err != nil {
		s.logger.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
		return zero, false
	}

	when, err := time.Parse(time.RFC3339, cachedAt)
	if err != nil || time.Since(when) > s.ttl {
		s.delete(ctx, key)
		return zero, false
	}

	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		// Stored shape no longer matches the type; treat as a miss.
		s.logger.Warn("cache entry unreadable", slog.String("key", key), slog.Any("error", err))
		s.delete(ctx, key)
		return zero, false
	}
	return value, true
}

// Put stores value under key, replacing any existing entry and resetting
// its age.
func (s *Store[V]) Put(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (namespace, cache_key, value, cached_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, cache_key) DO UPDATE SET
		   value = excluded.value,
		   cached_at = excluded.cached_at`,
		string(s.namespace), key, string(raw), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func (s *Store[V]) delete(ctx context.Context, key string) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE namespace = ? AND cache_key = ?`,
		string(s.namespace), key,
	); err != nil {
		s.logger.Warn("cache delete failed", slog.String("key", key), slog.Any("error", err))
	}
}

// PurgeExpired deletes all expired rows in namespace and returns the count.
func PurgeExpired(ctx context.Context, db *sql.DB, namespace Namespace) (int64, error) {
	cutoff := time.Now().UTC().Add(-namespace.TTL()).Format(time.RFC3339)
	res, err := db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE namespace = ? AND cached_at < ?`,
		string(namespace), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purging %s cache: %w", namespace, err)
	}
	return res.RowsAffected()
}
