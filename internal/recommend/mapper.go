package recommend

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sydlexius/crossfade/internal/cache"
	"github.com/sydlexius/crossfade/internal/spotify"
)

// TokenRunner runs a catalog operation with a valid access token for the
// given user. Implemented by the auth coordinator.
type TokenRunner interface {
	WithValidToken(ctx context.Context, userID uuid.UUID, op func(token string) error) error
}

// identityEntry is the cached catalog identity for one candidate key.
type identityEntry struct {
	Track      spotify.Track `json:"track"`
	Confidence float64       `json:"confidence"`
}

// Mapper resolves similarity candidates to catalog tracks. Resolved
// identities are cached under both the candidate's name key and the
// track's ISRC; duplicates collapsing to the same recording are dropped,
// preferring the ISRC as the dedupe key when the catalog supplies one.
// Full track details go through the shared snapshot cache: search results
// are stored there, and identity hits are re-enriched from it so the
// refetch-on-incomplete rule applies to candidates too.
type Mapper struct {
	catalog Catalog
	runner  TokenRunner
	tracks  *TrackCache
	store   *cache.Store[identityEntry]
	logger  *slog.Logger
}

// NewMapper creates a candidate mapper.
func NewMapper(catalog Catalog, runner TokenRunner, tracks *TrackCache, db *sql.DB, logger *slog.Logger) *Mapper {
	return &Mapper{
		catalog: catalog,
		runner:  runner,
		tracks:  tracks,
		store:   cache.NewStore[identityEntry](db, cache.NamespaceIdentity, logger),
		logger:  logger,
	}
}

// MapCandidates resolves candidates against the catalog in order. The
// number examined is bounded by a processing budget derived from
// desiredCount, and examination stops early once enough candidates have
// mapped. Candidates the catalog cannot match are kept with a nil Track
// and zero confidence so ranking can still consider them.
func (m *Mapper) MapCandidates(ctx context.Context, userID uuid.UUID, candidates []Candidate, desiredCount int) []Mapped {
	budget := processingBudget(len(candidates), desiredCount)
	threshold := mappedThreshold(desiredCount)

	seen := make(map[string]struct{})
	out := make([]Mapped, 0, budget)
	mappedCount := 0

	for _, c := range candidates[:budget] {
		key := identityNameKey(c.Artist, c.Name)
		track, confidence, fromCache := m.resolve(ctx, userID, key, c)

		dedupeKey := key
		if track != nil {
			if track.ISRC != "" {
				dedupeKey = isrcKey(track.ISRC)
			} else {
				dedupeKey = identityNameKey(track.Artist, track.Name)
			}
		}
		if _, dup := seen[dedupeKey]; dup {
			continue
		}
		seen[dedupeKey] = struct{}{}

		out = append(out, Mapped{Candidate: c, Track: track, Confidence: confidence, FromCache: fromCache})
		if track != nil {
			mappedCount++
			if threshold > 0 && mappedCount >= threshold {
				break
			}
		}
	}

	m.logger.Debug("candidates mapped",
		slog.Int("examined", len(out)),
		slog.Int("mapped", mappedCount),
		slog.Int("budget", budget))
	return out
}

// resolve looks up or searches one candidate's catalog identity.
func (m *Mapper) resolve(ctx context.Context, userID uuid.UUID, key string, c Candidate) (*spotify.Track, float64, bool) {
	if entry, ok := m.store.Get(ctx, key); ok {
		confidence := entry.Confidence
		if confidence <= 0 {
			confidence = 1.0
		}
		track := entry.Track
		if snapshot := m.snapshot(ctx, userID, track.ID); snapshot != nil {
			track = *snapshot
		}
		return &track, confidence, true
	}

	var found *spotify.Track
	err := m.runner.WithValidToken(ctx, userID, func(token string) error {
		t, err := m.catalog.SearchTrack(ctx, token, c.Name, c.Artist)
		found = t
		return err
	})
	if err != nil {
		// A failed search is just a miss; the candidate stays unmapped.
		m.logger.Debug("candidate search failed",
			slog.String("artist", c.Artist), slog.String("track", c.Name),
			slog.Any("error", err))
		return nil, 0, false
	}
	if found == nil {
		return nil, 0, false
	}

	confidence := c.Match
	if confidence <= 0 {
		confidence = 1.0
	}
	entry := identityEntry{Track: *found, Confidence: confidence}
	if err := m.store.Put(ctx, key, entry); err != nil {
		m.logger.Warn("caching identity failed", slog.Any("error", err))
	}
	if found.ISRC != "" {
		if err := m.store.Put(ctx, isrcKey(found.ISRC), entry); err != nil {
			m.logger.Warn("caching identity failed", slog.Any("error", err))
		}
	}
	if err := m.tracks.Put(ctx, *found); err != nil {
		m.logger.Warn("caching track snapshot failed", slog.Any("error", err))
	}
	return found, confidence, false
}

// snapshot re-reads the candidate's current catalog details, best effort.
// The identity entry freezes the track as it looked when first resolved;
// the snapshot cache applies the refetch-on-incomplete rule and tracks
// popularity drift.
func (m *Mapper) snapshot(ctx context.Context, userID uuid.UUID, trackID string) *spotify.Track {
	if trackID == "" {
		return nil
	}
	var track *spotify.Track
	err := m.runner.WithValidToken(ctx, userID, func(token string) error {
		t, err := m.tracks.Get(ctx, token, trackID)
		track = t
		return err
	})
	if err != nil {
		m.logger.Debug("snapshot enrichment failed",
			slog.String("track_id", trackID), slog.Any("error", err))
		return nil
	}
	return track
}

// processingBudget bounds how many candidates get examined: generous
// enough to survive misses, but never the whole list for small requests.
// A non-positive desired count means the caller wants everything.
func processingBudget(available, desiredCount int) int {
	if desiredCount <= 0 {
		return available
	}
	budget := desiredCount + 15
	if tripled := desiredCount * 3; tripled > budget {
		budget = tripled
	}
	if budget > available {
		budget = available
	}
	return budget
}

// mappedThreshold is how many successful mappings end examination early.
// Zero means unbounded.
func mappedThreshold(desiredCount int) int {
	if desiredCount <= 0 {
		return 0
	}
	threshold := desiredCount + 5
	if doubled := desiredCount * 2; doubled > threshold {
		threshold = doubled
	}
	return threshold
}

func identityNameKey(artist, track string) string {
	return "name:" + nameKey(artist, track)
}

func isrcKey(isrc string) string {
	return "isrc:" + strings.ToUpper(isrc)
}
