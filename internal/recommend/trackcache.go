package recommend

import (
	"context"
	"log/slog"

	"github.com/sydlexius/crossfade/internal/cache"
	"github.com/sydlexius/crossfade/internal/spotify"
)

// Catalog is the subset of the catalog client the recommender needs.
type Catalog interface {
	GetTrack(ctx context.Context, token, trackID string) (*spotify.Track, error)
	SearchTrack(ctx context.Context, token, name, artist string) (*spotify.Track, error)
}

// TrackCache caches full catalog track details keyed by track ID. An entry
// is complete only when it carries artwork; incomplete hits trigger a
// refetch that overwrites the entry, falling back to the stale copy when
// the refetch fails.
type TrackCache struct {
	catalog Catalog
	store   *cache.Store[spotify.Track]
	logger  *slog.Logger
}

// NewTrackCache creates a track detail cache over the catalog.
func NewTrackCache(catalog Catalog, store *cache.Store[spotify.Track], logger *slog.Logger) *TrackCache {
	return &TrackCache{catalog: catalog, store: store, logger: logger}
}

// Put stores a snapshot directly, for callers that already hold the full
// track from a search result.
func (c *TrackCache) Put(ctx context.Context, track spotify.Track) error {
	if track.ID == "" {
		return nil
	}
	return c.store.Put(ctx, track.ID, track)
}

// Get returns the track's catalog details, from cache when complete.
func (c *TrackCache) Get(ctx context.Context, token, trackID string) (*spotify.Track, error) {
	cached, ok := c.store.Get(ctx, trackID)
	if ok && cached.ImageURL != "" {
		return &cached, nil
	}

	fetched, err := c.catalog.GetTrack(ctx, token, trackID)
	if err != nil {
		if ok {
			// Refetch of an incomplete entry failed; the stale copy is
			// still better than nothing.
			c.logger.Warn("track refetch failed, serving stale entry",
				slog.String("track_id", trackID), slog.Any("error", err))
			return &cached, nil
		}
		return nil, err
	}

	if err := c.store.Put(ctx, trackID, *fetched); err != nil {
		c.logger.Warn("caching track failed",
			slog.String("track_id", trackID), slog.Any("error", err))
	}
	return fetched, nil
}
