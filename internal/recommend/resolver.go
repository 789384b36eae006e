package recommend

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/sydlexius/crossfade/internal/cache"
	"github.com/sydlexius/crossfade/internal/provider"
)

const (
	// trackLimit caps every candidate list regardless of strategy.
	trackLimit = 100
	// similarArtistLimit and tracksPerArtist shape the artist-level
	// fallback: a handful of top tracks from each similar artist.
	similarArtistLimit = 15
	tracksPerArtist    = 5
)

// SimilaritySource is the scrobble-graph client the resolver queries.
// Implementations absorb upstream failures and return empty slices.
type SimilaritySource interface {
	SimilarTracks(ctx context.Context, artist, track string, limit int) []provider.SimilarTrack
	SimilarArtists(ctx context.Context, artist string, limit int) []provider.SimilarArtist
	ArtistTopTracks(ctx context.Context, artist string, limit int) []provider.SimilarTrack
	GeoTopTracks(ctx context.Context, country string, limit int) []provider.SimilarTrack
}

// similarityResult is the cached shape: candidates plus the strategy that
// produced them.
type similarityResult struct {
	Strategy   string      `json:"strategy"`
	Candidates []Candidate `json:"candidates"`
}

// Resolver finds similarity candidates for a seed track, walking a chain
// of progressively broader strategies until one yields results.
type Resolver struct {
	source  SimilaritySource
	store   *cache.Store[similarityResult]
	country string
	logger  *slog.Logger
}

// NewResolver creates a resolver. country is the fallback region for the
// last-resort charts strategy.
func NewResolver(source SimilaritySource, db *sql.DB, country string, logger *slog.Logger) *Resolver {
	return &Resolver{
		source:  source,
		store:   cache.NewStore[similarityResult](db, cache.NamespaceSimilarity, logger),
		country: country,
		logger:  logger,
	}
}

// Resolve returns similarity candidates for the seed track and the name of
// the strategy that produced them. An empty candidate list with an empty
// strategy means every strategy came up dry; resolution itself never fails.
func (r *Resolver) Resolve(ctx context.Context, artist, track string) ([]Candidate, string) {
	key := nameKey(artist, track)

	if cached, ok := r.store.Get(ctx, key); ok {
		r.logger.Debug("similarity cache hit",
			slog.String("key", key), slog.String("strategy", cached.Strategy))
		return cached.Candidates, cached.Strategy
	}

	candidates, strategy := r.resolveFresh(ctx, artist, track)
	if len(candidates) > 0 {
		if err := r.store.Put(ctx, key, similarityResult{Strategy: strategy, Candidates: candidates}); err != nil {
			r.logger.Warn("caching similarity result failed", slog.Any("error", err))
		}
	}
	return candidates, strategy
}

func (r *Resolver) resolveFresh(ctx context.Context, artist, track string) ([]Candidate, string) {
	if tracks := r.source.SimilarTracks(ctx, artist, track, trackLimit); len(tracks) > 0 {
		return fromSimilarTracks(tracks), StrategySimilarTracks
	}

	if candidates := r.similarArtistTracks(ctx, artist, track); len(candidates) > 0 {
		return candidates, StrategySimilarArtists
	}

	if tracks := r.source.ArtistTopTracks(ctx, artist, trackLimit); len(tracks) > 0 {
		return fromSimilarTracks(tracks), StrategyArtistTop
	}

	if tracks := r.source.GeoTopTracks(ctx, r.country, trackLimit); len(tracks) > 0 {
		return fromSimilarTracks(tracks), StrategyGeoTop
	}

	r.logger.Info("no similarity data for seed",
		slog.String("artist", artist), slog.String("track", track))
	return nil, ""
}

// similarArtistTracks gathers a few top tracks from each artist similar to
// the seed's, carrying the artist-level match down to each track. The seed
// track itself and duplicates are skipped.
func (r *Resolver) similarArtistTracks(ctx context.Context, artist, track string) []Candidate {
	artists := r.source.SimilarArtists(ctx, artist, similarArtistLimit)
	if len(artists) == 0 {
		return nil
	}

	seedKey := nameKey(artist, track)
	seen := make(map[string]struct{})
	var candidates []Candidate
	for _, a := range artists {
		for _, t := range r.source.ArtistTopTracks(ctx, a.Name, tracksPerArtist) {
			key := nameKey(t.Artist, t.Name)
			if key == seedKey {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, Candidate{
				Name:     t.Name,
				Artist:   t.Artist,
				Match:    a.Match,
				URL:      t.URL,
				ImageURL: t.ImageURL,
			})
			if len(candidates) >= trackLimit {
				return candidates
			}
		}
	}
	return candidates
}

func fromSimilarTracks(tracks []provider.SimilarTrack) []Candidate {
	seen := make(map[string]struct{}, len(tracks))
	candidates := make([]Candidate, 0, len(tracks))
	for _, t := range tracks {
		key := nameKey(t.Artist, t.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, Candidate{
			Name:     t.Name,
			Artist:   t.Artist,
			Match:    t.Match,
			URL:      t.URL,
			ImageURL: t.ImageURL,
		})
		if len(candidates) >= trackLimit {
			break
		}
	}
	return candidates
}

// nameKey builds the normalized "artist|track" cache key.
func nameKey(artist, track string) string {
	return strings.ToLower(strings.TrimSpace(artist)) + "|" + strings.ToLower(strings.TrimSpace(track))
}
