package recommend

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sydlexius/crossfade/internal/spotify"
)

const (
	defaultLimit = 20
	maxLimit     = 50
)

// ErrInvalidTrackID is returned when the seed reference is unusable.
var ErrInvalidTrackID = errors.New("invalid track reference")

// Service orchestrates a full recommendation: seed lookup, similarity
// resolution, catalog mapping, and ranking.
type Service struct {
	tracks   *TrackCache
	resolver *Resolver
	mapper   *Mapper
	ranker   *Ranker
	tags     *TagService
	runner   TokenRunner
	logger   *slog.Logger
}

// NewService wires the recommendation pipeline together.
func NewService(tracks *TrackCache, resolver *Resolver, mapper *Mapper, ranker *Ranker, tags *TagService, runner TokenRunner, logger *slog.Logger) *Service {
	return &Service{
		tracks:   tracks,
		resolver: resolver,
		mapper:   mapper,
		ranker:   ranker,
		tags:     tags,
		runner:   runner,
		logger:   logger,
	}
}

// GetRecommendations produces up to limit ranked tracks similar to the
// seed. The seed may be a bare track ID, a URI, or a share URL. A limit
// outside 1..50 falls back to 20. Seed lookup failures propagate; every
// later stage degrades instead of failing.
func (s *Service) GetRecommendations(ctx context.Context, userID uuid.UUID, rawTrackID string, limit int) (*Recommendation, error) {
	trackID := spotify.NormalizeTrackID(rawTrackID)
	if trackID == "" {
		return nil, ErrInvalidTrackID
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var seed *spotify.Track
	err := s.runner.WithValidToken(ctx, userID, func(token string) error {
		t, err := s.tracks.Get(ctx, token, trackID)
		seed = t
		return err
	})
	if err != nil {
		return nil, err
	}

	candidates, strategy := s.resolver.Resolve(ctx, seed.Artist, seed.Name)
	if len(candidates) == 0 {
		return nil, ErrNoData
	}

	s.logger.Info("resolving recommendations",
		slog.String("seed", seed.Name),
		slog.String("artist", seed.Artist),
		slog.String("strategy", strategy),
		slog.Int("candidates", len(candidates)))

	mapped := s.mapper.MapCandidates(ctx, userID, candidates, limit)
	seedTags := s.tags.ArtistTags(ctx, seed.Artist)
	ranked := s.ranker.Rank(ctx, mapped, seedTags)

	tracks := make([]RecommendedTrack, 0, limit)
	for _, r := range ranked {
		if r.Track == nil || r.Track.ID == "" {
			continue
		}
		rec := RecommendedTrack{
			Track:      *r.Track,
			Score:      r.Score,
			RawMatch:   r.Candidate.Match,
			TagOverlap: r.TagOverlap,
			Confidence: r.Confidence,
			FromCache:  r.FromCache,
			SourceURL:  r.Candidate.URL,
		}
		// Artwork fallback: catalog, then similarity source, then seed.
		if rec.ImageURL == "" {
			rec.ImageURL = r.Candidate.ImageURL
		}
		if rec.ImageURL == "" {
			rec.ImageURL = seed.ImageURL
		}
		tracks = append(tracks, rec)
		if len(tracks) >= limit {
			break
		}
	}

	return &Recommendation{Seed: *seed, Strategy: strategy, Tracks: tracks}, nil
}
