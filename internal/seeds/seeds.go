// Package seeds lists tracks a user might want recommendations for: their
// listening history and catalog search results. Accounts without the
// needed scopes get empty lists rather than errors.
package seeds

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sydlexius/crossfade/internal/provider"
	"github.com/sydlexius/crossfade/internal/spotify"
)

const (
	defaultLimit = 20
	maxLimit     = 50
)

// Lister is the subset of the catalog client seed listing needs.
type Lister interface {
	GetTopTracks(ctx context.Context, token string, limit int, timeRange string) ([]spotify.Track, error)
	GetRecentlyPlayed(ctx context.Context, token string, limit int) ([]spotify.Track, error)
	SearchTracks(ctx context.Context, token, query string, limit int) ([]spotify.Track, error)
}

// TokenRunner runs a catalog operation with a valid access token.
type TokenRunner interface {
	WithValidToken(ctx context.Context, userID uuid.UUID, op func(token string) error) error
}

// Service lists seed tracks for a user.
type Service struct {
	catalog Lister
	runner  TokenRunner
	logger  *slog.Logger
}

// NewService creates a seed listing service.
func NewService(catalog Lister, runner TokenRunner, logger *slog.Logger) *Service {
	return &Service{catalog: catalog, runner: runner, logger: logger}
}

// TopTracks lists the user's most played tracks for a time range.
func (s *Service) TopTracks(ctx context.Context, userID uuid.UUID, limit int, timeRange string) ([]spotify.Track, error) {
	if timeRange == "" {
		timeRange = "medium_term"
	}
	limit = clampLimit(limit)

	var tracks []spotify.Track
	err := s.runner.WithValidToken(ctx, userID, func(token string) error {
		got, err := s.catalog.GetTopTracks(ctx, token, limit, timeRange)
		tracks = got
		return err
	})
	return s.finish(userID, "top tracks", tracks, err)
}

// RecentlyPlayed lists the user's recently played tracks.
func (s *Service) RecentlyPlayed(ctx context.Context, userID uuid.UUID, limit int) ([]spotify.Track, error) {
	limit = clampLimit(limit)

	var tracks []spotify.Track
	err := s.runner.WithValidToken(ctx, userID, func(token string) error {
		got, err := s.catalog.GetRecentlyPlayed(ctx, token, limit)
		tracks = got
		return err
	})
	return s.finish(userID, "recently played", tracks, err)
}

// Combined merges top tracks and recent plays, deduplicated by track ID
// with top tracks taking precedence.
func (s *Service) Combined(ctx context.Context, userID uuid.UUID, limit int) ([]spotify.Track, error) {
	limit = clampLimit(limit)

	top, err := s.TopTracks(ctx, userID, limit, "")
	if err != nil {
		return nil, err
	}
	recent, err := s.RecentlyPlayed(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(top))
	combined := make([]spotify.Track, 0, limit)
	for _, t := range append(top, recent...) {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		combined = append(combined, t)
		if len(combined) >= limit {
			break
		}
	}
	return combined, nil
}

// Search finds catalog tracks matching a free-form query.
func (s *Service) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]spotify.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	limit = clampLimit(limit)

	var tracks []spotify.Track
	err := s.runner.WithValidToken(ctx, userID, func(token string) error {
		got, err := s.catalog.SearchTracks(ctx, token, query, limit)
		tracks = got
		return err
	})
	return s.finish(userID, "search", tracks, err)
}

// finish applies the shared error policy: a forbidden result means the
// account lacks a scope and yields an empty list, anything else propagates.
func (s *Service) finish(userID uuid.UUID, op string, tracks []spotify.Track, err error) ([]spotify.Track, error) {
	if err != nil {
		if provider.IsForbidden(err) {
			s.logger.Info("missing scope, returning empty seed list",
				slog.String("user_id", userID.String()), slog.String("op", op))
			return nil, nil
		}
		return nil, err
	}
	return tracks, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
