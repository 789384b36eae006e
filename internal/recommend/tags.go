package recommend

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sydlexius/crossfade/internal/cache"
	"github.com/sydlexius/crossfade/internal/provider"
)

// TagSource is the metadata-archive client behind tag lookups.
type TagSource interface {
	ArtistTags(ctx context.Context, artist string) ([]provider.Tag, error)
}

// TagService fetches and caches artist genre tags and computes tag-set
// overlap for ranking.
type TagService struct {
	source TagSource
	store  *cache.Store[[]string]
	logger *slog.Logger
}

// NewTagService creates a tag service.
func NewTagService(source TagSource, store *cache.Store[[]string], logger *slog.Logger) *TagService {
	return &TagService{source: source, store: store, logger: logger}
}

// ArtistTags returns the artist's tags, normalized to trimmed lowercase.
// Tags are cached as fetched and normalized on every read, so older
// entries stay usable if normalization rules change. Lookup failures
// yield an empty list.
func (s *TagService) ArtistTags(ctx context.Context, artist string) []string {
	key := strings.ToLower(strings.TrimSpace(artist))
	if key == "" {
		return nil
	}

	if cached, ok := s.store.Get(ctx, key); ok {
		return normalizeTags(cached)
	}

	fetched, err := s.source.ArtistTags(ctx, artist)
	if err != nil {
		s.logger.Warn("artist tag lookup failed",
			slog.String("artist", artist), slog.Any("error", err))
		return nil
	}

	names := make([]string, 0, len(fetched))
	for _, tag := range fetched {
		names = append(names, tag.Name)
	}
	if len(names) > 0 {
		if err := s.store.Put(ctx, key, names); err != nil {
			s.logger.Warn("caching artist tags failed", slog.Any("error", err))
		}
	}
	return normalizeTags(names)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Jaccard computes |a ∩ b| / |a ∪ b| over two tag sets. Either side empty
// yields 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
