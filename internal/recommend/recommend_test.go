package recommend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sydlexius/crossfade/internal/cache"
	"github.com/sydlexius/crossfade/internal/database"
	"github.com/sydlexius/crossfade/internal/provider"
	"github.com/sydlexius/crossfade/internal/spotify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

func intPtr(n int) *int { return &n }

// fakeSimilarity serves canned scrobble-graph responses and counts calls.
type fakeSimilarity struct {
	similarTracks map[string][]provider.SimilarTrack
	similarArtist map[string][]provider.SimilarArtist
	topTracks     map[string][]provider.SimilarTrack
	geoTracks     map[string][]provider.SimilarTrack

	similarTrackCalls int
}

func (f *fakeSimilarity) SimilarTracks(_ context.Context, artist, track string, _ int) []provider.SimilarTrack {
	f.similarTrackCalls++
	return f.similarTracks[strings.ToLower(artist)+"|"+strings.ToLower(track)]
}

func (f *fakeSimilarity) SimilarArtists(_ context.Context, artist string, _ int) []provider.SimilarArtist {
	return f.similarArtist[strings.ToLower(artist)]
}

func (f *fakeSimilarity) ArtistTopTracks(_ context.Context, artist string, limit int) []provider.SimilarTrack {
	tracks := f.topTracks[strings.ToLower(artist)]
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks
}

func (f *fakeSimilarity) GeoTopTracks(_ context.Context, country string, _ int) []provider.SimilarTrack {
	return f.geoTracks[country]
}

type fakeTagSource struct {
	tags  map[string][]provider.Tag
	err   error
	calls int
}

func (f *fakeTagSource) ArtistTags(_ context.Context, artist string) ([]provider.Tag, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tags[strings.ToLower(artist)], nil
}

type fakeCatalog struct {
	byID    map[string]*spotify.Track
	matches map[string]*spotify.Track

	getErr    error
	searchErr error

	getCalls    int
	searchCalls int
}

func (f *fakeCatalog) GetTrack(_ context.Context, _, trackID string) (*spotify.Track, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if t, ok := f.byID[trackID]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, &provider.NotFoundError{Provider: provider.NameSpotify, ID: trackID}
}

func (f *fakeCatalog) SearchTrack(_ context.Context, _, name, artist string) (*spotify.Track, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if t, ok := f.matches[strings.ToLower(artist)+"|"+strings.ToLower(name)]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

type fakeRunner struct{}

func (fakeRunner) WithValidToken(_ context.Context, _ uuid.UUID, op func(token string) error) error {
	return op("test-token")
}

func newResolver(t *testing.T, source SimilaritySource) *Resolver {
	t.Helper()
	return NewResolver(source, testDB(t), "united states", testLogger())
}

func TestResolverSimilarTracksStrategy(t *testing.T) {
	source := &fakeSimilarity{
		similarTracks: map[string][]provider.SimilarTrack{
			"radiohead|karma police": {
				{Name: "Paranoid Android", Artist: "Radiohead", Match: 0.95, URL: "https://last.fm/pa", ImageURL: "https://img/pa"},
				{Name: "No Surprises", Artist: "Radiohead", Match: 0.88},
			},
		},
	}
	resolver := newResolver(t, source)

	candidates, strategy := resolver.Resolve(context.Background(), "Radiohead", "Karma Police")
	if strategy != StrategySimilarTracks {
		t.Errorf("strategy = %q, want %q", strategy, StrategySimilarTracks)
	}
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}
	if candidates[0].Match != 0.95 {
		t.Errorf("Match = %v", candidates[0].Match)
	}
	if candidates[0].URL != "https://last.fm/pa" || candidates[0].ImageURL != "https://img/pa" {
		t.Errorf("source url/image not carried: %+v", candidates[0])
	}
}

func TestResolverFallsBackToSimilarArtists(t *testing.T) {
	source := &fakeSimilarity{
		similarArtist: map[string][]provider.SimilarArtist{
			"radiohead": {
				{Name: "Thom Yorke", Match: 0.9},
				{Name: "Portishead", Match: 0.7},
			},
		},
		topTracks: map[string][]provider.SimilarTrack{
			"thom yorke": {
				{Name: "Hearing Damage", Artist: "Thom Yorke"},
				{Name: "Black Swan", Artist: "Thom Yorke"},
			},
			"portishead": {
				{Name: "Glory Box", Artist: "Portishead"},
				// Duplicate of a track already collected.
				{Name: "Hearing Damage", Artist: "Thom Yorke"},
			},
		},
	}
	resolver := newResolver(t, source)

	candidates, strategy := resolver.Resolve(context.Background(), "Radiohead", "Karma Police")
	if strategy != StrategySimilarArtists {
		t.Errorf("strategy = %q, want %q", strategy, StrategySimilarArtists)
	}
	if len(candidates) != 3 {
		t.Fatalf("got %d candidates, want 3 (duplicate collapsed)", len(candidates))
	}
	if candidates[0].Match != 0.9 {
		t.Errorf("artist match not carried to track: %v", candidates[0].Match)
	}
	if candidates[2].Match != 0.7 {
		t.Errorf("second artist match = %v, want 0.7", candidates[2].Match)
	}
}

func TestResolverExcludesSeedFromArtistFallback(t *testing.T) {
	source := &fakeSimilarity{
		similarArtist: map[string][]provider.SimilarArtist{
			"radiohead": {{Name: "Radiohead", Match: 1.0}},
		},
		topTracks: map[string][]provider.SimilarTrack{
			"radiohead": {
				{Name: "Karma Police", Artist: "Radiohead"},
				{Name: "Creep", Artist: "Radiohead"},
			},
		},
	}
	resolver := newResolver(t, source)

	candidates, _ := resolver.Resolve(context.Background(), "Radiohead", "Karma Police")
	for _, c := range candidates {
		if strings.EqualFold(c.Name, "Karma Police") {
			t.Error("seed track present in its own candidates")
		}
	}
}

func TestResolverArtistTopTracksStrategy(t *testing.T) {
	source := &fakeSimilarity{
		topTracks: map[string][]provider.SimilarTrack{
			"radiohead": {{Name: "Creep", Artist: "Radiohead"}},
		},
	}
	resolver := newResolver(t, source)

	_, strategy := resolver.Resolve(context.Background(), "Radiohead", "Karma Police")
	if strategy != StrategyArtistTop {
		t.Errorf("strategy = %q, want %q", strategy, StrategyArtistTop)
	}
}

func TestResolverGeoFallback(t *testing.T) {
	source := &fakeSimilarity{
		geoTracks: map[string][]provider.SimilarTrack{
			"united states": {{Name: "Popular Song", Artist: "Someone"}},
		},
	}
	resolver := newResolver(t, source)

	candidates, strategy := resolver.Resolve(context.Background(), "Obscure", "Nothing")
	if strategy != StrategyGeoTop {
		t.Errorf("strategy = %q, want %q", strategy, StrategyGeoTop)
	}
	if len(candidates) != 1 {
		t.Errorf("got %d candidates", len(candidates))
	}
}

func TestResolverAllStrategiesEmpty(t *testing.T) {
	resolver := newResolver(t, &fakeSimilarity{})

	candidates, strategy := resolver.Resolve(context.Background(), "Nobody", "Nothing")
	if len(candidates) != 0 || strategy != "" {
		t.Errorf("got %d candidates, strategy %q; want empty", len(candidates), strategy)
	}
}

func TestResolverCachesResult(t *testing.T) {
	source := &fakeSimilarity{
		similarTracks: map[string][]provider.SimilarTrack{
			"radiohead|karma police": {{Name: "Creep", Artist: "Radiohead", Match: 0.8}},
		},
	}
	resolver := newResolver(t, source)
	ctx := context.Background()

	first, strategy1 := resolver.Resolve(ctx, "Radiohead", "Karma Police")
	// Key normalization means a differently-cased lookup hits the cache.
	second, strategy2 := resolver.Resolve(ctx, "  RADIOHEAD ", "karma police")

	if source.similarTrackCalls != 1 {
		t.Errorf("upstream queried %d times, want 1", source.similarTrackCalls)
	}
	if strategy1 != strategy2 {
		t.Errorf("strategies differ: %q vs %q", strategy1, strategy2)
	}
	if len(first) != len(second) {
		t.Errorf("cached result differs: %d vs %d candidates", len(first), len(second))
	}
}

func TestTagServiceNormalizesAndCaches(t *testing.T) {
	source := &fakeTagSource{
		tags: map[string][]provider.Tag{
			"radiohead": {{Name: " Alternative Rock ", Count: 30}, {Name: "electronic", Count: 12}},
		},
	}
	store := cache.NewStore[[]string](testDB(t), cache.NamespaceTags, testLogger())
	svc := NewTagService(source, store, testLogger())
	ctx := context.Background()

	tags := svc.ArtistTags(ctx, "Radiohead")
	if len(tags) != 2 || tags[0] != "alternative rock" {
		t.Errorf("tags = %v", tags)
	}

	svc.ArtistTags(ctx, "  radiohead ")
	if source.calls != 1 {
		t.Errorf("source queried %d times, want 1", source.calls)
	}
}

func TestTagServiceLookupFailure(t *testing.T) {
	source := &fakeTagSource{err: errors.New("upstream down")}
	store := cache.NewStore[[]string](testDB(t), cache.NamespaceTags, testLogger())
	svc := NewTagService(source, store, testLogger())

	if tags := svc.ArtistTags(context.Background(), "Radiohead"); len(tags) != 0 {
		t.Errorf("tags = %v, want empty on failure", tags)
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 0},
		{"one empty", []string{"rock"}, nil, 0},
		{"disjoint", []string{"rock"}, []string{"jazz"}, 0},
		{"identical", []string{"rock", "pop"}, []string{"pop", "rock"}, 1},
		{"half overlap", []string{"rock", "pop"}, []string{"rock", "jazz"}, 1.0 / 3.0},
		{"subset", []string{"rock"}, []string{"rock", "pop"}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Jaccard = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackCacheCompleteHit(t *testing.T) {
	catalog := &fakeCatalog{}
	store := cache.NewStore[spotify.Track](testDB(t), cache.NamespaceTrack, testLogger())
	tc := NewTrackCache(catalog, store, testLogger())
	ctx := context.Background()

	complete := spotify.Track{ID: "t1", Name: "Song", Artist: "Band", ImageURL: "https://img/1"}
	if err := store.Put(ctx, "t1", complete); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := tc.Get(ctx, "tok", "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Song" {
		t.Errorf("Name = %q", got.Name)
	}
	if catalog.getCalls != 0 {
		t.Errorf("catalog queried %d times for complete hit, want 0", catalog.getCalls)
	}
}

func TestTrackCacheIncompleteHitRefetches(t *testing.T) {
	catalog := &fakeCatalog{byID: map[string]*spotify.Track{
		"t1": {ID: "t1", Name: "Song", Artist: "Band", ImageURL: "https://img/1"},
	}}
	store := cache.NewStore[spotify.Track](testDB(t), cache.NamespaceTrack, testLogger())
	tc := NewTrackCache(catalog, store, testLogger())
	ctx := context.Background()

	if err := store.Put(ctx, "t1", spotify.Track{ID: "t1", Name: "Song", Artist: "Band"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := tc.Get(ctx, "tok", "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ImageURL != "https://img/1" {
		t.Errorf("ImageURL = %q, want refetched artwork", got.ImageURL)
	}
	if catalog.getCalls != 1 {
		t.Errorf("catalog queried %d times, want 1", catalog.getCalls)
	}

	// The refetched copy must overwrite the incomplete entry.
	cached, ok := store.Get(ctx, "t1")
	if !ok || cached.ImageURL != "https://img/1" {
		t.Errorf("cached entry not overwritten: %+v", cached)
	}
}

func TestTrackCacheStaleFallback(t *testing.T) {
	catalog := &fakeCatalog{getErr: &provider.UnavailableError{Provider: provider.NameSpotify}}
	store := cache.NewStore[spotify.Track](testDB(t), cache.NamespaceTrack, testLogger())
	tc := NewTrackCache(catalog, store, testLogger())
	ctx := context.Background()

	stale := spotify.Track{ID: "t1", Name: "Song", Artist: "Band"}
	if err := store.Put(ctx, "t1", stale); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := tc.Get(ctx, "tok", "t1")
	if err != nil {
		t.Fatalf("Get: %v, want stale fallback", err)
	}
	if got.Name != "Song" {
		t.Errorf("Name = %q", got.Name)
	}
}

func TestTrackCacheMissPropagatesError(t *testing.T) {
	catalog := &fakeCatalog{}
	store := cache.NewStore[spotify.Track](testDB(t), cache.NamespaceTrack, testLogger())
	tc := NewTrackCache(catalog, store, testLogger())

	_, err := tc.Get(context.Background(), "tok", "missing")
	if !provider.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestProcessingBudget(t *testing.T) {
	tests := []struct {
		available, desired, want int
	}{
		{100, 5, 20},   // max(15, 20) = 20
		{100, 20, 60},  // max(60, 35) = 60
		{10, 5, 10},    // capped at available
		{100, 0, 100},  // no desired count processes everything
		{100, -1, 100}, // negative treated the same
	}
	for _, tt := range tests {
		if got := processingBudget(tt.available, tt.desired); got != tt.want {
			t.Errorf("processingBudget(%d, %d) = %d, want %d",
				tt.available, tt.desired, got, tt.want)
		}
	}
}

func TestMappedThreshold(t *testing.T) {
	tests := []struct {
		desired, want int
	}{
		{5, 10},  // max(10, 10)
		{20, 40}, // max(40, 25)
		{2, 7},   // max(4, 7)
		{0, 0},   // unbounded
	}
	for _, tt := range tests {
		if got := mappedThreshold(tt.desired); got != tt.want {
			t.Errorf("mappedThreshold(%d) = %d, want %d", tt.desired, got, tt.want)
		}
	}
}

func newMapper(t *testing.T, catalog *fakeCatalog) (*Mapper, *sql.DB) {
	t.Helper()
	db := testDB(t)
	snapshots := NewTrackCache(catalog,
		cache.NewStore[spotify.Track](db, cache.NamespaceTrack, testLogger()), testLogger())
	return NewMapper(catalog, fakeRunner{}, snapshots, db, testLogger()), db
}

func TestMapperResolvesAndCaches(t *testing.T) {
	catalog := &fakeCatalog{matches: map[string]*spotify.Track{
		"radiohead|creep": {ID: "t1", Name: "Creep", Artist: "Radiohead", ISRC: "GBAYE9200113"},
	}}
	mapper, _ := newMapper(t, catalog)
	ctx := context.Background()
	candidates := []Candidate{{Name: "Creep", Artist: "Radiohead", Match: 0.8}}

	mapped := mapper.MapCandidates(ctx, uuid.New(), candidates, 5)
	if len(mapped) != 1 || mapped[0].Track == nil {
		t.Fatalf("mapped = %+v", mapped)
	}
	if mapped[0].Confidence != 0.8 {
		t.Errorf("Confidence = %v, want candidate match", mapped[0].Confidence)
	}
	if mapped[0].FromCache {
		t.Error("FromCache = true on a live search")
	}

	// Second run hits the identity cache.
	mapped = mapper.MapCandidates(ctx, uuid.New(), candidates, 5)
	if catalog.searchCalls != 1 {
		t.Errorf("catalog searched %d times, want 1", catalog.searchCalls)
	}
	if len(mapped) != 1 || !mapped[0].FromCache {
		t.Errorf("mapped = %+v, want FromCache on identity hit", mapped)
	}
}

func TestMapperZeroMatchGetsFullConfidence(t *testing.T) {
	catalog := &fakeCatalog{matches: map[string]*spotify.Track{
		"radiohead|creep": {ID: "t1", Name: "Creep", Artist: "Radiohead"},
	}}
	mapper, _ := newMapper(t, catalog)

	mapped := mapper.MapCandidates(context.Background(), uuid.New(),
		[]Candidate{{Name: "Creep", Artist: "Radiohead"}}, 5)
	if len(mapped) != 1 || mapped[0].Confidence != 1.0 {
		t.Errorf("mapped = %+v, want confidence 1.0 for zero-match candidate", mapped)
	}
}

func TestMapperCollapsesByISRC(t *testing.T) {
	// Two name variants that resolve to the same recording.
	catalog := &fakeCatalog{matches: map[string]*spotify.Track{
		"radiohead|creep":            {ID: "t1", Name: "Creep", Artist: "Radiohead", ISRC: "gbaye9200113"},
		"radiohead|creep - remaster": {ID: "t2", Name: "Creep - Remaster", Artist: "Radiohead", ISRC: "GBAYE9200113"},
	}}
	mapper, _ := newMapper(t, catalog)

	mapped := mapper.MapCandidates(context.Background(), uuid.New(), []Candidate{
		{Name: "Creep", Artist: "Radiohead", Match: 0.9},
		{Name: "Creep - Remaster", Artist: "Radiohead", Match: 0.8},
	}, 5)
	if len(mapped) != 1 {
		t.Fatalf("got %d mapped, want 1 (same ISRC collapsed)", len(mapped))
	}
	if mapped[0].Track.ID != "t1" {
		t.Errorf("kept %q, want first occurrence", mapped[0].Track.ID)
	}
}

func TestMapperSearchFailureLeavesUnmapped(t *testing.T) {
	catalog := &fakeCatalog{searchErr: &provider.UnavailableError{Provider: provider.NameSpotify}}
	mapper, _ := newMapper(t, catalog)

	mapped := mapper.MapCandidates(context.Background(), uuid.New(),
		[]Candidate{{Name: "Creep", Artist: "Radiohead", Match: 0.9}}, 5)
	if len(mapped) != 1 {
		t.Fatalf("got %d entries, want 1", len(mapped))
	}
	if mapped[0].Track != nil || mapped[0].Confidence != 0 {
		t.Errorf("mapped = %+v, want unmapped with zero confidence", mapped[0])
	}
}

func TestMapperStopsAtThreshold(t *testing.T) {
	matches := make(map[string]*spotify.Track)
	var candidates []Candidate
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("Track %02d", i)
		matches["band|"+strings.ToLower(name)] = &spotify.Track{
			ID: fmt.Sprintf("t%02d", i), Name: name, Artist: "Band",
		}
		candidates = append(candidates, Candidate{Name: name, Artist: "Band", Match: 0.5})
	}
	catalog := &fakeCatalog{matches: matches}
	mapper, _ := newMapper(t, catalog)

	mapped := mapper.MapCandidates(context.Background(), uuid.New(), candidates, 5)
	if len(mapped) != 10 {
		t.Errorf("got %d mapped, want threshold of 10 for desired count 5", len(mapped))
	}
}

func TestMapperCachesSnapshotOnSearch(t *testing.T) {
	catalog := &fakeCatalog{matches: map[string]*spotify.Track{
		"radiohead|creep": {ID: "t1", Name: "Creep", Artist: "Radiohead", Popularity: intPtr(85)},
	}}
	mapper, db := newMapper(t, catalog)

	mapper.MapCandidates(context.Background(), uuid.New(),
		[]Candidate{{Name: "Creep", Artist: "Radiohead", Match: 0.8}}, 5)

	snapshots := cache.NewStore[spotify.Track](db, cache.NamespaceTrack, testLogger())
	cached, ok := snapshots.Get(context.Background(), "t1")
	if !ok {
		t.Fatal("search result not written to the snapshot cache")
	}
	if cached.Popularity == nil || *cached.Popularity != 85 {
		t.Errorf("snapshot popularity = %v", cached.Popularity)
	}
}

func TestMapperIdentityHitRefreshesSnapshot(t *testing.T) {
	// First resolution sees the track without artwork.
	catalog := &fakeCatalog{matches: map[string]*spotify.Track{
		"radiohead|creep": {ID: "t1", Name: "Creep", Artist: "Radiohead", Popularity: intPtr(70)},
	}}
	mapper, _ := newMapper(t, catalog)
	ctx := context.Background()
	candidates := []Candidate{{Name: "Creep", Artist: "Radiohead", Match: 0.8}}

	mapper.MapCandidates(ctx, uuid.New(), candidates, 5)

	// The catalog later has artwork and newer popularity; the identity
	// hit must pick them up through the snapshot refetch.
	catalog.byID = map[string]*spotify.Track{
		"t1": {ID: "t1", Name: "Creep", Artist: "Radiohead", ImageURL: "https://img/creep", Popularity: intPtr(90)},
	}
	mapped := mapper.MapCandidates(ctx, uuid.New(), candidates, 5)
	if len(mapped) != 1 || mapped[0].Track == nil {
		t.Fatalf("mapped = %+v", mapped)
	}
	if mapped[0].Track.ImageURL != "https://img/creep" {
		t.Errorf("ImageURL = %q, want refetched artwork", mapped[0].Track.ImageURL)
	}
	if mapped[0].Track.Popularity == nil || *mapped[0].Track.Popularity != 90 {
		t.Errorf("Popularity = %v, want refreshed snapshot", mapped[0].Track.Popularity)
	}
}

func newRanker(t *testing.T, source *fakeTagSource) *Ranker {
	t.Helper()
	store := cache.NewStore[[]string](testDB(t), cache.NamespaceTags, testLogger())
	return NewRanker(NewTagService(source, store, testLogger()))
}

func TestRankerScoring(t *testing.T) {
	source := &fakeTagSource{tags: map[string][]provider.Tag{
		"overlapping": {{Name: "rock"}},
	}}
	ranker := newRanker(t, source)

	// Popularities 80 and 60: mean 70, stddev 10, so z-scores are +1/-1.
	mapped := []Mapped{
		{
			Candidate:  Candidate{Name: "A", Artist: "Overlapping", Match: 0.9},
			Track:      &spotify.Track{ID: "a", Name: "A", Artist: "Overlapping", Popularity: intPtr(80)},
			Confidence: 0.9,
		},
		{
			Candidate:  Candidate{Name: "B", Artist: "Other", Match: 0.5},
			Track:      &spotify.Track{ID: "b", Name: "B", Artist: "Other", Popularity: intPtr(60)},
			Confidence: 0.5,
		},
	}
	seedTags := []string{"rock", "indie"}

	ranked := ranker.Rank(context.Background(), mapped, seedTags)
	if len(ranked) != 2 {
		t.Fatalf("got %d ranked", len(ranked))
	}

	// 0.7*0.9 + 0.2*0.5 + 0.1*1 = 0.83
	if got := ranked[0].Score; math.Abs(got-0.83) > 1e-9 {
		t.Errorf("top score = %v, want 0.83", got)
	}
	if got := ranked[0].TagOverlap; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("top tag overlap = %v, want 0.5", got)
	}
	// 0.7*0.5 + 0.2*0 + 0.1*(-1) = 0.25
	if got := ranked[1].Score; math.Abs(got-0.25) > 1e-9 {
		t.Errorf("second score = %v, want 0.25", got)
	}
}

func TestRankerUnmappedGetsDefaultBase(t *testing.T) {
	ranker := newRanker(t, &fakeTagSource{})

	ranked := ranker.Rank(context.Background(), []Mapped{
		{Candidate: Candidate{Name: "X", Artist: "Y"}},
	}, nil)
	// 0.7*0.4 with no overlap and no popularity data.
	if got := ranked[0].Score; math.Abs(got-0.28) > 1e-9 {
		t.Errorf("score = %v, want 0.28", got)
	}
}

func TestRankerZeroMatchMappedKeepsPrior(t *testing.T) {
	ranker := newRanker(t, &fakeTagSource{})

	// Top-tracks and charts candidates carry no match score, and mapping
	// promotes their confidence to 1.0. The base term must still use the
	// flat prior, not the confidence.
	ranked := ranker.Rank(context.Background(), []Mapped{
		{
			Candidate:  Candidate{Name: "X", Artist: "Y"},
			Track:      &spotify.Track{ID: "x", Name: "X", Artist: "Y"},
			Confidence: 1.0,
		},
	}, nil)
	if got := ranked[0].Score; math.Abs(got-0.28) > 1e-9 {
		t.Errorf("score = %v, want 0.28 (0.7*0.4)", got)
	}
}

func TestRankerZeroVariancePopularity(t *testing.T) {
	ranker := newRanker(t, &fakeTagSource{})

	mapped := []Mapped{
		{Candidate: Candidate{Match: 0.5}, Track: &spotify.Track{ID: "a", Name: "A", Popularity: intPtr(50)}, Confidence: 0.5},
		{Candidate: Candidate{Match: 0.5}, Track: &spotify.Track{ID: "b", Name: "B", Popularity: intPtr(50)}, Confidence: 0.5},
	}
	ranked := ranker.Rank(context.Background(), mapped, nil)
	for _, r := range ranked {
		if math.Abs(r.Score-0.35) > 1e-9 {
			t.Errorf("score = %v, want 0.35 with popularity term dropped", r.Score)
		}
	}
}

func TestRankerTieBreaks(t *testing.T) {
	ranker := newRanker(t, &fakeTagSource{})

	mapped := []Mapped{
		{Track: &spotify.Track{ID: "c", Name: "Charlie"}, Confidence: 0.5},
		{Track: &spotify.Track{ID: "b", Name: "Bravo", Popularity: intPtr(40)}, Confidence: 0.5},
		{Track: &spotify.Track{ID: "a", Name: "Alpha", Popularity: intPtr(40)}, Confidence: 0.5},
	}
	ranked := ranker.Rank(context.Background(), mapped, nil)

	// Equal scores: popularity desc with unknown last, then name asc.
	wantOrder := []string{"Alpha", "Bravo", "Charlie"}
	for i, want := range wantOrder {
		if got := ranked[i].trackName(); got != want {
			t.Errorf("position %d = %q, want %q", i, got, want)
		}
	}
}

func newTestService(t *testing.T, catalog *fakeCatalog, similarity *fakeSimilarity, tagSrc *fakeTagSource) *Service {
	t.Helper()
	db := testDB(t)
	logger := testLogger()

	trackStore := cache.NewStore[spotify.Track](db, cache.NamespaceTrack, logger)
	tagStore := cache.NewStore[[]string](db, cache.NamespaceTags, logger)
	snapshots := NewTrackCache(catalog, trackStore, logger)

	tags := NewTagService(tagSrc, tagStore, logger)
	return NewService(
		snapshots,
		NewResolver(similarity, db, "united states", logger),
		NewMapper(catalog, fakeRunner{}, snapshots, db, logger),
		NewRanker(tags),
		tags,
		fakeRunner{},
		logger,
	)
}

func TestServiceGetRecommendations(t *testing.T) {
	catalog := &fakeCatalog{
		byID: map[string]*spotify.Track{
			"seed1": {ID: "seed1", Name: "Karma Police", Artist: "Radiohead", ImageURL: "https://img/s"},
		},
		matches: map[string]*spotify.Track{
			"radiohead|paranoid android": {ID: "t1", Name: "Paranoid Android", Artist: "Radiohead", Popularity: intPtr(80)},
			"portishead|glory box":       {ID: "t2", Name: "Glory Box", Artist: "Portishead", Popularity: intPtr(70)},
		},
	}
	similarity := &fakeSimilarity{
		similarTracks: map[string][]provider.SimilarTrack{
			"radiohead|karma police": {
				{Name: "Paranoid Android", Artist: "Radiohead", Match: 0.95, URL: "https://last.fm/pa", ImageURL: "https://img/pa"},
				{Name: "Glory Box", Artist: "Portishead", Match: 0.6},
				{Name: "Unmatchable", Artist: "Nobody", Match: 0.5},
			},
		},
	}
	svc := newTestService(t, catalog, similarity, &fakeTagSource{})

	rec, err := svc.GetRecommendations(context.Background(), uuid.New(), "spotify:track:seed1", 10)
	if err != nil {
		t.Fatalf("GetRecommendations: %v", err)
	}
	if rec.Strategy != StrategySimilarTracks {
		t.Errorf("Strategy = %q", rec.Strategy)
	}
	if rec.Seed.ID != "seed1" {
		t.Errorf("Seed.ID = %q", rec.Seed.ID)
	}
	if len(rec.Tracks) != 2 {
		t.Fatalf("got %d tracks, want 2 (unmatched candidate filtered)", len(rec.Tracks))
	}
	top := rec.Tracks[0]
	if top.ID != "t1" {
		t.Errorf("top track = %q, want highest-match candidate", top.ID)
	}
	if top.RawMatch != 0.95 {
		t.Errorf("RawMatch = %v", top.RawMatch)
	}
	if top.Confidence != 0.95 {
		t.Errorf("Confidence = %v", top.Confidence)
	}
	if top.SourceURL != "https://last.fm/pa" {
		t.Errorf("SourceURL = %q", top.SourceURL)
	}
	if top.FromCache {
		t.Error("FromCache = true on a freshly-mapped candidate")
	}
	// Catalog has no artwork for t1; the similarity source's image fills in.
	if top.ImageURL != "https://img/pa" {
		t.Errorf("ImageURL = %q, want candidate artwork fallback", top.ImageURL)
	}
	// Neither catalog nor source artwork for t2; falls back to the seed's.
	if rec.Tracks[1].ImageURL != "https://img/s" {
		t.Errorf("ImageURL = %q, want seed artwork fallback", rec.Tracks[1].ImageURL)
	}
	for _, tr := range rec.Tracks {
		if tr.ID == "" {
			t.Error("track without catalog ID in results")
		}
	}
}

func TestServiceSeedNotFound(t *testing.T) {
	svc := newTestService(t, &fakeCatalog{}, &fakeSimilarity{}, &fakeTagSource{})

	_, err := svc.GetRecommendations(context.Background(), uuid.New(), "missing", 10)
	if !provider.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestServiceNoSimilarityData(t *testing.T) {
	catalog := &fakeCatalog{byID: map[string]*spotify.Track{
		"seed1": {ID: "seed1", Name: "Obscure", Artist: "Nobody", ImageURL: "https://img/s"},
	}}
	svc := newTestService(t, catalog, &fakeSimilarity{}, &fakeTagSource{})

	_, err := svc.GetRecommendations(context.Background(), uuid.New(), "seed1", 10)
	if !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

func TestServiceInvalidTrackID(t *testing.T) {
	svc := newTestService(t, &fakeCatalog{}, &fakeSimilarity{}, &fakeTagSource{})

	_, err := svc.GetRecommendations(context.Background(), uuid.New(), "   ", 10)
	if !errors.Is(err, ErrInvalidTrackID) {
		t.Errorf("err = %v, want ErrInvalidTrackID", err)
	}
}

func TestServiceLimitBounds(t *testing.T) {
	matches := make(map[string]*spotify.Track)
	var similar []provider.SimilarTrack
	for i := 0; i < 200; i++ {
		name := fmt.Sprintf("Track %03d", i)
		matches["band|"+strings.ToLower(name)] = &spotify.Track{
			ID: fmt.Sprintf("t%03d", i), Name: name, Artist: "Band",
		}
		similar = append(similar, provider.SimilarTrack{Name: name, Artist: "Band", Match: 0.5})
	}
	catalog := &fakeCatalog{
		byID: map[string]*spotify.Track{
			"seed1": {ID: "seed1", Name: "Seed", Artist: "Band", ImageURL: "https://img/s"},
		},
		matches: matches,
	}
	similarity := &fakeSimilarity{
		similarTracks: map[string][]provider.SimilarTrack{"band|seed": similar},
	}

	// A limit over the cap clamps to 50.
	svc := newTestService(t, catalog, similarity, &fakeTagSource{})
	rec, err := svc.GetRecommendations(context.Background(), uuid.New(), "seed1", 500)
	if err != nil {
		t.Fatalf("GetRecommendations: %v", err)
	}
	if len(rec.Tracks) > 50 {
		t.Errorf("got %d tracks, want at most 50", len(rec.Tracks))
	}

	// A zero limit defaults to 20.
	svc = newTestService(t, catalog, similarity, &fakeTagSource{})
	rec, err = svc.GetRecommendations(context.Background(), uuid.New(), "seed1", 0)
	if err != nil {
		t.Fatalf("GetRecommendations: %v", err)
	}
	if len(rec.Tracks) != 20 {
		t.Errorf("got %d tracks, want default of 20", len(rec.Tracks))
	}
}
