// Package recommend turns a seed track into a ranked list of catalog
// tracks. Similarity candidates come from the scrobble graph, tag overlap
// from the metadata archive, and identity plus popularity from the
// catalog; every upstream read goes through its own TTL cache.
package recommend

import (
	"errors"

	"github.com/sydlexius/crossfade/internal/spotify"
)

// Strategy names identify which similarity source produced a candidate
// list. The values mirror the upstream API method names.
const (
	StrategySimilarTracks  = "track.getSimilar"
	StrategySimilarArtists = "artist.getSimilar"
	StrategyArtistTop      = "artist.getTopTracks"
	StrategyGeoTop         = "geo.getTopTracks"
)

// ErrNoData is returned when every similarity strategy came back empty.
var ErrNoData = errors.New("no similarity data available for seed track")

// Candidate is a similar track suggestion before catalog resolution. URL
// and ImageURL come from the similarity source and serve as fallbacks
// when the catalog has no artwork.
type Candidate struct {
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	Match    float64 `json:"match"`
	URL      string  `json:"url,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
}

// Mapped pairs a candidate with its resolved catalog identity. Track is
// nil when resolution found no match; FromCache marks identities served
// from the identity cache rather than a live search.
type Mapped struct {
	Candidate  Candidate
	Track      *spotify.Track
	Confidence float64
	FromCache  bool
}

// Ranked is a mapped candidate with its final score and the tag overlap
// that contributed to it.
type Ranked struct {
	Mapped
	Score      float64
	TagOverlap float64
}

// Recommendation is the full result for one seed track.
type Recommendation struct {
	Seed     spotify.Track      `json:"seed"`
	Strategy string             `json:"strategy"`
	Tracks   []RecommendedTrack `json:"tracks"`
}

// RecommendedTrack is one entry in the final ranked list. ImageURL on the
// embedded track is filled from the candidate's artwork and then the
// seed's when the catalog supplied none.
type RecommendedTrack struct {
	spotify.Track
	Score      float64 `json:"score"`
	RawMatch   float64 `json:"raw_match"`
	TagOverlap float64 `json:"tag_overlap"`
	Confidence float64 `json:"confidence"`
	FromCache  bool    `json:"from_cache"`
	SourceURL  string  `json:"source_url,omitempty"`
}
