// Package provider holds the shared types and error taxonomy for the
// external metadata upstreams (Spotify, Last.fm, MusicBrainz).
package provider

import (
	"errors"
	"fmt"
	"time"
)

// Name uniquely identifies an upstream.
type Name string

// Known upstream names.
const (
	NameSpotify     Name = "spotify"
	NameLastFM      Name = "lastfm"
	NameMusicBrainz Name = "musicbrainz"
)

// SimilarTrack is a track-level similarity candidate from the similarity
// upstream. Match is the upstream's relatedness score; 0 means unknown
// (top-tracks and geo fallbacks carry no score).
type SimilarTrack struct {
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	Match    float64 `json:"match"`
	URL      string  `json:"url,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
}

// SimilarArtist is an artist-level similarity result.
type SimilarArtist struct {
	Name  string  `json:"name"`
	Match float64 `json:"match"`
	URL   string  `json:"url,omitempty"`
}

// Tag is a single artist tag with its popularity count.
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// UnauthorizedError indicates the bearer credential was rejected (expired
// or revoked). Recoverable via a token refresh.
type UnauthorizedError struct {
	Provider Name
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("provider %s: unauthorized", e.Provider)
}

// ForbiddenError indicates the credential lacks the required grant.
// Never recoverable by refreshing.
type ForbiddenError struct {
	Provider Name
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("provider %s: forbidden", e.Provider)
}

// NotFoundError indicates the upstream has no data for the requested ID.
type NotFoundError struct {
	Provider Name
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider %s: %s not found", e.Provider, e.ID)
}

// UnavailableError indicates a transient failure (rate-limited, timeout,
// server error).
type UnavailableError struct {
	Provider   Name
	Cause      error
	RetryAfter time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// IsUnauthorized reports whether err carries an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// IsForbidden reports whether err carries a ForbiddenError.
func IsForbidden(err error) bool {
	var target *ForbiddenError
	return errors.As(err, &target)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsUnavailable reports whether err carries an UnavailableError.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}
