// Package lastfm implements the Last.fm similarity client. Every method
// absorbs its own failures and returns an empty slice: similarity is an
// optional signal and the recommendation pipeline treats "upstream broken"
// the same as "upstream knows nothing".
package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/crossfade/internal/provider"
	"github.com/sydlexius/crossfade/internal/version"
)

const defaultBaseURL = "https://ws.audioscrobbler.com/2.0"

// Client calls the Last.fm API.
type Client struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	apiKey  string
	baseURL string
}

// New creates a Last.fm client with the default base URL.
func New(apiKey string, limiter *provider.RateLimiterMap, logger *slog.Logger) *Client {
	return NewWithBaseURL(apiKey, limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates a Last.fm client with a custom base URL (for testing).
func NewWithBaseURL(apiKey string, limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("provider", "lastfm")),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SimilarTracks fetches track.getSimilar results for the given seed.
func (c *Client) SimilarTracks(ctx context.Context, artist, track string, limit int) []provider.SimilarTrack {
	var resp similarTracksResponse
	if !c.call(ctx, "track.getSimilar", url.Values{
		"artist": {artist},
		"track":  {track},
		"limit":  {strconv.Itoa(limit)},
	}, &resp) {
		return nil
	}
	return mapTracks(resp.SimilarTracks.Tracks)
}

// SimilarArtists fetches artist.getSimilar results.
func (c *Client) SimilarArtists(ctx context.Context, artist string, limit int) []provider.SimilarArtist {
	var resp similarArtistsResponse
	if !c.call(ctx, "artist.getSimilar", url.Values{
		"artist": {artist},
		"limit":  {strconv.Itoa(limit)},
	}, &resp) {
		return nil
	}

	artists := make([]provider.SimilarArtist, 0, len(resp.SimilarArtists.Artists))
	for _, a := range resp.SimilarArtists.Artists {
		if a.Name == "" {
			continue
		}
		artists = append(artists, provider.SimilarArtist{
			Name:  a.Name,
			Match: float64(a.Match),
			URL:   a.URL,
		})
	}
	return artists
}

// ArtistTopTracks fetches artist.getTopTracks results.
func (c *Client) ArtistTopTracks(ctx context.Context, artist string, limit int) []provider.SimilarTrack {
	var resp topTracksResponse
	if !c.call(ctx, "artist.getTopTracks", url.Values{
		"artist": {artist},
		"limit":  {strconv.Itoa(limit)},
	}, &resp) {
		return nil
	}
	return mapTracks(resp.TopTracks.Tracks)
}

// GeoTopTracks fetches geo.getTopTracks for a country. This is the final
// similarity fallback and carries no match scores.
func (c *Client) GeoTopTracks(ctx context.Context, country string, limit int) []provider.SimilarTrack {
	var resp geoTopTracksResponse
	if !c.call(ctx, "geo.getTopTracks", url.Values{
		"country": {country},
		"limit":   {strconv.Itoa(limit)},
	}, &resp) {
		return nil
	}
	return mapTracks(resp.Tracks.Tracks)
}

// call performs one API request and decodes the body into out. It returns
// false on any failure, after logging it.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) bool {
	if c.apiKey == "" {
		c.logger.Warn("api key not configured, skipping call", slog.String("method", method))
		return false
	}

	if err := c.limiter.Wait(ctx, provider.NameLastFM); err != nil {
		c.logger.Warn("rate limiter wait failed", slog.String("method", method), slog.Any("error", err))
		return false
	}

	params.Set("method", method)
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	reqURL := c.baseURL + "/?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warn("creating request", slog.String("method", method), slog.Any("error", err))
		return false
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("request failed", slog.String("method", method), slog.Any("error", err))
		return false
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("status", fmt.Sprintf("HTTP %d", resp.StatusCode)))
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		c.logger.Warn("reading response", slog.String("method", method), slog.Any("error", err))
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Warn("parsing response", slog.String("method", method), slog.Any("error", err))
		return false
	}
	return true
}

func mapTracks(payloads []trackPayload) []provider.SimilarTrack {
	tracks := make([]provider.SimilarTrack, 0, len(payloads))
	for _, p := range payloads {
		if p.Name == "" || p.Artist.Name == "" {
			continue
		}
		tracks = append(tracks, provider.SimilarTrack{
			Name:     p.Name,
			Artist:   p.Artist.Name,
			Match:    float64(p.Match),
			URL:      p.URL,
			ImageURL: chooseImage(p.Images),
		})
	}
	return tracks
}
