// Package spotify implements the catalog client: the source of truth for
// track identity, popularity, and artwork. Unlike the similarity and tag
// upstreams, catalog errors are surfaced to the caller (typed via the
// provider error taxonomy) so the token coordinator can react to them.
package spotify

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

const defaultBaseURL = "https://api.spotify.com/v1"

const maxPageSize = 50

// Client calls the Spotify Web API with a caller-supplied bearer token.
type Client struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string
}

// New creates a Spotify client with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger) *Client {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates a Spotify client with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("provider", "spotify")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// GetTrack fetches a single track by ID.
func (c *Client) GetTrack(ctx context.Context, token, trackID string) (*Track, error) {
	body, err := c.doRequest(ctx, token, c.baseURL+"/tracks/"+url.PathEscape(trackID))
	if err != nil {
		return nil, err
	}

	var payload trackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing track response: %w", err)
	}

	track := mapTrack(payload)
	if track == nil {
		return nil, &provider.NotFoundError{Provider: provider.NameSpotify, ID: trackID}
	}
	return track, nil
}

// SearchTrack searches for a single track by name and artist. Returns
// nil, nil when the catalog has no match.
func (c *Client) SearchTrack(ctx context.Context, token, name, artist string) (*Track, error) {
	params := url.Values{
		"q":     {fmt.Sprintf("track:%q artist:%q", name, artist)},
		"type":  {"track"},
		"limit": {"1"},
	}
	body, err := c.doRequest(ctx, token, c.baseURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	if len(resp.Tracks.Items) == 0 {
		return nil, nil
	}
	return mapTrack(resp.Tracks.Items[0]), nil
}

// SearchTracks searches for up to limit tracks matching a free-form query.
func (c *Client) SearchTracks(ctx context.Context, token, query string, limit int) ([]Track, error) {
	params := url.Values{
		"q":     {query},
		"type":  {"track"},
		"limit": {strconv.Itoa(clampLimit(limit))},
	}
	body, err := c.doRequest(ctx, token, c.baseURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}
	return mapTracks(resp.Tracks.Items), nil
}

// GetTopTracks fetches the user's top tracks for a time range
// ("short_term", "medium_term", or "long_term").
func (c *Client) GetTopTracks(ctx context.Context, token string, limit int, timeRange string) ([]Track, error) {
	params := url.Values{
		"limit":      {strconv.Itoa(clampLimit(limit))},
		"time_range": {timeRange},
	}
	body, err := c.doRequest(ctx, token, c.baseURL+"/me/top/tracks?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp topTracksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing top tracks response: %w", err)
	}
	return mapTracks(resp.Items), nil
}

// GetRecentlyPlayed fetches the user's recently played tracks.
func (c *Client) GetRecentlyPlayed(ctx context.Context, token string, limit int) ([]Track, error) {
	params := url.Values{
		"limit": {strconv.Itoa(clampLimit(limit))},
	}
	body, err := c.doRequest(ctx, token, c.baseURL+"/me/player/recently-played?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp recentlyPlayedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing recently played response: %w", err)
	}

	tracks := make([]Track, 0, len(resp.Items))
	for _, item := range resp.Items {
		if t := mapTrack(item.Track); t != nil {
			tracks = append(tracks, *t)
		}
	}
	return tracks, nil
}

// GetCurrentUserProfile fetches the profile of the token's user.
func (c *Client) GetCurrentUserProfile(ctx context.Context, token string) (*UserProfile, error) {
	body, err := c.doRequest(ctx, token, c.baseURL+"/me")
	if err != nil {
		return nil, err
	}

	var profile UserProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile response: %w", err)
	}
	return &profile, nil
}

func (c *Client) doRequest(ctx context.Context, token, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, provider.NameSpotify); err != nil {
		return nil, &provider.UnavailableError{
			Provider: provider.NameSpotify,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	c.logger.Debug("requesting", slog.String("url", reqURL))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &provider.UnavailableError{Provider: provider.NameSpotify, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	case http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &provider.UnauthorizedError{Provider: provider.NameSpotify}
	case http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &provider.ForbiddenError{Provider: provider.NameSpotify}
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &provider.NotFoundError{Provider: provider.NameSpotify, ID: reqURL}
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &provider.UnavailableError{
			Provider:   provider.NameSpotify,
			Cause:      fmt.Errorf("HTTP %d", resp.StatusCode),
			RetryAfter: retryAfter,
		}
	}
}

func mapTracks(payloads []trackPayload) []Track {
	tracks := make([]Track, 0, len(payloads))
	for _, p := range payloads {
		if t := mapTrack(p); t != nil {
			tracks = append(tracks, *t)
		}
	}
	return tracks
}

func clampLimit(limit int) int {
	if limit < 1 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
