// Package musicbrainz implements the artist tag upstream used as the
// relatedness signal for ranking.
package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sydlexius/crossfade/internal/provider"
	"github.com/sydlexius/crossfade/internal/version"
)

const (
	defaultBaseURL = "https://musicbrainz.org/ws/2"

	// maxTags caps how many tags are kept per artist, most popular first.
	maxTags = 20
)

// Client calls the MusicBrainz API.
type Client struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string
}

// New creates a MusicBrainz client with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger) *Client {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates a MusicBrainz client with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("provider", "musicbrainz")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ArtistTags searches for the artist by name and returns its tags ordered
// by popularity count descending, capped at maxTags.
func (c *Client) ArtistTags(ctx context.Context, artistName string) ([]provider.Tag, error) {
	if strings.TrimSpace(artistName) == "" {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx, provider.NameMusicBrainz); err != nil {
		return nil, &provider.UnavailableError{
			Provider: provider.NameMusicBrainz,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	params := url.Values{
		"query": {fmt.Sprintf("artist:%q", artistName)},
		"fmt":   {"json"},
		"limit": {"1"},
		"inc":   {"tags"},
	}
	reqURL := c.baseURL + "/artist?" + params.Encode()

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing artist search response: %w", err)
	}

	if len(resp.Artists) == 0 {
		return nil, nil
	}
	return topTags(resp.Artists[0].Tags), nil
}

func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("requesting", slog.String("url", reqURL))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &provider.UnavailableError{
			Provider: provider.NameMusicBrainz,
			Cause:    err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &provider.UnavailableError{
			Provider: provider.NameMusicBrainz,
			Cause:    fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 512*1024))
}

// topTags orders tags by count descending and keeps the first maxTags
// non-empty names. Equal counts keep the upstream order.
func topTags(tags []tagPayload) []provider.Tag {
	sorted := make([]tagPayload, len(tags))
	copy(sorted, tags)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})

	result := make([]provider.Tag, 0, maxTags)
	for _, tag := range sorted {
		if tag.Name == "" {
			continue
		}
		result = append(result, provider.Tag{Name: tag.Name, Count: tag.Count})
		if len(result) == maxTags {
			break
		}
	}
	return result
}

type searchResponse struct {
	Artists []artistPayload `json:"artists"`
}

type artistPayload struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Tags []tagPayload `json:"tags"`
}

type tagPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
