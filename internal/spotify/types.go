package spotify

import "sort"

// Track is the catalog's view of a single track, flattened from the API's
// nested wire shape.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	SpotifyURL string `json:"spotify_url,omitempty"`
	Popularity *int   `json:"popularity,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
}

// UserProfile is the authenticated user's catalog profile.
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Wire shapes. Unknown fields are ignored by encoding/json.

type trackPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Artists      []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name   string         `json:"name"`
		Images []imagePayload `json:"images"`
	} `json:"album"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	ExternalIDs struct {
		ISRC string `json:"isrc"`
	} `json:"external_ids"`
	Popularity *int `json:"popularity"`
}

type imagePayload struct {
	URL    string `json:"url"`
	Height *int   `json:"height"`
	Width  *int   `json:"width"`
}

type searchResponse struct {
	Tracks struct {
		Items []trackPayload `json:"items"`
	} `json:"tracks"`
}

type topTracksResponse struct {
	Items []trackPayload `json:"items"`
}

type recentlyPlayedResponse struct {
	Items []struct {
		Track trackPayload `json:"track"`
	} `json:"items"`
}

// mapTrack flattens a wire payload into a Track. Returns nil for payloads
// without an ID (deleted or market-restricted tracks come back hollow).
func mapTrack(p trackPayload) *Track {
	if p.ID == "" {
		return nil
	}

	artist := "Unknown Artist"
	if len(p.Artists) > 0 && p.Artists[0].Name != "" {
		artist = p.Artists[0].Name
	}

	return &Track{
		ID:         p.ID,
		Name:       p.Name,
		Artist:     artist,
		Album:      p.Album.Name,
		ImageURL:   largestImage(p.Album.Images),
		SpotifyURL: p.ExternalURLs.Spotify,
		Popularity: p.Popularity,
		ISRC:       p.ExternalIDs.ISRC,
	}
}

// largestImage picks the URL of the tallest image variant; variants with
// no height sort last.
func largestImage(images []imagePayload) string {
	if len(images) == 0 {
		return ""
	}
	sorted := make([]imagePayload, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		switch {
		case sorted[i].Height == nil:
			return false
		case sorted[j].Height == nil:
			return true
		default:
			return *sorted[i].Height > *sorted[j].Height
		}
	})
	for _, img := range sorted {
		if img.URL != "" {
			return img.URL
		}
	}
	return ""
}
