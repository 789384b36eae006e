package lastfm

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Wire types for the Last.fm JSON API. The API is loosely typed: match
// scores arrive as strings, artist fields are sometimes objects and
// sometimes bare strings, and images come as size variants.

type similarTracksResponse struct {
	SimilarTracks struct {
		Tracks []trackPayload `json:"track"`
	} `json:"similartracks"`
}

type similarArtistsResponse struct {
	SimilarArtists struct {
		Artists []artistPayload `json:"artist"`
	} `json:"similarartists"`
}

type topTracksResponse struct {
	TopTracks struct {
		Tracks []trackPayload `json:"track"`
	} `json:"toptracks"`
}

type geoTopTracksResponse struct {
	Tracks struct {
		Tracks []trackPayload `json:"track"`
	} `json:"tracks"`
}

type trackPayload struct {
	Name   string         `json:"name"`
	Match  matchScore     `json:"match"`
	URL    string         `json:"url"`
	Artist artistField    `json:"artist"`
	Images []imagePayload `json:"image"`
}

type artistPayload struct {
	Name  string     `json:"name"`
	Match matchScore `json:"match"`
	URL   string     `json:"url"`
}

type imagePayload struct {
	URL  string `json:"#text"`
	Size string `json:"size"`
}

// matchScore decodes a similarity score that may arrive as a JSON number
// or a quoted string. Unparseable values decode to 0 (unknown).
type matchScore float64

func (m *matchScore) UnmarshalJSON(data []byte) error {
	var asNumber float64
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*m = matchScore(asNumber)
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		*m = 0
		return nil
	}
	parsed, err := strconv.ParseFloat(asString, 64)
	if err != nil {
		*m = 0
		return nil
	}
	*m = matchScore(parsed)
	return nil
}

// artistField decodes an artist reference that may be an object with a
// name field or a bare string.
type artistField struct {
	Name string
}

func (a *artistField) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		a.Name = asString
		return nil
	}

	var asObject struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		a.Name = ""
		return nil
	}
	a.Name = asObject.Name
	return nil
}

// chooseImage picks the best image URL from the size variants. Variants
// are ordered by size name so the pick is deterministic regardless of the
// order the API returns them in.
func chooseImage(images []imagePayload) string {
	if len(images) == 0 {
		return ""
	}
	sorted := make([]imagePayload, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Size < sorted[j].Size
	})
	for _, img := range sorted {
		if img.URL != "" {
			return img.URL
		}
	}
	return ""
}
