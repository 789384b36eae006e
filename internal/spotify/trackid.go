package spotify

import "strings"

const (
	uriPrefix = "spotify:track:"
	urlPrefix = "https://open.spotify.com/track/"
)

// NormalizeTrackID accepts a bare track ID, a spotify:track: URI, or an
// open.spotify.com share URL and returns the bare ID. Whitespace-only
// input yields an empty string.
func NormalizeTrackID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}

	if strings.HasPrefix(id, uriPrefix) {
		return strings.TrimPrefix(id, uriPrefix)
	}

	if strings.HasPrefix(id, urlPrefix) {
		id = strings.TrimPrefix(id, urlPrefix)
		if i := strings.IndexAny(id, "?#"); i >= 0 {
			id = id[:i]
		}
		return strings.TrimSuffix(id, "/")
	}

	return id
}

// ToURI renders a bare track ID as a spotify:track: URI.
func ToURI(trackID string) string {
	return uriPrefix + trackID
}
