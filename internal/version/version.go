// Package version holds the build version, overridden at link time with
// -ldflags "-X github.com/sydlexius/crossfade/internal/version.Version=…".
package version

// Version is the build version string.
var Version = "dev"

// UserAgent returns the User-Agent header value for outbound requests.
// MusicBrainz in particular requires an identifying agent string.
func UserAgent() string {
	return "Crossfade/" + Version + " (+https://github.com/sydlexius/crossfade)"
}
