// Package auth stores per-user catalog credentials and coordinates token
// refresh. Tokens are encrypted at rest; the coordinator retries
// authorized operations across concurrent refreshes without holding a
// lock over network calls.
package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no credential exists for a user.
var ErrNotFound = errors.New("credential not found")

// Credential is one user's catalog authorization.
type Credential struct {
	UserID       uuid.UUID
	SpotifyID    string
	AccessToken  string
	RefreshToken string
	Scopes       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
