package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
)

const tokenEndpoint = "https://accounts.spotify.com/api/token"

// TokenPair is the result of a refresh exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// OAuthRefresher performs the refresh_token grant against the catalog's
// token endpoint. Transient failures are retried with fibonacci backoff.
type OAuthRefresher struct {
	config *oauth2.Config
	logger *slog.Logger
}

// NewOAuthRefresher creates a refresher for the given client credentials.
func NewOAuthRefresher(clientID, clientSecret string, logger *slog.Logger) *OAuthRefresher {
	return NewOAuthRefresherWithEndpoint(clientID, clientSecret, tokenEndpoint, logger)
}

// NewOAuthRefresherWithEndpoint creates a refresher against a custom token
// endpoint (for testing).
func NewOAuthRefresherWithEndpoint(clientID, clientSecret, endpoint string, logger *slog.Logger) *OAuthRefresher {
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  endpoint,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		logger: logger,
	}
}

// Refresh exchanges refreshToken for a fresh pair. When the endpoint omits
// a new refresh token the old one is kept.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var token *oauth2.Token

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		source := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		fresh, err := source.Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				code := retrieveErr.Response.StatusCode
				if code == 429 || code >= 500 {
					r.logger.Warn("token endpoint unavailable, retrying",
						slog.Int("status", code))
					return retry.RetryableError(err)
				}
				return err
			}
			// Transport-level failure, worth retrying.
			return retry.RetryableError(err)
		}
		token = fresh
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	pair := &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// NormalizeScopes canonicalizes a space-separated scope string: trimmed,
// deduplicated, sorted order preserved as given by first occurrence.
func NormalizeScopes(raw string) string {
	fields := strings.Fields(raw)
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
