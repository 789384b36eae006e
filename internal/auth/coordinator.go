package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/crossfade/internal/provider"
)

const maxTokenAttempts = 3

// Coordinator runs catalog operations with a valid access token, handling
// expired tokens by re-reading the store (another caller may have already
// refreshed) before spending a refresh exchange of its own. No lock is
// held across the exchange; concurrent 401s on the same user may each
// spend a refresh, and last-writer-wins on the stored pair is acceptable
// since any token the endpoint issued is valid.
type Coordinator struct {
	store     *Store
	refresher Refresher
	logger    *slog.Logger
}

// NewCoordinator creates a token coordinator.
func NewCoordinator(store *Store, refresher Refresher, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, refresher: refresher, logger: logger}
}

// WithValidToken runs op with the user's access token, retrying on
// unauthorized errors for up to three attempts. After a 401 the stored
// credential is re-read first; a refresh exchange happens only when the
// stored token is the one that just failed. The final retry always forces
// a fresh exchange. Errors other than unauthorized are returned as-is.
func (c *Coordinator) WithValidToken(ctx context.Context, userID uuid.UUID, op func(token string) error) error {
	cred, err := c.store.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	token := cred.AccessToken

	var lastErr error
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		err := op(token)
		if err == nil {
			return nil
		}
		if !provider.IsUnauthorized(err) {
			return err
		}
		lastErr = err
		if attempt == maxTokenAttempts {
			break
		}

		delay := time.Duration(attempt) * 50 * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		forceRefresh := attempt == maxTokenAttempts-1
		token, err = c.recoverToken(ctx, userID, token, forceRefresh)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("token rejected after %d attempts: %w", maxTokenAttempts, lastErr)
}

// recoverToken returns a token expected to succeed where failedToken got a
// 401. Unless force is set, a stored token that already differs from the
// failed one is used directly without an exchange.
func (c *Coordinator) recoverToken(ctx context.Context, userID uuid.UUID, failedToken string, force bool) (string, error) {
	cred, err := c.store.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !force && cred.AccessToken != failedToken {
		c.logger.Debug("token already refreshed elsewhere",
			slog.String("user_id", userID.String()))
		return cred.AccessToken, nil
	}

	pair, err := c.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("recovering token for user %s: %w", userID, err)
	}
	if err := c.store.UpdateTokens(ctx, userID, pair.AccessToken, pair.RefreshToken); err != nil {
		return "", err
	}
	c.logger.Info("access token refreshed", slog.String("user_id", userID.String()))
	return pair.AccessToken, nil
}
