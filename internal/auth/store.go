package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/crossfade/internal/encryption"
)

// Store persists credentials in SQLite with tokens encrypted at rest.
type Store struct {
	db        *sql.DB
	encryptor *encryption.Encryptor
}

// NewStore creates a credential store.
func NewStore(db *sql.DB, encryptor *encryption.Encryptor) *Store {
	return &Store{db: db, encryptor: encryptor}
}

// GetByUserID fetches a user's credential, decrypting its tokens.
func (s *Store) GetByUserID(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, spotify_id, access_token, refresh_token, scopes, created_at, updated_at
		 FROM user_auth WHERE user_id = ?`, userID.String())
	return s.scanCredential(row)
}

// GetBySpotifyID fetches a credential by the catalog's own user ID.
func (s *Store) GetBySpotifyID(ctx context.Context, spotifyID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, spotify_id, access_token, refresh_token, scopes, created_at, updated_at
		 FROM user_auth WHERE spotify_id = ?`, spotifyID)
	return s.scanCredential(row)
}

// Upsert inserts or replaces the credential for its Spotify ID. A new
// UserID is assigned on insert when the credential carries a nil one.
func (s *Store) Upsert(ctx context.Context, cred *Credential) error {
	if cred.UserID == uuid.Nil {
		existing, err := s.GetBySpotifyID(ctx, cred.SpotifyID)
		switch {
		case err == nil:
			cred.UserID = existing.UserID
		case errors.Is(err, ErrNotFound):
			cred.UserID = uuid.New()
		default:
			return err
		}
	}

	encAccess, err := s.encryptor.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	encRefresh, err := s.encryptor.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_auth (user_id, spotify_id, access_token, refresh_token, scopes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (spotify_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   scopes = excluded.scopes,
		   updated_at = excluded.updated_at`,
		cred.UserID.String(), cred.SpotifyID, encAccess, encRefresh, cred.Scopes, now, now)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// UpdateTokens replaces a user's tokens after a refresh.
func (s *Store) UpdateTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string) error {
	encAccess, err := s.encryptor.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	encRefresh, err := s.encryptor.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE user_auth SET access_token = ?, refresh_token = ?, updated_at = ? WHERE user_id = ?`,
		encAccess, encRefresh, time.Now().UTC().Format(time.RFC3339), userID.String())
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserIDs returns every stored user ID.
func (s *Store) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_auth ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing user id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) scanCredential(row *sql.Row) (*Credential, error) {
	var cred Credential
	var rawID, encAccess, encRefresh, createdAt, updatedAt string
	err := row.Scan(&rawID, &cred.SpotifyID, &encAccess, &encRefresh, &cred.Scopes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}

	cred.UserID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parsing user id %q: %w", rawID, err)
	}
	cred.AccessToken, err = s.encryptor.Decrypt(encAccess)
	if err != nil {
		return nil, fmt.Errorf("decrypting access token: %w", err)
	}
	cred.RefreshToken, err = s.encryptor.Decrypt(encRefresh)
	if err != nil {
		return nil, fmt.Errorf("decrypting refresh token: %w", err)
	}
	if cred.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if cred.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &cred, nil
}
