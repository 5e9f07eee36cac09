package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, display_name, refresh_token, auto_snapshot, created_at, updated_at)
		VALUES (:id, :display_name, :refresh_token, :auto_snapshot, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			refresh_token = excluded.refresh_token,
			auto_snapshot = excluded.auto_snapshot,
			updated_at = excluded.updated_at`, u)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &u, nil
}

// SaveRefreshToken persists a (re-encrypted) refresh credential. Called by the
// token manager whenever the remote API rotates the credential, so losing the
// update would strand the user on a dead token.
func (s *Store) SaveRefreshToken(ctx context.Context, userID, ciphertext string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ?`,
		ciphertext, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("save refresh token for user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save refresh token for user %s: %w", userID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}
