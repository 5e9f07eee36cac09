package storage

import (
	"context"
	"fmt"
	"time"
)

// SaveSnapshot records a playlist's track order before a destructive mutation.
func (s *Store) SaveSnapshot(ctx context.Context, userID, playlistID string, trackURIs []string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (user_id, playlist_id, track_uris, taken_at)
		VALUES (?, ?, ?, ?)`,
		userID, playlistID, StringList(trackURIs), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot for playlist %s: %w", playlistID, err)
	}
	return nil
}

// SnapshotsForPlaylist returns recent snapshots, newest first.
func (s *Store) SnapshotsForPlaylist(ctx context.Context, playlistID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Snapshot
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, user_id, playlist_id, track_uris, taken_at
		FROM snapshots
		WHERE playlist_id = ?
		ORDER BY taken_at DESC
		LIMIT ?`, playlistID, limit)
	if err != nil {
		return nil, fmt.Errorf("load snapshots for playlist %s: %w", playlistID, err)
	}
	return out, nil
}
