// Package jobs implements the per-job-type business logic: raid, shuffle, and
// rotate. Handlers consume the resilient client through the PlaylistAPI
// interface and report how many tracks they added and how many the target
// holds afterwards.
package jobs

import (
	"context"

	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

// PlaylistAPI is the slice of the remote client handlers depend on.
// *spotify.Client implements it; tests substitute an in-memory fake.
type PlaylistAPI interface {
	PlaylistTracks(ctx context.Context, playlistID string) ([]string, error)
	AddTracks(ctx context.Context, playlistID string, uris []string) error
	ReplaceTracks(ctx context.Context, playlistID string, uris []string) error
	RemoveTracks(ctx context.Context, playlistID string, uris []string) error
}

// Snapshotter captures a playlist's order before destructive mutations.
// The storage layer implements it; gating by user preference happens in the
// handler.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, userID, playlistID string, trackURIs []string) error
}

// Result is what every handler reports back to the executor.
type Result struct {
	TracksAdded int
	TracksTotal int
}

// Env carries the per-run collaborators into a handler. Explicitly passed,
// never pulled from ambient state.
type Env struct {
	API      PlaylistAPI
	Snaps    Snapshotter
	User     *storage.User
	Schedule *storage.Schedule
	Log      logx.Logger
}
