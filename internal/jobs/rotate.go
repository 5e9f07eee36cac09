package jobs

import (
	"context"
	"errors"
	"fmt"
)

// Rotation modes, read from the schedule's algorithm parameters.
const (
	ModeArchiveOldest = "archive_oldest"
	ModeRefresh       = "refresh"
	ModeSwap          = "swap"
)

const defaultRotationCount = 5

var ErrNoArchive = errors.New("rotate: archive playlist not configured")

// Rotate moves tracks between the schedule's production playlist (the target)
// and its paired archive playlist.
//
// All modes snapshot the current production order first when the owning user
// has auto-snapshot enabled, so a failed or undesired rotation is recoverable.
func Rotate(ctx context.Context, env Env) (Result, error) {
	sc := env.Schedule

	archiveID := sc.Params.String("archive_playlist_id", "")
	if archiveID == "" {
		return Result{}, ErrNoArchive
	}
	mode := sc.Params.String("rotation_mode", ModeArchiveOldest)
	count := sc.Params.Int("rotation_count", defaultRotationCount)
	if count < 1 {
		count = defaultRotationCount
	}

	production, err := env.API.PlaylistTracks(ctx, sc.PlaylistID)
	if err != nil {
		return Result{}, err
	}
	archive, err := env.API.PlaylistTracks(ctx, archiveID)
	if err != nil {
		return Result{}, err
	}

	if env.User != nil && env.User.AutoSnapshot && env.Snaps != nil {
		if err := env.Snaps.SaveSnapshot(ctx, sc.UserID, sc.PlaylistID, production); err != nil {
			// Without the snapshot a bad rotation is unrecoverable, so don't rotate.
			return Result{}, fmt.Errorf("pre-rotation snapshot: %w", err)
		}
	}

	n := min(count, len(production))
	oldest := production[:n]

	switch mode {
	case ModeArchiveOldest:
		return archiveOldest(ctx, env, archiveID, production, oldest)
	case ModeRefresh:
		return refreshFromArchive(ctx, env, production, archive, n)
	case ModeSwap:
		return swap(ctx, env, archiveID, production, archive, n)
	default:
		return Result{}, fmt.Errorf("rotate: unknown rotation_mode %q", mode)
	}
}

// archiveOldest appends the oldest production tracks to the archive, then
// removes them from production. Append-before-remove: a failure in between
// duplicates tracks rather than losing them.
func archiveOldest(ctx context.Context, env Env, archiveID string, production, oldest []string) (Result, error) {
	if len(oldest) == 0 {
		return Result{TracksTotal: len(production)}, nil
	}
	if err := env.API.AddTracks(ctx, archiveID, oldest); err != nil {
		return Result{}, err
	}
	if err := env.API.RemoveTracks(ctx, env.Schedule.PlaylistID, oldest); err != nil {
		return Result{}, err
	}
	return Result{TracksAdded: 0, TracksTotal: len(production) - len(oldest)}, nil
}

// refreshFromArchive swaps the oldest production tracks for the most recently
// archived tracks not already in production. The archive itself is left
// untouched; it is the pool, not a queue.
func refreshFromArchive(ctx context.Context, env Env, production, archive []string, n int) (Result, error) {
	eligible := notIn(archive, production)
	// Most recently archived first to be pulled back in.
	if len(eligible) > n {
		eligible = eligible[len(eligible)-n:]
	}
	k := len(eligible)
	if k == 0 {
		return Result{TracksTotal: len(production)}, nil
	}

	if err := env.API.AddTracks(ctx, env.Schedule.PlaylistID, eligible); err != nil {
		return Result{}, err
	}
	if err := env.API.RemoveTracks(ctx, env.Schedule.PlaylistID, production[:k]); err != nil {
		return Result{}, err
	}
	return Result{TracksAdded: k, TracksTotal: len(production)}, nil
}

// swap exchanges up to n tracks symmetrically: the oldest production tracks
// move to the archive and the same number of eligible archive tracks move to
// production. The swapped count is bounded by what each side can offer.
func swap(ctx context.Context, env Env, archiveID string, production, archive []string, n int) (Result, error) {
	eligible := notIn(archive, production)
	k := min(n, len(production), len(eligible))
	if k == 0 {
		return Result{TracksTotal: len(production)}, nil
	}

	outgoing := production[:k]
	incoming := eligible[len(eligible)-k:]

	if err := env.API.AddTracks(ctx, archiveID, outgoing); err != nil {
		return Result{}, err
	}
	if err := env.API.AddTracks(ctx, env.Schedule.PlaylistID, incoming); err != nil {
		return Result{}, err
	}
	if err := env.API.RemoveTracks(ctx, archiveID, incoming); err != nil {
		return Result{}, err
	}
	if err := env.API.RemoveTracks(ctx, env.Schedule.PlaylistID, outgoing); err != nil {
		return Result{}, err
	}
	return Result{TracksAdded: k, TracksTotal: len(production)}, nil
}

// notIn returns the elements of xs absent from exclude, preserving order.
func notIn(xs, exclude []string) []string {
	ex := make(map[string]struct{}, len(exclude))
	for _, x := range exclude {
		ex[x] = struct{}{}
	}
	var out []string
	for _, x := range xs {
		if _, skip := ex[x]; !skip {
			out = append(out, x)
		}
	}
	return out
}
