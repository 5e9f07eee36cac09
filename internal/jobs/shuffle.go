package jobs

import (
	"context"

	"github.com/chrisrogers37/shuffify-sub000/internal/shuffle"
)

// Shuffle reorders the target playlist with the schedule's configured
// algorithm and replaces the playlist contents in full. An empty playlist is
// a no-op success with zero totals.
func Shuffle(ctx context.Context, env Env, algos *shuffle.Registry) (Result, error) {
	sc := env.Schedule

	uris, err := env.API.PlaylistTracks(ctx, sc.PlaylistID)
	if err != nil {
		return Result{}, err
	}
	if len(uris) == 0 {
		return Result{}, nil
	}

	fn := algos.Get(sc.Algorithm)
	ordered, err := fn(uris, sc.Params)
	if err != nil {
		return Result{}, err
	}

	if err := env.API.ReplaceTracks(ctx, sc.PlaylistID, ordered); err != nil {
		return Result{}, err
	}

	return Result{TracksAdded: 0, TracksTotal: len(ordered)}, nil
}
