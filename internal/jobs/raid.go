package jobs

import (
	"context"
	"errors"

	"github.com/chrisrogers37/shuffify-sub000/internal/spotify"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

// Raid pulls tracks from each configured source playlist into the target,
// skipping anything the target already holds. Collection order is stable:
// source-list order, first-seen-wins, no duplicates. A source playlist that no
// longer exists is skipped with a warning; no configured sources is a no-op
// success.
func Raid(ctx context.Context, env Env) (Result, error) {
	sc := env.Schedule

	targetURIs, err := env.API.PlaylistTracks(ctx, sc.PlaylistID)
	if err != nil {
		return Result{}, err
	}

	if len(sc.SourceIDs) == 0 {
		return Result{TracksAdded: 0, TracksTotal: len(targetURIs)}, nil
	}

	seen := make(map[string]struct{}, len(targetURIs))
	for _, uri := range targetURIs {
		seen[uri] = struct{}{}
	}

	var fresh []string
	for _, sourceID := range sc.SourceIDs {
		sourceURIs, err := env.API.PlaylistTracks(ctx, sourceID)
		if err != nil {
			if errors.Is(err, spotify.ErrNotFound) {
				env.Log.Warn("raid source playlist missing, skipping",
					logx.String("source", sourceID),
					logx.Int64("schedule", sc.ID))
				continue
			}
			return Result{}, err
		}
		for _, uri := range sourceURIs {
			if _, dup := seen[uri]; dup {
				continue
			}
			seen[uri] = struct{}{}
			fresh = append(fresh, uri)
		}
	}

	if len(fresh) > 0 {
		if err := env.API.AddTracks(ctx, sc.PlaylistID, fresh); err != nil {
			return Result{}, err
		}
	}

	return Result{
		TracksAdded: len(fresh),
		TracksTotal: len(targetURIs) + len(fresh),
	}, nil
}
