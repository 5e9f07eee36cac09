package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// PlaylistTracks returns every track URI in the playlist, in playlist order,
// following pagination to the end.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID string) ([]string, error) {
	q := url.Values{}
	q.Set("fields", "items(track(uri)),next,total")
	q.Set("limit", "100")

	var uris []string
	err := c.paginate(ctx, fmt.Sprintf("/playlists/%s/tracks", playlistID), q, func(body []byte) (string, error) {
		var page trackPage
		if err := json.Unmarshal(body, &page); err != nil {
			return "", fmt.Errorf("decode track page: %w", err)
		}
		for _, it := range page.Items {
			if it.Track.URI != "" {
				uris = append(uris, it.Track.URI)
			}
		}
		return page.Next, nil
	})
	if err != nil {
		return nil, err
	}
	return uris, nil
}

// AddTracks appends URIs to the playlist in api-bounded batches, preserving order.
func (c *Client) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	for start := 0; start < len(uris); start += batchSize {
		end := min(start+batchSize, len(uris))
		_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/playlists/%s/tracks", playlistID), nil,
			map[string]any{"uris": uris[start:end]})
		if err != nil {
			return err
		}
	}
	return nil
}

// ReplaceTracks replaces the playlist's full contents with uris, in order.
// The first batch goes through the replace endpoint (clearing the playlist);
// the remainder is appended.
func (c *Client) ReplaceTracks(ctx context.Context, playlistID string, uris []string) error {
	head := uris
	if len(head) > batchSize {
		head = uris[:batchSize]
	}
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/playlists/%s/tracks", playlistID), nil,
		map[string]any{"uris": head})
	if err != nil {
		return err
	}
	if len(uris) > batchSize {
		return c.AddTracks(ctx, playlistID, uris[batchSize:])
	}
	return nil
}

// RemoveTracks removes every occurrence of each URI from the playlist, batched.
func (c *Client) RemoveTracks(ctx context.Context, playlistID string, uris []string) error {
	for start := 0; start < len(uris); start += batchSize {
		end := min(start+batchSize, len(uris))
		tracks := make([]map[string]string, 0, end-start)
		for _, uri := range uris[start:end] {
			tracks = append(tracks, map[string]string{"uri": uri})
		}
		_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/playlists/%s/tracks", playlistID), nil,
			map[string]any{"tracks": tracks})
		if err != nil {
			return err
		}
	}
	return nil
}

// UserPlaylists lists the authenticated user's playlists.
func (c *Client) UserPlaylists(ctx context.Context) ([]Playlist, error) {
	q := url.Values{}
	q.Set("limit", "50")

	var playlists []Playlist
	err := c.paginate(ctx, "/me/playlists", q, func(body []byte) (string, error) {
		var page playlistPage
		if err := json.Unmarshal(body, &page); err != nil {
			return "", fmt.Errorf("decode playlist page: %w", err)
		}
		playlists = append(playlists, page.Items...)
		return page.Next, nil
	})
	if err != nil {
		return nil, err
	}
	return playlists, nil
}

// CreatePlaylist creates a private playlist for the user and returns it.
func (c *Client) CreatePlaylist(ctx context.Context, userID, name, description string) (*Playlist, error) {
	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/users/%s/playlists", userID), nil,
		map[string]any{"name": name, "description": description, "public": false})
	if err != nil {
		return nil, err
	}
	var p Playlist
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	return &p, nil
}
