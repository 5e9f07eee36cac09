package spotify

import (
	"context"
	"time"
)

// Playlist is the metadata subset the engine needs.
type Playlist struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

// Token is a short-lived access credential plus its expiry. A zero or past
// Expiry means the first call through the client refreshes before sending.
type Token struct {
	Access string
	Expiry time.Time
}

func (t Token) Expired(now time.Time) bool {
	return t.Access == "" || !t.Expiry.After(now)
}

// Grant is the result of a refresh exchange. RefreshToken is non-empty only
// when the server rotated the credential.
type Grant struct {
	Access       string
	ExpiresIn    time.Duration
	RefreshToken string
}

// RefreshFunc exchanges the stored refresh credential for a fresh access
// token. Implementations persist a rotated refresh credential before
// returning.
type RefreshFunc func(ctx context.Context) (Token, error)

// wire formats

type errorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

type trackItem struct {
	Track struct {
		URI string `json:"uri"`
	} `json:"track"`
}

type trackPage struct {
	Items []trackItem `json:"items"`
	Next  string      `json:"next"`
	Total int         `json:"total"`
}

type playlistPage struct {
	Items []Playlist `json:"items"`
	Next  string     `json:"next"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}
