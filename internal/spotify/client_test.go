package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

func futureToken() Token {
	return Token{Access: "test-token", Expiry: time.Now().Add(time.Hour)}
}

func newTestClient(ts *httptest.Server, token Token, refresh RefreshFunc) *Client {
	return NewClient(Config{
		APIBase:    ts.URL,
		RatePerSec: 1000,
		Retry:      RetryConfig{Max: 2, Base: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, token, refresh, logx.Nop())
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"items":[],"next":"","total":0}`)
	}))
	defer ts.Close()

	c := newTestClient(ts, futureToken(), nil)
	if _, err := c.PlaylistTracks(context.Background(), "p1"); err != nil {
		t.Fatalf("PlaylistTracks: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestDoHonorsRetryAfterOverBackoff(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"items":[],"next":"","total":0}`)
	}))
	defer ts.Close()

	// The configured backoff is a few milliseconds, so the server's one
	// second must win.
	c := newTestClient(ts, futureToken(), nil)
	start := time.Now()
	if _, err := c.PlaylistTracks(context.Background(), "p1"); err != nil {
		t.Fatalf("PlaylistTracks: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("retried after %v, want at least the 1s Retry-After", elapsed)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestDoRateLimitBudgetExhausted(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts, futureToken(), nil)
	_, err := c.PlaylistTracks(context.Background(), "p1")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	// Max retries = 2, so three calls in total.
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestDoNotFoundNeverRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := newTestClient(ts, futureToken(), nil)
	_, err := c.PlaylistTracks(context.Background(), "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestDoUnauthorizedRefreshesExactlyOnce(t *testing.T) {
	t.Parallel()
	var refreshes atomic.Int32
	refresh := func(ctx context.Context) (Token, error) {
		refreshes.Add(1)
		return Token{Access: "fresh", Expiry: time.Now().Add(time.Hour)}, nil
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"items":[],"next":"","total":0}`)
	}))
	defer ts.Close()

	c := newTestClient(ts, Token{Access: "stale", Expiry: time.Now().Add(time.Hour)}, refresh)
	if _, err := c.PlaylistTracks(context.Background(), "p1"); err != nil {
		t.Fatalf("PlaylistTracks: %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("refreshes = %d, want 1", got)
	}
}

func TestDoSecondUnauthorizedIsTerminal(t *testing.T) {
	t.Parallel()
	refresh := func(ctx context.Context) (Token, error) {
		return Token{Access: "still-bad", Expiry: time.Now().Add(time.Hour)}, nil
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := newTestClient(ts, Token{Access: "bad", Expiry: time.Now().Add(time.Hour)}, refresh)
	_, err := c.PlaylistTracks(context.Background(), "p1")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestDoServerErrorsExhaustBudget(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := newTestClient(ts, futureToken(), nil)
	_, err := c.PlaylistTracks(context.Background(), "p1")
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransientError", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestDoOtherClientErrorFailsFast(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"status":403,"message":"insufficient scope"}}`)
	}))
	defer ts.Close()

	c := newTestClient(ts, futureToken(), nil)
	_, err := c.PlaylistTracks(context.Background(), "p1")
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if ae.Status != http.StatusForbidden || ae.Message != "insufficient scope" {
		t.Fatalf("APIError = %+v", ae)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestPlaylistTracksFollowsPagination(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	page := func(uris []string, next string) string {
		var p trackPage
		for _, u := range uris {
			var it trackItem
			it.Track.URI = u
			p.Items = append(p.Items, it)
		}
		p.Next = next
		b, _ := json.Marshal(p)
		return string(b)
	}
	mux.HandleFunc("/playlists/p1/tracks", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "100" {
			t.Errorf("limit = %q, want 100", r.URL.Query().Get("limit"))
		}
		fmt.Fprint(w, page([]string{"spotify:track:1", "spotify:track:2"}, ts.URL+"/page2"))
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page([]string{"spotify:track:3"}, ""))
	})

	c := newTestClient(ts, futureToken(), nil)
	got, err := c.PlaylistTracks(context.Background(), "p1")
	if err != nil {
		t.Fatalf("PlaylistTracks: %v", err)
	}
	want := []string{"spotify:track:1", "spotify:track:2", "spotify:track:3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAddTracksBatches(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var sizes []int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			URIs []string `json:"uris"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		sizes = append(sizes, len(body.URIs))
		fmt.Fprint(w, `{}`)
	}))
	defer ts.Close()

	uris := make([]string, 250)
	for i := range uris {
		uris[i] = fmt.Sprintf("spotify:track:%d", i)
	}
	c := newTestClient(ts, futureToken(), nil)
	if err := c.AddTracks(context.Background(), "p1", uris); err != nil {
		t.Fatalf("AddTracks: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Fatalf("batch sizes = %v", sizes)
	}
}

func TestRefreshGrant(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "cid" || pass != "csecret" {
			t.Errorf("basic auth = %s:%s ok=%v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "old-refresh" {
			t.Errorf("form = %v", r.PostForm)
		}
		fmt.Fprint(w, `{"access_token":"new-access","expires_in":3600,"refresh_token":"rotated"}`)
	}))
	defer ts.Close()

	a := NewAuthenticator(ts.URL, "cid", "csecret", time.Second)
	g, err := a.RefreshGrant(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshGrant: %v", err)
	}
	if g.Access != "new-access" || g.ExpiresIn != time.Hour || g.RefreshToken != "rotated" {
		t.Fatalf("grant = %+v", g)
	}
}

func TestRefreshGrantDeadCredential(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer ts.Close()

	a := NewAuthenticator(ts.URL, "cid", "csecret", time.Second)
	_, err := a.RefreshGrant(context.Background(), "revoked")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}
