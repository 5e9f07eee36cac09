// Package spotify is the resilient client layer between job handlers and the
// remote playlist API.
//
// Every call passes through one envelope (Client.do) that owns the retry
// policy: transparent token refresh on 401, Retry-After-honoring backoff on
// 429, capped exponential backoff on 5xx and network errors, and immediate
// failure on 404 and other 4xx. Handlers above this layer never see a raw
// *http.Response.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

const (
	defaultAPIBase      = "https://api.spotify.com/v1"
	defaultAccountsBase = "https://accounts.spotify.com"

	// Track mutations are capped by the remote API at 100 URIs per request.
	batchSize = 100
)

// RetryConfig bounds the retry envelope.
type RetryConfig struct {
	Max      int           // retry attempts after the first call (default 4)
	Base     time.Duration // first backoff delay (default 1s)
	MaxDelay time.Duration // backoff cap (default 30s)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Max <= 0 {
		c.Max = 4
	}
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// Config configures a Client.
type Config struct {
	APIBase    string
	RatePerSec int
	Timeout    time.Duration
	Retry      RetryConfig
}

// Client talks to the remote playlist API on behalf of one user.
//
// It is safe for concurrent use, though within one job run all calls are
// sequential anyway (one rate-limit budget, no sub-request fan-out).
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	apiBase string
	retry   RetryConfig
	log     logx.Logger

	refresh RefreshFunc

	mu    sync.Mutex
	token Token
}

func NewClient(cfg Config, token Token, refresh RefreshFunc, log logx.Logger) *Client {
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		retry:   cfg.Retry,
		log:     log,
		refresh: refresh,
		token:   token,
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if !tok.Expired(time.Now()) {
		return tok.Access, nil
	}
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	if c.refresh == nil {
		return "", ErrAuthFailed
	}
	tok, err := c.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	return tok.Access, nil
}

// do executes one API call through the uniform retry envelope and returns the
// response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	endpoint := path
	if !strings.HasPrefix(path, "http") {
		endpoint = c.apiBase + path
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var (
		attempt        int
		refreshed      bool
		lastRetryAfter time.Duration
	)
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}

		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Network-level failure: connect refused, timeout, reset.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.retry.Max {
				return nil, &TransientError{Err: err}
			}
			if werr := c.sleep(ctx, c.backoff(attempt)); werr != nil {
				return nil, werr
			}
			attempt++
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("read response: %w", readErr)
			}
			return respBody, nil

		case resp.StatusCode == http.StatusUnauthorized:
			// Exactly one refresh-and-retry; a second 401 is a hard failure.
			if refreshed {
				return nil, ErrAuthFailed
			}
			if _, err := c.refreshToken(ctx); err != nil {
				return nil, err
			}
			refreshed = true
			continue

		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			if retryAfter > 0 {
				lastRetryAfter = retryAfter
			}
			if attempt >= c.retry.Max {
				return nil, &RateLimitError{RetryAfter: lastRetryAfter}
			}
			delay := c.backoff(attempt)
			if retryAfter > delay {
				delay = retryAfter
			}
			c.log.Warn("rate limited, backing off",
				logx.String("path", path),
				logx.Duration("delay", delay),
				logx.Int("attempt", attempt+1))
			if werr := c.sleep(ctx, delay); werr != nil {
				return nil, werr
			}
			attempt++
			continue

		case resp.StatusCode >= 500:
			if attempt >= c.retry.Max {
				return nil, &TransientError{Err: fmt.Errorf("server error %d", resp.StatusCode)}
			}
			if werr := c.sleep(ctx, c.backoff(attempt)); werr != nil {
				return nil, werr
			}
			attempt++
			continue

		default:
			return nil, &APIError{Status: resp.StatusCode, Message: apiMessage(respBody, resp.StatusCode)}
		}
	}
}

// backoff returns base * 2^attempt, capped.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.retry.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.retry.MaxDelay {
			return c.retry.MaxDelay
		}
	}
	return d
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func apiMessage(body []byte, status int) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	return http.StatusText(status)
}

// paginate follows "next" cursors until exhausted, invoking fn with each page
// body. fn returns the next cursor ("" ends the walk).
func (c *Client) paginate(ctx context.Context, firstPath string, query url.Values, fn func(body []byte) (next string, err error)) error {
	path := firstPath
	q := query
	for path != "" {
		body, err := c.do(ctx, http.MethodGet, path, q, nil)
		if err != nil {
			return err
		}
		next, err := fn(body)
		if err != nil {
			return err
		}
		// "next" is a fully-qualified URL with the cursor baked in.
		path = next
		q = nil
	}
	return nil
}
