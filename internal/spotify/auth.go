package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Authenticator performs the refresh-token grant against the accounts service.
// It is deliberately separate from Client: the token manager owns refresh
// credentials; the client only ever sees short-lived access tokens.
type Authenticator struct {
	http         *http.Client
	accountsBase string
	clientID     string
	clientSecret string
}

func NewAuthenticator(accountsBase, clientID, clientSecret string, timeout time.Duration) *Authenticator {
	if accountsBase == "" {
		accountsBase = defaultAccountsBase
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Authenticator{
		http:         &http.Client{Timeout: timeout},
		accountsBase: strings.TrimRight(accountsBase, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// RefreshGrant exchanges a refresh token for a fresh access token.
// Grant.RefreshToken is non-empty only when the server rotated the credential.
func (a *Authenticator) RefreshGrant(ctx context.Context, refreshToken string) (Grant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.accountsBase+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Grant{}, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(a.clientID + ":" + a.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return Grant{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Grant{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return Grant{}, &TransientError{Err: fmt.Errorf("token endpoint %d", resp.StatusCode)}
		}
		// 400/401 from the accounts service means the refresh token is dead.
		return Grant{}, fmt.Errorf("%w: token endpoint returned %d", ErrAuthFailed, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Grant{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Grant{}, fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}
	expires := time.Duration(tr.ExpiresIn) * time.Second
	if expires <= 0 {
		expires = time.Hour
	}
	return Grant{
		Access:       tr.AccessToken,
		ExpiresIn:    expires,
		RefreshToken: tr.RefreshToken,
	}, nil
}
