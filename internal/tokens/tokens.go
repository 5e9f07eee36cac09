// Package tokens owns the credential lifecycle: refresh tokens encrypted at
// rest, exchanged on demand for short-lived access tokens, with rotation
// persisted the moment it is observed.
package tokens

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/chrisrogers37/shuffify-sub000/internal/spotify"
	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

// saltV1 versions the key derivation. Changing it invalidates every stored
// credential; that is the intended blast radius, not something to rotate
// casually.
const saltV1 = "shuffify.tokens.v1"

const kdfIterations = 150_000

// CredentialError is terminal for a run: decrypt or refresh failed and the
// user must re-authenticate.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return fmt.Sprintf("credential error: %v", e.Err) }
func (e *CredentialError) Unwrap() error { return e.Err }

// Store is the slice of persistence the manager needs.
type Store interface {
	SaveRefreshToken(ctx context.Context, userID, ciphertext string) error
}

type Manager struct {
	aead  cipher.AEAD
	store Store
	auth  *spotify.Authenticator
	ccfg  spotify.Config
	log   logx.Logger

	// Refresh-and-persist is serialized per user so two concurrent jobs for
	// the same user cannot race a rotated credential into oblivion.
	mu      sync.Mutex
	userMus map[string]*sync.Mutex
}

func NewManager(secret string, store Store, auth *spotify.Authenticator, ccfg spotify.Config, log logx.Logger) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("tokens: secret is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	key := pbkdf2.Key([]byte(secret), []byte(saltV1), kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tokens: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tokens: init gcm: %w", err)
	}
	return &Manager{
		aead:    aead,
		store:   store,
		auth:    auth,
		ccfg:    ccfg,
		log:     log,
		userMus: map[string]*sync.Mutex{},
	}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
// It fails loudly on an uninitialized cipher or empty input.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	if m == nil || m.aead == nil {
		return "", &CredentialError{Err: errors.New("cipher not initialized")}
	}
	if plaintext == "" {
		return "", &CredentialError{Err: errors.New("empty plaintext")}
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", &CredentialError{Err: err}
	}
	sealed := m.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Wrong key or corrupted data fails
// the GCM auth check and surfaces as a CredentialError, never as garbage.
func (m *Manager) Decrypt(ciphertext string) (string, error) {
	if m == nil || m.aead == nil {
		return "", &CredentialError{Err: errors.New("cipher not initialized")}
	}
	if ciphertext == "" {
		return "", &CredentialError{Err: errors.New("empty ciphertext")}
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &CredentialError{Err: fmt.Errorf("decode: %w", err)}
	}
	ns := m.aead.NonceSize()
	if len(raw) <= ns {
		return "", &CredentialError{Err: errors.New("ciphertext too short")}
	}
	plain, err := m.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", &CredentialError{Err: fmt.Errorf("decrypt: %w", err)}
	}
	return string(plain), nil
}

func (m *Manager) userMu(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu := m.userMus[userID]
	if mu == nil {
		mu = &sync.Mutex{}
		m.userMus[userID] = mu
	}
	return mu
}

// ClientFor builds a resilient client for background execution on behalf of
// user. The access token starts expired so the client's first call triggers a
// refresh; a rotated refresh credential coming back from that exchange is
// encrypted and persisted before the refresh returns.
func (m *Manager) ClientFor(ctx context.Context, user *storage.User) (*spotify.Client, error) {
	if user == nil || strings.TrimSpace(user.RefreshToken) == "" {
		return nil, &CredentialError{Err: errors.New("no stored refresh token")}
	}
	refreshTok, err := m.Decrypt(user.RefreshToken)
	if err != nil {
		return nil, err
	}

	userID := user.ID
	current := refreshTok

	refresh := func(ctx context.Context) (spotify.Token, error) {
		mu := m.userMu(userID)
		mu.Lock()
		defer mu.Unlock()

		grant, err := m.auth.RefreshGrant(ctx, current)
		if err != nil {
			if errors.Is(err, spotify.ErrAuthFailed) {
				return spotify.Token{}, &CredentialError{Err: err}
			}
			return spotify.Token{}, err
		}

		if grant.RefreshToken != "" && grant.RefreshToken != current {
			enc, err := m.Encrypt(grant.RefreshToken)
			if err != nil {
				return spotify.Token{}, err
			}
			if err := m.store.SaveRefreshToken(ctx, userID, enc); err != nil {
				// Losing a rotated credential strands the user, so this is a
				// refresh failure, not a loggable footnote.
				return spotify.Token{}, fmt.Errorf("persist rotated credential: %w", err)
			}
			current = grant.RefreshToken
			m.log.Info("refresh credential rotated", logx.String("user", userID))
		}

		return spotify.Token{
			Access: grant.Access,
			Expiry: time.Now().Add(grant.ExpiresIn - 30*time.Second),
		}, nil
	}

	// Zero Token => expired => first call refreshes.
	return spotify.NewClient(m.ccfg, spotify.Token{}, refresh, m.log.With(logx.String("user", userID))), nil
}
