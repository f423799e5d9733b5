package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// BuilderIDToken is the durable credential produced by a successful login.
type BuilderIDToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Region       string    `json:"region"`
	StartURL     string    `json:"start_url"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired reports whether the access token is past its expiry at now.
func (t *BuilderIDToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// NeedsRefresh reports whether the token expires within margin of now.
func (t *BuilderIDToken) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(t.ExpiresAt)
}

// OAuth2 converts the token for use with golang.org/x/oauth2 clients.
func (t *BuilderIDToken) OAuth2() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    tokenType,
		Expiry:       t.ExpiresAt,
	}
	if t.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": t.IDToken})
	}
	return tok
}

// String redacts the secrets so tokens can be logged safely.
func (t *BuilderIDToken) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("BuilderIDToken{ExpiresAt: %s, Region: %s, StartURL: %s, HasRefreshToken: %t}",
		t.ExpiresAt.UTC().Format(time.RFC3339), t.Region, t.StartURL, t.RefreshToken != "")
}

// SecretStore is the persistence collaborator. SetSecret must replace the
// record atomically; GetSecret reports ok=false for a missing key.
type SecretStore interface {
	GetSecret(ctx context.Context, key string) (string, bool, error)
	SetSecret(ctx context.Context, key, value string) error
	DeleteSecret(ctx context.Context, key string) error
}

// isCorrupted detects backend errors that mark an unreadable record, such as
// a secret that no longer decrypts.
func isCorrupted(err error) bool {
	var c interface{ Corrupted() bool }
	return errors.As(err, &c) && c.Corrupted()
}

// TokenStore persists the single BuilderIDToken of a profile.
type TokenStore struct {
	Backend SecretStore
	Profile string
}

func NewTokenStore(backend SecretStore, profile string) *TokenStore {
	return &TokenStore{Backend: backend, Profile: profile}
}

func (s *TokenStore) key() string {
	return secretKey(s.Profile, "token")
}

func secretKey(profile, record string) string {
	if profile == "" {
		profile = "default"
	}
	return "auth:" + profile + ":builder-id:" + record
}

// Load returns nil, nil when no token is stored.
func (s *TokenStore) Load(ctx context.Context) (*BuilderIDToken, error) {
	const op = "load token"
	raw, ok, err := s.Backend.GetSecret(ctx, s.key())
	if err != nil {
		if isCorrupted(err) {
			return nil, newError(KindTokenCorrupted, op, err)
		}
		return nil, newError(KindPersistenceFailure, op, err)
	}
	if !ok {
		return nil, nil
	}
	var token BuilderIDToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, newError(KindTokenCorrupted, op, err)
	}
	if token.AccessToken == "" {
		return nil, newError(KindTokenCorrupted, op, errors.New("access token is empty"))
	}
	return &token, nil
}

func (s *TokenStore) Save(ctx context.Context, token *BuilderIDToken) error {
	const op = "save token"
	if token == nil || token.AccessToken == "" {
		return newError(KindPersistenceFailure, op, errors.New("token is empty"))
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return newError(KindPersistenceFailure, op, err)
	}
	if err := s.Backend.SetSecret(ctx, s.key(), string(raw)); err != nil {
		return newError(KindPersistenceFailure, op, err)
	}
	return nil
}

// Delete is idempotent.
func (s *TokenStore) Delete(ctx context.Context) error {
	if err := s.Backend.DeleteSecret(ctx, s.key()); err != nil {
		return newError(KindPersistenceFailure, "delete token", err)
	}
	return nil
}
