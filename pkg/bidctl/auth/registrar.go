package auth

import (
	"context"
	"errors"
	"time"
)

const (
	ClientTypePublic = "public"

	// Registrations are treated as expired slightly early so that a login
	// started just before expiry does not fail halfway through.
	registrationExpiryMargin = time.Minute
)

// ClientRegistration is an OAuth client identity obtained from the
// registration endpoint. It is reused until ExpiresAt.
type ClientRegistration struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
	Region       string    `json:"region,omitempty"`
	OIDCURL      string    `json:"oidc_url,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired reports whether the registration can no longer be used at now.
func (r *ClientRegistration) Expired(now time.Time) bool {
	if r == nil || r.ClientID == "" {
		return true
	}
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(registrationExpiryMargin).Before(r.ExpiresAt)
}

// Registrar registers OAuth clients. It never retries and never persists.
type Registrar struct {
	Client OIDCClient
	Region string
	// OIDCURL is recorded on registrations so a cached one is not reused
	// against a different endpoint.
	OIDCURL string
	Now     func() time.Time
}

func (r *Registrar) Register(ctx context.Context, clientName, clientType string, scopes []string) (*ClientRegistration, error) {
	const op = "register client"
	if r.Client == nil {
		return nil, newError(KindRegistrationFailed, op, errors.New("oidc client is nil"))
	}
	if clientType == "" {
		clientType = ClientTypePublic
	}
	out, err := r.Client.RegisterClient(ctx, &RegisterClientInput{
		ClientName: clientName,
		ClientType: clientType,
		Scopes:     scopes,
	})
	if err != nil {
		return nil, newError(KindRegistrationFailed, op, err)
	}
	reg := &ClientRegistration{
		ClientID:     out.ClientID,
		ClientSecret: out.ClientSecret,
		Region:       r.Region,
		OIDCURL:      r.OIDCURL,
		Scopes:       append([]string(nil), scopes...),
	}
	if out.ClientSecretExpiresAt > 0 {
		reg.ExpiresAt = time.Unix(out.ClientSecretExpiresAt, 0).UTC()
	}
	if reg.Expired(nowFunc(r.Now)()) {
		return nil, newError(KindRegistrationFailed, op, errors.New("provider returned an already expired registration"))
	}
	return reg, nil
}

func nowFunc(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return time.Now
}
