package auth

import (
	"context"
	"errors"
	"time"
)

// Default polling interval when the provider omits one (RFC 8628 §3.5).
const defaultPollInterval = 5 * time.Second

// DeviceAuthorization is one started device flow. It lives in memory only and
// is consumed by the Poller.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                time.Duration
	ExpiresAt               time.Time

	// challenge is the PKCE challenge sent with this authorization.
	challenge string
}

// VerificationURL prefers the complete URI, which embeds the user code.
func (d *DeviceAuthorization) VerificationURL() string {
	if d.VerificationURIComplete != "" {
		return d.VerificationURIComplete
	}
	return d.VerificationURI
}

// DeviceInitiator starts device authorization flows.
type DeviceInitiator struct {
	Client   OIDCClient
	StartURL string
	Now      func() time.Time
}

func (i *DeviceInitiator) Start(ctx context.Context, reg *ClientRegistration, pkce *PKCECodes) (*DeviceAuthorization, error) {
	const op = "start device authorization"
	if reg == nil || reg.ClientID == "" {
		return nil, newError(KindDeviceAuthorizationFailed, op, errors.New("client registration is required"))
	}
	if pkce == nil || pkce.Challenge == "" {
		return nil, newError(KindDeviceAuthorizationFailed, op, errors.New("pkce challenge is required"))
	}
	method := pkce.Method
	if method == "" {
		method = PKCEMethodS256
	}
	now := nowFunc(i.Now)()
	out, err := i.Client.StartDeviceAuthorization(ctx, &StartDeviceAuthorizationInput{
		ClientID:            reg.ClientID,
		ClientSecret:        reg.ClientSecret,
		StartURL:            i.StartURL,
		CodeChallenge:       pkce.Challenge,
		CodeChallengeMethod: method,
	})
	if err != nil {
		return nil, newError(KindDeviceAuthorizationFailed, op, err)
	}
	if out.DeviceCode == "" || out.UserCode == "" {
		return nil, newError(KindDeviceAuthorizationFailed, op, errors.New("response is missing device or user code"))
	}
	if out.ExpiresIn <= 0 {
		return nil, newError(KindDeviceAuthorizationFailed, op, errors.New("response is missing expiresIn"))
	}
	interval := time.Duration(out.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &DeviceAuthorization{
		DeviceCode:              out.DeviceCode,
		UserCode:                out.UserCode,
		VerificationURI:         out.VerificationURI,
		VerificationURIComplete: out.VerificationURIComplete,
		Interval:                interval,
		ExpiresAt:               now.Add(time.Duration(out.ExpiresIn) * time.Second),
		challenge:               pkce.Challenge,
	}, nil
}
