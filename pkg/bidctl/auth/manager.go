package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/telekom/bidctl/pkg/metrics"
)

const (
	// DefaultRefreshMargin is how long before expiry a token is refreshed.
	DefaultRefreshMargin = 5 * time.Minute

	// ProfileSettingKey is the custom provider profile override cleared on logout.
	ProfileSettingKey = "auth.profile"
)

// SettingsStore is the settings collaborator used by Logout.
type SettingsStore interface {
	RemoveCustom(ctx context.Context, key string) error
}

// ManagerConfig describes the identity provider and client of one local profile.
type ManagerConfig struct {
	Profile       string
	Region        string
	StartURL      string
	OIDCURL       string
	ClientName    string
	ClientType    string
	Scopes        []string
	RefreshMargin time.Duration
	SlowDownStep  time.Duration
}

// Manager owns login, refresh and logout of the single Builder ID token of a
// profile. Callers must not run its operations concurrently for the same
// profile; the database lock serializes separate processes.
type Manager struct {
	cfg           ManagerConfig
	client        OIDCClient
	tokens        *TokenStore
	registrations *RegistrationCache
	settings      SettingsStore
	log           *zap.SugaredLogger

	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	generatePKCE func() (*PKCECodes, error)
	onTransition func(Transition)
}

type Option func(*Manager)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock sets the single clock used for every expiry comparison.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

func WithPKCEGenerator(gen func() (*PKCECodes, error)) Option {
	return func(m *Manager) { m.generatePKCE = gen }
}

func WithTransitionObserver(fn func(Transition)) Option {
	return func(m *Manager) { m.onTransition = fn }
}

func NewManager(cfg ManagerConfig, client OIDCClient, store SecretStore, settings SettingsStore, opts ...Option) *Manager {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.SlowDownStep <= 0 {
		cfg.SlowDownStep = DefaultSlowDownStep
	}
	if cfg.ClientType == "" {
		cfg.ClientType = ClientTypePublic
	}
	m := &Manager{
		cfg:          cfg,
		client:       client,
		tokens:       NewTokenStore(store, cfg.Profile),
		settings:     settings,
		log:          zap.NewNop().Sugar(),
		now:          time.Now,
		sleep:        sleepContext,
		generatePKCE: GeneratePKCE,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registrations = NewRegistrationCache(store, m.now, m.log)
	return m
}

// Tokens exposes the underlying store, e.g. for status output.
func (m *Manager) Tokens() *TokenStore {
	return m.tokens
}

// PendingLogin is a started device authorization waiting for the user.
type PendingLogin struct {
	Device    *DeviceAuthorization
	AttemptID string

	m    *Manager
	reg  *ClientRegistration
	pkce *PKCECodes
	log  *zap.SugaredLogger

	mu   sync.Mutex
	used bool
}

// StartLogin registers (or reuses) a client and starts a device
// authorization. Nothing is persisted except the client registration.
func (m *Manager) StartLogin(ctx context.Context) (*PendingLogin, error) {
	attemptID := uuid.NewString()
	log := m.log.With("attemptID", attemptID, "profile", m.cfg.Profile)

	pkce, err := m.generatePKCE()
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to generate PKCE codes: %w", err)
	}
	reg, err := m.registration(ctx, log)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	initiator := &DeviceInitiator{Client: m.client, StartURL: m.cfg.StartURL, Now: m.now}
	device, err := initiator.Start(ctx, reg, pkce)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	log.Infow("Device authorization started", "userCode", device.UserCode, "expiresAt", device.ExpiresAt, "interval", device.Interval)
	return &PendingLogin{Device: device, AttemptID: attemptID, m: m, reg: reg, pkce: pkce, log: log}, nil
}

// Wait polls until the user completes the authorization and persists the
// token. On any failure nothing is written. A PendingLogin can be waited on
// once, device codes are single use.
func (p *PendingLogin) Wait(ctx context.Context) (*BuilderIDToken, error) {
	p.mu.Lock()
	if p.used {
		p.mu.Unlock()
		return nil, errors.New("login attempt already consumed, start a new one")
	}
	p.used = true
	p.mu.Unlock()

	m := p.m
	poller := &Poller{
		Client:       m.client,
		Region:       m.cfg.Region,
		StartURL:     m.cfg.StartURL,
		SlowDownStep: m.cfg.SlowDownStep,
		Now:          m.now,
		Sleep:        m.sleep,
		OnTransition: m.onTransition,
		Log:          p.log,
	}
	token, err := poller.Poll(ctx, p.reg, p.Device, p.pkce)
	p.pkce = nil
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		p.log.Infow("Login failed", "error", err)
		return nil, err
	}
	if err := m.tokens.Save(ctx, token); err != nil {
		metrics.LoginAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	p.log.Infow("Login succeeded", "expiresAt", token.ExpiresAt, "hasRefreshToken", token.RefreshToken != "")
	return token, nil
}

// Login runs StartLogin, hands the device authorization to present so the
// user can be shown the URL and code, then waits for completion.
func (m *Manager) Login(ctx context.Context, present func(*DeviceAuthorization) error) (*BuilderIDToken, error) {
	pending, err := m.StartLogin(ctx)
	if err != nil {
		return nil, err
	}
	if present != nil {
		if err := present(pending.Device); err != nil {
			return nil, err
		}
	}
	return pending.Wait(ctx)
}

// IsLoggedIn reports whether a token is stored. Validity is not checked.
func (m *Manager) IsLoggedIn(ctx context.Context) bool {
	token, err := m.tokens.Load(ctx)
	return err == nil && token != nil
}

// RefreshIfNeeded refreshes the stored token when it is within the refresh
// margin of expiry. The returned bool reports whether a refresh happened.
func (m *Manager) RefreshIfNeeded(ctx context.Context) (*BuilderIDToken, bool, error) {
	const op = "refresh token"
	token, err := m.tokens.Load(ctx)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, false, err
	}
	if token == nil {
		metrics.TokenRefreshes.WithLabelValues("no_token").Inc()
		return nil, false, newError(KindNoTokenPresent, op, nil)
	}
	now := m.now()
	if !token.NeedsRefresh(now, m.cfg.RefreshMargin) {
		metrics.TokenRefreshes.WithLabelValues("not_needed").Inc()
		return token, false, nil
	}
	if token.RefreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues("unavailable").Inc()
		return token, false, newError(KindRefreshUnavailable, op, errors.New("no refresh token held, login again"))
	}
	reg, err := m.registrations.Get(ctx, m.cfg.Profile)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(outcomeLabel(err)).Inc()
		return token, false, err
	}
	if reg == nil {
		metrics.TokenRefreshes.WithLabelValues("unavailable").Inc()
		return token, false, newError(KindRefreshUnavailable, op, errors.New("client registration expired, login again"))
	}

	out, err := m.client.CreateToken(ctx, &CreateTokenInput{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: token.RefreshToken,
	})
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		if oidcErrorCode(err) == codeInvalidGrant {
			m.log.Infow("Refresh token rejected by provider", "profile", m.cfg.Profile)
		}
		return token, false, newError(KindRefreshFailed, op, err)
	}
	if out.ExpiresIn <= 0 {
		metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		return token, false, newError(KindRefreshFailed, op, errors.New("token response is missing expiresIn"))
	}

	refreshed := *token
	refreshed.AccessToken = out.AccessToken
	refreshed.ExpiresAt = now.Add(time.Duration(out.ExpiresIn) * time.Second).UTC()
	if out.RefreshToken != "" {
		refreshed.RefreshToken = out.RefreshToken
	}
	if out.IDToken != "" {
		refreshed.IDToken = out.IDToken
	}
	if out.TokenType != "" {
		refreshed.TokenType = out.TokenType
	}
	if err := m.tokens.Save(ctx, &refreshed); err != nil {
		metrics.TokenRefreshes.WithLabelValues(outcomeLabel(err)).Inc()
		return token, false, err
	}
	metrics.TokenRefreshes.WithLabelValues("refreshed").Inc()
	m.log.Infow("Token refreshed", "profile", m.cfg.Profile, "expiresAt", refreshed.ExpiresAt)
	return &refreshed, true, nil
}

// LogoutResult carries the non-fatal outcome of clearing settings.
type LogoutResult struct {
	SettingsErr error
}

// Logout deletes the stored token and clears the custom profile setting.
// Only the token deletion decides success; a settings failure is returned in
// LogoutResult.SettingsErr.
func (m *Manager) Logout(ctx context.Context) (*LogoutResult, error) {
	result := &LogoutResult{}
	if m.settings != nil {
		if err := m.settings.RemoveCustom(ctx, ProfileSettingKey); err != nil {
			result.SettingsErr = newError(KindSettingsClearFailure, "logout", err)
			m.log.Warnw("Failed to clear profile setting during logout", "key", ProfileSettingKey, "error", err)
		}
	}
	if err := m.tokens.Delete(ctx); err != nil {
		metrics.Logouts.WithLabelValues("failed").Inc()
		return result, err
	}
	if result.SettingsErr != nil {
		metrics.Logouts.WithLabelValues("partial").Inc()
	} else {
		metrics.Logouts.WithLabelValues("success").Inc()
	}
	m.log.Infow("Logged out", "profile", m.cfg.Profile)
	return result, nil
}

// TokenSource returns an oauth2.TokenSource backed by the stored token that
// refreshes through RefreshIfNeeded.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, &managerTokenSource{ctx: ctx, m: m}, m.cfg.RefreshMargin)
}

type managerTokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	token, _, err := s.m.RefreshIfNeeded(s.ctx)
	if err != nil {
		return nil, err
	}
	return token.OAuth2(), nil
}

func (m *Manager) registration(ctx context.Context, log *zap.SugaredLogger) (*ClientRegistration, error) {
	cached, err := m.registrations.Get(ctx, m.cfg.Profile)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.Region == m.cfg.Region && cached.OIDCURL == m.cfg.OIDCURL && slices.Equal(cached.Scopes, m.cfg.Scopes) {
		metrics.ClientRegistrations.WithLabelValues("cached").Inc()
		log.Debugw("Reusing client registration", "clientID", cached.ClientID, "expiresAt", cached.ExpiresAt)
		return cached, nil
	}
	registrar := &Registrar{Client: m.client, Region: m.cfg.Region, OIDCURL: m.cfg.OIDCURL, Now: m.now}
	reg, err := registrar.Register(ctx, m.cfg.ClientName, m.cfg.ClientType, m.cfg.Scopes)
	if err != nil {
		return nil, err
	}
	if err := m.registrations.Put(ctx, m.cfg.Profile, reg); err != nil {
		return nil, err
	}
	metrics.ClientRegistrations.WithLabelValues("registered").Inc()
	log.Debugw("Registered OAuth client", "clientID", reg.ClientID, "expiresAt", reg.ExpiresAt)
	return reg, nil
}

func outcomeLabel(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	switch KindOf(err) {
	case KindPollExpired:
		return "expired"
	case KindPollDenied:
		return "denied"
	case KindStateOrPkceMismatch:
		return "mismatch"
	case KindTokenCorrupted:
		return "corrupted"
	case KindPersistenceFailure:
		return "persistence_error"
	default:
		return "error"
	}
}
