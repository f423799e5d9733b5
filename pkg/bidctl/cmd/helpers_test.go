package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telekom/bidctl/pkg/bidctl/auth"
	"github.com/telekom/bidctl/pkg/bidctl/config"
)

// testEnv is a root command wired to temporary config and database files.
type testEnv struct {
	configPath string
	dbPath     string
	out        *bytes.Buffer
	opened     []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BIDCTL_PROFILE", "")
	t.Setenv("BIDCTL_OUTPUT", "")
	t.Setenv("BIDCTL_KEY_STORAGE", "")
	t.Setenv("BIDCTL_NO_BROWSER", "")
	t.Setenv("BIDCTL_VERBOSE", "")
	return &testEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		dbPath:     filepath.Join(dir, "data.db"),
		out:        &bytes.Buffer{},
	}
}

func (e *testEnv) writeConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Settings.KeyStorage = "file"
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, config.Save(e.configPath, &cfg))
}

func (e *testEnv) run(args ...string) error {
	e.out.Reset()
	root := NewRootCommand(Config{
		ConfigPath:   e.configPath,
		DatabasePath: e.dbPath,
		OutputWriter: e.out,
		OpenBrowser: func(url string) error {
			e.opened = append(e.opened, url)
			return nil
		},
		ManagerOptions: []auth.Option{
			auth.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		},
	})
	root.SetArgs(args)
	return root.Execute()
}

// fakeSSOOIDC scripts the three SSO-OIDC endpoints.
type fakeSSOOIDC struct {
	mu sync.Mutex

	pending     int
	deny        bool
	expiresIn   int
	idToken     string
	failRefresh bool

	registrations int
	devices       int
	grants        []string
	issued        int
}

func newFakeSSOOIDC(t *testing.T, f *fakeSSOOIDC) *httptest.Server {
	t.Helper()
	if f.expiresIn == 0 {
		f.expiresIn = 3600
	}
	server := httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(server.Close)
	return server
}

func (f *fakeSSOOIDC) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/client/register":
		f.registrations++
		_ = json.NewEncoder(w).Encode(auth.RegisterClientOutput{
			ClientID:              "client-id",
			ClientSecret:          "client-secret",
			ClientSecretExpiresAt: time.Now().Add(90 * 24 * time.Hour).Unix(),
		})
	case "/device_authorization":
		f.devices++
		_ = json.NewEncoder(w).Encode(auth.StartDeviceAuthorizationOutput{
			DeviceCode:              "device-code",
			UserCode:                "abcd-efgh",
			VerificationURI:         "https://device.example.com/",
			VerificationURIComplete: "https://device.example.com/?user_code=ABCD-EFGH",
			ExpiresIn:               600,
			Interval:                1,
		})
	case "/token":
		var in auth.CreateTokenInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.grants = append(f.grants, in.GrantType)
		switch {
		case in.GrantType == auth.GrantTypeDeviceCode && f.deny:
			writeOIDCError(w, "access_denied")
			return
		case in.GrantType == auth.GrantTypeDeviceCode && f.pending > 0:
			f.pending--
			writeOIDCError(w, "authorization_pending")
			return
		case in.GrantType == auth.GrantTypeRefreshToken && f.failRefresh:
			writeOIDCError(w, "invalid_grant")
			return
		}
		f.issued++
		_ = json.NewEncoder(w).Encode(auth.CreateTokenOutput{
			AccessToken:  fmt.Sprintf("access-%d", f.issued),
			RefreshToken: "refresh-token",
			IDToken:      f.idToken,
			TokenType:    "Bearer",
			ExpiresIn:    f.expiresIn,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeSSOOIDC) grantCount(grant string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.grants {
		if g == grant {
			n++
		}
	}
	return n
}

// calls returns the number of registrations and device authorizations served.
func (f *fakeSSOOIDC) calls() (registrations, devices int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registrations, f.devices
}

func writeOIDCError(w http.ResponseWriter, code string) {
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": code})
}
