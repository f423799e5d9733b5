package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/bidctl/pkg/system"
)

func TestRegistrationCache(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := newMemStore()
	cache := NewRegistrationCache(backend, clock.Now, system.NewTestLogger())

	reg, err := cache.Get(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, reg)

	want := &ClientRegistration{ClientID: "id", ClientSecret: "secret", ExpiresAt: clock.Now().Add(time.Hour)}
	require.NoError(t, cache.Put(ctx, "default", want))

	got, err := cache.Get(ctx, "default")
	require.NoError(t, err)
	assert.Same(t, want, got)

	// a fresh cache reads through to the backend
	reloaded, err := NewRegistrationCache(backend, clock.Now, nil).Get(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, "id", reloaded.ClientID)

	clock.Advance(time.Hour)
	got, err = cache.Get(ctx, "default")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Delete(ctx, "default"))
	assert.False(t, backend.has("auth:default:builder-id:registration"))
}

func TestRegistrationCacheWithoutExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := NewRegistrationCache(newMemStore(), clock.Now, nil)
	require.NoError(t, cache.Put(context.Background(), "default", &ClientRegistration{ClientID: "id"}))

	clock.Advance(365 * 24 * time.Hour)
	got, err := cache.Get(context.Background(), "default")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestRegistrationCacheDiscardsUnreadable(t *testing.T) {
	backend := newMemStore()
	backend.data["auth:default:builder-id:registration"] = "garbage"
	got, err := NewRegistrationCache(backend, nil, nil).Get(context.Background(), "default")
	require.NoError(t, err)
	assert.Nil(t, got)

	backend.getErr = corruptErr{}
	got, err = NewRegistrationCache(backend, nil, nil).Get(context.Background(), "default")
	require.NoError(t, err)
	assert.Nil(t, got)

	backend.getErr = errors.New("i/o error")
	_, err = NewRegistrationCache(backend, nil, nil).Get(context.Background(), "default")
	require.ErrorIs(t, err, ErrPersistenceFailure)
}

func TestRegistrar(t *testing.T) {
	clock := newFakeClock()

	t.Run("records expiry and scopes", func(t *testing.T) {
		client := &fakeOIDC{register: &RegisterClientOutput{
			ClientID:              "id",
			ClientSecret:          "secret",
			ClientSecretExpiresAt: clock.Now().Add(24 * time.Hour).Unix(),
		}}
		scopes := []string{"codewhisperer:completions"}
		r := &Registrar{Client: client, Region: "us-east-1", OIDCURL: "https://oidc.example.com", Now: clock.Now}
		reg, err := r.Register(context.Background(), "bidctl", "", scopes)
		require.NoError(t, err)
		assert.Equal(t, "id", reg.ClientID)
		assert.Equal(t, clock.Now().Add(24*time.Hour), reg.ExpiresAt)
		assert.Equal(t, "https://oidc.example.com", reg.OIDCURL)
		scopes[0] = "mutated"
		assert.Equal(t, []string{"codewhisperer:completions"}, reg.Scopes)
	})

	t.Run("already expired", func(t *testing.T) {
		client := &fakeOIDC{register: &RegisterClientOutput{ClientID: "id", ClientSecretExpiresAt: clock.Now().Add(-time.Hour).Unix()}}
		_, err := (&Registrar{Client: client, Now: clock.Now}).Register(context.Background(), "bidctl", ClientTypePublic, nil)
		require.ErrorIs(t, err, ErrRegistrationFailed)
	})

	t.Run("provider error", func(t *testing.T) {
		client := &fakeOIDC{registerErr: &OIDCError{StatusCode: 400, Code: "invalid_scope"}}
		_, err := (&Registrar{Client: client}).Register(context.Background(), "bidctl", ClientTypePublic, nil)
		require.ErrorIs(t, err, ErrRegistrationFailed)
		assert.Equal(t, "invalid_scope", oidcErrorCode(err))
	})

	t.Run("nil client", func(t *testing.T) {
		_, err := (&Registrar{}).Register(context.Background(), "bidctl", ClientTypePublic, nil)
		require.ErrorIs(t, err, ErrRegistrationFailed)
	})
}
