package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

// RegistrationCache keeps client registrations in memory and in the secret
// store. Entries expire with the registration itself.
type RegistrationCache struct {
	backend SecretStore
	cache   *ttlcache.Cache[string, *ClientRegistration]
	now     func() time.Time
	log     *zap.SugaredLogger
}

func NewRegistrationCache(backend SecretStore, now func() time.Time, log *zap.SugaredLogger) *RegistrationCache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RegistrationCache{
		backend: backend,
		cache: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, *ClientRegistration](),
		),
		now: nowFunc(now),
		log: log,
	}
}

// Get returns a usable registration for profile, or nil when none is cached
// or the cached one has expired.
func (c *RegistrationCache) Get(ctx context.Context, profile string) (*ClientRegistration, error) {
	key := secretKey(profile, "registration")
	now := c.now()
	if item := c.cache.Get(key); item != nil {
		if reg := item.Value(); !reg.Expired(now) {
			return reg, nil
		}
		c.cache.Delete(key)
	}

	raw, ok, err := c.backend.GetSecret(ctx, key)
	if err != nil && isCorrupted(err) {
		c.log.Warnw("Discarding unreadable client registration", "profile", profile, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, newError(KindPersistenceFailure, "load client registration", err)
	}
	if !ok {
		return nil, nil
	}
	var reg ClientRegistration
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		// a broken registration only costs a new one
		c.log.Warnw("Discarding unreadable client registration", "profile", profile, "error", err)
		return nil, nil
	}
	if reg.Expired(now) {
		c.log.Debugw("Cached client registration expired", "profile", profile, "expiresAt", reg.ExpiresAt)
		return nil, nil
	}
	c.cache.Set(key, &reg, c.ttl(&reg, now))
	return &reg, nil
}

func (c *RegistrationCache) Put(ctx context.Context, profile string, reg *ClientRegistration) error {
	key := secretKey(profile, "registration")
	raw, err := json.Marshal(reg)
	if err != nil {
		return newError(KindPersistenceFailure, "save client registration", err)
	}
	if err := c.backend.SetSecret(ctx, key, string(raw)); err != nil {
		return newError(KindPersistenceFailure, "save client registration", err)
	}
	c.cache.Set(key, reg, c.ttl(reg, c.now()))
	return nil
}

func (c *RegistrationCache) Delete(ctx context.Context, profile string) error {
	key := secretKey(profile, "registration")
	c.cache.Delete(key)
	if err := c.backend.DeleteSecret(ctx, key); err != nil {
		return newError(KindPersistenceFailure, "delete client registration", err)
	}
	return nil
}

func (c *RegistrationCache) ttl(reg *ClientRegistration, now time.Time) time.Duration {
	if reg.ExpiresAt.IsZero() {
		return ttlcache.NoTTL
	}
	ttl := reg.ExpiresAt.Sub(now)
	if ttl <= 0 {
		// ttlcache treats 0 as "default TTL"; keep the entry just long enough
		// for the Expired check to reject it.
		return time.Nanosecond
	}
	return ttl
}
