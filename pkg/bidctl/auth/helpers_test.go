package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	sets    int
	getErr  error
	setErr  error
	delErr  error
	deletes int
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}}
}

func (s *memStore) GetSecret(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) SetSecret(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.sets++
	s.data[key] = value
	return nil
}

func (s *memStore) DeleteSecret(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	s.deletes++
	delete(s.data, key)
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

type corruptErr struct{}

func (corruptErr) Error() string   { return "cannot decrypt" }
func (corruptErr) Corrupted() bool { return true }

type fakeSettings struct {
	err     error
	removed []string
}

func (s *fakeSettings) RemoveCustom(ctx context.Context, key string) error {
	if s.err != nil {
		return s.err
	}
	s.removed = append(s.removed, key)
	return nil
}

type tokenReply struct {
	out *CreateTokenOutput
	err error
}

// fakeOIDC scripts the three provider operations.
type fakeOIDC struct {
	mu sync.Mutex

	register     *RegisterClientOutput
	registerErr  error
	registerCall int

	device     *StartDeviceAuthorizationOutput
	deviceErr  error
	deviceCall []*StartDeviceAuthorizationInput

	tokens     []tokenReply
	tokenCalls []*CreateTokenInput
}

func (f *fakeOIDC) RegisterClient(ctx context.Context, in *RegisterClientInput) (*RegisterClientOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCall++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.register, nil
}

func (f *fakeOIDC) StartDeviceAuthorization(ctx context.Context, in *StartDeviceAuthorizationInput) (*StartDeviceAuthorizationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceCall = append(f.deviceCall, in)
	if f.deviceErr != nil {
		return nil, f.deviceErr
	}
	return f.device, nil
}

func (f *fakeOIDC) CreateToken(ctx context.Context, in *CreateTokenInput) (*CreateTokenOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls = append(f.tokenCalls, in)
	if len(f.tokens) == 0 {
		return nil, errors.New("no scripted token reply")
	}
	reply := f.tokens[0]
	f.tokens = f.tokens[1:]
	return reply.out, reply.err
}

func (f *fakeOIDC) tokenCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokenCalls)
}

func oidcErr(code string) tokenReply {
	return tokenReply{err: &OIDCError{StatusCode: 400, Code: code}}
}

func tokenOK(access string, expiresIn int) tokenReply {
	return tokenReply{out: &CreateTokenOutput{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}}
}

// fakeClock advances only when sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func fixedPKCE() *PKCECodes {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	return &PKCECodes{Verifier: verifier, Challenge: S256Challenge(verifier), Method: PKCEMethodS256}
}
