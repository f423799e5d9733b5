package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/telekom/bidctl/pkg/bidctl/auth"
	"github.com/telekom/bidctl/pkg/bidctl/database"
)

// lazyOIDCClient defers endpoint discovery until the first request, so
// offline commands such as status and logout never touch the network.
type lazyOIDCClient struct {
	once   sync.Once
	build  func() (auth.OIDCClient, error)
	client auth.OIDCClient
	err    error
}

func newLazyOIDCClient(build func() (auth.OIDCClient, error)) *lazyOIDCClient {
	return &lazyOIDCClient{build: build}
}

func (c *lazyOIDCClient) get() (auth.OIDCClient, error) {
	c.once.Do(func() {
		c.client, c.err = c.build()
	})
	return c.client, c.err
}

func (c *lazyOIDCClient) RegisterClient(ctx context.Context, in *auth.RegisterClientInput) (*auth.RegisterClientOutput, error) {
	client, err := c.get()
	if err != nil {
		return nil, err
	}
	return client.RegisterClient(ctx, in)
}

func (c *lazyOIDCClient) StartDeviceAuthorization(ctx context.Context, in *auth.StartDeviceAuthorizationInput) (*auth.StartDeviceAuthorizationOutput, error) {
	client, err := c.get()
	if err != nil {
		return nil, err
	}
	return client.StartDeviceAuthorization(ctx, in)
}

func (c *lazyOIDCClient) CreateToken(ctx context.Context, in *auth.CreateTokenInput) (*auth.CreateTokenOutput, error) {
	client, err := c.get()
	if err != nil {
		return nil, err
	}
	return client.CreateToken(ctx, in)
}

// describeError adds a hint for the user to errors returned by auth
// operations. The original error stays in the chain.
func describeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("login cancelled: %w", err)
	}
	if errors.Is(err, database.ErrLocked) {
		return fmt.Errorf("another bidctl command is running, retry when it has finished: %w", err)
	}
	var hint string
	switch auth.KindOf(err) {
	case auth.KindRegistrationFailed:
		hint = "could not register the CLI with the identity provider, check region and network"
	case auth.KindDeviceAuthorizationFailed:
		hint = "could not start the device login, check the start URL and network"
	case auth.KindPollExpired:
		hint = "the login code expired before it was confirmed, run 'bidctl auth login' again"
	case auth.KindPollDenied:
		hint = "the login was denied in the browser"
	case auth.KindPollTransport:
		hint = "lost contact with the identity provider while waiting for confirmation"
	case auth.KindStateOrPkceMismatch:
		hint = "login verification failed, run 'bidctl auth login' again"
	case auth.KindNoTokenPresent:
		hint = "not logged in, run 'bidctl auth login'"
	case auth.KindTokenCorrupted:
		hint = "the stored token cannot be read, run 'bidctl auth logout' and login again"
	case auth.KindRefreshUnavailable, auth.KindRefreshFailed:
		hint = "the session cannot be refreshed, run 'bidctl auth login'"
	case auth.KindPersistenceFailure:
		hint = "could not access the local database"
	default:
		return err
	}
	return fmt.Errorf("%s: %w", hint, err)
}
