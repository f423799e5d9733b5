package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/bidctl/pkg/metrics"
)

// DefaultSlowDownStep is added to the polling interval on every slow_down
// response (RFC 8628 §3.5).
const DefaultSlowDownStep = 5 * time.Second

// PollState is a state of the device token polling state machine.
type PollState int

const (
	PollPending PollState = iota
	PollSlowDown
	PollSuccess
	PollExpired
	PollDenied
	PollError
)

func (s PollState) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollSlowDown:
		return "slow_down"
	case PollSuccess:
		return "success"
	case PollExpired:
		return "expired"
	case PollDenied:
		return "denied"
	case PollError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further polling happens from s.
func (s PollState) Terminal() bool {
	return s >= PollSuccess
}

// Transition describes one step of the state machine.
type Transition struct {
	From     PollState
	To       PollState
	Attempt  int
	Interval time.Duration
}

// Poller exchanges a device code for a token once the user has approved the
// authorization in a browser.
type Poller struct {
	Client       OIDCClient
	Region       string
	StartURL     string
	SlowDownStep time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// OnTransition, if set, is called synchronously for every state change
	// and for every repeated pending response.
	OnTransition func(Transition)
	Log          *zap.SugaredLogger
}

// Poll runs the state machine until a terminal state. It returns a token only
// in PollSuccess. Cancelling ctx stops polling at the next sleep or request.
func (p *Poller) Poll(ctx context.Context, reg *ClientRegistration, device *DeviceAuthorization, pkce *PKCECodes) (*BuilderIDToken, error) {
	const op = "poll token"
	log := p.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if reg == nil || device == nil {
		return nil, newError(KindPollTransport, op, errors.New("registration and device authorization are required"))
	}
	if !pkce.Matches(device.challenge) {
		return nil, newError(KindStateOrPkceMismatch, op, errors.New("code verifier does not match the challenge sent with the device authorization"))
	}

	now := nowFunc(p.Now)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	step := p.SlowDownStep
	if step <= 0 {
		step = DefaultSlowDownStep
	}
	interval := device.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	state := PollPending
	transition := func(to PollState, attempt int) {
		metrics.PollRequests.WithLabelValues(to.String()).Inc()
		log.Debugw("Device token poll", "attempt", attempt, "from", state, "to", to, "interval", interval)
		if p.OnTransition != nil {
			p.OnTransition(Transition{From: state, To: to, Attempt: attempt, Interval: interval})
		}
		state = to
	}

	for attempt := 1; ; attempt++ {
		if !now().Add(interval).Before(device.ExpiresAt) {
			transition(PollExpired, attempt)
			return nil, newError(KindPollExpired, op, errors.New("device code expired before authorization completed"))
		}
		if err := sleep(ctx, interval); err != nil {
			return nil, fmt.Errorf("device authorization polling cancelled: %w", err)
		}

		out, err := p.Client.CreateToken(ctx, &CreateTokenInput{
			ClientID:     reg.ClientID,
			ClientSecret: reg.ClientSecret,
			GrantType:    GrantTypeDeviceCode,
			DeviceCode:   device.DeviceCode,
			CodeVerifier: pkce.Verifier,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("device authorization polling cancelled: %w", ctxErr)
			}
			switch oidcErrorCode(err) {
			case codeAuthorizationPending:
				transition(PollPending, attempt)
				continue
			case codeSlowDown:
				interval += step
				transition(PollSlowDown, attempt)
				continue
			case codeExpiredToken:
				transition(PollExpired, attempt)
				return nil, newError(KindPollExpired, op, err)
			case codeAccessDenied:
				transition(PollDenied, attempt)
				return nil, newError(KindPollDenied, op, err)
			default:
				transition(PollError, attempt)
				return nil, newError(KindPollTransport, op, err)
			}
		}

		if out.ExpiresIn <= 0 {
			transition(PollError, attempt)
			return nil, newError(KindPollTransport, op, errors.New("token response is missing expiresIn"))
		}
		transition(PollSuccess, attempt)
		return &BuilderIDToken{
			AccessToken:  out.AccessToken,
			RefreshToken: out.RefreshToken,
			IDToken:      out.IDToken,
			TokenType:    out.TokenType,
			ExpiresAt:    now().Add(time.Duration(out.ExpiresIn) * time.Second).UTC(),
			Region:       p.Region,
			StartURL:     p.StartURL,
			Scopes:       append([]string(nil), reg.Scopes...),
		}, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
