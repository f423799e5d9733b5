package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds only bidctl metrics, so textfile exports stay small.
var Registry = prometheus.NewRegistry()

var (
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bidctl_login_attempts_total",
		Help: "Total number of Builder ID login attempts by outcome",
	}, []string{"outcome"})
	// PollRequests counts state machine transitions, one per token request.
	PollRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bidctl_poll_requests_total",
		Help: "Total number of device token poll responses by resulting state",
	}, []string{"state"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bidctl_token_refresh_total",
		Help: "Total number of token refresh checks by outcome",
	}, []string{"outcome"})
	Logouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bidctl_logout_total",
		Help: "Total number of logouts by outcome",
	}, []string{"outcome"})
	ClientRegistrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bidctl_client_registrations_total",
		Help: "Total number of OAuth client registrations by source (cached or registered)",
	}, []string{"source"})
)

func init() {
	Registry.MustRegister(LoginAttempts)
	Registry.MustRegister(PollRequests)
	Registry.MustRegister(TokenRefreshes)
	Registry.MustRegister(Logouts)
	Registry.MustRegister(ClientRegistrations)
}

// WriteTextfile writes all bidctl metrics in the node-exporter textfile
// format. The file is written atomically.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
