package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMetricsExistAndIncrement(t *testing.T) {
	LoginAttempts.WithLabelValues("test-outcome").Inc()
	if v := testutil.ToFloat64(LoginAttempts.WithLabelValues("test-outcome")); v < 1 {
		t.Fatalf("expected LoginAttempts >= 1, got %v", v)
	}

	PollRequests.WithLabelValues("test-state").Add(2)
	if v := testutil.ToFloat64(PollRequests.WithLabelValues("test-state")); v < 2 {
		t.Fatalf("expected PollRequests >= 2, got %v", v)
	}

	TokenRefreshes.WithLabelValues("test-outcome").Inc()
	if v := testutil.ToFloat64(TokenRefreshes.WithLabelValues("test-outcome")); v < 1 {
		t.Fatalf("expected TokenRefreshes >= 1, got %v", v)
	}
}

func TestWriteTextfile(t *testing.T) {
	Logouts.WithLabelValues("textfile-test").Inc()
	path := filepath.Join(t.TempDir(), "bidctl.prom")

	require.NoError(t, WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), `bidctl_logout_total{outcome="textfile-test"} 1`))
}
