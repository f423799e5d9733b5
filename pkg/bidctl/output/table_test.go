package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/telekom/bidctl/pkg/bidctl/config"
)

func TestWriteStatusTable(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	valid := now.Add(30 * time.Minute)
	past := now.Add(-time.Minute)

	var buf bytes.Buffer
	WriteStatusTable(&buf, []TokenStatus{
		{Profile: "default", LoggedIn: true, Region: "us-east-1", ExpiresAt: &valid, HasRefreshToken: true},
		{Profile: "old", LoggedIn: true, Expired: true, ExpiresAt: &past},
		{Profile: "work"},
		{Profile: "broken", Error: "stored token is corrupted"},
	}, now)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[0], "PROFILE")
	assert.Contains(t, lines[1], "logged in")
	assert.Contains(t, lines[1], "(in 30m0s)")
	assert.Contains(t, lines[1], "yes")
	assert.Contains(t, lines[2], "expired")
	assert.Contains(t, lines[3], "logged out")
	assert.Contains(t, lines[4], "stored token is corrupted")
}

func TestWriteProfileTable(t *testing.T) {
	var buf bytes.Buffer
	WriteProfileTable(&buf, []config.Profile{
		{Name: "default", Region: "us-east-1"},
		{Name: "work", Scopes: []string{"a", "b"}},
	}, "work")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.False(t, strings.HasPrefix(lines[1], "*"))
	assert.True(t, strings.HasPrefix(lines[2], "*"))
	assert.Contains(t, lines[2], "a,b")
}

func TestWriteSettingsTableSorted(t *testing.T) {
	var buf bytes.Buffer
	WriteSettingsTable(&buf, map[string]any{"z.last": 1, "a.first": true})
	out := buf.String()
	assert.Less(t, strings.Index(out, "a.first"), strings.Index(out, "z.last"))
}
