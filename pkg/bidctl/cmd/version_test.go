package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telekom/bidctl/pkg/version"
)

func setBuildInfo(t *testing.T, v, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := version.Version, version.GitCommit, version.BuildDate
	t.Cleanup(func() {
		version.Version, version.GitCommit, version.BuildDate = origVersion, origCommit, origDate
	})
	version.Version, version.GitCommit, version.BuildDate = v, commit, date
}

func TestVersionCommand(t *testing.T) {
	setBuildInfo(t, "v1.2.3", "abc123-dirty", "2026-01-17T15:00:00Z")

	tests := []struct {
		name         string
		args         []string
		wantContains []string
		validateJSON bool
		validateYAML bool
	}{
		{
			name:         "default output format",
			args:         []string{},
			wantContains: []string{"bidctl v1.2.3", "commit: abc123-dirty", "built: 2026-01-17T15:00:00Z"},
		},
		{
			name:         "json output format",
			args:         []string{"-o", "json"},
			validateJSON: true,
		},
		{
			name:         "yaml output format",
			args:         []string{"--output", "yaml"},
			validateYAML: true,
			wantContains: []string{"version: v1.2.3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewVersionCommand()
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())

			if tt.validateJSON {
				var info version.BuildInfo
				require.NoError(t, json.Unmarshal(buf.Bytes(), &info), "output should be valid JSON")
				require.Equal(t, "v1.2.3", info.Version)
				require.Equal(t, "abc123-dirty", info.GitCommit)
				require.NotEmpty(t, info.GoVersion)
			}
			if tt.validateYAML {
				var info map[string]any
				require.NoError(t, yaml.Unmarshal(buf.Bytes(), &info), "output should be valid YAML")
			}
			for _, want := range tt.wantContains {
				require.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestVersionCommandThroughRoot(t *testing.T) {
	setBuildInfo(t, "v0.0.1", "test123", "2026-01-01T00:00:00Z")

	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{ConfigPath: "/nonexistent/bidctl/config.yaml", OutputWriter: buf})
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	require.Equal(t, "bidctl v0.0.1 (commit: test123, built: 2026-01-01T00:00:00Z)\n", buf.String())
}
