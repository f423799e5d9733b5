package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/telekom/bidctl/pkg/bidctl/config"
)

// TokenStatus is the view of a profile's login state printed by auth status.
type TokenStatus struct {
	Profile         string     `json:"profile" yaml:"profile"`
	LoggedIn        bool       `json:"loggedIn" yaml:"loggedIn"`
	Region          string     `json:"region,omitempty" yaml:"region,omitempty"`
	StartURL        string     `json:"startUrl,omitempty" yaml:"startUrl,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	Expired         bool       `json:"expired" yaml:"expired"`
	HasRefreshToken bool       `json:"hasRefreshToken" yaml:"hasRefreshToken"`
	Scopes          []string   `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Error           string     `json:"error,omitempty" yaml:"error,omitempty"`
}

func WriteStatusTable(w io.Writer, statuses []TokenStatus, now time.Time) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROFILE\tSTATUS\tREGION\tEXPIRES\tREFRESHABLE")
	for _, s := range statuses {
		status := "logged out"
		switch {
		case s.Error != "":
			status = s.Error
		case s.LoggedIn && s.Expired:
			status = "expired"
		case s.LoggedIn:
			status = "logged in"
		}
		expires := "-"
		if s.ExpiresAt != nil {
			expires = formatExpiry(*s.ExpiresAt, now)
		}
		refreshable := "-"
		if s.LoggedIn {
			refreshable = yesNo(s.HasRefreshToken)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Profile, status, dash(s.Region), expires, refreshable)
	}
	_ = tw.Flush()
}

func WriteProfileTable(w io.Writer, profiles []config.Profile, current string) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CURRENT\tNAME\tREGION\tSTART_URL\tSCOPES")
	for _, p := range profiles {
		marker := ""
		if p.Name == current {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, p.Name, dash(p.Region), dash(p.StartURL), dash(strings.Join(p.Scopes, ",")))
	}
	_ = tw.Flush()
}

// WriteSettingsTable prints settings sorted by key.
func WriteSettingsTable(w io.Writer, settings map[string]any) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tVALUE")
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "%s\t%v\n", k, settings[k])
	}
	_ = tw.Flush()
}

func formatExpiry(t, now time.Time) string {
	stamp := t.Local().Format("2006-01-02 15:04:05")
	remaining := t.Sub(now)
	if remaining <= 0 {
		return stamp + " (expired)"
	}
	return fmt.Sprintf("%s (in %s)", stamp, remaining.Round(time.Second))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
