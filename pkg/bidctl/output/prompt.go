package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/telekom/bidctl/pkg/bidctl/auth"
)

// DefaultLoginPrompt is shown when login-prompt-template is not configured.
const DefaultLoginPrompt = `Open {{ .VerificationURL }} and confirm code {{ .UserCode | upper }}{{ if .ExpiresIn }} (expires in {{ .ExpiresIn }}){{ end }}`

// LoginPrompt is the data available to login prompt templates. Fields of the
// device authorization are promoted, e.g. {{ .UserCode }}.
type LoginPrompt struct {
	*auth.DeviceAuthorization
	Profile   string
	ExpiresIn time.Duration
}

func NewLoginPrompt(profile string, device *auth.DeviceAuthorization, now time.Time) LoginPrompt {
	return LoginPrompt{
		DeviceAuthorization: device,
		Profile:             profile,
		ExpiresIn:           device.ExpiresAt.Sub(now).Round(time.Second),
	}
}

// RenderLoginPrompt executes tmpl with sprig functions. An empty tmpl uses
// DefaultLoginPrompt.
func RenderLoginPrompt(tmpl string, prompt LoginPrompt) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultLoginPrompt
	}
	t, err := template.New("login-prompt").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("invalid login prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, prompt); err != nil {
		return "", fmt.Errorf("failed to render login prompt: %w", err)
	}
	return buf.String(), nil
}
