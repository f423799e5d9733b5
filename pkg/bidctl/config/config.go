package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	DefaultProfileName = "default"
	DefaultRegion      = "us-east-1"
	DefaultStartURL    = "https://view.awsapps.com/start"
	DefaultClientName  = "bidctl"
	DefaultClientType  = "public"
)

// DefaultScopes are requested when a profile does not list its own.
var DefaultScopes = []string{
	"codewhisperer:completions",
	"codewhisperer:analysis",
	"codewhisperer:conversations",
}

type Config struct {
	Version        string    `yaml:"version"`
	CurrentProfile string    `yaml:"current-profile,omitempty"`
	Profiles       []Profile `yaml:"profiles,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat        string `yaml:"output-format,omitempty"`
	KeyStorage          string `yaml:"key-storage,omitempty"`
	RefreshMargin       string `yaml:"refresh-margin,omitempty"`
	SlowDownStep        string `yaml:"slow-down-step,omitempty"`
	LoginPromptTemplate string `yaml:"login-prompt-template,omitempty"`
	NoBrowser           bool   `yaml:"no-browser,omitempty"`
	MetricsTextfile     string `yaml:"metrics-textfile,omitempty"`
}

// Profile is one local sign-in identity. At most one token is stored per profile.
type Profile struct {
	Name            string   `yaml:"name"`
	Region          string   `yaml:"region,omitempty"`
	StartURL        string   `yaml:"start-url,omitempty"`
	OIDCURL         string   `yaml:"oidc-url,omitempty"`
	Issuer          string   `yaml:"issuer,omitempty"`
	Scopes          []string `yaml:"scopes,omitempty"`
	ClientName      string   `yaml:"client-name,omitempty"`
	ClientType      string   `yaml:"client-type,omitempty"`
	CAFile          string   `yaml:"ca-file,omitempty"`
	InsecureSkipTLS bool     `yaml:"insecure-skip-tls-verify,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version:        VersionV1,
		CurrentProfile: DefaultProfileName,
		Profiles: []Profile{{
			Name:     DefaultProfileName,
			Region:   DefaultRegion,
			StartURL: DefaultStartURL,
		}},
		Settings: Settings{
			OutputFormat:  "table",
			KeyStorage:    "keychain",
			RefreshMargin: "5m",
			SlowDownStep:  "5s",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields DefaultConfig.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			def := DefaultConfig()
			return &def, nil
		}
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindProfile(name string) (*Profile, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile not found: %s", name)
}

func (c *Config) CurrentProfileOrDefault() string {
	if c.CurrentProfile != "" {
		return c.CurrentProfile
	}
	if len(c.Profiles) > 0 {
		return c.Profiles[0].Name
	}
	return DefaultProfileName
}

// ResolveProfile returns a copy of the named profile with defaults filled in.
// The default profile resolves even when it is not listed.
func (c *Config) ResolveProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfileOrDefault()
	}
	var resolved Profile
	found, err := c.FindProfile(name)
	switch {
	case err == nil:
		resolved = *found
	case name == DefaultProfileName:
		resolved = Profile{Name: DefaultProfileName}
	default:
		return nil, err
	}
	if resolved.Region == "" {
		resolved.Region = DefaultRegion
	}
	if resolved.StartURL == "" {
		resolved.StartURL = DefaultStartURL
	}
	if len(resolved.Scopes) == 0 {
		resolved.Scopes = append([]string(nil), DefaultScopes...)
	}
	if resolved.ClientName == "" {
		resolved.ClientName = DefaultClientName
	}
	if resolved.ClientType == "" {
		resolved.ClientType = DefaultClientType
	}
	return &resolved, nil
}

// RefreshMarginDuration parses refresh-margin, returning 0 when unset.
func (s Settings) RefreshMarginDuration() (time.Duration, error) {
	return parseDuration("refresh-margin", s.RefreshMargin)
}

// SlowDownStepDuration parses slow-down-step, returning 0 when unset.
func (s Settings) SlowDownStepDuration() (time.Duration, error) {
	return parseDuration("slow-down-step", s.SlowDownStep)
}

func parseDuration(field, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", field)
	}
	return d, nil
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	seen := map[string]bool{}
	for _, p := range c.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("profile name cannot be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile: %s", p.Name)
		}
		seen[p.Name] = true
		if p.StartURL != "" && !strings.HasPrefix(p.StartURL, "https://") {
			return fmt.Errorf("profile %s start-url must use https", p.Name)
		}
	}
	if _, err := c.Settings.RefreshMarginDuration(); err != nil {
		return err
	}
	if _, err := c.Settings.SlowDownStepDuration(); err != nil {
		return err
	}
	switch strings.ToLower(c.Settings.KeyStorage) {
	case "", "keychain", "file":
	default:
		return fmt.Errorf("unsupported key-storage: %s", c.Settings.KeyStorage)
	}
	return nil
}
