package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/bidctl/pkg/bidctl/auth"
	"github.com/telekom/bidctl/pkg/bidctl/config"
	"github.com/telekom/bidctl/pkg/bidctl/database"
	"github.com/telekom/bidctl/pkg/metrics"
	"github.com/telekom/bidctl/pkg/system"
)

type Config struct {
	ConfigPath   string
	DatabasePath string
	OutputWriter io.Writer

	// KeyProvider overrides the key-storage setting.
	KeyProvider database.KeyProvider
	// OpenBrowser defaults to auth.OpenBrowser.
	OpenBrowser func(url string) error
	// ManagerOptions are appended to the options of every auth.Manager.
	ManagerOptions []auth.Option
	// Now is used for status output. Defaults to time.Now.
	Now func() time.Time
}

type runtimeState struct {
	configPath         string
	databasePath       string
	cfg                *config.Config
	profileOverride    string
	outputFormat       string
	keyStorageOverride string
	noBrowser          bool
	verbose            bool
	writer             io.Writer
	log                *zap.SugaredLogger

	keys        database.KeyProvider
	openBrowser func(url string) error
	managerOpts []auth.Option
	now         func() time.Time
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		DatabasePath: config.DefaultDatabasePath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:   cfg.ConfigPath,
		databasePath: cfg.DatabasePath,
		writer:       cfg.OutputWriter,
		log:          zap.NewNop().Sugar(),
		keys:         cfg.KeyProvider,
		openBrowser:  cfg.OpenBrowser,
		managerOpts:  cfg.ManagerOptions,
		now:          cfg.Now,
	}

	root := &cobra.Command{
		Use:          "bidctl",
		Short:        "Builder ID login and token management",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.databasePath == "" {
				rt.databasePath = config.DefaultDatabasePath()
			}
			if rt.openBrowser == nil {
				rt.openBrowser = auth.OpenBrowser
			}
			if rt.now == nil {
				rt.now = time.Now
			}
			if rt.profileOverride == "" {
				rt.profileOverride = os.Getenv("BIDCTL_PROFILE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("BIDCTL_OUTPUT")
			}
			if rt.keyStorageOverride == "" {
				rt.keyStorageOverride = os.Getenv("BIDCTL_KEY_STORAGE")
			}
			if !rt.noBrowser {
				rt.noBrowser = strings.EqualFold(os.Getenv("BIDCTL_NO_BROWSER"), "true")
			}
			if !rt.verbose {
				rt.verbose = system.VerboseFromEnv()
			}
			if log, err := system.NewLogger(rt.verbose); err == nil {
				rt.log = log
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.profileOverride, "profile", "p", "", "Profile name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.keyStorageOverride, "key-storage", "", "Database key storage: keychain or file")
	root.PersistentFlags().BoolVar(&rt.noBrowser, "no-browser", false, "Do not open a browser during login")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging on stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuthCommand(),
		NewSettingsCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// EnsureConfigLoaded loads the config file. A missing file yields defaults.
func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.LoadOrDefault(rt.configPathValue())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) ResolveProfileName() string {
	if rt.profileOverride != "" {
		return rt.profileOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentProfileOrDefault()
	}
	return config.DefaultProfileName
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return rt.cfg.Settings.OutputFormat
	}
	return "table"
}

func (rt *runtimeState) KeyStorage() string {
	if rt.keyStorageOverride != "" {
		return rt.keyStorageOverride
	}
	if rt.cfg != nil && rt.cfg.Settings.KeyStorage != "" {
		return rt.cfg.Settings.KeyStorage
	}
	return database.KeyStorageKeychain
}

func (rt *runtimeState) NoBrowser() bool {
	return rt.noBrowser || (rt.cfg != nil && rt.cfg.Settings.NoBrowser)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}

// withDatabase opens the local database for the duration of fn. Metrics are
// exported afterwards when a textfile is configured, whatever fn returned.
func (rt *runtimeState) withDatabase(fn func(db *database.Database) error) error {
	keys := rt.keys
	if keys == nil {
		var err error
		keys, err = database.NewKeyProvider(rt.KeyStorage(), filepath.Dir(rt.databasePath))
		if err != nil {
			return err
		}
	}
	db, err := database.Open(rt.databasePath, database.Options{Keys: keys, Log: rt.log})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			rt.log.Warnw("Failed to close database", "error", err)
		}
		rt.exportMetrics()
	}()
	return fn(db)
}

// authSession bundles what auth subcommands need for one profile.
type authSession struct {
	profile *config.Profile
	manager *auth.Manager
	db      *database.Database
}

func (rt *runtimeState) withAuth(ctx context.Context, fn func(s *authSession) error) error {
	if rt.cfg == nil {
		return errors.New("config not loaded")
	}
	margin, err := rt.cfg.Settings.RefreshMarginDuration()
	if err != nil {
		return err
	}
	step, err := rt.cfg.Settings.SlowDownStepDuration()
	if err != nil {
		return err
	}

	return rt.withDatabase(func(db *database.Database) error {
		name, err := rt.resolveProfileNameWithSettings(ctx, db)
		if err != nil {
			return err
		}
		profile, err := rt.cfg.ResolveProfile(name)
		if err != nil {
			return err
		}
		log := rt.log.With(system.ProfileFields(profile.Name, profile.Region)...)

		client := newLazyOIDCClient(func() (auth.OIDCClient, error) {
			return auth.NewSSOOIDCClient(ctx, auth.SSOOIDCConfig{
				Region:          profile.Region,
				BaseURL:         profile.OIDCURL,
				Issuer:          profile.Issuer,
				CAFile:          profile.CAFile,
				InsecureSkipTLS: profile.InsecureSkipTLS,
			})
		})
		opts := append([]auth.Option{auth.WithLogger(log)}, rt.managerOpts...)
		manager := auth.NewManager(auth.ManagerConfig{
			Profile:       profile.Name,
			Region:        profile.Region,
			StartURL:      profile.StartURL,
			OIDCURL:       profile.OIDCURL,
			ClientName:    profile.ClientName,
			ClientType:    profile.ClientType,
			Scopes:        profile.Scopes,
			RefreshMargin: margin,
			SlowDownStep:  step,
		}, client, db, db, opts...)
		return fn(&authSession{profile: profile, manager: manager, db: db})
	})
}

// resolveProfileNameWithSettings applies the auth.profile setting between the
// flag/env override and the config's current profile. Logout clears it.
func (rt *runtimeState) resolveProfileNameWithSettings(ctx context.Context, db *database.Database) (string, error) {
	if rt.profileOverride != "" {
		return rt.profileOverride, nil
	}
	value, ok, err := db.GetSetting(ctx, auth.ProfileSettingKey)
	if err != nil {
		return "", fmt.Errorf("failed to read %s setting: %w", auth.ProfileSettingKey, err)
	}
	if ok {
		name, isString := value.(string)
		if !isString || strings.TrimSpace(name) == "" {
			return "", fmt.Errorf("setting %s must be a profile name, got %v", auth.ProfileSettingKey, value)
		}
		return name, nil
	}
	return rt.ResolveProfileName(), nil
}

func (rt *runtimeState) exportMetrics() {
	if rt.cfg == nil || rt.cfg.Settings.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(rt.cfg.Settings.MetricsTextfile); err != nil {
		rt.log.Warnw("Failed to write metrics textfile", "path", rt.cfg.Settings.MetricsTextfile, "error", err)
	}
}
