package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/bidctl/pkg/bidctl/config"
	"github.com/telekom/bidctl/pkg/bidctl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage bidctl configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigGetProfilesCommand(),
		newConfigUseProfileCommand(),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		region   string
		startURL string
		oidcURL  string
		issuer   string
		scopes   []string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a bidctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			profileName := rt.ResolveProfileName()
			cfg := config.DefaultConfig()
			cfg.CurrentProfile = profileName
			cfg.Profiles = []config.Profile{{
				Name:     profileName,
				Region:   region,
				StartURL: startURL,
				OIDCURL:  oidcURL,
				Issuer:   issuer,
				Scopes:   scopes,
			}}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", config.DefaultRegion, "Identity provider region")
	cmd.Flags().StringVar(&startURL, "start-url", config.DefaultStartURL, "Start URL of the Builder ID or Identity Center portal")
	cmd.Flags().StringVar(&oidcURL, "oidc-url", "", "SSO-OIDC base URL override")
	cmd.Flags().StringVar(&issuer, "issuer", "", "OIDC issuer used for endpoint discovery")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Scopes to request (default Builder ID scopes)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")

	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			return output.WriteObject(rt.Writer(), output.FormatYAML, rt.cfg)
		},
	}
}

func newConfigGetProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-profiles",
		Short: "List configured profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				output.WriteProfileTable(rt.Writer(), rt.cfg.Profiles, rt.cfg.CurrentProfileOrDefault())
				return nil
			}
			return output.WriteObject(rt.Writer(), format, rt.cfg.Profiles)
		},
	}
}

func newConfigUseProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile NAME",
		Short: "Set the current profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			if _, err := rt.cfg.FindProfile(args[0]); err != nil {
				return err
			}
			rt.cfg.CurrentProfile = args[0]
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Switched to profile %s\n", args[0])
			return nil
		},
	}
}
