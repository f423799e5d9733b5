package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/bidctl/pkg/bidctl/database"
	"github.com/telekom/bidctl/pkg/bidctl/output"
)

func NewSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage settings stored in the local database",
	}
	cmd.AddCommand(
		newSettingsGetCommand(),
		newSettingsSetCommand(),
		newSettingsDeleteCommand(),
		newSettingsListCommand(),
	)
	return cmd
}

func newSettingsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			return rt.withDatabase(func(db *database.Database) error {
				value, ok, err := db.GetSetting(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("setting not found: %s", args[0])
				}
				if format == output.FormatTable {
					_, _ = fmt.Fprintln(rt.Writer(), formatSettingValue(value))
					return nil
				}
				return output.WriteObject(rt.Writer(), format, value)
			})
		},
	}
}

func newSettingsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a setting. JSON values are stored as JSON, anything else as a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.withDatabase(func(db *database.Database) error {
				if err := db.SetSetting(cmd.Context(), args[0], parseSettingValue(args[1])); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(rt.Writer(), "Set %s\n", args[0])
				return nil
			})
		},
	}
}

func newSettingsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete KEY",
		Aliases: []string{"unset"},
		Short:   "Remove a setting so the default applies again",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.withDatabase(func(db *database.Database) error {
				if err := db.RemoveCustom(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(rt.Writer(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newSettingsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			return rt.withDatabase(func(db *database.Database) error {
				settings, err := db.Settings(cmd.Context())
				if err != nil {
					return err
				}
				if format == output.FormatTable {
					output.WriteSettingsTable(rt.Writer(), settings)
					return nil
				}
				return output.WriteObject(rt.Writer(), format, settings)
			})
		},
	}
}

func parseSettingValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

func formatSettingValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}
