package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/bidctl/pkg/bidctl/auth"
	"github.com/telekom/bidctl/pkg/bidctl/output"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Login to Builder ID and manage the stored token",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthRefreshCommand(),
		newAuthLogoutCommand(),
		newAuthWhoamiCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login via the device authorization flow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return rt.withAuth(ctx, func(s *authSession) error {
				pending, err := s.manager.StartLogin(ctx)
				if err != nil {
					return describeError(err)
				}
				prompt, err := output.RenderLoginPrompt(rt.cfg.Settings.LoginPromptTemplate, output.NewLoginPrompt(s.profile.Name, pending.Device, rt.now()))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(rt.Writer(), prompt)
				if !rt.NoBrowser() {
					if err := rt.openBrowser(pending.Device.VerificationURL()); err != nil {
						rt.log.Debugw("Could not open browser", "error", err)
					}
				}
				_, _ = fmt.Fprintln(rt.Writer(), "Waiting for confirmation...")

				token, err := pending.Wait(ctx)
				if err != nil {
					return describeError(err)
				}
				_, _ = fmt.Fprintf(rt.Writer(), "Logged in. Token expires at %s\n", token.ExpiresAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login status of the profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			return rt.withAuth(cmd.Context(), func(s *authSession) error {
				status := output.TokenStatus{Profile: s.profile.Name}
				token, err := s.manager.Tokens().Load(cmd.Context())
				switch {
				case auth.KindOf(err) == auth.KindTokenCorrupted:
					status.Error = auth.KindTokenCorrupted.String()
				case err != nil:
					return describeError(err)
				case token != nil:
					now := rt.now()
					expiresAt := token.ExpiresAt
					status.LoggedIn = true
					status.Region = token.Region
					status.StartURL = token.StartURL
					status.ExpiresAt = &expiresAt
					status.Expired = token.Expired(now)
					status.HasRefreshToken = token.RefreshToken != ""
					status.Scopes = token.Scopes
				}
				if format == output.FormatTable {
					output.WriteStatusTable(rt.Writer(), []output.TokenStatus{status}, rt.now())
					return nil
				}
				return output.WriteObject(rt.Writer(), format, status)
			})
		},
	}
}

func newAuthRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the token when it is close to expiry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.withAuth(cmd.Context(), func(s *authSession) error {
				token, refreshed, err := s.manager.RefreshIfNeeded(cmd.Context())
				if err != nil {
					return describeError(err)
				}
				expires := token.ExpiresAt.UTC().Format(time.RFC3339)
				if refreshed {
					_, _ = fmt.Fprintf(rt.Writer(), "Token refreshed. Expires at %s\n", expires)
				} else {
					_, _ = fmt.Fprintf(rt.Writer(), "Token still valid until %s\n", expires)
				}
				return nil
			})
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.withAuth(cmd.Context(), func(s *authSession) error {
				result, err := s.manager.Logout(cmd.Context())
				if err != nil {
					return describeError(err)
				}
				if result.SettingsErr != nil {
					_, _ = fmt.Fprintf(rt.Writer(), "Warning: %v\n", result.SettingsErr)
				}
				_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
				return nil
			})
		},
	}
}

func newAuthWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity of the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			return rt.withAuth(cmd.Context(), func(s *authSession) error {
				token, err := s.manager.Tokens().Load(cmd.Context())
				if err != nil {
					return describeError(err)
				}
				if token == nil {
					return describeError(auth.ErrNoTokenPresent)
				}
				identity := identityFromToken(token)
				identity.Profile = s.profile.Name
				if format == output.FormatTable {
					_, _ = fmt.Fprintf(rt.Writer(), "Profile:  %s\nSubject:  %s\nEmail:    %s\nUsername: %s\n",
						identity.Profile, identity.Subject, identity.Email, identity.Username)
					return nil
				}
				return output.WriteObject(rt.Writer(), format, identity)
			})
		},
	}
}
