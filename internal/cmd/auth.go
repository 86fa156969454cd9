package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/authflow/app"
	"github.com/upb/authflow/models"
	"github.com/upb/authflow/provider"
	"github.com/upb/authflow/services"
)

func newSignUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		Long: `Register a new account with email and password.

The provider sends a verification email; sign in once the address is confirmed.
When --password is omitted it is read from the first line of stdin.

Examples:
  authflow signup --email user@example.com --password mypass
  authflow signup --email user@example.com --ref FRIEND < password.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			ref, _ := cmd.Flags().GetString("ref")
			password, err := passwordFlag(cmd)
			if err != nil {
				return err
			}

			return withDependencies(cmd.Context(), func(d *app.Dependencies) error {
				msg, err := d.AuthService.Register(cmd.Context(), models.SignUpRequest{
					Credentials:  models.Credentials{Email: strings.TrimSpace(email), Password: password},
					ReferralCode: strings.TrimSpace(ref),
				})
				return report(cmd, msg, err)
			})
		},
	}

	cmd.Flags().String("email", "", "Email address")
	cmd.Flags().String("password", "", "Password (read from stdin when empty)")
	cmd.Flags().String("ref", "", "Referral code")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newSignInCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Long: `Sign in with email and password. The session is persisted to the
configured session store and reused by later commands.

Examples:
  authflow signin --email user@example.com --password mypass`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, err := passwordFlag(cmd)
			if err != nil {
				return err
			}

			return withDependencies(cmd.Context(), func(d *app.Dependencies) error {
				msg, err := d.AuthService.Login(cmd.Context(), models.Credentials{
					Email:    strings.TrimSpace(email),
					Password: password,
				})
				return report(cmd, msg, err)
			})
		},
	}

	cmd.Flags().String("email", "", "Email address")
	cmd.Flags().String("password", "", "Password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), func(d *app.Dependencies) error {
				msg, err := d.AuthService.Logout(cmd.Context())
				return report(cmd, msg, err)
			})
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session and role",
		Long: `Resolve the stored session and the user's role, then print them.

The role comes from user metadata when the privileged lookup is enabled,
otherwise from the users table. With --refresh the access token is exchanged
and the user record re-read from the provider first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			refresh, _ := cmd.Flags().GetBool("refresh")

			return withDependencies(cmd.Context(), func(d *app.Dependencies) error {
				if refresh {
					if err := refreshStored(cmd.Context(), d); err != nil {
						return err
					}
				}
				if err := d.Start(cmd.Context()); err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				state, err := d.Resolver.WaitSettled(ctx)
				if err != nil {
					return fmt.Errorf("role still resolving: %w", err)
				}

				out := cmd.OutOrStdout()
				if state.Session == nil {
					fmt.Fprintln(out, "Not signed in.")
					return nil
				}

				role := "none"
				if state.Role != nil {
					role = state.Role.String()
				}
				fmt.Fprintf(out, "Signed in as %s\n", state.Session.User.Email)
				fmt.Fprintf(out, "User ID: %s\n", state.Session.UserID())
				fmt.Fprintf(out, "Role: %s\n", role)
				if !state.Session.ExpiresAt.IsZero() {
					fmt.Fprintf(out, "Expires: %s\n", state.Session.ExpiresAt.Local().Format(time.RFC1123))
				}
				return nil
			})
		},
	}

	cmd.Flags().Duration("timeout", 10*time.Second, "How long to wait for the role lookup")
	cmd.Flags().Bool("refresh", false, "Refresh the session and user record before resolving")

	return cmd
}

// refreshStored renews the stored session and user record. Nobody signed in is not an error.
func refreshStored(ctx context.Context, d *app.Dependencies) error {
	if _, err := d.Client.RefreshSession(ctx); err != nil {
		if errors.Is(err, provider.ErrNoSession) {
			return nil
		}
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if _, err := d.Client.GetUser(ctx); err != nil {
		return fmt.Errorf("failed to fetch user: %w", err)
	}
	return nil
}

// passwordFlag returns --password, or the first line of stdin when it is empty
func passwordFlag(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password = strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("--password is required")
	}
	return password, nil
}

// report prints the form message; failures also make the command exit non-zero
func report(cmd *cobra.Command, msg string, err error) error {
	if err != nil {
		return fmt.Errorf("%s", services.UserMessage(err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
