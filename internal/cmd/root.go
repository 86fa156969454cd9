package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/authflow/app"
	"github.com/upb/authflow/config"
	"github.com/upb/authflow/internal/observability"
)

// NewRootCmd creates the authflow root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authflow",
		Short: "Sign up, sign in and resolve roles against a hosted auth service",
		Long: `authflow is a small front-end for a hosted authentication service.

It serves sign-up and sign-in forms, keeps the current session and role in sync
with the provider, and exposes the same actions on the command line.

Configuration is read from the environment (and .env when present):
  SUPABASE_URL        service endpoint (required)
  SUPABASE_ANON_KEY   public API key (required)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSignUpCmd(),
		newSignInCmd(),
		newSignOutCmd(),
		newWhoamiCmd(),
	)

	return rootCmd
}

// ExecuteContext runs the root command with ctx
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// bootstrap loads configuration and wires dependencies. A missing
// SUPABASE_URL or SUPABASE_ANON_KEY fails here, before any client exists.
func bootstrap(ctx context.Context) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return deps, nil
}

// withDependencies runs fn with freshly wired dependencies and closes them afterwards
func withDependencies(ctx context.Context, fn func(*app.Dependencies) error) error {
	deps, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.Close(context.Background())
	}()
	return fn(deps)
}
