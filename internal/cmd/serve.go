package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/upb/authflow/app"
	"github.com/upb/authflow/routes"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sign-up and sign-in forms",
		Long: `Start the local form server.

Routes:
  GET/POST /signup    registration form
  GET/POST /signin    sign-in form
  POST     /signout   sign out
  GET      /api/session current session, role and resolving flag
  GET      /admin     admin-only page
  GET      /healthz, /readyz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			return withDependencies(cmd.Context(), func(d *app.Dependencies) error {
				if addr == "" {
					addr = d.Config.Server.Address()
				}
				return serve(cmd.Context(), d, addr)
			})
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default SERVER_HOST:SERVER_PORT)")

	return cmd
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully
func serve(ctx context.Context, d *app.Dependencies, addr string) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      routes.SetupRoutes(d),
		ReadTimeout:  d.Config.Server.ReadTimeout,
		WriteTimeout: d.Config.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("form server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	d.Logger.Info("shutting down form server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
