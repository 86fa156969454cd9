package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/upb/authflow/config"
	"github.com/upb/authflow/internal/cmd"
	"github.com/upb/authflow/services"
)

func main() {
	// Create a context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
			os.Exit(130)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if config.IsMissingValue(err) || services.IsConfigurationError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
