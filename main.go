package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"m365cli/app"
)

// main is the entry point for the application.
// It initializes the core application logic, builds the CLI interface,
// and executes the command provided by the user.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	application := app.New(os.Stdout, os.Stderr)

	// Build the CLI command structure, injecting the application logic.
	cmd := BuildCLI(application)

	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
