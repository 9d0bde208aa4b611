// Package main provides the btrelay process entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/btrelay/internal/app"
)

// main cancels the run context on the first SIGINT/SIGTERM. Later signals stay
// captured until exit so a second interrupt cannot cut the child shutdown short.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(exitCode)
}
