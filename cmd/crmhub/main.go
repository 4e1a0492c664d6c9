package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/crmhub/crmhub/internal/cli"
)

func main() {
	// serve installs its own handler for a graceful shutdown; one-shot
	// commands such as sync stop at the next page boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.ExecuteWithErrorCode(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
