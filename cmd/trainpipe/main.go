package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"trainpipe/internal/cli"
)

// main cancels the run context on SIGINT or SIGTERM; the running step gets
// the interrupt and the pipeline stops after it.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
