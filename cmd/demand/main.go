// Command demand sends one HTTP request and prints the response, events are reported to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		log.SetHandler(cli.New(os.Stderr))
		log.WithError(err).Error("demand failed")
		stop()
		os.Exit(1)
	}
}
