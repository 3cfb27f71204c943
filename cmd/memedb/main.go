package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/memehubx/memedb/pkg/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// The first interrupt cancels the run so the current batch can land;
	// a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	return cli.Execute(ctx, args, os.Stdout, os.Stderr)
}
