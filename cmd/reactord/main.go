//go:build linux || darwin

// Command reactord is a small static file HTTP server, built on the
// reactor, with request handling offloaded to a worker pool.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/go-reactor/internal/config"
	"github.com/joeycumines/stumpy"
	"go.uber.org/automaxprocs/maxprocs"
)

var version = `dev`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, nil))
}

// run is main, minus the process. If ready is non-nil, it receives the
// server once it is listening.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, ready chan<- *server) int {
	flags, err := config.ParseFlags(`reactord`, args, stderr)
	if err != nil {
		return 2
	}
	if flags.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "reactord %s\n", version)
	}
	if flags.ShowHelp || flags.ShowVersion {
		return 0
	}

	cfg := flags.Config
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	level, _ := cfg.Level()

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug().Logf(format, args...)
	}))
	if err != nil {
		logger.Warning().
			Err(err).
			Log(`failed to set GOMAXPROCS`)
	}
	defer undo()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newServer(cfg, logger)
	if err != nil {
		logger.Err().
			Err(err).
			Log(`failed to start`)
		return 1
	}
	if ready != nil {
		ready <- s
	}

	if err := s.Serve(ctx); err != nil {
		logger.Err().
			Err(err).
			Log(`shutdown failed`)
		return 1
	}

	logger.Info().Log(`stopped`)
	return 0
}
