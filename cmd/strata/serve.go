package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/strata/server"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API together with the stage consumers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides [server] host and port",
			},
			&cli.Int64Flag{
				Name:  "max-upload",
				Usage: "Maximum upload size in bytes",
				Value: server.DefaultMaxUploadBytes,
			},
			&cli.BoolFlag{
				Name:  "api-only",
				Usage: "Serve the API without running stage consumers",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	gin.SetMode(gin.ReleaseMode)
	opts := []server.Option{
		server.WithTargets(sys.Targets),
		server.WithMaxUploadBytes(c.Int64("max-upload")),
		server.WithLogger(slog.Default()),
	}
	if s := sys.Searcher(); s != nil {
		opts = append(opts, server.WithSearcher(s))
	}
	srv, err := server.New(sys.Pipeline(), sys.Repository(), opts...)
	if err != nil {
		return err
	}

	addr := c.String("addr")
	if addr == "" {
		addr = sys.Config().Server.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	if !c.Bool("api-only") {
		g.Go(func() error { return runUntilDone(gctx, sys.Run) })
	}
	return g.Wait()
}

// runUntilDone treats cancellation as a clean stop.
func runUntilDone(ctx context.Context, run func(context.Context) error) error {
	err := run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
