package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Ingest files dropped into a directory while running the stage consumers",
		ArgsUsage: "DIR",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "category",
				Usage: "Category ID for every ingested file",
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "How long a file must stay unchanged before it is ingested",
				Value: 300 * time.Millisecond,
			},
		},
		Action: watch,
	}
}

func watch(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one directory is required")
	}
	dir := c.Args().First()
	if info, err := os.Stat(dir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	files := make(chan string, 16)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watchDirectory(gctx, dir, c.Duration("settle"), files) })
	g.Go(func() error { return runUntilDone(gctx, sys.Run) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case path := <-files:
				id, _, err := registerFile(gctx, sys.Pipeline(), path, c.String("category"), "")
				if err != nil {
					slog.Error("ingest failed", "file", path, "err", err)
					continue
				}
				slog.Info("ingested", "file", path, "document", id)
			}
		}
	})
	return g.Wait()
}

// settleTracker remembers when each file last changed.
type settleTracker struct {
	settle  time.Duration
	pending map[string]time.Time
}

func newSettleTracker(settle time.Duration) *settleTracker {
	return &settleTracker{settle: settle, pending: make(map[string]time.Time)}
}

func (t *settleTracker) touch(name string, at time.Time) {
	t.pending[name] = at
}

// ready removes and returns, sorted, the files unchanged for longer than
// the settle duration.
func (t *settleTracker) ready(now time.Time) []string {
	var out []string
	for name, at := range t.pending {
		if now.Sub(at) > t.settle {
			out = append(out, name)
			delete(t.pending, name)
		}
	}
	sort.Strings(out)
	return out
}

func ignoredFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".tmp")
}

// watchDirectory sends each new or rewritten regular file in dir to out once
// it has settled.
func watchDirectory(ctx context.Context, dir string, settle time.Duration, out chan<- string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	slog.Info("watching directory", "dir", dir, "settle", settle)

	tracker := newSettleTracker(settle)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && !ignoredFile(ev.Name) {
				tracker.touch(ev.Name, time.Now())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch error", "dir", dir, "err", err)
		case now := <-ticker.C:
			for _, name := range tracker.ready(now) {
				info, err := os.Stat(name)
				if err != nil || !info.Mode().IsRegular() {
					continue
				}
				select {
				case out <- name:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
