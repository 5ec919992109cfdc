package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/poiesic/strata/backfill"
	"github.com/poiesic/strata/core"
	"github.com/urfave/cli/v2"
)

func backfillCommand() *cli.Command {
	defaults := backfill.DefaultConfig()
	return &cli.Command{
		Name:  "backfill",
		Usage: "Queue a stage again for every eligible document",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stage",
				Usage: "Stage to queue (bronze, silver, gold)",
				Value: defaults.Stage,
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Only documents of this category",
			},
			&cli.StringFlag{
				Name:  "gold-status",
				Usage: "Only documents in this Gold status (pending, processing, completed, partial)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of documents to process in each batch",
				Value: defaults.BatchSize,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N documents",
				Value: defaults.ReportInterval,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum enqueue attempts per document",
				Value: defaults.MaxRetries,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Base delay for exponential backoff between attempts",
				Value: defaults.RetryDelay,
			},
		},
		Action: runBackfill,
	}
}

func backfillConfig(c *cli.Context) *backfill.Config {
	return &backfill.Config{
		Stage:          strings.ToLower(c.String("stage")),
		CategoryID:     c.String("category"),
		GoldStatus:     core.GoldStatus(strings.ToUpper(c.String("gold-status"))),
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
}

func runBackfill(c *cli.Context) error {
	cfg := backfillConfig(c)
	sys, err := openSystem(c.Context, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	b, err := backfill.NewBackfiller(sys.Repository(), sys.Pipeline(), cfg, os.Stderr)
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := b.Run(c.Context)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Backfill of %s complete: %d enqueued, %d skipped in %s\n",
		cfg.Stage, res.Enqueued, res.Skipped, time.Since(start).Round(time.Millisecond))
	return nil
}
