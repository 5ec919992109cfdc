package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/strata/pipeline"
	"github.com/urfave/cli/v2"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Register files and queue them for Bronze",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "category",
				Usage: "Category ID for every file",
			},
			&cli.StringFlag{
				Name:  "mime",
				Usage: "MIME type for every file, detected when empty",
			},
			&cli.BoolFlag{
				Name:  "process",
				Usage: "Drain every stage queue before exiting",
			},
		},
		Action: ingest,
	}
}

func ingest(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	ctx := c.Context
	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	var failed int
	for _, path := range c.Args().Slice() {
		id, size, err := registerFile(ctx, sys.Pipeline(), path, c.String("category"), c.String("mime"))
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", id, filepath.Base(path), humanize.Bytes(uint64(size)))
	}

	if c.Bool("process") {
		n, err := sys.Pipeline().Drain(ctx)
		if err != nil {
			return fmt.Errorf("drain failed after %d jobs: %w", n, err)
		}
		fmt.Fprintf(os.Stderr, "Processed %d jobs\n", n)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, c.NArg())
	}
	return nil
}

// registerFile uploads one file. A document registered without its Bronze
// job still reports its id alongside the error.
func registerFile(ctx context.Context, p *pipeline.Pipeline, path, category, mime string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	doc, err := p.Register(ctx, pipeline.Upload{
		Name:       filepath.Base(path),
		MimeType:   mime,
		CategoryID: category,
		Data:       data,
	})
	if err != nil {
		if doc != nil {
			return doc.ID, int64(len(data)), fmt.Errorf("document %s registered but not queued: %w", doc.ID, err)
		}
		return "", 0, err
	}
	return doc.ID, int64(len(data)), nil
}

func drainCommand() *cli.Command {
	return &cli.Command{
		Name:  "drain",
		Usage: "Process every ready job once and exit",
		Action: func(c *cli.Context) error {
			sys, err := openSystem(c.Context, c)
			if err != nil {
				return err
			}
			defer sys.Close()

			n, err := sys.Pipeline().Drain(c.Context)
			fmt.Fprintf(os.Stderr, "Processed %d jobs\n", n)
			return err
		},
	}
}
