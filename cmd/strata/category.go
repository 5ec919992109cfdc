package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/poiesic/strata/core"
	"github.com/urfave/cli/v2"
)

func categoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "category",
		Usage: "Manage document categories",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List categories",
				Action: listCategories,
			},
			{
				Name:      "set",
				Usage:     "Create or replace a category",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Display name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Chunking strategy (paragraph, fixed)",
						Value: string(core.DefaultChunkingConfig().Strategy),
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Target chunk size in tokens",
						Value: core.DefaultChunkingConfig().ChunkSize,
					},
					&cli.IntFlag{
						Name:  "chunk-overlap",
						Usage: "Tokens shared by adjacent chunks",
						Value: core.DefaultChunkingConfig().ChunkOverlap,
					},
					&cli.StringFlag{
						Name:  "embedding-model",
						Usage: "Embedding model recorded on Gold vectors",
					},
					&cli.StringSliceFlag{
						Name:  "target",
						Usage: "Gold target (analytics, graph, vector); repeat for several, all when omitted",
					},
					&cli.BoolFlag{
						Name:  "inactive",
						Usage: "Store the category as inactive",
					},
				},
				Action: setCategory,
			},
		},
	}
}

// parseTargets maps target names to layers. No names means every layer.
func parseTargets(names []string) ([]core.TargetLayer, error) {
	if len(names) == 0 {
		return append([]core.TargetLayer(nil), core.AllTargets...), nil
	}
	out := make([]core.TargetLayer, 0, len(names))
	for _, n := range names {
		layer, err := core.ParseTargetLayer(n)
		if err != nil {
			return nil, err
		}
		out = append(out, layer)
	}
	return out, nil
}

func categoryFromFlags(c *cli.Context) (*core.DocumentCategory, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("exactly one category id is required")
	}
	targets, err := parseTargets(c.StringSlice("target"))
	if err != nil {
		return nil, err
	}
	cat := &core.DocumentCategory{
		ID:   c.Args().First(),
		Name: c.String("name"),
		Chunking: core.ChunkingConfig{
			Strategy:       core.ChunkingStrategy(c.String("strategy")),
			ChunkSize:      c.Int("chunk-size"),
			ChunkOverlap:   c.Int("chunk-overlap"),
			EmbeddingModel: c.String("embedding-model"),
		},
		TargetGoldLayers: targets,
		Active:           !c.Bool("inactive"),
	}
	if err := core.ValidateCategory(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func setCategory(c *cli.Context) error {
	cat, err := categoryFromFlags(c)
	if err != nil {
		return err
	}
	sys, err := openSystem(c.Context, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Repository().UpsertCategory(c.Context, cat); err != nil {
		return err
	}
	fmt.Printf("Saved category %s\n", cat.ID)
	return nil
}

func listCategories(c *cli.Context) error {
	sys, err := openSystem(c.Context, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	cats, err := sys.Repository().ListCategories(c.Context)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTRATEGY\tSIZE\tOVERLAP\tTARGETS\tACTIVE")
	for _, cat := range cats {
		targets := make([]string, len(cat.TargetGoldLayers))
		for i, t := range cat.TargetGoldLayers {
			targets[i] = t.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%t\n", cat.ID, cat.Name, cat.Chunking.Strategy,
			cat.Chunking.ChunkSize, cat.Chunking.ChunkOverlap, strings.Join(targets, ","), cat.Active)
	}
	return tw.Flush()
}
