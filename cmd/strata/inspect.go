package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/strata"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/queue"
	"github.com/poiesic/strata/search"
	"github.com/poiesic/strata/storage"
	"github.com/urfave/cli/v2"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show queue depths and document counts, or one document's progress",
		ArgsUsage: "[DOCUMENT_ID]",
		Action: func(c *cli.Context) error {
			sys, err := openSystem(c.Context, c)
			if err != nil {
				return err
			}
			defer sys.Close()

			if id := c.Args().First(); id != "" {
				doc, err := sys.Repository().GetDocument(c.Context, id)
				if err != nil {
					return err
				}
				summary, err := sys.Pipeline().Summary(c.Context, id)
				if err != nil {
					return err
				}
				printDocument(os.Stdout, doc, summary)
				return nil
			}

			stats, err := sys.Pipeline().Stats(c.Context)
			if err != nil {
				return err
			}
			docs, err := sys.Repository().ListDocuments(c.Context, storage.DocumentFilter{})
			if err != nil {
				return err
			}
			printOverview(os.Stdout, stats, docs, sys.Targets())
			return nil
		},
	}
}

func printOverview(w io.Writer, stats []queue.Stats, docs []*core.Document, targets map[string]bool) {
	fmt.Fprintln(w, "Queues:")
	for _, st := range stats {
		fmt.Fprintf(w, "  %-10s pending %s  dead %s\n", st.Name, humanize.Comma(int64(st.Pending)), humanize.Comma(int64(st.Dead)))
	}

	counts := make(map[core.GoldStatus]int)
	for _, d := range docs {
		counts[d.GoldStatus]++
	}
	fmt.Fprintf(w, "Documents: %s\n", humanize.Comma(int64(len(docs))))
	for _, s := range []core.GoldStatus{core.GoldPending, core.GoldProcessing, core.GoldCompleted, core.GoldPartial} {
		fmt.Fprintf(w, "  %-10s %s\n", strings.ToLower(string(s)), humanize.Comma(int64(counts[s])))
	}

	fmt.Fprintln(w, "Targets:")
	for _, layer := range core.AllTargets {
		state := "disabled"
		if targets[layer.String()] {
			state = "enabled"
		}
		fmt.Fprintf(w, "  %-10s %s\n", layer, state)
	}
}

func printStage(w io.Writer, name string, s core.StageState) {
	fmt.Fprintf(w, "%-8s %s (attempts %d)", name, s.Status, s.Attempts)
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(w, " finished %s", humanize.Time(s.FinishedAt))
	}
	if s.Error != "" {
		fmt.Fprintf(w, ": %s", s.Error)
	}
	fmt.Fprintln(w)
}

func printDocument(w io.Writer, doc *core.Document, summary *core.DistributionSummary) {
	fmt.Fprintf(w, "%s  %s (%s, %s)\n", doc.ID, doc.Name, doc.MimeType, humanize.Bytes(uint64(doc.SizeBytes)))
	if doc.Deleted() {
		fmt.Fprintf(w, "deleted %s\n", humanize.Time(*doc.DeletedAt))
	}
	printStage(w, "bronze", doc.Bronze)
	printStage(w, "silver", doc.Silver)
	fmt.Fprintf(w, "%-8s %s, %d chunks", "gold", summary.Status, summary.Chunks)
	if doc.GoldError != "" {
		fmt.Fprintf(w, ": %s", doc.GoldError)
	}
	fmt.Fprintln(w)
	for _, layer := range core.AllTargets {
		tc := summary.Targets[layer]
		fmt.Fprintf(w, "  %-10s completed %d  pending %d  processing %d  failed %d  skipped %d\n",
			layer, tc.Completed, tc.Pending, tc.Processing, tc.Failed, tc.Skipped)
	}
}

func retryCommand() *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Reset failed Gold deliveries and queue them again",
		ArgsUsage: "[DOCUMENT_ID]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Sweep every PARTIAL document instead of one",
			},
			&cli.BoolFlag{
				Name:  "queue-only",
				Usage: "Leave the Gold jobs for a running server instead of draining them here",
			},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if (id == "") == !c.Bool("all") {
				return fmt.Errorf("give either a document id or --all")
			}
			sys, err := openSystem(c.Context, c)
			if err != nil {
				return err
			}
			defer sys.Close()

			if c.Bool("all") {
				st, err := sys.Sweeper().Sweep(c.Context)
				if err != nil {
					return err
				}
				fmt.Printf("Examined %d documents: retried %d, reset %d deliveries, %d exhausted, %d errors (%s)\n",
					st.Documents, st.Retried, st.Reset, st.Exhausted, st.Errors, st.Duration)
				return drainRetries(c, sys, st.Reset)
			}
			n, err := sys.Pipeline().RetryFailedDistributions(c.Context, id)
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d deliveries of %s\n", n, id)
			return drainRetries(c, sys, n)
		},
	}
}

// drainRetries runs the queued Gold retries in this process.
func drainRetries(c *cli.Context, sys *strata.System, reset int) error {
	if reset == 0 || c.Bool("queue-only") {
		return nil
	}
	n, err := sys.Pipeline().Drain(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Handled %d queued jobs\n", n)
	return nil
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Find chunks similar to a query",
		ArgsUsage: "QUERY",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of hits",
				Value:   search.DefaultLimit,
			},
			&cli.StringFlag{
				Name:  "document",
				Usage: "Only search chunks of this document",
			},
			&cli.Float64Flag{
				Name:  "min-score",
				Usage: "Drop hits scoring below this value",
			},
		},
		Action: func(c *cli.Context) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return search.ErrEmptyQuery
			}
			sys, err := openSystem(c.Context, c)
			if err != nil {
				return err
			}
			defer sys.Close()

			hits, err := sys.Search(c.Context, search.Query{
				Text:       query,
				Limit:      c.Int("limit"),
				DocumentID: c.String("document"),
				MinScore:   float32(c.Float64("min-score")),
			})
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("No results")
				return nil
			}
			for i, h := range hits {
				fmt.Printf("%d. [%.3f] %s#%d\n   %s\n", i+1, h.Score, h.DocumentID, h.ChunkIndex, preview(h.Content, 160))
			}
			return nil
		},
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
