package main

import (
	"fmt"
	"time"

	"codask/internal/crawler"
	"codask/internal/detector"
	"codask/internal/index"
	"codask/internal/knowledge"

	"github.com/spf13/cobra"
)

var skipEmbeddings bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Analyse the repository and store units, issues, graph and embeddings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		root := a.cfg.Project.Root
		if len(args) > 0 {
			root = args[0]
		}
		cr, err := crawler.NewCrawler(a.cfg.Project.Languages, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create crawler: %w", err)
		}

		var engine *knowledge.Engine
		if !skipEmbeddings {
			em, err := a.embedder(ctx)
			if err != nil {
				return fmt.Errorf("%w (use --skip-embeddings to index without vectors)", err)
			}
			engine = knowledge.NewEngine(em, a.store, a.logger)
		}

		res, err := index.NewIndexer(cr, detector.NewPatternDetector(), a.store, engine, a.logger).Run(ctx, root)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Indexed %s in %v\n", res.Snapshot.Root, res.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(out, "  units:  %d\n  issues: %d\n  edges:  %d\n", len(res.Snapshot.Units), len(res.Snapshot.Issues), len(res.Snapshot.Edges))
		if !res.Embedded {
			fmt.Fprintln(out, "  embeddings: skipped")
		}
		fmt.Fprintf(out, "Database: %s\n", a.cfg.DB)
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&skipEmbeddings, "skip-embeddings", false, "Store the analysis without computing embeddings")
}
