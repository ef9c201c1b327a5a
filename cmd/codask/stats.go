package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"codask/internal/analysis"
	"codask/internal/git"
	"codask/internal/index"
	"codask/internal/ir"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the indexed snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		loaded, err := index.Load(ctx, a.store, a.logger)
		if err != nil {
			return err
		}
		vectors, err := a.store.VectorCount(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		cs := loaded.Catalog.Stats()
		gs := loaded.Graph.Stats()
		fmt.Fprintf(out, "Root:    %s (indexed %s)\n", loaded.Root, loaded.IndexedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Files:   %d\nUnits:   %d\nEdges:   %d\n", cs.Files, cs.Units, gs.Edges)
		fmt.Fprintf(out, "Issues:  %d\n", cs.Issues)
		for _, sev := range []ir.Severity{ir.SeverityHigh, ir.SeverityMedium, ir.SeverityLow} {
			fmt.Fprintf(out, "  %-8s %d\n", sev, cs.BySeverity[sev])
		}
		cats := make([]string, 0, len(cs.ByCategory))
		for c := range cs.ByCategory {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Fprintf(out, "  %-14s %d\n", c, cs.ByCategory[ir.Category(c)])
		}
		fmt.Fprintf(out, "Vectors: units=%d issues=%d\n", vectors["units"], vectors["issues"])
		return nil
	},
}

var (
	impactBase string
	impactHops int
)

var impactCmd = &cobra.Command{
	Use:   "impact",
	Short: "List indexed units touched by the working tree diff and their callers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		loaded, err := index.Load(ctx, a.store, a.logger)
		if err != nil {
			return err
		}
		changes, err := git.ChangedFiles(ctx, loaded.Root, impactBase)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(changes) == 0 {
			fmt.Fprintln(out, "No changes detected.")
			return nil
		}

		report := analysis.NewAnalyzer(loaded.Catalog, loaded.Graph).Impact(changes, impactHops)
		if jsonOutput {
			return writeJSON(out, report)
		}
		fmt.Fprintf(out, "%d changed file(s)\n", len(changes))
		fmt.Fprintf(out, "Directly affected (%d):\n", len(report.Direct))
		for _, u := range report.Direct {
			fmt.Fprintf(out, "  %s  %s\n", u.Name, u.Location())
		}
		fmt.Fprintf(out, "Callers (%d):\n", len(report.Indirect))
		for _, u := range report.Indirect {
			fmt.Fprintf(out, "  %s  %s\n", u.Name, u.Location())
		}
		if len(report.Issues) > 0 {
			fmt.Fprintf(out, "Open issues in changed units (%d):\n", len(report.Issues))
			for _, is := range report.Issues {
				fmt.Fprintf(out, "  [%s] %s: %s (%s)\n", is.Severity, is.Rule, is.Message, is.Location)
			}
		}
		for _, f := range report.Unindexed {
			fmt.Fprintf(out, "  not indexed: %s\n", filepath.ToSlash(f))
		}
		return nil
	},
}

func init() {
	impactCmd.Flags().StringVar(&impactBase, "base", "HEAD", "Git revision to diff against")
	impactCmd.Flags().IntVar(&impactHops, "hops", 1, "Caller levels to follow")
	impactCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
}
