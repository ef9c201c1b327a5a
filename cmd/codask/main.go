package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:           "codask",
		Short:         "Conversational debugging assistant for a local code repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	dbPath     string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the SQLite database (overrides config)")

	rootCmd.AddCommand(indexCmd, askCmd, chatCmd, historyCmd, resetCmd, serveCmd, statsCmd, impactCmd)
}
