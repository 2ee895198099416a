package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	// Register datasource adapters.
	_ "github.com/vfrank66/splink/pkg/adapters/datasource/mssql"
	_ "github.com/vfrank66/splink/pkg/adapters/datasource/postgres"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "splink-blocking",
		Short:         "Compile, inspect and evaluate record linkage blocking rules.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "engine config YAML (default: ./config.yaml when present, else environment only)")
	rootCmd.PersistentFlags().StringVar(&opts.settingsPath, "settings", "", "linkage settings YAML (overrides SPLINK_SETTINGS)")

	rootCmd.AddCommand(
		newCheckCommand(opts),
		newPlanCommand(opts),
		newAnalyzeCommand(opts),
		newCountCommand(opts),
		newSearchCommand(opts),
		newMaterializeCommand(opts),
	)
	rootCmd.SetOut(os.Stdout)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1) // nolint:gocritic
	}
}
