// Command bootstrap is the runtime entry point. The platform execs it
// inside a fresh execution environment; it initializes once, then polls
// the local invocation API until the environment is recycled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/loop"
	"github.com/oriys/pulsar/internal/observability"
)

var version = "dev" // set via ldflags

func main() {
	var (
		logLevel  string
		logFormat string
	)

	rootCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Pulsar - PowerShell custom runtime bootstrap",
		Long:  "Polls the local invocation API and dispatches events to PowerShell handlers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			config.LoadFromEnv(cfg)
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}
			logging.Init(cfg.LogFormat, cfg.LogLevel)

			if err := cfg.Validate(); err != nil {
				return err
			}
			return runRuntime(cfg)
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	rootCmd.AddCommand(
		emulateCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRuntime(cfg *config.RuntimeConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rt, err := loop.ColdStart(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cold start: %w", err)
	}

	err = rt.Run(ctx)

	// Only reachable when the platform tears the environment down.
	rt.Close()
	observability.Shutdown(context.Background())
	logging.Op().Info("runtime stopping", "reason", err)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bootstrap version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pulsar bootstrap %s\n", version)
		},
	}
}
