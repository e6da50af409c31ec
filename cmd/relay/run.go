package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/webrelay/pkg/cli"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay server",
	Long: `Start the relay server with the specified configuration.

The server listens on the configured address and forwards chat completion
requests to the backend owning the requested model.

Examples:
  # Start with default config
  relay run

  # Start with custom config
  relay run --config /etc/relay/config.yaml

  # Override listen address
  relay run --listen 0.0.0.0:8080

  # Validate config and build every component without listening
  relay run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build every component without starting the server")
}

// loadConfig reads cfgFile (or the defaults), applies environment overrides
// and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}
	config.SetConfig(cfg)

	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	ctx, cancel := cli.SetupSignalHandler()
	defer cancel()

	r, err := buildRelay(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Proxy.ShutdownTimeout)
		defer shutdownCancel()
		r.close(shutdownCtx)
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Relay v%s\n", Version)
	fmt.Fprintf(out, "✓ Backends initialized (%d: %v)\n", r.manager.Count(), r.manager.Names())
	fmt.Fprintf(out, "✓ Models served: %d\n", len(r.dispatcher.Registry().Models()))

	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Proxy.ListenAddress)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	started := time.Now()
	if err := r.serve(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintf(out, "✓ Server stopped after %s\n", time.Since(started).Round(time.Second))
	return nil
}
