package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sandboxjs/runtime/internal/bundler"
	"github.com/sandboxjs/runtime/internal/config"
	"github.com/sandboxjs/runtime/internal/installstore"
	"github.com/sandboxjs/runtime/internal/logging"
	"github.com/sandboxjs/runtime/internal/metrics"
	"github.com/sandboxjs/runtime/internal/observability"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "sandboxjs",
		Short: "sandboxjs - \"use sandbox\" directive build & orchestration CLI",
		Long:  "Builds the staged sandbox function bundle and prints guidance for driving the sandbox VM pool from a hosting process.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, env vars override)")

	rootCmd.AddCommand(
		buildCmd(),
		serveCmd(),
		sessionCmd(),
		metricsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the staged sandbox function bundle once and print the manifest",
		Long: `Reads every module staged by the build-time transform (one per
"use sandbox" annotated file) and produces a single esbuild bundle plus
a manifest recording the bundle's content hash, file name, generation
time and contributing staged files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			b := bundler.New(cfg.Bundler.BuildOutputDir, cfg.Bundler.EsbuildBin)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			manifest, err := b.Build(ctx, time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("build bundle: %w", err)
			}

			fmt.Printf("Bundle built:\n")
			fmt.Printf("  File:          %s\n", manifest.BundleFile)
			fmt.Printf("  Hash:          %s\n", manifest.Hash)
			fmt.Printf("  Generated at:  %s\n", manifest.GeneratedAt)
			fmt.Printf("  Sandbox files: %d\n", len(manifest.SandboxFiles))
			for _, f := range manifest.SandboxFiles {
				fmt.Printf("    - %s\n", f)
			}
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Print guidance for wiring sandboxjs into a host build/dev server",
		Long: `sandboxjs has no standalone HTTP server: the build-time transform and
runtime orchestrator are libraries meant to be called from a hosting
build framework's own dev server and build pipeline (see internal/hostintegration.Hooks).

This command only verifies configuration and observability wiring, then
exits; it does not bind a port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
			logging.SetLevelFromString(cfg.Observability.Logging.Level)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
				fmt.Println("Prometheus metrics initialized; mount internal/metrics.PrometheusHandler on your own HTTP server to scrape them.")
			}

			logging.Op().Info("sandboxjs config loaded",
				"build_output_dir", cfg.Bundler.BuildOutputDir,
				"development", cfg.Development,
			)
			fmt.Println("Configuration and observability wiring verified.")
			fmt.Println("Register internal/hostintegration.Hooks with your build framework to activate the transform.")
			return nil
		},
	}
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print a snapshot of invocation and VM lifecycle counters",
		Long: `Prints internal/metrics.Global()'s counters as JSON: these only
reflect activity recorded by THIS process, since counters live in memory.
The hosting process exposes the same data continuously by mounting
internal/metrics.PrometheusHandler on its own HTTP server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot := metrics.Global().Snapshot()
			snapshot["functions"] = metrics.Global().FunctionStats()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snapshot)
		},
	}
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Print guidance for tearing down sandbox VM sessions",
	}
	cmd.AddCommand(sessionStopCmd(), sessionStopAllCmd())
	return cmd
}

func sessionStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <key>",
		Short: "Print how to stop the sandbox VM bound to a session key",
		Long: `sandboxjs has no out-of-process handle on a live session's VM — that
handle (sandboxapi.VMHandle) only exists inside the hosting process's
in-memory sandboxpool.Pool. This command only verifies that the
install-state store backing that Pool is reachable, then prints the
call the hosting process needs to make.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openInstallStore(cfg)
			if err != nil {
				return fmt.Errorf("install-state store unreachable: %w", err)
			}
			defer store.Close()

			fmt.Printf("Install-state store reachable. To release session %q's VM, call sandboxpool.Pool.Stop(ctx, %q) from the hosting process.\n", args[0], args[0])
			return nil
		},
	}
}

func sessionStopAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Print guidance for stopping every sandbox VM session",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("sandboxjs has no out-of-process registry of live VM sessions.")
			fmt.Println("Call sandboxpool.Pool.StopAll from the hosting process that owns the Pool instance.")
			return nil
		},
	}
}

func openInstallStore(cfg *config.Config) (installstore.Store, error) {
	if cfg.Postgres.DSN != "" && !cfg.Development {
		return installstore.NewPostgresStore(context.Background(), cfg.Postgres.DSN)
	}
	return installstore.NewFileStore(cfg.Bundler.BuildOutputDir)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sandboxjs CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("sandboxjs dev build")
			return nil
		},
	}
}
