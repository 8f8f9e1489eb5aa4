// Command alpenhornd is the daemon entrypoint: a cobra root with "run" and
// "check-config" subcommands plus cobra's --version flag, matching the corpus's habit
// (cmd/varasto/main.go) of a thin main that hands off to the package
// implementing each subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/spf13/cobra"

	"github.com/radiocosmology/alpenhorn/pkg/config"
	"github.com/radiocosmology/alpenhorn/pkg/daemon"
	"github.com/radiocosmology/alpenhorn/pkg/extension"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/taskqueue"
)

// Process exit codes, following §7's taxonomy: 0 clean shutdown, 1
// configuration error, 2 database unreachable at startup, 3 extension
// load failed, 4 schema version mismatch.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitDatabaseDown   = 2
	exitExtensionError = 3
	exitSchemaMismatch = 4
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "alpenhornd",
		Short:   "Distributed scientific-data archive daemon",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (or set ALPENHORN_CONFIG)")

	root.AddCommand(runCommand(&configPath))
	root.AddCommand(checkConfigCommand(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

func runCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts the daemon",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runDaemon(config.ResolvePath(*configPath)))
		},
	}
}

func checkConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Parses and validates the config file without starting workers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			path := config.ResolvePath(*configPath)
			if path == "" {
				fmt.Fprintln(os.Stderr, "check-config: no config file given (use --config or ALPENHORN_CONFIG)")
				os.Exit(exitConfigError)
			}

			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "check-config: %v\n", err)
				os.Exit(exitConfigError)
			}

			if _, err := extension.BuildDetectorChain(cfg.Extensions); err != nil {
				fmt.Fprintf(os.Stderr, "check-config: %v\n", err)
				os.Exit(exitExtensionError)
			}

			fmt.Printf("%s: ok (host=%s workers=%d)\n", path, cfg.Host, cfg.Workers)
			os.Exit(exitOK)
		},
	}
}

// runDaemon wires C1/C2/C8/C9/C10 together and blocks until shutdown,
// returning the exit code named in §7.
func runDaemon(configPath string) int {
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "alpenhornd: no config file given (use --config or ALPENHORN_CONFIG)")
		return exitConfigError
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	logging, err := config.NewLogging(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	logl := logging.For("main")

	idx, err := index.Open(cfg.Database.DSN)
	if err != nil {
		logl.Error.Printf("connecting to data index: %v", err)
		return exitDatabaseDown
	}
	defer idx.Close()

	if err := idx.CheckSchemaVersion(); err != nil {
		logl.Error.Printf("%v", err)
		return exitSchemaMismatch
	}

	detector, err := extension.BuildDetectorChain(cfg.Extensions)
	if err != nil {
		logl.Error.Printf("loading extensions: %v", err)
		return exitExtensionError
	}

	lifecycle := config.NewLifecycle(cfg.ShutdownGrace, logging)

	pool := taskqueue.New(cfg.Workers, logex.Prefix("pool", logging.Root))
	pool.Start(lifecycle.Context())

	var metrics *daemon.Metrics
	if cfg.MetricsAddr != "" {
		metrics = daemon.NewMetrics()
		go func() {
			if err := metrics.Serve(lifecycle.Context(), cfg.MetricsAddr); err != nil {
				logl.Error.Printf("metrics server: %v", err)
			}
		}()
	}

	d := daemon.New(idx, pool, cfg, logging, detector, metrics)

	logl.Info.Printf("alpenhornd %s starting (host=%s workers=%d)", version, cfg.Host, cfg.Workers)

	runErr := d.Run(lifecycle.Context())

	logl.Info.Printf("draining task pool (up to %s)", cfg.ShutdownGrace)
	pool.StopAccepting()

	drainCtx, cancel := lifecycle.ShutdownDeadline()
	defer cancel()
	pool.Wait(drainCtx)

	if runErr != nil {
		logl.Error.Printf("main loop: %v", runErr)
		return exitConfigError
	}

	logl.Info.Printf("stopped cleanly")
	return exitOK
}
