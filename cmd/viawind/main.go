// Command viawind estimates the visual impact of wind turbines on the
// surrounding landscape. The viewsheds subcommand produces one
// field-of-view-percentage raster per turbine; the merge subcommand mosaics
// them into a single cumulative raster.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"viawind/internal/pipeline"
	"viawind/pkg/config"
	"viawind/pkg/logging"
	"viawind/pkg/manifest"
	"viawind/pkg/raster"
	"viawind/pkg/visibility"
)

var (
	configPath = flag.String("config", "", "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: viawind [flags] <command>

Commands:
  viewsheds   compute one FOV-percentage raster per turbine
  merge       mosaic the per-turbine rasters into the cumulative raster

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	// .env is optional; it can carry VIAWIND_CONFIG for installations that
	// prefer env files over flags.
	_ = godotenv.Load()

	path := *configPath
	if path == "" {
		path = os.Getenv("VIAWIND_CONFIG")
	}
	if path == "" {
		path = "configs/viawind.yaml"
	}

	if *initConfig {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", path)
		return
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	if err := run(context.Background(), path, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, command string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	m, err := manifest.Open(filepath.Join(cfg.Paths.OutputDir, "manifest.db"))
	if err != nil {
		return err
	}
	defer m.Close()

	oracle, err := visibility.NewExecOracle(cfg.Oracle.Command, cfg.Oracle.TempDir)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Config:   cfg,
		Oracle:   withTimeout(oracle, time.Duration(cfg.Oracle.Timeout)),
		Manifest: m,
	}

	switch command {
	case "viewsheds":
		return pipeline.RunViewsheds(ctx, opts)
	case "merge":
		return pipeline.RunMerge(ctx, opts)
	default:
		return fmt.Errorf("unknown command %q (want viewsheds or merge)", command)
	}
}

// withTimeout bounds each oracle invocation; a stuck external command must
// not hang the whole run.
func withTimeout(oracle visibility.Oracle, timeout time.Duration) visibility.Oracle {
	if timeout <= 0 {
		return oracle
	}
	return visibility.OracleFunc(func(ctx context.Context, req visibility.Request) (*raster.Grid, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return oracle.Viewshed(ctx, req)
	})
}
