// Package main runs the lot trace pipeline, or a single stage of it, against
// a job directory without the web server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/LotTrace/internal/config"
	"github.com/JonMunkholm/LotTrace/internal/core"
	"github.com/JonMunkholm/LotTrace/internal/logging"
)

func main() {
	var dir, stage, layoutFile string
	var list bool

	flag.StringVar(&dir, "dir", ".", "job directory holding the input files")
	flag.StringVar(&stage, "stage", "", "run only this stage (default: all, in order)")
	flag.StringVar(&layoutFile, "layout", "", "raw sheet layout YAML (overrides RAW_LAYOUT_FILE)")
	flag.BoolVar(&list, "list", false, "list stages and expected input files")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logEnvLoad(slog.Default(), envErr)

	if layoutFile != "" {
		layout, err := config.LoadRawLayout(layoutFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Layout = layout
	}

	pipeline := core.NewPipeline(cfg.Pipeline, cfg.Layout)
	runner := core.NewRunner(pipeline.Stages(), cfg.Pipeline.StageTimeout, nil)

	if list {
		fmt.Println("Stages:")
		for i, name := range runner.StageNames() {
			fmt.Printf("  %d. %s\n", i+1, name)
		}
		fmt.Println("\nInputs:")
		for _, src := range core.AllSources() {
			fmt.Printf("  %-24s %s\n", src.FileName, src.Label)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, runner, dir, stage); err != nil {
		slog.Error("pipeline failed", "dir", dir, "error", err)
		fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		cancel()
		os.Exit(1)
	}
}

// logEnvLoad reports whether godotenv found a .env file.
func logEnvLoad(log *slog.Logger, err error) {
	if err != nil {
		log.Debug("no .env file loaded, using environment variables", "error", err)
		return
	}
	log.Debug("loaded .env file")
}

func run(ctx context.Context, runner *core.Runner, dir, stage string) error {
	if stage != "" {
		rep, err := runner.RunStage(ctx, dir, stage)
		if err != nil {
			return err
		}
		printReport(rep)
		return nil
	}

	if missing := core.MissingSources(dir); len(missing) > 0 {
		return fmt.Errorf("%w: %v", core.ErrMissingInput, missing)
	}
	reports, err := runner.Run(ctx, dir)
	for _, rep := range reports {
		printReport(rep)
	}
	return err
}

func printReport(rep core.StageReport) {
	fmt.Printf("%-18s %-36s %7d rows  %s\n", rep.Stage, rep.Artifact, rep.Rows, rep.Duration.Round(time.Millisecond))
}
