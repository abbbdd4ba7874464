package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/lei/lighthouse-kiosk/internal/channel"
	"github.com/lei/lighthouse-kiosk/internal/config"
	"github.com/lei/lighthouse-kiosk/internal/engine/lighthouse"
	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/runner"
	"github.com/lei/lighthouse-kiosk/internal/sink"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

var (
	configPath string
	output     string
	outputPath string
	logLevel   string
	view       bool
	headless   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "lighthouse URL",
	Short:        "Audit a page and print its performance score",
	Long:         "Runs the audit engine against URL, streams its output and prints the performance score with its rating.",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runAudit,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "kiosk configuration file (engine command and defaults)")
	rootCmd.Flags().StringVar(&output, "output", "html", "report format: html (written by the engine) or json (run summary)")
	rootCmd.Flags().StringVar(&outputPath, "output-path", filepath.Join(".", "public", "results.html"), "where the report is written")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "engine log level: silent, error, info or verbose")
	rootCmd.Flags().BoolVar(&view, "view", false, "open the report in the system browser when done")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
}

// summary is the json report
type summary struct {
	Run        models.RunState `json:"run"`
	Transcript []string        `json:"transcript"`
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	opts := models.RunOptions{
		Headless:   cfg.Engine.Headless,
		Output:     cfg.Engine.Output,
		OutputPath: cfg.Engine.OutputPath,
		LogLevel:   cfg.Engine.LogLevel,
	}
	flags := cmd.Flags()
	if flags.Changed("output") || configPath == "" {
		opts.Output = output
	}
	if flags.Changed("output-path") || configPath == "" {
		opts.OutputPath = outputPath
	}
	if flags.Changed("log-level") || configPath == "" {
		opts.LogLevel = logLevel
	}
	if flags.Changed("headless") {
		opts.Headless = headless
	}
	if opts.Output != "html" && opts.Output != "json" {
		return fmt.Errorf("unsupported output %q: want html or json", opts.Output)
	}
	if !flags.Changed("output-path") {
		opts.OutputPath = reportPath(opts.Output, opts.OutputPath)
	}

	appLogger := logger.New(cfg.Logging.Level, "text")
	defer appLogger.Sync()

	eng, err := lighthouse.NewAdapter(&lighthouse.Config{
		Command:    cfg.Engine.Command,
		Args:       cfg.Engine.Args,
		Dir:        cfg.Engine.Dir,
		ChromePath: cfg.Engine.ChromePath,
	}, appLogger)
	if err != nil {
		return err
	}

	// The json summary is ours; the engine keeps its default report.
	engineOpts := opts
	if opts.Output == "json" {
		engineOpts.Output, engineOpts.OutputPath = "", ""
	}

	bus := channel.New(func(err *channel.DeliveryError) {
		appLogger.Warn("output sink failed", "subscriber", err.Subscriber, "error", err.Err)
	})
	defer bus.Close()

	terminal := sink.NewTerminal(cmd.OutOrStdout())
	var (
		mu         sync.Mutex
		transcript []string
	)
	settled := make(chan struct{})
	bus.Subscribe("terminal", func(msg models.Message) error {
		if msg.Kind == models.KindLog {
			mu.Lock()
			transcript = append(transcript, msg.Log)
			mu.Unlock()
		}
		err := terminal.Handle(msg)
		if msg.Terminal() {
			close(settled)
		}
		return err
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	run, err := runner.New(eng, bus, appLogger).Start(ctx, args[0], engineOpts)
	if err != nil {
		return err
	}

	state, runErr := run.Wait(context.WithoutCancel(ctx))
	<-settled

	if opts.Output == "json" {
		mu.Lock()
		report := summary{Run: state, Transcript: transcript}
		mu.Unlock()
		if err := writeSummary(opts.OutputPath, report); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}

	if view {
		if err := browser.OpenFile(opts.OutputPath); err != nil {
			appLogger.Warn("could not open report", "path", opts.OutputPath, "error", err)
		}
	}
	return nil
}

// reportPath gives the json summary its own .json file next to the html
// report, which the engine keeps writing to its default location.
func reportPath(output, path string) string {
	if output != "json" || filepath.Ext(path) == ".json" {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
}

func writeSummary(path string, report summary) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
