// Command qod-bootstrap loads one seed file into the QoD provisioning
// registry and reports which records were provisioned.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/config"
)

// Exit codes.
const (
	exitOK      = 0
	exitPartial = 1
	exitUsage   = 2
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = every seed record provisioned
//	1 = some records rejected or failed
//	2 = usage, configuration or wiring error
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("qod-bootstrap", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		seedPath   string
		dryRun     bool
		jsonOutput bool
		version    bool
	)

	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file (env overrides it)")
	cmd.StringVar(&seedPath, "seed", "", "Path to the seed file (REQUIRED)")
	cmd.BoolVar(&dryRun, "dry-run", false, "Validate the seed without writing anything")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	cmd.BoolVar(&version, "version", false, "Print version information and exit")

	if len(args) > 0 {
		args = args[1:]
	}
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if version {
		printVersion(stdout)
		return exitOK
	}
	if seedPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -seed is required")
		cmd.Usage()
		return exitUsage
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := bootstrap(ctx, cfg, seedPath, dryRun, logger)
	if runErr != nil {
		logger.Error("bootstrap failed", "error", runErr)
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", runErr)
		if res == nil {
			return exitUsage
		}
	}

	// A run that failed after the batch still reports what was written.
	var werr error
	if jsonOutput {
		werr = res.writeJSON(stdout)
	} else {
		werr = res.writeText(stdout)
	}
	if werr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: failed to write report: %v\n", werr)
		return exitUsage
	}

	if runErr != nil {
		return exitUsage
	}
	if !res.OK() {
		return exitPartial
	}
	return exitOK
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
