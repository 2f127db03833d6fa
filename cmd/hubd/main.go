// Hubd is the krypin smart-home hub daemon.
//
// It ingests device and entity announcements from adapters over the
// message bus, persists current and historical entity state, routes
// operator commands back to the owning adapter, and runs declarative
// automations against the live event stream. Clients talk to it over
// HTTP and an events websocket. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	hubd serve               Start the hub
//	hubd serve --with-demo   Start the hub and announce five mock devices
//	hubd init [dir]          Write a starter config file
//	hubd version             Print version and build information
//	hubd -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/JacobSoderblom/krypin/internal/buildinfo"
	"github.com/JacobSoderblom/krypin/internal/config"
	"github.com/JacobSoderblom/krypin/internal/defaults"
	"github.com/JacobSoderblom/krypin/internal/hub"
)

// main owns the only os.Exit call; everything worth testing lives
// behind [run], which takes the process environment (context, stdio,
// argv) as plain parameters.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses the command line and dispatches to a subcommand. Cancelling
// ctx shuts the hub down; stdout carries logs and command output, stderr
// only the fatal message printed by main. Arguments are parsed by hand,
// with both -flag and --flag accepted: the flag package's global state
// gets in the way of driving run concurrently from tests.
//
// A nil return means clean shutdown; main turns anything else into a
// message and exit code 1.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var logLevel string
	var outputFmt string // "text" (default) or "json"
	var withDemo bool
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		// Accept both -flag and --flag spellings.
		arg := args[i]
		if strings.HasPrefix(arg, "--") {
			arg = arg[1:]
		}
		switch {
		case arg == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(arg, "-config="):
			configPath = strings.TrimPrefix(arg, "-config=")
		case arg == "-log-level" && i+1 < len(args):
			logLevel = args[i+1]
			i++
		case strings.HasPrefix(arg, "-log-level="):
			logLevel = strings.TrimPrefix(arg, "-log-level=")
		case (arg == "-o" || arg == "-output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(arg, "-o="):
			outputFmt = strings.TrimPrefix(arg, "-o=")
		case strings.HasPrefix(arg, "-output="):
			outputFmt = strings.TrimPrefix(arg, "-output=")
		case arg == "-with-demo":
			withDemo = true
		case arg == "-h" || arg == "-help":
			return printUsage(stdout)
		case !strings.HasPrefix(arg, "-") && command == "":
			command = arg
		default:
			if command != "" {
				// Everything after the command belongs to it.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath, logLevel, withDemo)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "", "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe is the hub's operating mode: resolve config, assemble the
// component graph via hub.New, start the background workers and the
// HTTP server, then block until SIGINT/SIGTERM. Shutdown flows from the
// cancelled context: the server drains first, then hub.Close stops the
// scheduler, closes the bus, waits out the subscribers, and releases
// any database-backed stores.
func runServe(ctx context.Context, stdout io.Writer, configPath, logLevel string, withDemo bool) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting krypin hub",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if cfgPath == "" {
		cfgPath = "(defaults)"
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner. A
	// -log-level flag wins over the configured level.
	levelName := cfg.Log.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := config.ParseLogLevel(levelName)
	if err != nil {
		return err
	}
	logger = newLogger(stdout, level)

	logger.Info("config loaded",
		"path", cfgPath,
		"bind", cfg.Bind,
		"bus", cfg.Bus.Kind,
		"storage", cfg.Storage.Kind,
		"automations", cfg.Automations.Store,
	)

	// Signal handling: NotifyContext wraps the parent context so that
	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// every component.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h, err := hub.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	if err := h.Start(ctx); err != nil {
		return err
	}

	if withDemo {
		if _, err := h.StartDemo(ctx); err != nil {
			return fmt.Errorf("start demo adapters: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := h.Server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", "error", err)
		}
	}()

	// Start the HTTP server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := h.Server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("krypin stopped")
	return nil
}

// runInit initializes a hub working directory. It writes a starter
// config file; an existing file is never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing krypin workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "krypin.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(w, "  %s exists, skipping\n", configPath)
		return nil
	}
	if err := os.WriteFile(configPath, defaults.ConfigYAML, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit krypin.yaml and start the hub with: hubd serve")
	return nil
}

// runVersion renders the stamped build metadata as text or JSON.
func runVersion(w io.Writer, outputFmt string) error {
	fields := buildinfo.Fields()
	if outputFmt == "json" {
		info := make(map[string]string, len(fields))
		for _, f := range fields {
			info[f.Key] = f.Value
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, f := range fields {
		fmt.Fprintf(w, "  %-12s %s\n", f.Key+":", f.Value)
	}
	return nil
}

// printUsage is both the help command and the answer to a bare
// invocation.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "krypin - smart-home hub daemon")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hubd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the hub")
	fmt.Fprintln(w, "  init [dir]   Write a starter config file (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>     Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -log-level <lvl>   Override the configured log level")
	fmt.Fprintln(w, "  --with-demo        Announce mock devices and seed sample automations (serve)")
	fmt.Fprintln(w, "  -o, --output fmt   Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./krypin.yaml, ~/.config/krypin/config.yaml, /etc/krypin/config.yaml")
	fmt.Fprintln(w, "  ($KRYPIN_CONFIG overrides; KRYPIN_* environment variables overlay the file)")
	return nil
}

// newLogger builds the hub's slog text handler at the given level. It
// exists so the pre-config startup banner and the post-config logger
// agree on formatting.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
