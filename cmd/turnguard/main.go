// Command turnguard is the main entry point for the turnguard interruption
// server. With -replay it runs scripted scenarios instead of serving.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/turnguard/internal/app"
	"github.com/MrWong99/turnguard/internal/config"
	"github.com/MrWong99/turnguard/internal/observe"
	"github.com/MrWong99/turnguard/internal/replay"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "turnguard.yaml", "path to the YAML configuration file")
	replayPath := flag.String("replay", "", `replay scenarios from a file, a directory or "builtin" and exit`)
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	watch := err == nil
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && *replayPath != "":
		cfg = config.Default()
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "turnguard: config file %q not found, copy configs/turnguard.example.yaml to get started\n", *configPath)
		return 1
	default:
		fmt.Fprintf(os.Stderr, "turnguard: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.LogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *replayPath != "" {
		return runReplay(ctx, cfg, *replayPath)
	}

	slog.Info("turnguard starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if watch {
		w, err := config.NewWatcher(*configPath, application.Reload,
			config.WithErrorHandler(application.ReloadFailed))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg)
	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Replay ────────────────────────────────────────────────────────────────────

func runReplay(ctx context.Context, cfg *config.Config, path string) int {
	scenarios, err := loadScenarios(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "turnguard: %v\n", err)
		return 1
	}

	reports, err := replay.NewRunner(cfg.Interruption).RunAll(ctx, scenarios)
	for _, rep := range reports {
		status := "PASS"
		if !rep.Passed() {
			status = "FAIL"
		}
		fmt.Printf("%s  %-24s %2d decisions  %d cancels  %d inputs  %v\n",
			status, rep.Scenario, len(rep.Results), rep.Cancels, len(rep.Inputs), rep.Elapsed.Round(time.Millisecond))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
		return 1
	}
	return 0
}

func loadScenarios(path string) ([]*replay.Scenario, error) {
	if path == "builtin" {
		return replay.Builtin(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return replay.LoadDir(path)
	}
	sc, err := replay.Load(path)
	if err != nil {
		return nil, err
	}
	return []*replay.Scenario{sc}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	ic := cfg.Interruption.ToInterrupt()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       turnguard - startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  Gateway path    : %-19s ║\n", cfg.Gateway.Path)
	fmt.Printf("║  Soft words      : %-19d ║\n", len(ic.SoftWords))
	fmt.Printf("║  Command words   : %-19d ║\n", len(ic.CommandWords))
	fmt.Printf("║  Min confidence  : %-19.2f ║\n", ic.ConfidenceThreshold)
	fmt.Printf("║  Interim delay   : %-19s ║\n", ic.TranscriptionDelay)
	fmt.Printf("║  Fuzzy folding   : %-19t ║\n", cfg.Interruption.FuzzyFolding.Enabled)
	fmt.Printf("║  Audit log       : %-19s ║\n", cfg.Audit.Driver)
	fmt.Println("╚═══════════════════════════════════════╝")
}
