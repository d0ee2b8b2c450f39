package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/HerbHall/netpulse/internal/config"
	"github.com/HerbHall/netpulse/internal/pulse"
	"github.com/HerbHall/netpulse/internal/server"
	"github.com/HerbHall/netpulse/internal/version"
	"github.com/HerbHall/netpulse/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const serverShutdownTimeout = 10 * time.Second

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Println(version.Info())
			return
		case "validate":
			os.Exit(runValidate(os.Args[2:], os.Stdout, os.Stderr))
		case "once":
			os.Exit(runOnce(os.Args[2:], os.Stdout, os.Stderr))
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	os.Exit(runMonitor(*configPath))
}

// runMonitor runs the polling loop until SIGINT or SIGTERM.
func runMonitor(configPath string) int {
	// Load configuration (before logger, so log level/format can be configured).
	cfg, v, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("netpulse starting",
		zap.String("version", version.Short()),
		zap.String("config", v.ConfigFileUsed()),
		zap.Int("devices", len(cfg.Devices)),
		zap.Duration("interval", cfg.Settings.Interval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mod := pulse.New(cfg.Settings, cfg.Devices, prometheus.DefaultRegisterer, logger.Named("pulse"))
	mod.Start(ctx)

	var srv *server.Server
	if addr := cfg.Server.Listen; addr != "" {
		srv = server.New(addr, logger.Named("http"), nil, mod.Ready, server.Route{
			Method:  "GET",
			Path:    "/api/v1/status",
			Handler: mod.HandleStatus,
		})
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	// Pending notifications get one notify timeout to finish.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Settings.NotifyTimeout)
	defer drainCancel()
	if err := mod.Stop(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("pulse shutdown error", zap.Error(err))
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}

	logger.Info("netpulse stopped")
	return 0
}

// runValidate loads and validates a configuration file, reporting every
// problem found.
func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, v, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s: ok (%d devices)\n", v.ConfigFileUsed(), len(cfg.Devices))
	return 0
}

// runOnce probes the fleet a single time and prints a verdict per device.
// Nothing is delivered; the exit status is 1 when any device is failing.
func runOnce(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("once", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, v, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := cfg.Settings
	settings.Webhook = ""
	settings.AlertmanagerURL = ""
	settings.MQTT.BrokerURL = ""
	mod := pulse.New(settings, cfg.Devices, nil, logger.Named("pulse"))

	verdicts := mod.Evaluate(ctx)
	if ctx.Err() != nil {
		fmt.Fprintln(stderr, "interrupted")
		return 130
	}
	return printVerdicts(stdout, mod.Devices(), verdicts)
}

// printVerdicts writes one line per device. A device with no verdict was
// dropped by the open unit-failure policy; it is reported but not counted
// as failing.
func printVerdicts(w io.Writer, devices []models.Device, verdicts map[string]pulse.Verdict) int {
	failing, skipped := 0, 0
	for _, d := range devices {
		verdict, ok := verdicts[d.ID]
		switch {
		case !ok:
			skipped++
			fmt.Fprintf(w, "SKIP  %s (%s): no verdict\n", d.ID, d.DisplayName())
			continue
		case verdict.Healthy:
			fmt.Fprintf(w, "OK    %s (%s)\n", d.ID, d.DisplayName())
			continue
		}
		failing++
		fmt.Fprintf(w, "FAIL  %s (%s)\n", d.ID, d.DisplayName())
		failures := append([]models.CheckFailure(nil), verdict.Failures...)
		sort.Slice(failures, func(i, j int) bool { return failures[i].Port < failures[j].Port })
		for _, f := range failures {
			fmt.Fprintf(w, "      %s\n", f)
		}
	}
	fmt.Fprintf(w, "%d/%d devices failing", failing, len(devices))
	if skipped > 0 {
		fmt.Fprintf(w, ", %d without verdict", skipped)
	}
	fmt.Fprintln(w)
	if failing > 0 {
		return 1
	}
	return 0
}
