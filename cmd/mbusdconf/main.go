package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/mbusdconf/config"
	"github.com/timzifer/mbusdconf/editor"
	"github.com/timzifer/mbusdconf/form"
	internalconfig "github.com/timzifer/mbusdconf/internal/config"
	"github.com/timzifer/mbusdconf/internal/logging"
	"github.com/timzifer/mbusdconf/internal/reload"
	"github.com/timzifer/mbusdconf/notify"
	"github.com/timzifer/mbusdconf/remote"
	"github.com/timzifer/mbusdconf/service"
	"github.com/timzifer/mbusdconf/telemetry"
	"github.com/timzifer/mbusdconf/tui"
)

const defaultSettingsPath = "/etc/mbusdconf.yaml"

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: mbusdconf [flags] <command>

Commands:
  serve     run the HTTP editing API
  edit      edit the ports in the terminal
  check     validate the stored configuration
  devices   list serial devices
  status    probe the configured ports

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	cfgPath := flag.String("config", defaultSettingsPath, "Path to settings file")
	storePath := flag.String("store", "", "Override the mbusd configuration store path")
	listen := flag.String("listen", "", "Override the HTTP listen address")
	flag.Usage = usage
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}

	cfg, err := loadSettings(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}
	if *storePath != "" {
		cfg.Store = *storePath
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "serve":
		collector, err := newTelemetryCollector(cfg.Telemetry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
			collector = telemetry.Noop()
		}
		if err := runWithHotReload(ctx, *cfgPath, cfg, collector); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("service stopped")
		}
	case "edit":
		os.Exit(executeEdit(ctx, cfg))
	case "check":
		os.Exit(executeCheck(cfg))
	case "devices":
		os.Exit(executeDevices(ctx, cfg))
	case "status":
		os.Exit(executeStatus(ctx, cfg))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage()
		os.Exit(2)
	}
}

// loadSettings reads the settings file. The default path may be absent.
func loadSettings(path string) (*internalconfig.Config, error) {
	if path == defaultSettingsPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return internalconfig.Default(), nil
		}
	}
	return internalconfig.Load(path)
}

func newService(cfg *internalconfig.Config, logger zerolog.Logger, collector telemetry.Collector) (*service.Service, error) {
	opts := []service.Option{service.WithTelemetry(collector)}
	if cfg.Notify.Enabled {
		publisher, err := notify.NewMQTTPublisher(cfg.Notify, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("notifications disabled")
		} else {
			opts = append(opts, service.WithPublisher(publisher))
		}
	}
	return service.New(cfg, logger, opts...)
}

func runWithHotReload(ctx context.Context, cfgPath string, initialCfg *internalconfig.Config, collector telemetry.Collector) error {
	if collector == nil {
		collector = telemetry.Noop()
	}
	// the service follows the store itself; this loop only restarts on settings changes
	watcher, err := reload.NewWatcher(cfgPath, nil)
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	cfg := initialCfg
	for {
		logger, cleanup, err := logging.Setup(cfg.Logging, nil)
		if err != nil {
			return err
		}
		log.Logger = logger

		srv, err := newService(cfg, logger, collector)
		if err != nil {
			cleanup()
			return err
		}
		if err := srv.Load(ctx); err != nil {
			srv.Close()
			cleanup()
			return err
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Run(runCtx)
		}()

		var changed []string
	loop:
		for {
			select {
			case <-ctx.Done():
				cancelRun()
				err := <-errCh
				srv.Close()
				cleanup()
				if err != nil {
					return err
				}
				return ctx.Err()
			case err := <-errCh:
				cancelRun()
				srv.Close()
				cleanup()
				return err
			case <-ticker.C:
				if !cfg.HotReload {
					continue
				}
				changes, err := watcher.Check()
				if err != nil {
					logger.Error().Err(err).Msg("failed to check settings changes")
					continue
				}
				if len(changes) == 0 {
					continue
				}
				newCfg, err := loadSettings(cfgPath)
				if err != nil {
					logger.Error().Err(err).Msg("failed to reload settings")
					if err := watcher.Update(cfgPath, nil); err != nil {
						logger.Error().Err(err).Msg("failed to update watcher state")
					}
					continue
				}
				cancelRun()
				if err := <-errCh; err != nil {
					logger.Error().Err(err).Msg("service stopped during reload")
				}
				srv.Close()
				cleanup()
				if err := watcher.Update(cfgPath, nil); err != nil {
					logger.Error().Err(err).Msg("failed to update watcher state")
				}
				changed = changes
				cfg = newCfg
				break loop
			}
		}

		for _, file := range changed {
			collector.IncHotReload(file)
		}
	}
}

func executeEdit(ctx context.Context, cfg *internalconfig.Config) int {
	logger, cleanup, err := logging.Setup(cfg.Logging, io.Discard)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer cleanup()

	srv, err := newService(cfg, logger, telemetry.Noop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer srv.Close()
	if err := srv.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	save := func() (string, error) {
		result, err := srv.Save(ctx)
		if err != nil {
			return "", err
		}
		status := fmt.Sprintf("saved %d sections", result.Sections)
		if result.ApplyErr != "" {
			status += "; apply failed: " + result.ApplyErr
		}
		return status, nil
	}
	if err := tui.Run(srv.Session(), save); err != nil {
		fmt.Fprintf(os.Stderr, "editor: %v\n", err)
		return 1
	}
	return 0
}

func executeCheck(cfg *internalconfig.Config) int {
	file, err := config.Load(cfg.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return 1
	}
	ports, err := file.Ports()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return 1
	}

	exitCode := 0
	if err := config.CheckSchema(ports); err != nil {
		exitCode = 1
		fmt.Println("Schema errors:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  - %s\n", line)
		}
	}

	session, err := editor.New(form.NewMbusdMap(nil), zerolog.Nop(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	session.Load(file)
	if errs := session.Validate(); len(errs) > 0 {
		exitCode = 1
		rows := make(map[string]int, len(errs))
		for i, id := range session.SectionIDs() {
			rows[id] = i
		}
		fmt.Println("Field errors:")
		for _, fieldErr := range errs {
			fmt.Printf("  - section %d %s: %s\n", rows[fieldErr.Section], fieldErr.Field, fieldErr.Message)
		}
	}

	if exitCode == 0 {
		fmt.Printf("Configuration check completed successfully (%d sections).\n", len(ports))
	} else {
		fmt.Println("Configuration check completed with errors.")
	}
	return exitCode
}

func executeDevices(ctx context.Context, cfg *internalconfig.Config) int {
	svc, err := service.New(cfg, zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := svc.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	for _, device := range svc.Devices() {
		fmt.Println(device)
	}
	return 0
}

func executeStatus(ctx context.Context, cfg *internalconfig.Config) int {
	file, err := config.Load(cfg.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	ports, err := file.Ports()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	prober := remote.NewProber(cfg.Probe.Workers, cfg.ProbeTimeout(), cfg.Probe.Serial, logger)
	results, err := prober.ProbeAll(ctx, ports)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		return 1
	}

	exitCode := 0
	for _, result := range results {
		fmt.Printf("Section %d", result.Index)
		if result.Name != "" {
			fmt.Printf(" (%s)", result.Name)
		}
		fmt.Printf(": %s -> %s\n", result.Address, result.Device)
		if result.Skipped {
			fmt.Println("  disabled")
			continue
		}
		fmt.Printf("  tcp:    %s\n", result.TCP)
		if result.Serial != "" {
			fmt.Printf("  serial: %s\n", result.Serial)
		}
		if !result.Reachable() {
			exitCode = 1
		}
	}
	return exitCode
}

func newTelemetryCollector(cfg internalconfig.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}
