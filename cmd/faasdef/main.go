package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/faasdef/faasdef/config"
	"github.com/faasdef/faasdef/internal/logging"
	"github.com/faasdef/faasdef/internal/reload"
	"github.com/faasdef/faasdef/target"
	"github.com/faasdef/faasdef/telemetry"
)

func main() {
	cfgPath := flag.String("config", "build.yaml", "Path to the build definition file or directory")
	list := flag.Bool("list", false, "Print every materialized target")
	watch := flag.Bool("watch", false, "Keep running and revalidate when build definition files change")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load build definition")
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	log.Logger = logger

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		collector = telemetry.Noop()
	}

	if *watch {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		defer cleanup()
		if err := runWatch(ctx, *cfgPath, cfg, logger, collector, *list); err != nil && err != context.Canceled {
			logger.Fatal().Err(err).Msg("watch stopped with error")
		}
		return
	}

	exitCode := runCheck(cfg, logger, collector, *list)
	cleanup()
	os.Exit(exitCode)
}

func runCheck(cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector, list bool) int {
	graph, failures := target.MaterializeAll(cfg, logger, collector)

	if list {
		for _, fn := range graph.Functions() {
			printFunction(fn, cfg.Environment)
		}
	}

	if len(failures) > 0 {
		fmt.Println("Errors:")
		for _, err := range failures {
			fmt.Printf("  - %s\n", err)
		}
		fmt.Printf("Validation completed with %d error(s), %d target(s) materialized.\n", len(failures), graph.Len())
		return 1
	}

	fmt.Printf("Validation completed successfully, %d target(s) materialized.\n", graph.Len())
	return 0
}

func printFunction(fn *target.Function, env map[string]interface{}) {
	fmt.Printf("Target %s\n", fn.Address)
	if module := describeModule(fn.Source); module != "" {
		fmt.Printf("  Module: %s\n", module)
	}
	fmt.Printf("  Handler: %s\n", fn.Handler.Value())
	fmt.Printf("  Trigger: %s\n", fn.Trigger)
	if fn.Runtime != nil {
		major, minor := fn.Runtime.ToInterpreterVersion()
		fmt.Printf("  Runtime: %s (interpreter %d.%d)\n", fn.Runtime.Value(), major, minor)
	} else {
		fmt.Println("  Runtime: <none>")
	}
	if fn.CompletePlatforms != nil {
		fmt.Printf("  Complete platforms: %s\n", strings.Join(fn.CompletePlatforms.Value(), ", "))
	} else {
		fmt.Println("  Complete platforms: <none>")
	}
	if fn.Resources != nil {
		if cpu, ok := fn.Resources.CPU(); ok {
			fmt.Printf("  CPU: %s\n", cpu.String())
		}
		if mem := fn.Resources.MemoryMiB(); mem > 0 {
			fmt.Printf("  Memory: %d MiB\n", mem)
		}
	}
	enabled, err := fn.EnabledIn(env)
	switch {
	case err != nil:
		fmt.Printf("  Enabled: error (%v)\n", err)
	case !enabled:
		fmt.Println("  Enabled: no")
	}
}

func runWatch(ctx context.Context, cfgPath string, initialCfg *config.Config, logger zerolog.Logger, collector telemetry.Collector, list bool) error {
	watcher, err := reload.NewWatcher(cfgPath, initialCfg)
	if err != nil {
		return fmt.Errorf("create build definition watcher: %w", err)
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	runCheck(initialCfg, logger, collector, list)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			changes, err := watcher.Check()
			if err != nil {
				logger.Error().Err(err).Msg("failed to check build definition changes")
				continue
			}
			if len(changes) == 0 {
				continue
			}
			logger.Info().Strs("files", changes).Msg("build definition changed, revalidating")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Error().Err(err).Msg("failed to reload build definition")
				continue
			}
			if err := watcher.Update(cfgPath, cfg); err != nil {
				logger.Error().Err(err).Msg("failed to update watcher state")
			}
			runCheck(cfg, logger, collector, list)
		}
	}
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
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

func describeModule(ref config.ModuleReference) string {
	name := strings.TrimSpace(ref.Name)
	file := strings.TrimSpace(ref.File)

	label := ""
	if name != "" && file != "" {
		label = fmt.Sprintf("%s (%s)", name, file)
	} else if name != "" {
		label = name
	} else if file != "" {
		label = file
	}
	if pkg := strings.TrimSpace(ref.Package); pkg != "" {
		if label != "" {
			label = fmt.Sprintf("%s [package %s]", label, pkg)
		} else {
			label = fmt.Sprintf("package %s", pkg)
		}
	}
	return label
}
