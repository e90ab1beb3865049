package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/isppipe/cmd"
	"github.com/smazurov/isppipe/internal/config"
	"github.com/smazurov/isppipe/internal/consumer"
	"github.com/smazurov/isppipe/internal/devices"
	"github.com/smazurov/isppipe/internal/events"
	"github.com/smazurov/isppipe/internal/led"
	"github.com/smazurov/isppipe/internal/logging"
	"github.com/smazurov/isppipe/internal/metrics"
	"github.com/smazurov/isppipe/internal/metrics/exporters"
	"github.com/smazurov/isppipe/internal/pipeline"
	"github.com/smazurov/isppipe/internal/runner"
	"github.com/smazurov/isppipe/internal/systemd"
	"github.com/smazurov/isppipe/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	var cli humacli.CLI
	var current *config.Options

	cli = humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		current = opts

		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}
		logging.Initialize(opts.Logging())
		logger := logging.GetLogger("main")

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)

			info := version.Get()
			logger.Info("Starting isppipe", "version", info.Version, "commit", info.GitCommit, "go", info.GoVersion)
			metrics.SetBuildInfo(info.Version, info.GitCommit, info.GoVersion)

			pipelineCfg, err := opts.Pipeline()
			if err != nil {
				logger.Error("Invalid pipeline configuration", "error", err)
				os.Exit(1)
			}

			eventBus := events.New()
			pipelineLogger := logging.GetLogger("pipeline")
			devicesLogger := logging.GetLogger("devices")
			tick := opts.TickInterval()

			r := runner.New(runner.Options{
				Pipeline:     pipelineCfg,
				Open:         devices.Open,
				Resources:    consumer.NewFactory(pipelineLogger),
				Presenter:    consumer.NewLogPresenter(logging.GetLogger("runner"), 10*time.Second),
				Bus:          eventBus,
				Notifier:     systemd.NewNotifier(),
				TickInterval: tick,
				WaitTimeout:  2 * tick,
				WatchSource: func(ctx context.Context, path string, changes chan<- struct{}) error {
					return devices.WatchSourceChanges(ctx, path, devicesLogger, changes)
				},
				Resolve: devices.ResolvePath,
			}, logging.GetLogger("runner"))

			if opts.MetricsListen != "" {
				go func() {
					if serveErr := exporters.Serve(ctx, opts.MetricsListen, logger); serveErr != nil {
						logger.Error("Metrics server failed", "error", serveErr)
					}
				}()
			}

			if opts.HotplugEnabled {
				go func() {
					err := runner.WatchHotplug(ctx, eventBus, devicesLogger)
					if err != nil && !errors.Is(err, context.Canceled) {
						logger.Warn("Hotplug monitoring unavailable", "error", err)
					}
				}()
			}

			if opts.StatusLED {
				ledLogger := logging.GetLogger("led")
				ledManager := led.NewManager(led.New(ledLogger), eventBus, ledLogger)
				ledManager.Start()
				defer ledManager.Stop()
			}

			watcher := newConfigWatcher(opts, cli.Root(), r, eventBus, logger)
			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Config file watching disabled", "path", opts.Config, "error", watchErr)
			}
			defer func() {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Failed to stop config watcher", "error", stopErr)
				}
			}()

			if runErr := r.Run(ctx); runErr != nil {
				logger.Error("Runner failed", "error", runErr)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			<-done
		})
	})

	loadPipeline := func() (pipeline.Config, error) {
		if current == nil {
			return pipeline.DefaultConfig(), nil
		}
		return current.Pipeline()
	}

	root := cli.Root()
	root.Use = "isppipe"
	root.Short = "Zero-copy HDMI capture to ISP pipeline"
	root.Version = version.String()
	root.AddCommand(cmd.CreateFormatsCmd(loadPipeline))
	root.AddCommand(cmd.CreateProbeCmd(loadPipeline))

	// Run the CLI
	cli.Run()
}

// newConfigWatcher reloads the config file into a copy of opts. Flags set on
// the command line keep their values across reloads.
func newConfigWatcher(opts *config.Options, root *cobra.Command, r *runner.Runner, bus *events.Bus, logger *slog.Logger) *config.Watcher[config.Options] {
	load := func(path string) (config.Options, error) {
		next := *opts
		next.Config = path
		err := config.LoadConfig(&next, root)
		return next, err
	}

	w := config.NewConfigWatcher(opts.Config, load, logger,
		config.WithErrorHandler[config.Options](func(err error) {
			logger.Warn("Ignoring invalid config file", "path", opts.Config, "error", err)
		}),
	)
	w.OnReload(func(next config.Options) {
		cfg, err := next.Pipeline()
		if err != nil {
			logger.Warn("Ignoring invalid pipeline configuration", "path", next.Config, "error", err)
			return
		}
		logging.Initialize(next.Logging())
		bus.Publish(events.ConfigReloadedEvent{Path: next.Config, Timestamp: time.Now().UTC().Format(time.RFC3339)})
		r.Reconfigure("config", &cfg)
	})
	return w
}
