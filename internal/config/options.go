package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/isppipe/internal/logging"
	"github.com/smazurov/isppipe/internal/pipeline"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Devices
	CaptureDevice string `help:"Capture device node or stable id" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureDriver string `help:"Expected capture driver name" default:"unicam" toml:"capture.driver" env:"CAPTURE_DRIVER"`
	ISPDevice     string `help:"ISP device node" default:"/dev/video12" toml:"isp.device" env:"ISP_DEVICE"`

	// Pipeline settings
	Slots         int    `help:"Requested buffer slots per queue" short:"n" default:"1" toml:"pipeline.slots" env:"PIPELINE_SLOTS"`
	Width         int    `help:"Target width before timing negotiation" default:"1280" toml:"pipeline.width" env:"PIPELINE_WIDTH"`
	Height        int    `help:"Target height before timing negotiation" default:"720" toml:"pipeline.height" env:"PIPELINE_HEIGHT"`
	FailurePolicy string `help:"Tick failure policy (degrade, strict)" default:"degrade" toml:"pipeline.failure_policy" env:"PIPELINE_FAILURE_POLICY"`
	RefreshHz     int    `help:"Tick rate standing in for display refresh" default:"60" toml:"pipeline.refresh_hz" env:"PIPELINE_REFRESH_HZ"`

	// Observability
	MetricsListen  string `help:"Prometheus listen address, empty disables" default:":9108" toml:"metrics.listen" env:"METRICS_LISTEN"`
	HotplugEnabled bool   `help:"Watch netlink uevents for device add/remove" default:"true" toml:"hotplug.enabled" env:"HOTPLUG_ENABLED"`
	StatusLED      bool   `help:"Show pipeline state on the board status LED" default:"false" toml:"features.status_led" env:"FEATURES_STATUS_LED"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPipeline   string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingNegotiator string `help:"Format negotiation logging level" default:"info" toml:"logging.negotiator" env:"LOGGING_NEGOTIATOR"`
	LoggingDevices    string `help:"Devices logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingRunner     string `help:"Runner logging level" default:"info" toml:"logging.runner" env:"LOGGING_RUNNER"`
}

// Logging builds the logging configuration from the options.
func (o *Options) Logging() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"pipeline":   o.LoggingPipeline,
			"negotiator": o.LoggingNegotiator,
			"devices":    o.LoggingDevices,
			"runner":     o.LoggingRunner,
		},
	}
}

// Pipeline converts the options into a pipeline configuration.
// Layouts are fixed by the pipeline defaults.
func (o *Options) Pipeline() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	var errs []error
	if o.CaptureDevice != "" {
		cfg.CaptureDevice = o.CaptureDevice
	}
	if o.ISPDevice != "" {
		cfg.ISPDevice = o.ISPDevice
	}
	cfg.ExpectedDriver = o.CaptureDriver

	if o.Slots < 1 {
		errs = append(errs, fmt.Errorf("pipeline.slots must be at least 1, got %d", o.Slots))
	} else {
		cfg.Slots = o.Slots
	}
	if o.Width <= 0 || o.Height <= 0 {
		errs = append(errs, fmt.Errorf("pipeline geometry must be positive, got %dx%d", o.Width, o.Height))
	} else {
		cfg.Geometry = pipeline.Geometry{Width: uint32(o.Width), Height: uint32(o.Height)}
	}

	policy, ok := pipeline.ParseFailurePolicy(o.FailurePolicy)
	if !ok {
		errs = append(errs, fmt.Errorf("unknown pipeline.failure_policy %q", o.FailurePolicy))
	}
	cfg.Policy = policy

	return cfg, errors.Join(errs...)
}

// TickInterval returns the tick period for RefreshHz, defaulting to 60 Hz.
func (o *Options) TickInterval() time.Duration {
	hz := o.RefreshHz
	if hz <= 0 {
		hz = 60
	}
	return time.Second / time.Duration(hz)
}
