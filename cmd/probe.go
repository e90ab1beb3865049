package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/smazurov/isppipe/internal/consumer"
	"github.com/smazurov/isppipe/internal/devices"
	"github.com/smazurov/isppipe/internal/logging"
	"github.com/smazurov/isppipe/internal/pipeline"
	"github.com/spf13/cobra"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd(load ConfigFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Configure the pipeline once and print the setup report",
		Long: `Opens both devices, negotiates every queue, allocates and exports buffers ` +
			`and binds capture to the ISP, then prints the outcome of each step and tears ` +
			`everything down again without streaming.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			cfg.CaptureDevice = resolve(cfg.CaptureDevice)
			cfg.ISPDevice = resolve(cfg.ISPDevice)

			logger := logging.GetLogger("pipeline")
			return runProbe(c.OutOrStdout(), cfg, devices.Open, consumer.NewFactory(logger), logger)
		},
	}
}

// runProbe configures a pipeline and stops it again. The returned error is
// the fatal setup error, if any; degraded steps are only printed.
func runProbe(w io.Writer, cfg pipeline.Config, open pipeline.Opener, resources pipeline.ResourceFactory, logger *slog.Logger) error {
	p := pipeline.New(cfg, open, resources, logger)
	report, setupErr := p.Configure()

	fmt.Fprintf(w, "capture:  %s\n", cfg.CaptureDevice)
	fmt.Fprintf(w, "isp:      %s\n", cfg.ISPDevice)
	if t, ok := p.Timing(); ok {
		fmt.Fprintf(w, "signal:   %s @ %.2f fps\n", t.Geometry, t.FPS)
	} else {
		fmt.Fprintln(w, "signal:   none")
	}
	fmt.Fprintf(w, "geometry: %s\n", p.Geometry())
	fmt.Fprintf(w, "slots:    %d of %d requested\n", p.Slots(), cfg.Slots)
	if out := p.OutputFormat(); out.Layout != 0 {
		fmt.Fprintf(w, "output:   %s %s stride %d size %d\n", out.Geometry, out.Layout, out.BytesPerLine, out.SizeImage)
	}

	switch {
	case setupErr != nil:
		fmt.Fprintln(w, "result:   fatal")
	case report.OK():
		fmt.Fprintln(w, "result:   ok")
	default:
		fmt.Fprintln(w, "result:   degraded")
	}
	if report != nil {
		for _, s := range report.Steps {
			fmt.Fprintf(w, "  %s/%s: %v\n", s.Stage, s.Op, s.Err)
		}
	}

	if err := p.Stop(); err != nil {
		logger.Warn("Probe teardown reported errors", "error", err)
	}
	return setupErr
}
