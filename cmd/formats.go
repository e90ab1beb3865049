package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/smazurov/isppipe/internal/devices"
	"github.com/smazurov/isppipe/internal/pipeline"
	"github.com/spf13/cobra"
)

// ConfigFunc returns the pipeline configuration assembled from flags,
// environment and the config file.
type ConfigFunc func() (pipeline.Config, error)

type prober func(path string) (devices.ProbeResult, error)

// CreateFormatsCmd creates the formats command.
func CreateFormatsCmd(load ConfigFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the formats supported by the capture and ISP devices",
		Long: `Opens the configured capture and ISP devices and prints their identity, ` +
			`capabilities, signal state and the pixel formats of every queue they expose.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return writeFormats(c.OutOrStdout(), devices.Probe, resolve(cfg.CaptureDevice), resolve(cfg.ISPDevice))
		},
	}
}

func resolve(ref string) string {
	path, err := devices.ResolvePath(ref)
	if err != nil {
		return ref
	}
	return path
}

// writeFormats prints one block per device. A device that cannot be probed
// is reported and the others are still printed.
func writeFormats(w io.Writer, probe prober, paths ...string) error {
	var errs []error
	for i, path := range paths {
		if i > 0 {
			fmt.Fprintln(w)
		}
		res, err := probe(path)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", path, err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		writeProbeResult(w, res)
	}
	return errors.Join(errs...)
}

func writeProbeResult(w io.Writer, res devices.ProbeResult) {
	fmt.Fprintf(w, "%s\n", res.Path)
	fmt.Fprintf(w, "  driver: %s\n", res.Identity.Driver)
	fmt.Fprintf(w, "  card:   %s\n", res.Identity.Card)
	fmt.Fprintf(w, "  bus:    %s\n", res.Identity.BusInfo)
	if len(res.Capabilities) > 0 {
		fmt.Fprintf(w, "  caps:   %s\n", strings.Join(res.Capabilities, ", "))
	}
	if res.Signal != "" {
		fmt.Fprintf(w, "  signal: %s\n", res.Signal)
	}
	if t := res.Timing; t != nil {
		scan := "progressive"
		if t.Interlaced {
			scan = "interlaced"
		}
		fmt.Fprintf(w, "  timing: %s @ %.2f fps, %s\n", t.Geometry, t.FPS, scan)
	}

	for _, q := range res.Queues {
		fmt.Fprintf(w, "  %s:\n", q.Queue)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, f := range q.Formats {
			emulated := ""
			if f.Emulated {
				emulated = "emulated"
			}
			fmt.Fprintf(tw, "    [%d]\t%s\t%s\t%s\n", f.Index, f.Layout, f.Description, emulated)
		}
		_ = tw.Flush()
	}
}
