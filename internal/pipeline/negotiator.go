package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/smazurov/isppipe/internal/metrics"
)

// Negotiator runs the one-time format setup of every queue. It owns the
// working geometry: the configured default, replaced by the detected signal
// timing and then by whatever the capture driver actually accepted.
type Negotiator struct {
	expectedDriver string
	logger         *slog.Logger

	working   Geometry
	timing    Timing
	hasTiming bool
}

// NewNegotiator creates a negotiator starting from the default geometry.
// An empty expectedDriver disables the identity check.
func NewNegotiator(expectedDriver string, defaults Geometry, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		expectedDriver: expectedDriver,
		logger:         logger,
		working:        defaults,
	}
}

// Working returns the current working geometry.
func (n *Negotiator) Working() Geometry { return n.working }

// Timing returns the last detected signal timing.
func (n *Negotiator) Timing() (Timing, bool) { return n.timing, n.hasTiming }

// ListFormats logs and returns the formats a queue supports.
func (n *Negotiator) ListFormats(dev Device, q QueueSpec) ([]FormatDesc, error) {
	formats, err := dev.Formats(q)
	if err != nil {
		return nil, newError(KindDriverRejected, q.Name, "enum-formats", err)
	}
	for _, f := range formats {
		n.logger.Debug("Supported format",
			"device", dev.Path(),
			"stage", q.Name,
			"index", f.Index,
			"fourcc", f.Layout.String(),
			"description", f.Description)
	}
	return formats, nil
}

// NegotiateCapture verifies the capture driver, applies the detected
// signal timing and negotiates the capture format. Failures are recorded in
// report and the best available values are returned.
func (n *Negotiator) NegotiateCapture(dev Device, q QueueSpec, layout PixelLayout, report *SetupReport) Format {
	if _, err := n.ListFormats(dev, q); err != nil {
		n.logger.Debug("Format listing unavailable", "stage", q.Name, "error", err)
	}

	n.checkIdentity(dev, q, report)
	n.applyTiming(dev, q, report)

	f := n.negotiate(dev, q, layout, report)
	n.working = f.Geometry
	return f
}

// NegotiateQueue runs the format round trip for an ISP queue. Geometry is
// always the working geometry; layout is fixed by the caller.
func (n *Negotiator) NegotiateQueue(dev Device, q QueueSpec, layout PixelLayout, report *SetupReport) Format {
	if _, err := n.ListFormats(dev, q); err != nil {
		n.logger.Debug("Format listing unavailable", "stage", q.Name, "error", err)
	}

	if id, err := dev.Identity(); err != nil {
		report.Record(q.Name, "identity", newError(KindDriverRejected, q.Name, "identity", err))
	} else {
		n.logger.Debug("ISP device", "stage", q.Name, "driver", id.Driver, "card", id.Card)
	}
	return n.negotiate(dev, q, layout, report)
}

func (n *Negotiator) checkIdentity(dev Device, q QueueSpec, report *SetupReport) {
	id, err := dev.Identity()
	if err != nil {
		report.Record(q.Name, "identity", newError(KindDriverRejected, q.Name, "identity", err))
		n.logger.Warn("Failed to query capture device identity", "device", dev.Path(), "error", err)
		return
	}
	n.logger.Info("Capture device", "device", dev.Path(), "driver", id.Driver, "card", id.Card, "bus", id.BusInfo)

	if n.expectedDriver == "" || strings.HasPrefix(id.Driver, n.expectedDriver) {
		return
	}
	report.Record(q.Name, "identity", newError(KindDriverMismatch, q.Name, "identity",
		fmt.Errorf("driver %q, expected %q", id.Driver, n.expectedDriver)))
	n.logger.Error("Wrong capture driver, check the device tree overlay",
		"driver", id.Driver, "expected", n.expectedDriver)
}

func (n *Negotiator) applyTiming(dev Device, q QueueSpec, report *SetupReport) {
	t, err := dev.QueryTiming()
	if err != nil {
		report.Record(q.Name, "query-timing", newError(KindDriverRejected, q.Name, "query-timing", err))
		n.logger.Warn("Failed to query signal timing, keeping working geometry",
			"geometry", n.working, "error", err)
		return
	}
	n.timing = t
	n.hasTiming = true
	metrics.SetSignalFPS(t.FPS)
	n.logger.Info("Detected input signal", "geometry", t.Geometry, "fps", fmt.Sprintf("%.2f", t.FPS), "interlaced", t.Interlaced)

	if err := dev.SetTiming(t); err != nil {
		report.Record(q.Name, "set-timing", newError(KindDriverRejected, q.Name, "set-timing", err))
		n.logger.Warn("Failed to apply signal timing", "error", err)
		return
	}
	n.working = t.Geometry
}

// negotiate does get, modify, set and re-get. The re-queried format is
// authoritative; on any failure the requested format is returned.
func (n *Negotiator) negotiate(dev Device, q QueueSpec, layout PixelLayout, report *SetupReport) Format {
	requested := Format{Geometry: n.working, Layout: layout, Field: FieldNone}

	cur, err := dev.GetFormat(q)
	if err != nil {
		report.Record(q.Name, "get-format", newError(KindDriverRejected, q.Name, "get-format", err))
		n.logger.Warn("Failed to read format", "stage", q.Name, "error", err)
		return requested
	}

	cur.Geometry = n.working
	cur.Layout = layout
	cur.Field = FieldNone
	if err := dev.SetFormat(q, cur); err != nil {
		report.Record(q.Name, "set-format", newError(KindDriverRejected, q.Name, "set-format", err))
		n.logger.Warn("Failed to set format", "stage", q.Name, "geometry", n.working, "fourcc", layout.String(), "error", err)
		return requested
	}

	final, err := dev.GetFormat(q)
	if err != nil {
		report.Record(q.Name, "get-format", newError(KindDriverRejected, q.Name, "get-format", err))
		n.logger.Warn("Failed to re-read format", "stage", q.Name, "error", err)
		return cur
	}

	if final.Geometry != cur.Geometry || final.Layout != cur.Layout {
		n.logger.Warn("Driver adjusted format",
			"stage", q.Name,
			"requested", cur.Geometry, "requested_fourcc", cur.Layout.String(),
			"accepted", final.Geometry, "accepted_fourcc", final.Layout.String())
	}
	n.logger.Info("Format negotiated", "stage", q.Name, "geometry", final.Geometry, "fourcc", final.Layout.String())
	return final
}
