//go:build linux

package devices

import (
	"github.com/smazurov/isppipe/internal/pipeline"
	"github.com/smazurov/isppipe/pkg/linuxav/v4l2"
)

var capabilityNames = []struct {
	flag uint32
	name string
}{
	{v4l2.CapVideoCapture, "video-capture"},
	{v4l2.CapVideoOutput, "video-output"},
	{v4l2.CapVideoCaptureMPlane, "video-capture-mplane"},
	{v4l2.CapVideoOutputMPlane, "video-output-mplane"},
	{v4l2.CapVideoM2MMPlane, "video-m2m-mplane"},
	{v4l2.CapStreaming, "streaming"},
}

// CapabilityNames returns the names of the set capability flags.
func CapabilityNames(caps uint32) []string {
	var names []string
	for _, c := range capabilityNames {
		if caps&c.flag != 0 {
			names = append(names, c.name)
		}
	}
	return names
}

// queuesFor returns the queues a node with caps exposes.
func queuesFor(caps uint32) []pipeline.QueueSpec {
	var qs []pipeline.QueueSpec
	if caps&v4l2.CapVideoCapture != 0 {
		qs = append(qs, pipeline.CaptureQueue)
	}
	if caps&(v4l2.CapVideoOutputMPlane|v4l2.CapVideoM2MMPlane) != 0 {
		qs = append(qs, pipeline.ISPInputQueue)
	}
	if caps&(v4l2.CapVideoCaptureMPlane|v4l2.CapVideoM2MMPlane) != 0 {
		qs = append(qs, pipeline.ISPOutputQueue)
	}
	return qs
}

// Probe opens path and reports its identity, signal state and the formats
// of every queue it exposes.
func Probe(path string) (ProbeResult, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return ProbeResult{}, err
	}
	defer dev.Close()

	c, err := dev.Capability()
	if err != nil {
		return ProbeResult{}, err
	}
	caps := c.Effective()

	res := ProbeResult{
		Path:         path,
		Identity:     pipeline.Identity{Driver: c.Driver, Card: c.Card, BusInfo: c.BusInfo},
		Capabilities: CapabilityNames(caps),
	}

	if caps&v4l2.CapVideoCapture != 0 {
		t, err := dev.QueryDVTimings()
		res.Signal = v4l2.SignalStateFromError(err).String()
		if err == nil {
			timing := timingFromDV(t)
			res.Timing = &timing
		}
	}

	adapter := &V4L2Device{dev: dev}
	for _, q := range queuesFor(caps) {
		formats, err := adapter.Formats(q)
		if err != nil {
			continue
		}
		res.Queues = append(res.Queues, QueueFormats{Queue: q.Name, Formats: formats})
	}
	return res, nil
}
