//go:build linux

package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/isppipe/internal/pipeline"
	"github.com/smazurov/isppipe/pkg/linuxav/v4l2"
)

// V4L2Device is a pipeline.Device backed by a V4L2 video node.
type V4L2Device struct {
	dev *v4l2.Device
}

var (
	_ pipeline.Device = (*V4L2Device)(nil)
	_ pipeline.Poller = (*V4L2Device)(nil)
)

// Open opens a V4L2 node. It satisfies pipeline.Opener.
func Open(path string) (pipeline.Device, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	return &V4L2Device{dev: dev}, nil
}

func bufType(q pipeline.QueueSpec) v4l2.BufType {
	switch {
	case q.Direction == pipeline.DirectionCapture && q.MultiPlanar:
		return v4l2.BufTypeVideoCaptureMPlane
	case q.Direction == pipeline.DirectionCapture:
		return v4l2.BufTypeVideoCapture
	case q.MultiPlanar:
		return v4l2.BufTypeVideoOutputMPlane
	default:
		return v4l2.BufTypeVideoOutput
	}
}

func memory(q pipeline.QueueSpec) v4l2.Memory {
	if q.Memory == pipeline.MemoryImported {
		return v4l2.MemoryDMABuf
	}
	return v4l2.MemoryMMAP
}

// Path returns the device node path.
func (d *V4L2Device) Path() string { return d.dev.Path() }

// Identity queries the driver identity.
func (d *V4L2Device) Identity() (pipeline.Identity, error) {
	c, err := d.dev.Capability()
	if err != nil {
		return pipeline.Identity{}, err
	}
	return pipeline.Identity{Driver: c.Driver, Card: c.Card, BusInfo: c.BusInfo}, nil
}

// QueryTiming reads the timings of the detected input signal.
func (d *V4L2Device) QueryTiming() (pipeline.Timing, error) {
	t, err := d.dev.QueryDVTimings()
	if err != nil {
		return pipeline.Timing{}, fmt.Errorf("signal %s: %w", v4l2.SignalStateFromError(err), err)
	}
	return timingFromDV(t), nil
}

// SetTiming applies timings returned by QueryTiming.
func (d *V4L2Device) SetTiming(t pipeline.Timing) error {
	dv, ok := t.Native.(v4l2.DVTimings)
	if !ok {
		return errors.New("timing was not queried from a V4L2 device")
	}
	return d.dev.SetDVTimings(dv)
}

func timingFromDV(t v4l2.DVTimings) pipeline.Timing {
	return pipeline.Timing{
		Geometry:   pipeline.Geometry{Width: t.Width, Height: t.Height},
		FPS:        t.FPS(),
		Interlaced: t.Interlaced,
		Native:     t,
	}
}

// Formats enumerates the formats of a queue.
func (d *V4L2Device) Formats(q pipeline.QueueSpec) ([]pipeline.FormatDesc, error) {
	infos, err := d.dev.Formats(bufType(q))
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.FormatDesc, len(infos))
	for i, f := range infos {
		out[i] = pipeline.FormatDesc{
			Index:       f.Index,
			Layout:      pipeline.PixelLayout(f.PixelFormat),
			Description: f.FormatName,
			Emulated:    f.Emulated,
		}
	}
	return out, nil
}

// GetFormat reads the current format of a queue.
func (d *V4L2Device) GetFormat(q pipeline.QueueSpec) (pipeline.Format, error) {
	f, err := d.dev.GetFormat(bufType(q))
	if err != nil {
		return pipeline.Format{}, err
	}
	return formatFromPix(f), nil
}

// SetFormat applies geometry, layout and field to a queue.
func (d *V4L2Device) SetFormat(q pipeline.QueueSpec, f pipeline.Format) error {
	_, err := d.dev.SetFormat(bufType(q), v4l2.PixFormat{
		Width:       f.Geometry.Width,
		Height:      f.Geometry.Height,
		PixelFormat: uint32(f.Layout),
		Field:       f.Field,
	})
	return err
}

func formatFromPix(f v4l2.PixFormat) pipeline.Format {
	return pipeline.Format{
		Geometry:     pipeline.Geometry{Width: f.Width, Height: f.Height},
		Layout:       pipeline.PixelLayout(f.PixelFormat),
		Field:        f.Field,
		BytesPerLine: f.BytesPerLine,
		SizeImage:    f.SizeImage,
	}
}

// RequestSlots allocates count buffers.
func (d *V4L2Device) RequestSlots(q pipeline.QueueSpec, count int) (int, error) {
	if count < 0 {
		return 0, fmt.Errorf("invalid slot count %d", count)
	}
	n, err := d.dev.RequestBuffers(bufType(q), memory(q), uint32(count))
	return int(n), err
}

// QuerySlot reads the plane layout of one buffer.
func (d *V4L2Device) QuerySlot(q pipeline.QueueSpec, slot pipeline.SlotIndex) (pipeline.PlaneSet, error) {
	info, err := d.dev.QueryBuffer(bufType(q), memory(q), uint32(slot))
	if err != nil {
		return pipeline.PlaneSet{}, err
	}
	if !q.MultiPlanar {
		return pipeline.NewPlaneSet(pipeline.Plane{Length: info.Length})
	}
	var ps pipeline.PlaneSet
	for _, p := range info.Planes {
		if err := ps.Append(pipeline.Plane{Length: p.Length}); err != nil {
			return pipeline.PlaneSet{}, err
		}
	}
	return ps, nil
}

// ExportSlot exports the first plane of a mapped buffer as a DMA-buf.
func (d *V4L2Device) ExportSlot(q pipeline.QueueSpec, slot pipeline.SlotIndex) (int, error) {
	return d.dev.ExportBuffer(bufType(q), uint32(slot), 0)
}

// Enqueue queues a buffer.
func (d *V4L2Device) Enqueue(q pipeline.QueueSpec, slot pipeline.SlotIndex, planes pipeline.PlaneSet) error {
	req := v4l2.QueueRequest{
		Type:   bufType(q),
		Memory: memory(q),
		Index:  uint32(slot),
	}
	for _, p := range planes.All() {
		req.Planes = append(req.Planes, v4l2.PlaneRequest{
			FD:        p.FD,
			BytesUsed: p.BytesUsed,
			Length:    p.Length,
		})
	}
	return d.dev.QueueBuffer(req)
}

// Dequeue waits for a completed buffer.
func (d *V4L2Device) Dequeue(q pipeline.QueueSpec) (pipeline.SlotIndex, error) {
	idx, err := d.dev.DequeueBuffer(bufType(q), memory(q))
	return pipeline.SlotIndex(idx), err
}

// StreamOn starts a queue.
func (d *V4L2Device) StreamOn(q pipeline.QueueSpec) error { return d.dev.StreamOn(bufType(q)) }

// StreamOff stops a queue.
func (d *V4L2Device) StreamOff(q pipeline.QueueSpec) error { return d.dev.StreamOff(bufType(q)) }

// CloseDescriptor closes an exported DMA-buf.
func (d *V4L2Device) CloseDescriptor(fd int) error { return v4l2.CloseDescriptor(fd) }

// Close closes the node.
func (d *V4L2Device) Close() error { return d.dev.Close() }

// WaitReadable waits for a completed buffer.
func (d *V4L2Device) WaitReadable(timeout time.Duration) (bool, error) {
	return d.dev.WaitReadable(int(timeout.Milliseconds()))
}

// WatchSourceChanges opens a second handle on path and sends on changes
// whenever the receiver reports a source change event, until ctx is done.
// Devices without event support return v4l2.ErrEventsNotSupported.
func WatchSourceChanges(ctx context.Context, path string, logger *slog.Logger, changes chan<- struct{}) error {
	dev, err := v4l2.Open(path)
	if err != nil {
		return err
	}
	defer dev.Close()

	for ctx.Err() == nil {
		flags, err := dev.WaitForSourceChange(1000)
		if err != nil {
			if errors.Is(err, v4l2.ErrEventsNotSupported) {
				return err
			}
			logger.Warn("Source change wait failed", "device", path, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if flags == 0 {
			continue
		}
		logger.Info("Source change detected", "device", path, "flags", flags)
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	return nil
}
