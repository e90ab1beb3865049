// Package pipelinetest provides an in-memory capture device and ISP for
// exercising a pipeline without hardware.
package pipelinetest

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/isppipe/internal/pipeline"
)

// ErrWouldBlock is returned by Dequeue when no buffer has completed.
var ErrWouldBlock = errors.New("pipelinetest: no buffer ready")

type ring struct {
	slots   int
	pending []pipeline.SlotIndex
	on      bool
}

// Device is a loopback video node: every enqueued slot completes
// immediately and dequeues in enqueue order. It is safe for concurrent use.
type Device struct {
	mu sync.Mutex

	path     string
	identity pipeline.Identity
	timing   pipeline.Timing
	timingOK bool

	formats map[string]pipeline.Format
	rings   map[string]*ring

	nextFD    int
	closedFDs []int
	closes    int
	dequeues  int
}

// NewDevice returns a loopback device reporting driver as its identity.
func NewDevice(path, driver string) *Device {
	return &Device{
		path:     path,
		identity: pipeline.Identity{Driver: driver, Card: driver, BusInfo: "platform:" + driver},
		formats:  make(map[string]pipeline.Format),
		rings:    make(map[string]*ring),
		nextFD:   100,
	}
}

// SetSignal makes QueryTiming report t. Without it the device reports
// ENOLINK, as a receiver with no signal does.
func (d *Device) SetSignal(t pipeline.Timing) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timing, d.timingOK = t, true
}

// Closes returns how often Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// ClosedDescriptors returns the descriptors closed through CloseDescriptor.
func (d *Device) ClosedDescriptors() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.closedFDs...)
}

// Dequeues returns the number of successful dequeues on all queues.
func (d *Device) Dequeues() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dequeues
}

func (d *Device) ring(q pipeline.QueueSpec) *ring {
	r, ok := d.rings[q.Name]
	if !ok {
		r = &ring{}
		d.rings[q.Name] = r
	}
	return r
}

func (d *Device) Path() string { return d.path }

func (d *Device) Identity() (pipeline.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity, nil
}

func (d *Device) QueryTiming() (pipeline.Timing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.timingOK {
		return pipeline.Timing{}, syscall.ENOLINK
	}
	return d.timing, nil
}

func (d *Device) SetTiming(pipeline.Timing) error { return nil }

func (d *Device) Formats(pipeline.QueueSpec) ([]pipeline.FormatDesc, error) {
	return []pipeline.FormatDesc{
		{Index: 0, Layout: pipeline.LayoutRGB24, Description: "24-bit RGB 8-8-8"},
		{Index: 1, Layout: pipeline.LayoutBGR32, Description: "32-bit BGRA/X 8-8-8-8"},
	}, nil
}

func (d *Device) GetFormat(q pipeline.QueueSpec) (pipeline.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.formats[q.Name], nil
}

// SetFormat stores f with driver-computed stride and size.
func (d *Device) SetFormat(q pipeline.QueueSpec, f pipeline.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bpp := uint32(3)
	if f.Layout != pipeline.LayoutRGB24 {
		bpp = 4
	}
	f.BytesPerLine = f.Geometry.Width * bpp
	f.SizeImage = f.BytesPerLine * f.Geometry.Height
	d.formats[q.Name] = f
	return nil
}

func (d *Device) RequestSlots(q pipeline.QueueSpec, count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.ring(q)
	r.slots = count
	r.pending = nil
	return count, nil
}

func (d *Device) QuerySlot(q pipeline.QueueSpec, _ pipeline.SlotIndex) (pipeline.PlaneSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return pipeline.NewPlaneSet(pipeline.Plane{Length: d.formats[q.Name].SizeImage})
}

func (d *Device) ExportSlot(pipeline.QueueSpec, pipeline.SlotIndex) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd := d.nextFD
	d.nextFD++
	return fd, nil
}

func (d *Device) Enqueue(q pipeline.QueueSpec, slot pipeline.SlotIndex, _ pipeline.PlaneSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.ring(q)
	if int(slot) >= r.slots {
		return fmt.Errorf("slot %d: %w", slot, syscall.EINVAL)
	}
	r.pending = append(r.pending, slot)
	return nil
}

func (d *Device) Dequeue(q pipeline.QueueSpec) (pipeline.SlotIndex, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.ring(q)
	if !r.on || len(r.pending) == 0 {
		return 0, ErrWouldBlock
	}
	slot := r.pending[0]
	r.pending = r.pending[1:]
	d.dequeues++
	return slot, nil
}

func (d *Device) StreamOn(q pipeline.QueueSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring(q).on = true
	return nil
}

func (d *Device) StreamOff(q pipeline.QueueSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.ring(q)
	r.on = false
	r.pending = nil
	return nil
}

func (d *Device) CloseDescriptor(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closedFDs = append(d.closedFDs, fd)
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	for _, r := range d.rings {
		r.on, r.pending, r.slots = false, nil, 0
	}
	return nil
}

// WaitReadable reports whether the capture queue has a completed buffer.
func (d *Device) WaitReadable(time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.ring(pipeline.CaptureQueue)
	return r.on && len(r.pending) > 0, nil
}

// Bench is a capture device and an ISP at fixed paths.
type Bench struct {
	Capture *Device
	ISP     *Device

	mu      sync.Mutex
	removed map[string]bool
	opens   map[string]int
}

// NewBench returns loopback devices at the paths of cfg.
func NewBench(cfg pipeline.Config) *Bench {
	return &Bench{
		Capture: NewDevice(cfg.CaptureDevice, cfg.ExpectedDriver),
		ISP:     NewDevice(cfg.ISPDevice, "bcm2835-isp"),
		removed: make(map[string]bool),
		opens:   make(map[string]int),
	}
}

// Remove makes later opens of path fail with ENODEV.
func (b *Bench) Remove(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed[path] = true
}

// Restore undoes Remove.
func (b *Bench) Restore(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.removed, path)
}

// Opens returns how often path was opened successfully.
func (b *Bench) Opens(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[path]
}

// Open implements pipeline.Opener.
func (b *Bench) Open(path string) (pipeline.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removed[path] {
		return nil, &os.PathError{Op: "open", Path: path, Err: syscall.ENODEV}
	}
	var dev *Device
	switch path {
	case b.Capture.Path():
		dev = b.Capture
	case b.ISP.Path():
		dev = b.ISP
	default:
		return nil, &os.PathError{Op: "open", Path: path, Err: syscall.ENOENT}
	}
	b.opens[path]++
	return dev, nil
}
