package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

var errWouldBlock = errors.New("no buffer ready")

type call struct {
	dev   string
	op    string
	queue string
	slot  SlotIndex
	fd    int
}

// recorder is shared between mock devices so calls are ordered globally.
type recorder struct {
	calls []call
}

func (r *recorder) add(c call) { r.calls = append(r.calls, c) }

// filter returns the calls on queue matching op ("" matches all ops).
func (r *recorder) filter(queue, op string) []call {
	var out []call
	for _, c := range r.calls {
		if c.queue == queue && (op == "" || c.op == op) {
			out = append(out, c)
		}
	}
	return out
}

type mockRing struct {
	slots   int
	pending []SlotIndex
	on      bool
}

type mockDevice struct {
	path string
	rec  *recorder

	identity    Identity
	identityErr error

	timing       Timing
	timingErr    error
	setTimingErr error

	formats map[string]Format
	clamp   func(q QueueSpec, f Format) Format
	getErr  map[string]error
	setErr  map[string]error

	grant       map[string]int
	rings       map[string]*mockRing
	dequeueErr  map[string]error
	enqueueErr  map[string]error
	streamOnErr map[string]error
	exportErr   map[string]error

	nextFD    int
	closedFDs []int
	closed    int
}

func newMockDevice(path string, rec *recorder) *mockDevice {
	return &mockDevice{
		path:        path,
		rec:         rec,
		identity:    Identity{Driver: "unicam", Card: "unicam", BusInfo: "platform:fe801000.csi"},
		timing:      Timing{Geometry: Geometry{Width: 1280, Height: 720}, FPS: 60},
		formats:     map[string]Format{},
		getErr:      map[string]error{},
		setErr:      map[string]error{},
		grant:       map[string]int{},
		rings:       map[string]*mockRing{},
		dequeueErr:  map[string]error{},
		enqueueErr:  map[string]error{},
		streamOnErr: map[string]error{},
		exportErr:   map[string]error{},
		nextFD:      100,
	}
}

func (m *mockDevice) ring(q QueueSpec) *mockRing {
	r, ok := m.rings[q.Name]
	if !ok {
		r = &mockRing{}
		m.rings[q.Name] = r
	}
	return r
}

func (m *mockDevice) Path() string { return m.path }

func (m *mockDevice) Identity() (Identity, error) { return m.identity, m.identityErr }

func (m *mockDevice) QueryTiming() (Timing, error) {
	if m.timingErr != nil {
		return Timing{}, m.timingErr
	}
	return m.timing, nil
}

func (m *mockDevice) SetTiming(Timing) error { return m.setTimingErr }

func (m *mockDevice) Formats(q QueueSpec) ([]FormatDesc, error) {
	m.rec.add(call{dev: m.path, op: "formats", queue: q.Name})
	return []FormatDesc{{Index: 0, Layout: LayoutRGB24, Description: "24-bit RGB 8-8-8"}}, nil
}

func (m *mockDevice) GetFormat(q QueueSpec) (Format, error) {
	if err := m.getErr[q.Name]; err != nil {
		return Format{}, err
	}
	return m.formats[q.Name], nil
}

func (m *mockDevice) SetFormat(q QueueSpec, f Format) error {
	if err := m.setErr[q.Name]; err != nil {
		return err
	}
	if m.clamp != nil {
		f = m.clamp(q, f)
	}
	m.formats[q.Name] = f
	return nil
}

func (m *mockDevice) RequestSlots(q QueueSpec, count int) (int, error) {
	m.rec.add(call{dev: m.path, op: "request", queue: q.Name, slot: SlotIndex(count)})
	r := m.ring(q)
	if count == 0 {
		r.slots = 0
		r.pending = nil
		return 0, nil
	}
	if g, ok := m.grant[q.Name]; ok {
		count = g
	}
	r.slots = count
	return count, nil
}

func (m *mockDevice) QuerySlot(q QueueSpec, slot SlotIndex) (PlaneSet, error) {
	f := m.formats[q.Name]
	return NewPlaneSet(Plane{Length: f.SizeImage + 4096})
}

func (m *mockDevice) ExportSlot(q QueueSpec, slot SlotIndex) (int, error) {
	if err := m.exportErr[q.Name]; err != nil {
		return -1, err
	}
	fd := m.nextFD
	m.nextFD++
	m.rec.add(call{dev: m.path, op: "export", queue: q.Name, slot: slot, fd: fd})
	return fd, nil
}

func (m *mockDevice) Enqueue(q QueueSpec, slot SlotIndex, planes PlaneSet) error {
	if err := m.enqueueErr[q.Name]; err != nil {
		return err
	}
	r := m.ring(q)
	if int(slot) >= r.slots {
		return fmt.Errorf("slot %d: invalid argument", slot)
	}
	for _, s := range r.pending {
		if s == slot {
			return fmt.Errorf("slot %d already pending", slot)
		}
	}
	p, _ := planes.At(0)
	m.rec.add(call{dev: m.path, op: "enqueue", queue: q.Name, slot: slot, fd: p.FD})
	r.pending = append(r.pending, slot)
	return nil
}

func (m *mockDevice) Dequeue(q QueueSpec) (SlotIndex, error) {
	if err := m.dequeueErr[q.Name]; err != nil {
		return 0, err
	}
	r := m.ring(q)
	if !r.on || len(r.pending) == 0 {
		return 0, errWouldBlock
	}
	slot := r.pending[0]
	r.pending = r.pending[1:]
	m.rec.add(call{dev: m.path, op: "dequeue", queue: q.Name, slot: slot})
	return slot, nil
}

func (m *mockDevice) StreamOn(q QueueSpec) error {
	if err := m.streamOnErr[q.Name]; err != nil {
		return err
	}
	m.rec.add(call{dev: m.path, op: "stream-on", queue: q.Name})
	m.ring(q).on = true
	return nil
}

func (m *mockDevice) StreamOff(q QueueSpec) error {
	m.rec.add(call{dev: m.path, op: "stream-off", queue: q.Name})
	r := m.ring(q)
	r.on = false
	r.pending = nil
	return nil
}

func (m *mockDevice) CloseDescriptor(fd int) error {
	m.closedFDs = append(m.closedFDs, fd)
	return nil
}

func (m *mockDevice) Close() error {
	m.closed++
	return nil
}

// fixture is a capture device and an ISP device with a shared recorder.
type fixture struct {
	rec     *recorder
	capture *mockDevice
	isp     *mockDevice
	cfg     Config
	openErr map[string]error
}

func newFixture(slots int) *fixture {
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Slots = slots
	f := &fixture{
		rec:     rec,
		capture: newMockDevice(cfg.CaptureDevice, rec),
		isp:     newMockDevice(cfg.ISPDevice, rec),
		cfg:     cfg,
		openErr: map[string]error{},
	}
	f.isp.identity = Identity{Driver: "bcm2835-isp", Card: "bcm2835-isp"}
	return f
}

func (f *fixture) open(path string) (Device, error) {
	if err := f.openErr[path]; err != nil {
		return nil, err
	}
	switch path {
	case f.cfg.CaptureDevice:
		return f.capture, nil
	case f.cfg.ISPDevice:
		return f.isp, nil
	}
	return nil, fmt.Errorf("no such device %s", path)
}

func (f *fixture) pipeline(resources ResourceFactory) *Pipeline {
	return New(f.cfg, f.open, resources, discardLogger())
}

// streaming returns a configured and started pipeline.
func (f *fixture) streaming(t *testing.T) *Pipeline {
	t.Helper()
	p := f.pipeline(nil)
	if _, err := p.Configure(); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return p
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
