package runner

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/isppipe/internal/events"
	"github.com/smazurov/isppipe/internal/pipeline"
	"github.com/smazurov/isppipe/internal/pipeline/pipelinetest"
	"github.com/smazurov/isppipe/internal/systemd"
)

type recordingPresenter struct {
	mu    sync.Mutex
	slots []pipeline.SlotIndex
}

func (p *recordingPresenter) Present(slot pipeline.SlotIndex, _ pipeline.Resource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = append(p.slots, slot)
	return nil
}

func (p *recordingPresenter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

func (p *recordingPresenter) snapshot() []pipeline.SlotIndex {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pipeline.SlotIndex(nil), p.slots...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	states []string
}

func (n *recordingNotifier) notify(state string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
	return nil
}

func (n *recordingNotifier) has(prefix string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.states {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

type harness struct {
	t         *testing.T
	cfg       pipeline.Config
	bench     *pipelinetest.Bench
	bus       *events.Bus
	presenter *recordingPresenter
	notifier  *recordingNotifier
	runner    *Runner

	mu     sync.Mutex
	setups []events.SetupCompletedEvent
	states []events.PipelineStateChangedEvent

	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, slots int) *harness {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Slots = slots

	h := &harness{
		t:         t,
		cfg:       cfg,
		bench:     pipelinetest.NewBench(cfg),
		bus:       events.New(),
		presenter: &recordingPresenter{},
		notifier:  &recordingNotifier{},
	}
	h.bench.Capture.SetSignal(pipeline.Timing{Geometry: pipeline.Geometry{Width: 1920, Height: 1080}, FPS: 60})

	unsubSetup := h.bus.Subscribe(func(e events.SetupCompletedEvent) {
		h.mu.Lock()
		h.setups = append(h.setups, e)
		h.mu.Unlock()
	})
	unsubState := h.bus.Subscribe(func(e events.PipelineStateChangedEvent) {
		h.mu.Lock()
		h.states = append(h.states, e)
		h.mu.Unlock()
	})
	t.Cleanup(func() {
		unsubSetup()
		unsubState()
	})
	return h
}

func (h *harness) start() {
	h.t.Helper()
	h.runner = New(Options{
		Pipeline:      h.cfg,
		Open:          h.bench.Open,
		Presenter:     h.presenter,
		Bus:           h.bus,
		Notifier:      systemd.NewNotifierFunc(h.notifier.notify),
		TickInterval:  2 * time.Millisecond,
		WaitTimeout:   time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.runner.Run(ctx) }()
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return after cancel")
	}
}

func (h *harness) setupEvents() []events.SetupCompletedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.SetupCompletedEvent(nil), h.setups...)
}

func (h *harness) sawTransition(from, to string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.states {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunnerStreamsAndPresents(t *testing.T) {
	h := newHarness(t, 2)
	h.start()

	eventually(t, "six presented frames", func() bool { return h.presenter.count() >= 6 })
	h.stop()

	// Loopback devices complete in enqueue order, so two slots alternate.
	for i, slot := range h.presenter.snapshot()[:6] {
		if want := pipeline.SlotIndex(i % 2); slot != want {
			t.Errorf("frame %d presented slot %d, want %d", i, slot, want)
		}
	}

	setups := h.setupEvents()
	if len(setups) != 1 {
		t.Fatalf("setup events = %d, want 1", len(setups))
	}
	if s := setups[0]; s.Fatal || s.Slots != 2 || s.Width != 1920 || s.Height != 1080 {
		t.Errorf("setup event = %+v", s)
	}

	eventually(t, "state events", func() bool {
		return h.sawTransition("configured", "streaming") && h.sawTransition("streaming", "stopped")
	})
	if !h.notifier.has("READY=1") || !h.notifier.has("STOPPING=1") {
		t.Errorf("notify states = %q", h.notifier.states)
	}
	if h.bench.Capture.Closes() != 1 || h.bench.ISP.Closes() != 1 {
		t.Errorf("closes capture=%d isp=%d, want 1 each", h.bench.Capture.Closes(), h.bench.ISP.Closes())
	}
}

func TestRunnerRetriesUnavailableDevice(t *testing.T) {
	h := newHarness(t, 2)
	h.bench.Remove(h.cfg.CaptureDevice)
	h.start()

	eventually(t, "fatal setup event", func() bool {
		setups := h.setupEvents()
		return len(setups) > 0 && setups[0].Fatal
	})
	if h.presenter.count() != 0 {
		t.Fatal("frames presented without a pipeline")
	}
	if h.notifier.has("READY=1") {
		t.Error("READY sent before the pipeline streamed")
	}

	h.bench.Restore(h.cfg.CaptureDevice)
	eventually(t, "frames after retry", func() bool { return h.presenter.count() > 0 })
	if !h.notifier.has("READY=1") {
		t.Error("READY not sent after recovery")
	}
}

func TestRunnerHotplugRemoveAndAdd(t *testing.T) {
	h := newHarness(t, 2)
	h.start()
	eventually(t, "first frames", func() bool { return h.presenter.count() > 0 })

	h.bench.Remove(h.cfg.CaptureDevice)
	h.bus.Publish(events.DeviceHotplugEvent{DevicePath: h.cfg.CaptureDevice, Action: "remove"})
	eventually(t, "pipeline stopped", func() bool { return h.sawTransition("streaming", "stopped") })

	frozen := h.presenter.count()
	time.Sleep(30 * time.Millisecond)
	if got := h.presenter.count(); got != frozen {
		t.Errorf("frames advanced from %d to %d while the capture device was absent", frozen, got)
	}
	if n := len(h.setupEvents()); n != 1 {
		t.Errorf("setup attempted %d times while absent, want no retries", n)
	}

	h.bench.Restore(h.cfg.CaptureDevice)
	h.bus.Publish(events.DeviceHotplugEvent{DevicePath: h.cfg.CaptureDevice, Action: "add"})
	eventually(t, "frames after re-add", func() bool { return h.presenter.count() > frozen })

	if got := h.bench.Opens(h.cfg.CaptureDevice); got != 2 {
		t.Errorf("capture opened %d times, want 2", got)
	}
}

func TestRunnerIgnoresUnrelatedHotplug(t *testing.T) {
	h := newHarness(t, 2)
	h.start()
	eventually(t, "first frames", func() bool { return h.presenter.count() > 0 })

	h.bus.Publish(events.DeviceHotplugEvent{DevicePath: "/dev/video3", Action: "remove"})
	h.bus.Publish(events.SourceChangedEvent{DevicePath: "/dev/video3"})
	time.Sleep(30 * time.Millisecond)

	if n := len(h.setupEvents()); n != 1 {
		t.Errorf("setup events = %d, want 1", n)
	}
}

func TestRunnerReconfigure(t *testing.T) {
	h := newHarness(t, 2)
	h.start()
	eventually(t, "first setup", func() bool { return len(h.setupEvents()) == 1 })

	next := h.cfg
	next.Slots = 3
	h.runner.Reconfigure("config", &next)

	eventually(t, "second setup", func() bool { return len(h.setupEvents()) == 2 })
	if got := h.setupEvents()[1].Slots; got != 3 {
		t.Errorf("slots after reconfigure = %d, want 3", got)
	}
	if !h.notifier.has("RELOADING=1") {
		t.Error("RELOADING not sent")
	}
}

func TestRunnerSourceChange(t *testing.T) {
	h := newHarness(t, 2)
	h.start()
	eventually(t, "first setup", func() bool { return len(h.setupEvents()) == 1 })

	h.bench.Capture.SetSignal(pipeline.Timing{Geometry: pipeline.Geometry{Width: 1280, Height: 720}, FPS: 50})
	h.bus.Publish(events.SourceChangedEvent{DevicePath: h.cfg.CaptureDevice})

	eventually(t, "setup after source change", func() bool { return len(h.setupEvents()) == 2 })
	if s := h.setupEvents()[1]; s.Width != 1280 || s.Height != 720 {
		t.Errorf("geometry after source change = %dx%d", s.Width, s.Height)
	}
}

func TestRunnerWatchSourcePublishes(t *testing.T) {
	h := newHarness(t, 2)
	fired := make(chan string, 1)

	// The watcher reports one change over the lifetime of the runner.
	r := New(Options{
		Pipeline:     h.cfg,
		Open:         h.bench.Open,
		Presenter:    h.presenter,
		Bus:          h.bus,
		TickInterval: 2 * time.Millisecond,
		WatchSource: func(ctx context.Context, path string, changes chan<- struct{}) error {
			select {
			case fired <- path:
				changes <- struct{}{}
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	eventually(t, "reconfigure from watcher", func() bool { return len(h.setupEvents()) >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
	if got := <-fired; got != h.cfg.CaptureDevice {
		t.Errorf("watcher started for %q, want %q", got, h.cfg.CaptureDevice)
	}
}

func TestReconfigureMergesRequests(t *testing.T) {
	r := New(Options{Pipeline: pipeline.DefaultConfig()}, nil)

	a := pipeline.DefaultConfig()
	a.Slots = 2
	b := pipeline.DefaultConfig()
	b.Slots = 5

	r.Reconfigure("config", &a)
	r.Reconfigure("source-change", nil)
	r.Reconfigure("config", &b)

	req := r.takeRequest()
	if req == nil || req.cfg == nil {
		t.Fatal("no merged request")
	}
	if req.cfg.Slots != 5 {
		t.Errorf("merged slots = %d, want newest 5", req.cfg.Slots)
	}
	if req.reason != "config,source-change,config" {
		t.Errorf("merged reason = %q", req.reason)
	}
	if r.takeRequest() != nil {
		t.Error("request not cleared")
	}
}

func TestSamePath(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"/dev/video0", "/dev/video0", true},
		{"/dev/./video0", "/dev/video0", true},
		{"/dev/video0", "/dev/video1", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := samePath(tt.a, tt.b); got != tt.want {
			t.Errorf("samePath(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
