// Package runner owns the tick loop that drives a pipeline: it paces ticks,
// hands ready slots to a presenter and rebuilds the pipeline when the
// configuration, the input signal or the device set changes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/isppipe/internal/consumer"
	"github.com/smazurov/isppipe/internal/events"
	"github.com/smazurov/isppipe/internal/pipeline"
	"github.com/smazurov/isppipe/internal/systemd"
)

// SourceWatcher blocks until ctx is done, sending on changes whenever the
// capture receiver reports a new input signal.
type SourceWatcher func(ctx context.Context, path string, changes chan<- struct{}) error

// Options configures a Runner.
type Options struct {
	Pipeline  pipeline.Config
	Open      pipeline.Opener
	Resources pipeline.ResourceFactory
	Presenter consumer.Presenter
	Bus       *events.Bus
	Notifier  *systemd.Notifier

	// TickInterval paces ticks. Defaults to 60 Hz.
	TickInterval time.Duration
	// WaitTimeout bounds how long a tick waits for a captured frame.
	// Zero skips the wait and dequeues directly.
	WaitTimeout time.Duration
	// RetryInterval is the delay before retrying a failed configuration.
	RetryInterval time.Duration
	// WatchSource is started for the capture device while streaming. Nil
	// disables source change detection.
	WatchSource SourceWatcher
	// Resolve maps a configured device reference to its /dev node so
	// hotplug events can be matched. Nil compares paths as configured.
	Resolve func(ref string) (string, error)
}

type request struct {
	reason string
	cfg    *pipeline.Config
}

// Runner drives one pipeline from a single goroutine. The pipeline itself
// is only touched from Run; other goroutines talk to it through
// Reconfigure and the event bus.
type Runner struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	pending *request
	wake    chan struct{}

	cfg         pipeline.Config
	capturePath string
	pipe        *pipeline.Pipeline
	removed     bool
	retry       *time.Timer
	retryC      <-chan time.Time
	starts      int
	frames      uint64
	stopWatch   context.CancelFunc
}

// New creates a runner. Run must be called to start it.
func New(opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second / 60
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 2 * time.Second
	}
	if opts.Bus == nil {
		opts.Bus = events.New()
	}
	if opts.Presenter == nil {
		opts.Presenter = consumer.NewLogPresenter(logger, 0)
	}
	return &Runner{
		opts:   opts,
		logger: logger,
		wake:   make(chan struct{}, 1),
		cfg:    opts.Pipeline,
	}
}

// Reconfigure asks the run loop to rebuild the pipeline between ticks. cfg
// replaces the current configuration when non-nil. Requests that arrive
// before the loop handles the previous one are merged; the newest
// configuration wins.
func (r *Runner) Reconfigure(reason string, cfg *pipeline.Config) {
	r.mu.Lock()
	if r.pending == nil {
		r.pending = &request{reason: reason}
	} else {
		r.pending.reason = r.pending.reason + "," + reason
	}
	if cfg != nil {
		c := *cfg
		r.pending.cfg = &c
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) takeRequest() *request {
	r.mu.Lock()
	defer r.mu.Unlock()
	req := r.pending
	r.pending = nil
	return req
}

// Run configures and starts the pipeline, then ticks until ctx is done.
// The pipeline is stopped before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	bus := make(chan any, 16)
	unsubs := []func(){
		events.SubscribeToChannel[events.SourceChangedEvent](r.opts.Bus, bus),
		events.SubscribeToChannel[events.DeviceHotplugEvent](r.opts.Bus, bus),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	r.start("startup")

	var watchdogC <-chan time.Time
	if d := r.opts.Notifier.WatchdogInterval(); d > 0 {
		wd := time.NewTicker(d)
		defer wd.Stop()
		watchdogC = wd.C
	}

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil

		case <-ticker.C:
			r.tick()

		case <-r.wake:
			if req := r.takeRequest(); req != nil {
				r.restart(req)
			}

		case ev := <-bus:
			r.handleEvent(ev)

		case <-r.retryC:
			r.retryC = nil
			if !r.removed {
				r.start("retry")
			}

		case <-watchdogC:
			if r.pipe != nil && r.pipe.State() == pipeline.StateStreaming {
				if err := r.opts.Notifier.Watchdog(); err != nil {
					r.logger.Debug("Watchdog notify failed", "error", err)
				}
			}
		}
	}
}

func (r *Runner) tick() {
	p := r.pipe
	if p == nil || p.State() != pipeline.StateStreaming {
		return
	}

	if r.opts.WaitTimeout > 0 {
		ok, err := p.WaitCapture(r.opts.WaitTimeout)
		if err != nil {
			r.logger.Debug("Capture wait failed", "error", err)
		}
		if !ok {
			return
		}
	}

	slot, err := p.Tick()
	if err != nil {
		r.logger.Warn("Tick failed", "ready", slot, "error", err)
	}
	if _, ok := p.Ready(); !ok {
		return
	}
	r.frames++
	if err := r.opts.Presenter.Present(slot, p.Resource(slot)); err != nil {
		r.logger.Warn("Present failed", "slot", slot, "error", err)
	}
}

// start builds a fresh pipeline from the current configuration.
func (r *Runner) start(reason string) {
	p := pipeline.New(r.cfg, r.opts.Open, r.opts.Resources, r.logger)
	p.OnStateChange(func(from, to pipeline.State) {
		r.opts.Bus.Publish(events.PipelineStateChangedEvent{
			From:      from.String(),
			To:        to.String(),
			Timestamp: timestamp(),
		})
	})
	r.pipe = p
	r.capturePath = r.resolve(r.cfg.CaptureDevice)

	r.logger.Info("Configuring pipeline",
		"reason", reason,
		"capture", r.cfg.CaptureDevice,
		"isp", r.cfg.ISPDevice,
		"slots", r.cfg.Slots)

	report, err := p.Configure()
	r.publishSetup(p, report, err)
	if err != nil {
		r.logger.Error("Pipeline configuration failed", "error", err, "retry_in", r.opts.RetryInterval)
		_ = r.opts.Notifier.Status("setup failed: %v", err)
		r.scheduleRetry()
		return
	}

	if err := p.Start(); err != nil {
		r.logger.Error("Pipeline start failed", "error", err)
		r.scheduleRetry()
		return
	}

	r.startSourceWatch()

	geometry := p.Geometry()
	status := fmt.Sprintf("streaming %s, %d slots", geometry, p.Slots())
	// READY=1 also ends a RELOADING=1 sent by restart.
	if err := r.opts.Notifier.Ready(status); err != nil {
		r.logger.Debug("Ready notify failed", "error", err)
	}
	r.starts++
	r.logger.Info("Pipeline streaming", "geometry", geometry, "slots", p.Slots())
}

func (r *Runner) restart(req *request) {
	if req.cfg != nil {
		r.cfg = *req.cfg
	}
	_ = r.opts.Notifier.Reloading()
	r.stopPipeline()
	if r.removed {
		r.logger.Info("Capture device absent, reconfigure deferred", "reason", req.reason)
		return
	}
	r.start(req.reason)
}

func (r *Runner) stopPipeline() {
	r.cancelRetry()
	if r.stopWatch != nil {
		r.stopWatch()
		r.stopWatch = nil
	}
	if r.pipe == nil {
		return
	}
	if err := r.pipe.Stop(); err != nil {
		r.logger.Warn("Pipeline stop reported errors", "error", err)
	}
}

func (r *Runner) shutdown() {
	r.logger.Info("Shutting down pipeline", "frames", r.frames, "configurations", r.starts)
	if err := r.opts.Notifier.Stopping(); err != nil {
		r.logger.Debug("Stopping notify failed", "error", err)
	}
	r.stopPipeline()
}

func (r *Runner) handleEvent(ev any) {
	switch e := ev.(type) {
	case events.SourceChangedEvent:
		if r.isCapture(e.DevicePath) && !r.removed {
			r.Reconfigure("source-change", nil)
		}

	case events.DeviceHotplugEvent:
		capture := r.isCapture(e.DevicePath)
		isp := samePath(e.DevicePath, r.resolve(r.cfg.ISPDevice))
		if !capture && !isp {
			return
		}
		r.logger.Info("Pipeline device hotplug", "device", e.DevicePath, "action", e.Action)

		switch e.Action {
		case "remove":
			if capture {
				r.removed = true
			}
			r.stopPipeline()
		case "add":
			if capture {
				r.removed = false
			}
			r.Reconfigure("hotplug", nil)
		}
	}
}

func (r *Runner) startSourceWatch() {
	if r.opts.WatchSource == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.stopWatch = cancel

	path := r.capturePath
	changes := make(chan struct{}, 1)
	go func() {
		err := r.opts.WatchSource(ctx, path, changes)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Info("Source change detection unavailable", "device", path, "error", err)
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				r.opts.Bus.Publish(events.SourceChangedEvent{DevicePath: path, Timestamp: timestamp()})
			}
		}
	}()
}

func (r *Runner) scheduleRetry() {
	r.cancelRetry()
	if r.removed {
		return
	}
	r.retry = time.NewTimer(r.opts.RetryInterval)
	r.retryC = r.retry.C
}

func (r *Runner) cancelRetry() {
	if r.retry != nil {
		r.retry.Stop()
		r.retry, r.retryC = nil, nil
	}
}

func (r *Runner) publishSetup(p *pipeline.Pipeline, report *pipeline.SetupReport, err error) {
	g := p.Geometry()
	ev := events.SetupCompletedEvent{
		Slots:     p.Slots(),
		Width:     g.Width,
		Height:    g.Height,
		Fatal:     err != nil,
		Timestamp: timestamp(),
	}
	if report != nil {
		for _, s := range report.Degraded() {
			ev.DegradedSteps = append(ev.DegradedSteps, s.Stage+"/"+s.Op)
		}
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.opts.Bus.Publish(ev)
}

func (r *Runner) resolve(ref string) string {
	if r.opts.Resolve == nil {
		return ref
	}
	path, err := r.opts.Resolve(ref)
	if err != nil {
		return ref
	}
	return path
}

// isCapture matches path against the capture node of the running pipeline
// and, since stable links vanish with the device, against the current
// resolution of the configured reference.
func (r *Runner) isCapture(path string) bool {
	return samePath(path, r.capturePath) || samePath(path, r.resolve(r.cfg.CaptureDevice))
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
