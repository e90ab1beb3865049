package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/isppipe/internal/metrics"
)

// Config describes one pipeline instance.
type Config struct {
	CaptureDevice  string
	ISPDevice      string
	ExpectedDriver string

	// Slots is the requested slot count. Drivers may grant fewer.
	Slots int
	// Geometry is the default working geometry, replaced by the detected
	// signal timing when one is available.
	Geometry Geometry
	Policy   FailurePolicy

	CaptureLayout   PixelLayout
	ISPInputLayout  PixelLayout
	ISPOutputLayout PixelLayout
	ConsumerLayout  PixelLayout
}

// DefaultConfig returns the configuration of the reference board.
func DefaultConfig() Config {
	return Config{
		CaptureDevice:   "/dev/video0",
		ISPDevice:       "/dev/video12",
		ExpectedDriver:  "unicam",
		Slots:           1,
		Geometry:        Geometry{Width: 1280, Height: 720},
		Policy:          PolicyDegrade,
		CaptureLayout:   LayoutRGB24,
		ISPInputLayout:  LayoutRGB24,
		ISPOutputLayout: LayoutBGR32,
		ConsumerLayout:  LayoutARGB8888,
	}
}

// Queue identities of the fixed topology.
var (
	CaptureQueue   = QueueSpec{Name: StageCapture, Direction: DirectionCapture, Memory: MemoryMapped}
	ISPInputQueue  = QueueSpec{Name: StageISPInput, Direction: DirectionOutput, Memory: MemoryImported, MultiPlanar: true}
	ISPOutputQueue = QueueSpec{Name: StageISPOutput, Direction: DirectionCapture, Memory: MemoryMapped, MultiPlanar: true}
)

// Pipeline drives capture, ISP input and ISP output once per Tick.
type Pipeline struct {
	cfg       Config
	open      Opener
	resources ResourceFactory
	logger    *slog.Logger

	state   State
	onState func(from, to State)

	captureDev Device
	ispDev     Device

	capture   *Queue
	ispInput  *Queue
	ispOutput *Queue

	captureTable *DescriptorTable
	outputTable  *DescriptorTable
	binder       *StageBinder
	negotiator   *Negotiator
	report       *SetupReport

	outputFormat Format
	slots        int

	ready    SlotIndex
	hasReady bool
}

// New creates an uninitialized pipeline. resources may be nil when no
// consumer imports the ISP output.
func New(cfg Config, open Opener, resources ResourceFactory, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		open:      open,
		resources: resources,
		logger:    logger,
		state:     StateUninitialized,
	}
}

// OnStateChange registers a callback invoked after every state transition.
func (p *Pipeline) OnStateChange(fn func(from, to State)) {
	p.onState = fn
}

// State returns the lifecycle state.
func (p *Pipeline) State() State { return p.state }

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Report returns the report of the last Configure, or nil.
func (p *Pipeline) Report() *SetupReport { return p.report }

// Slots returns the negotiated slot count.
func (p *Pipeline) Slots() int { return p.slots }

// Geometry returns the working geometry agreed by the negotiator.
func (p *Pipeline) Geometry() Geometry {
	if p.negotiator == nil {
		return p.cfg.Geometry
	}
	return p.negotiator.Working()
}

// OutputFormat returns the negotiated ISP output format.
func (p *Pipeline) OutputFormat() Format { return p.outputFormat }

// Timing returns the detected capture signal timing.
func (p *Pipeline) Timing() (Timing, bool) {
	if p.negotiator == nil {
		return Timing{}, false
	}
	return p.negotiator.Timing()
}

// Ready returns the latest ISP output slot ready for display.
func (p *Pipeline) Ready() (SlotIndex, bool) { return p.ready, p.hasReady }

// Resource returns the consumer resource of an ISP output slot, or nil.
func (p *Pipeline) Resource(slot SlotIndex) Resource {
	if p.outputTable == nil {
		return nil
	}
	return p.outputTable.Resource(slot)
}

// WaitCapture waits until the capture device has a completed buffer. Devices
// that cannot be polled always report ready.
func (p *Pipeline) WaitCapture(timeout time.Duration) (bool, error) {
	poller, ok := p.captureDev.(Poller)
	if !ok {
		return true, nil
	}
	return poller.WaitReadable(timeout)
}

// Configure opens both devices, negotiates every queue, allocates and
// exports slots and binds capture to ISP input. The returned error is set
// only for fatal failures, in which case everything acquired has been
// released and the pipeline is Stopped. Degraded steps are listed in the
// report.
func (p *Pipeline) Configure() (*SetupReport, error) {
	if !canTransition(p.state, StateConfigured) {
		return nil, fmt.Errorf("%w: configure while %s", ErrInvalidState, p.state)
	}

	report := &SetupReport{}
	p.report = report
	p.ready, p.hasReady = 0, false

	if err := p.setup(report); err != nil {
		p.logger.Error("Pipeline setup failed", "error", err)
		if terr := p.teardown(); terr != nil {
			p.logger.Warn("Teardown after failed setup reported errors", "error", terr)
		}
		p.setState(StateStopped)
		return report, err
	}

	degraded := report.Degraded()
	metrics.SetSetupDegradedSteps(len(degraded))
	for _, s := range degraded {
		metrics.IncStepFailure(s.Stage, s.Op)
		p.logger.Warn("Setup step degraded", "stage", s.Stage, "op", s.Op, "error", s.Err)
	}

	p.setState(StateConfigured)
	p.logger.Info("Pipeline configured",
		"slots", p.slots,
		"geometry", p.Geometry(),
		"output", p.outputFormat.Layout.String(),
		"degraded_steps", len(degraded))
	return report, nil
}

func (p *Pipeline) setup(report *SetupReport) error {
	dev, err := p.open(p.cfg.CaptureDevice)
	if err != nil {
		e := newError(KindDeviceUnavailable, StageCapture, "open", err)
		report.Record(StageCapture, "open", e)
		return e
	}
	p.captureDev = dev

	dev, err = p.open(p.cfg.ISPDevice)
	if err != nil {
		e := newError(KindDeviceUnavailable, StageISPInput, "open", err)
		report.Record(StageISPInput, "open", e)
		return e
	}
	p.ispDev = dev

	p.negotiator = NewNegotiator(p.cfg.ExpectedDriver, p.cfg.Geometry, p.logger)
	captureFmt := p.negotiator.NegotiateCapture(p.captureDev, CaptureQueue, p.cfg.CaptureLayout, report)
	inputFmt := p.negotiator.NegotiateQueue(p.ispDev, ISPInputQueue, p.cfg.ISPInputLayout, report)
	outputFmt := p.negotiator.NegotiateQueue(p.ispDev, ISPOutputQueue, p.cfg.ISPOutputLayout, report)

	if inputFmt.Geometry != captureFmt.Geometry || inputFmt.Layout != captureFmt.Layout {
		e := newError(KindGeometryMismatch, StageISPInput, "negotiate",
			fmt.Errorf("capture produces %s %s, ISP input expects %s %s",
				captureFmt.Geometry, captureFmt.Layout, inputFmt.Geometry, inputFmt.Layout))
		report.Record(StageISPInput, "negotiate", e)
		return e
	}
	p.outputFormat = outputFmt

	p.capture = NewQueue(p.captureDev, CaptureQueue, p.logger)
	p.ispInput = NewQueue(p.ispDev, ISPInputQueue, p.logger)
	p.ispOutput = NewQueue(p.ispDev, ISPOutputQueue, p.logger)

	slots, err := p.configureQueue(p.capture, p.cfg.Slots, captureFmt, report)
	if err != nil {
		return err
	}
	p.slots = slots
	if slots == 1 {
		// The deferred slot is the only slot, so nothing is queued once it
		// has been dequeued.
		p.logger.Warn("Single slot granted, capture stalls after the first frame", "requested", p.cfg.Slots)
	}

	p.captureTable = NewDescriptorTable(StageCapture, slots)
	p.exportAll(p.capture, p.captureDev, p.captureTable, report)

	if _, err := p.configureQueue(p.ispInput, slots, inputFmt, report); err != nil {
		return err
	}
	if _, err := p.configureQueue(p.ispOutput, slots, outputFmt, report); err != nil {
		return err
	}

	binder, err := NewStageBinder(p.capture, p.captureTable, p.ispInput)
	if err != nil {
		report.Record(StageISPInput, "bind", err)
		return err
	}
	p.binder = binder

	if p.ispOutput.Slots() != slots {
		e := newError(KindGeometryMismatch, StageISPOutput, "configure",
			fmt.Errorf("granted %d slots, pipeline negotiated %d", p.ispOutput.Slots(), slots))
		report.Record(StageISPOutput, "configure", e)
		return e
	}

	p.outputTable = NewDescriptorTable(StageISPOutput, slots)
	p.exportAll(p.ispOutput, p.ispDev, p.outputTable, report)
	p.createResources(report)

	report.Record(StageISPInput, "import", p.binder.Bind())

	p.captureTable.Freeze()
	p.outputTable.Freeze()
	return nil
}

// configureQueue allocates slots on q. A queue that ends up with no slots
// cannot take part in the pipeline and is fatal.
func (p *Pipeline) configureQueue(q *Queue, count int, f Format, report *SetupReport) (int, error) {
	granted, err := q.Configure(count, f)
	report.Record(q.Spec().Name, "configure", err)
	if granted == 0 {
		e := newError(KindGeometryMismatch, q.Spec().Name, "configure", errors.New("no slots granted"))
		report.Record(q.Spec().Name, "configure", e)
		return 0, e
	}
	return granted, nil
}

func (p *Pipeline) exportAll(q *Queue, dev Device, table *DescriptorTable, report *SetupReport) {
	for i := 0; i < table.Len(); i++ {
		slot := SlotIndex(i)
		fd, err := q.ExportSlot(slot)
		if err != nil {
			report.Record(q.Spec().Name, "export", err)
			continue
		}
		if err := table.Set(slot, fd, dev.CloseDescriptor); err != nil {
			_ = dev.CloseDescriptor(fd)
			report.Record(q.Spec().Name, "export", newError(KindDriverRejected, q.Spec().Name, "export", err))
			continue
		}
		p.logger.Debug("Exported slot", "stage", q.Spec().Name, "slot", i, "fd", fd)
	}
}

func (p *Pipeline) createResources(report *SetupReport) {
	if p.resources == nil {
		return
	}
	for i := 0; i < p.outputTable.Len(); i++ {
		slot := SlotIndex(i)
		desc := p.outputTable.Shared(slot)
		if !desc.Valid() {
			continue
		}
		r, err := p.resources.CreateResource(slot, desc, p.outputFormat, p.cfg.ConsumerLayout)
		if err != nil {
			report.Record(StageISPOutput, "resource", newError(KindDriverRejected, StageISPOutput, "resource", err))
			continue
		}
		if err := p.outputTable.Attach(slot, r); err != nil {
			_ = r.Release()
			report.Record(StageISPOutput, "resource", newError(KindDriverRejected, StageISPOutput, "resource", err))
		}
	}
}

// Start turns on streaming and primes both producing queues with every
// slot. Stream-on and priming failures degrade the pipeline and are added
// to the setup report.
func (p *Pipeline) Start() error {
	if p.state != StateConfigured {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, p.state)
	}

	for _, q := range []*Queue{p.capture, p.ispOutput, p.ispInput} {
		if err := q.Start(); err != nil {
			p.degrade(q.Spec().Name, "stream-on", err)
		}
	}
	for i := 0; i < p.slots; i++ {
		if err := p.capture.Enqueue(SlotIndex(i)); err != nil {
			p.degrade(StageCapture, "prime", err)
		}
		if err := p.ispOutput.Enqueue(SlotIndex(i)); err != nil {
			p.degrade(StageISPOutput, "prime", err)
		}
	}

	p.setState(StateStreaming)
	return nil
}

func (p *Pipeline) degrade(stage, op string, err error) {
	p.report.Record(stage, op, err)
	metrics.IncStepFailure(stage, op)
	p.logger.Warn("Pipeline step failed", "stage", stage, "op", op, "error", err)
}

// Tick runs capture, ISP input and ISP output in that order and returns the
// ISP output slot ready for display. Once the capture stage has handed a
// slot to capture-side consumers, that slot stays untouched until the next
// tick.
//
// Each stage hands its slot to the next one. When the capture stage has no
// fresh slot the ISP is not fed, and when the ISP input was not fed the ISP
// output is not cycled, so a stale frame is never processed twice. The tick
// then returns the previously ready slot (or 0 before the first frame).
// Under PolicyStrict step failures are also returned; under PolicyDegrade
// they are only logged.
func (p *Pipeline) Tick() (SlotIndex, error) {
	if p.state != StateStreaming {
		return p.ready, ErrNotStreaming
	}

	start := time.Now()
	defer func() {
		metrics.IncTicks()
		metrics.ObserveTickDuration(time.Since(start))
	}()

	var errs []error

	captured, fresh, err := p.capture.Cycle()
	if err != nil {
		errs = append(errs, err)
	}
	if !fresh {
		return p.finishTick(errs)
	}

	fed, err := p.binder.Feed(captured)
	if err != nil {
		errs = append(errs, err)
	}
	if !fed {
		return p.finishTick(errs)
	}

	out, fresh, err := p.ispOutput.Cycle()
	if err != nil {
		errs = append(errs, err)
	}
	if fresh {
		p.ready, p.hasReady = out, true
		metrics.SetReadySlot(int(out))
	}
	return p.finishTick(errs)
}

func (p *Pipeline) finishTick(errs []error) (SlotIndex, error) {
	if len(errs) == 0 {
		return p.ready, nil
	}
	for _, err := range errs {
		var pe *Error
		if errors.As(err, &pe) {
			metrics.IncStepFailure(pe.Stage, pe.Op)
		}
		p.logger.Warn("Tick step failed", "error", err, "ready", p.ready)
	}
	if p.cfg.Policy == PolicyStrict {
		return p.ready, errors.Join(errs...)
	}
	return p.ready, nil
}

// Stop stops streaming, releases consumer resources and exported
// descriptors, frees every queue and closes both devices. It is safe to call
// in any state and more than once.
func (p *Pipeline) Stop() error {
	if p.state == StateStopped {
		return nil
	}
	err := p.teardown()
	if err != nil {
		p.logger.Warn("Pipeline teardown reported errors", "error", err)
	}
	p.setState(StateStopped)
	return err
}

func (p *Pipeline) teardown() error {
	var errs []error

	for _, q := range []*Queue{p.capture, p.ispOutput, p.ispInput} {
		if q != nil {
			errs = append(errs, q.Stop())
		}
	}

	// The ISP input holds references to capture descriptors.
	if p.ispInput != nil {
		errs = append(errs, p.ispInput.Free())
	}
	if p.outputTable != nil {
		errs = append(errs, p.outputTable.Release())
	}
	if p.captureTable != nil {
		errs = append(errs, p.captureTable.Release())
	}
	if p.ispOutput != nil {
		errs = append(errs, p.ispOutput.Free())
	}
	if p.capture != nil {
		errs = append(errs, p.capture.Free())
	}

	if p.captureDev != nil {
		errs = append(errs, p.captureDev.Close())
	}
	if p.ispDev != nil {
		errs = append(errs, p.ispDev.Close())
	}

	p.capture, p.ispInput, p.ispOutput = nil, nil, nil
	p.captureTable, p.outputTable = nil, nil
	p.binder = nil
	p.captureDev, p.ispDev = nil, nil
	return errors.Join(errs...)
}

func (p *Pipeline) setState(to State) {
	from := p.state
	if from == to || !canTransition(from, to) {
		return
	}
	p.state = to
	metrics.SetPipelineState(int(to))
	p.logger.Debug("Pipeline state changed", "from", from, "to", to)
	if p.onState != nil {
		p.onState(from, to)
	}
}
