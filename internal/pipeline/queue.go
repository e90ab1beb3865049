package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/smazurov/isppipe/internal/metrics"
)

// Queue is one buffer ring on a device. It tracks which slots are held by
// the driver and which slot is deferred for release on the next cycle.
type Queue struct {
	dev    Device
	spec   QueueSpec
	logger *slog.Logger

	format  Format
	planes  []PlaneSet
	imports []SharedDescriptor
	queued  []bool

	started     bool
	deferred    SlotIndex
	hasDeferred bool

	// Slots whose release was refused by the driver, retried next cycle.
	unreleased []SlotIndex
}

// NewQueue creates an unconfigured queue on dev.
func NewQueue(dev Device, spec QueueSpec, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		dev:    dev,
		spec:   spec,
		logger: logger.With("stage", spec.Name),
	}
}

// Spec returns the queue identity.
func (q *Queue) Spec() QueueSpec { return q.spec }

// Slots returns the granted slot count.
func (q *Queue) Slots() int { return len(q.planes) }

// Format returns the format the queue was configured with.
func (q *Queue) Format() Format { return q.format }

// Started reports whether the queue is streaming.
func (q *Queue) Started() bool { return q.started }

// Deferred returns the slot held for release on the next cycle.
func (q *Queue) Deferred() (SlotIndex, bool) { return q.deferred, q.hasDeferred }

// Unreleased returns the slots waiting for a release retry.
func (q *Queue) Unreleased() []SlotIndex { return slices.Clone(q.unreleased) }

// Queued reports whether slot is currently held by the driver.
func (q *Queue) Queued(slot SlotIndex) bool {
	return q.inRange(slot) && q.queued[slot]
}

// Planes returns the plane layout of slot.
func (q *Queue) Planes(slot SlotIndex) PlaneSet {
	if !q.inRange(slot) {
		return PlaneSet{}
	}
	return q.planes[slot]
}

// Configure allocates count slots and records each slot's plane layout.
// It returns the number of slots the driver granted.
func (q *Queue) Configure(count int, format Format) (int, error) {
	if q.started {
		return 0, q.fail(KindDriverRejected, "configure", errors.New("queue is streaming"))
	}

	granted, err := q.dev.RequestSlots(q.spec, count)
	if err != nil {
		return 0, q.fail(KindDriverRejected, "request", err)
	}
	if granted <= 0 {
		return 0, q.fail(KindDriverRejected, "request", fmt.Errorf("driver granted %d of %d slots", granted, count))
	}
	if granted != count {
		q.logger.Warn("Driver adjusted slot count", "requested", count, "granted", granted)
	}

	q.format = format
	q.planes = make([]PlaneSet, granted)
	q.imports = make([]SharedDescriptor, granted)
	q.queued = make([]bool, granted)
	q.hasDeferred = false
	q.unreleased = nil

	var errs []error
	for i := 0; i < granted; i++ {
		ps, err := q.dev.QuerySlot(q.spec, SlotIndex(i))
		if err != nil {
			errs = append(errs, q.fail(KindDriverRejected, "query", fmt.Errorf("slot %d: %w", i, err)))
			continue
		}
		q.planes[i] = ps
	}

	q.logger.Debug("Queue configured", "slots", granted, "memory", q.spec.Memory, "geometry", format.Geometry)
	return granted, errors.Join(errs...)
}

// Free releases the driver's slots.
func (q *Queue) Free() error {
	if q.planes == nil {
		return nil
	}
	q.planes = nil
	q.imports = nil
	q.queued = nil
	q.hasDeferred = false
	q.unreleased = nil
	if _, err := q.dev.RequestSlots(q.spec, 0); err != nil {
		return q.fail(KindDriverRejected, "free", err)
	}
	return nil
}

// Start begins streaming.
func (q *Queue) Start() error {
	if q.started {
		return nil
	}
	if err := q.dev.StreamOn(q.spec); err != nil {
		return q.fail(KindDriverRejected, "stream-on", err)
	}
	q.started = true
	return nil
}

// Stop ends streaming. The driver returns every slot, so nothing stays
// queued or deferred. Stopping a stopped queue is a no-op.
func (q *Queue) Stop() error {
	if !q.started {
		return nil
	}
	q.started = false
	for i := range q.queued {
		q.queued[i] = false
	}
	q.hasDeferred = false
	q.unreleased = nil
	if err := q.dev.StreamOff(q.spec); err != nil {
		return q.fail(KindDriverRejected, "stream-off", err)
	}
	return nil
}

// ExportSlot exports a mapped slot as a new owned descriptor.
func (q *Queue) ExportSlot(slot SlotIndex) (int, error) {
	if q.spec.Memory != MemoryMapped {
		return -1, q.fail(KindDriverRejected, "export", fmt.Errorf("export needs mapped memory, queue is %s", q.spec.Memory))
	}
	if !q.inRange(slot) {
		return -1, q.fail(KindDriverRejected, "export", q.rangeErr(slot))
	}
	fd, err := q.dev.ExportSlot(q.spec, slot)
	if err != nil {
		return -1, q.fail(KindDriverRejected, "export", fmt.Errorf("slot %d: %w", slot, err))
	}
	return fd, nil
}

// ImportSlot backs an imported slot with a shared descriptor.
func (q *Queue) ImportSlot(slot SlotIndex, desc SharedDescriptor) error {
	if q.spec.Memory != MemoryImported {
		return q.fail(KindDriverRejected, "import", fmt.Errorf("import needs imported memory, queue is %s", q.spec.Memory))
	}
	if !q.inRange(slot) {
		return q.fail(KindDriverRejected, "import", q.rangeErr(slot))
	}
	if !desc.Valid() {
		return q.fail(KindDriverRejected, "import", fmt.Errorf("slot %d: no descriptor", slot))
	}
	q.imports[slot] = desc
	return nil
}

// Enqueue hands slot to the driver.
func (q *Queue) Enqueue(slot SlotIndex) error {
	if !q.started {
		return q.fail(KindDriverRejected, "enqueue", errors.New("queue not started"))
	}
	if !q.inRange(slot) {
		return q.fail(KindDriverRejected, "enqueue", q.rangeErr(slot))
	}
	if q.queued[slot] {
		return q.fail(KindDriverRejected, "enqueue", fmt.Errorf("slot %d already queued", slot))
	}

	planes := q.planes[slot]
	if q.spec.Memory == MemoryImported {
		desc := q.imports[slot]
		if !desc.Valid() {
			return q.fail(KindDriverRejected, "enqueue", fmt.Errorf("slot %d has no imported descriptor", slot))
		}
		planes = planes.withDescriptor(desc.FD())
	}

	if err := q.dev.Enqueue(q.spec, slot, planes); err != nil {
		return q.fail(KindDriverRejected, "enqueue", fmt.Errorf("slot %d: %w", slot, err))
	}
	q.queued[slot] = true
	return nil
}

// Dequeue blocks until the driver returns a slot.
func (q *Queue) Dequeue() (SlotIndex, error) {
	if !q.started {
		return 0, q.fail(KindDriverRejected, "dequeue", errors.New("queue not started"))
	}
	slot, err := q.dev.Dequeue(q.spec)
	if err != nil {
		return 0, q.fail(KindDriverRejected, "dequeue", err)
	}
	if !q.inRange(slot) {
		return 0, q.fail(KindDriverRejected, "dequeue", q.rangeErr(slot))
	}
	q.queued[slot] = false
	return slot, nil
}

// Cycle runs one deferred-release step on a producing queue: dequeue the
// next completed slot, hand the previously deferred slot back to the
// driver, then defer the new one. fresh reports whether a new slot was
// dequeued.
//
// When the dequeue fails nothing is released and the deferred slot (or 0)
// is returned with the error. A slot the driver refuses to take back is
// kept and handed back again at the start of the next cycle.
func (q *Queue) Cycle() (slot SlotIndex, fresh bool, err error) {
	retryErr := q.retryReleases()

	slot, err = q.Dequeue()
	if err != nil {
		if retryErr != nil {
			err = errors.Join(retryErr, err)
		}
		if q.hasDeferred {
			return q.deferred, false, err
		}
		return 0, false, err
	}

	releaseErr := retryErr
	if q.hasDeferred {
		if err := q.release(q.deferred); err != nil {
			releaseErr = errors.Join(releaseErr, err)
		}
	}
	q.deferred = slot
	q.hasDeferred = true
	return slot, true, releaseErr
}

func (q *Queue) release(slot SlotIndex) error {
	if err := q.Enqueue(slot); err != nil {
		q.unreleased = append(q.unreleased, slot)
		q.logger.Warn("Slot release failed, retrying next cycle", "slot", slot, "error", err)
		return err
	}
	metrics.IncRelease(q.spec.Name)
	return nil
}

func (q *Queue) retryReleases() error {
	if len(q.unreleased) == 0 {
		return nil
	}
	pending := q.unreleased
	q.unreleased = nil

	var errs []error
	for _, slot := range pending {
		if err := q.release(slot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CycleWith runs one deferred-release step on a consuming queue: enqueue
// slot for processing, then wait for the processing of the previously
// deferred slot to finish.
//
// fed reports whether slot reached the driver.
func (q *Queue) CycleWith(slot SlotIndex) (fed bool, err error) {
	if err := q.Enqueue(slot); err != nil {
		return false, err
	}

	var completeErr error
	if q.hasDeferred {
		prev := q.deferred
		done, err := q.Dequeue()
		switch {
		case err != nil:
			completeErr = err
		case done != prev:
			completeErr = q.fail(KindDriverRejected, "complete", fmt.Errorf("completed slot %d, expected %d", done, prev))
		default:
			metrics.IncRelease(q.spec.Name)
		}
	}
	q.deferred = slot
	q.hasDeferred = true
	return true, completeErr
}

func (q *Queue) inRange(slot SlotIndex) bool {
	return slot >= 0 && int(slot) < len(q.planes)
}

func (q *Queue) rangeErr(slot SlotIndex) error {
	return fmt.Errorf("slot %d out of range [0, %d)", slot, len(q.planes))
}

func (q *Queue) fail(kind Kind, op string, err error) *Error {
	return newError(kind, q.spec.Name, op, err)
}
