package pipeline

import "time"

// Device is the control surface of one video device node. Every call is a
// synchronous control operation; Dequeue blocks until a buffer completes.
// Errors are driver-defined and are classified by the caller.
type Device interface {
	Path() string
	Identity() (Identity, error)

	QueryTiming() (Timing, error)
	SetTiming(t Timing) error

	Formats(q QueueSpec) ([]FormatDesc, error)
	GetFormat(q QueueSpec) (Format, error)
	SetFormat(q QueueSpec, f Format) error

	// RequestSlots allocates count buffers and returns the granted count.
	// A count of zero frees the queue.
	RequestSlots(q QueueSpec, count int) (int, error)
	QuerySlot(q QueueSpec, slot SlotIndex) (PlaneSet, error)
	// ExportSlot exports a mapped slot as a new owned descriptor.
	ExportSlot(q QueueSpec, slot SlotIndex) (int, error)
	Enqueue(q QueueSpec, slot SlotIndex, planes PlaneSet) error
	Dequeue(q QueueSpec) (SlotIndex, error)
	StreamOn(q QueueSpec) error
	StreamOff(q QueueSpec) error

	// CloseDescriptor closes a descriptor returned by ExportSlot.
	CloseDescriptor(fd int) error
	Close() error
}

// Poller is implemented by devices that can wait for a completed buffer
// without blocking in Dequeue.
type Poller interface {
	WaitReadable(timeout time.Duration) (bool, error)
}

// Opener opens a device node by path.
type Opener func(path string) (Device, error)
