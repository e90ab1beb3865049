//go:build linux

package v4l2

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SignalState represents the state of a video signal.
type SignalState int

// Signal states.
const (
	SignalStateNoLink       SignalState = 0 // No cable connected
	SignalStateNoSignal     SignalState = 1 // Cable connected, no signal
	SignalStateUnstable     SignalState = 2 // Signal present but unstable
	SignalStateLocked       SignalState = 3 // Signal locked and stable
	SignalStateOutOfRange   SignalState = 4 // Signal out of supported range
	SignalStateNotSupported SignalState = 5 // Device doesn't support DV timings
)

func (s SignalState) String() string {
	switch s {
	case SignalStateNoLink:
		return "no_link"
	case SignalStateNoSignal:
		return "no_signal"
	case SignalStateUnstable:
		return "unstable"
	case SignalStateLocked:
		return "locked"
	case SignalStateOutOfRange:
		return "out_of_range"
	case SignalStateNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// SignalStateFromError classifies a DV timings ioctl error.
func SignalStateFromError(err error) SignalState {
	switch {
	case err == nil:
		return SignalStateLocked
	case errors.Is(err, unix.ENOLINK):
		return SignalStateNoLink
	case errors.Is(err, unix.ENOLCK):
		return SignalStateUnstable
	case errors.Is(err, unix.ERANGE):
		return SignalStateOutOfRange
	case errors.Is(err, unix.ENOTTY):
		return SignalStateNotSupported
	default:
		return SignalStateNoSignal
	}
}

// QueryDVTimings asks the receiver for the timings of the detected signal
// (VIDIOC_QUERY_DV_TIMINGS).
func (d *Device) QueryDVTimings() (DVTimings, error) {
	raw := v4l2DVTimings{}
	if err := ioctl(d.fd, vidiocQueryDVTimings, unsafe.Pointer(&raw)); err != nil {
		return DVTimings{}, err
	}
	return decodeDVTimings(raw), nil
}

// DVTimings returns the timings currently configured on the receiver
// (VIDIOC_G_DV_TIMINGS).
func (d *Device) DVTimings() (DVTimings, error) {
	raw := v4l2DVTimings{}
	if err := ioctl(d.fd, vidiocGDVTimings, unsafe.Pointer(&raw)); err != nil {
		return DVTimings{}, err
	}
	return decodeDVTimings(raw), nil
}

// SetDVTimings applies timings previously returned by QueryDVTimings
// (VIDIOC_S_DV_TIMINGS).
func (d *Device) SetDVTimings(t DVTimings) error {
	raw := t.raw
	return ioctl(d.fd, vidiocSDVTimings, unsafe.Pointer(&raw))
}

func decodeDVTimings(raw v4l2DVTimings) DVTimings {
	return DVTimings{
		Width:       raw.bt.width,
		Height:      raw.bt.height,
		Interlaced:  raw.bt.interlaced != 0,
		PixelClock:  raw.bt.pixelclock(),
		HFrontPorch: raw.bt.hfrontporch,
		HSync:       raw.bt.hsync,
		HBackPorch:  raw.bt.hbackporch,
		VFrontPorch: raw.bt.vfrontporch,
		VSync:       raw.bt.vsync,
		VBackPorch:  raw.bt.vbackporch,
		raw:         raw,
	}
}

// WaitForSourceChange waits for a source change event with timeout.
// Returns the change flags on success, 0 on timeout, or an error.
func (d *Device) WaitForSourceChange(timeoutMs int) (int, error) {
	// Subscribe to source change events
	sub := v4l2EventSubscription{
		typ: eventSourceChange,
	}

	if subErr := ioctl(d.fd, vidiocSubscribeEvent, unsafe.Pointer(&sub)); subErr != nil {
		if errors.Is(subErr, unix.ENOTTY) || errors.Is(subErr, unix.EINVAL) {
			return 0, ErrEventsNotSupported
		}
		return 0, subErr
	}

	// Ensure we unsubscribe when done
	defer func() { _ = ioctl(d.fd, vidiocUnsubscribeEvent, unsafe.Pointer(&sub)) }()

	// V4L2 events are signalled as priority data
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLPRI}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		return 0, err
	}

	if n == 0 {
		return 0, nil // Timeout
	}

	// Dequeue the event
	event := v4l2Event{}
	if err := ioctl(d.fd, vidiocDqevent, unsafe.Pointer(&event)); err != nil {
		return 0, err
	}

	// Return the change flags
	return int(event.getSrcChangeChanges()), nil
}

// calculateFPS calculates the frame rate from DV timings.
func calculateFPS(bt *v4l2BTTimings) float64 {
	pixelclock := bt.pixelclock()
	if pixelclock == 0 {
		return 0
	}

	totalWidth := uint64(bt.width + bt.hfrontporch + bt.hsync + bt.hbackporch)
	totalHeight := uint64(bt.height + bt.vfrontporch + bt.vsync + bt.vbackporch)

	if bt.interlaced != 0 {
		totalHeight /= 2
	}

	if totalWidth == 0 || totalHeight == 0 {
		return 0
	}

	return float64(pixelclock) / float64(totalWidth*totalHeight)
}

// ErrEventsNotSupported is returned when the device doesn't support V4L2 events.
var ErrEventsNotSupported = unix.ENOTSUP
