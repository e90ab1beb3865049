//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"unsafe"
)

// Device is an open V4L2 video node. A Device is not safe for concurrent
// use; the streaming path drives it from a single goroutine.
type Device struct {
	path string
	fd   int

	// planes is the scratch plane array handed to the kernel for
	// multi-planar requests. It lives on the heap so its address stays
	// valid while stored as an integer inside v4l2Buffer.
	planes *[MaxPlanes]v4l2Plane
}

// Open opens a video node for blocking streaming I/O.
func Open(path string) (*Device, error) {
	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Device{
		path:   path,
		fd:     fd,
		planes: new([MaxPlanes]v4l2Plane),
	}, nil
}

// Path returns the device node path.
func (d *Device) Path() string {
	return d.path
}

// Fd returns the underlying file descriptor, or -1 once closed.
func (d *Device) Fd() int {
	return d.fd
}

// Close closes the device. Calling Close more than once is a no-op.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := close(d.fd)
	d.fd = -1
	return err
}

// Capability queries the driver identity and capabilities.
func (d *Device) Capability() (Capability, error) {
	c := v4l2Capability{}
	if err := ioctl(d.fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, err
	}
	return Capability{
		Driver:       cstr(c.driver[:]),
		Card:         cstr(c.card[:]),
		BusInfo:      cstr(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}, nil
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
