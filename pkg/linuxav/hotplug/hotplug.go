//go:build linux

// Package hotplug monitors kernel device events over netlink, without cgo
// or libudev.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Action constants for device events.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Subsystem names used by the capture pipeline.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemMedia       = "media"
)

// Event represents a kernel device event.
type Event struct {
	Action    string            // "add", "remove", "change", etc.
	KObj      string            // Kernel object path: /devices/platform/...
	Subsystem string            // "video4linux", "media", ...
	DevType   string            // Device type if available
	DevName   string            // Device name relative to /dev (e.g., "video0")
	DevPath   string            // DEVPATH property, the sysfs path
	Env       map[string]string // All environment variables from the event
}

// Node returns the device node for the event, or "" when the event has no
// DEVNAME.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/") {
		return path.Clean(e.DevName)
	}
	return path.Join("/dev", e.DevName)
}

// Monitor listens for kernel device events via netlink.
type Monitor struct {
	fd        int
	closeOnce sync.Once
	filters   map[string]struct{}
	filtersMu sync.RWMutex
}

// netlinkKobjectUEvent is the netlink protocol for kernel object events.
const netlinkKobjectUEvent = unix.NETLINK_KOBJECT_UEVENT

// pollInterval bounds how long Run waits before rechecking its context.
const pollInterval = 1000 // ms

// NewMonitor creates a new device event monitor bound to the kernel
// broadcast group.
func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Monitor{
		fd:      fd,
		filters: make(map[string]struct{}),
	}, nil
}

// AddSubsystemFilter adds a subsystem filter. Only events from matching
// subsystems will be returned. If no filters are added, all events pass through.
// This method is safe for concurrent use.
func (m *Monitor) AddSubsystemFilter(subsystem string) {
	m.filtersMu.Lock()
	m.filters[subsystem] = struct{}{}
	m.filtersMu.Unlock()
}

func (m *Monitor) accepts(subsystem string) bool {
	m.filtersMu.RLock()
	defer m.filtersMu.RUnlock()
	if len(m.filters) == 0 {
		return true
	}
	_, ok := m.filters[subsystem]
	return ok
}

// Close releases the monitor resources. Only the first call closes the
// socket; later calls return nil.
func (m *Monitor) Close() error {
	var err error = unix.EBADF
	m.closeOnce.Do(func() {
		err = unix.Close(m.fd)
	})
	if errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// Run sends matching events to the provided channel until the context is
// cancelled or the socket fails. The events channel is closed when Run
// returns.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)

	buf := make([]byte, 16384)
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		n, _, err = unix.Recvfrom(m.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			// ENOBUFS means the kernel dropped events; keep going.
			if errors.Is(err, unix.ENOBUFS) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		event := ParseUEvent(buf[:n])
		if event == nil || !m.accepts(event.Subsystem) {
			continue
		}

		select {
		case events <- *event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseUEvent parses a kernel uevent message.
// Format: "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0..."
func ParseUEvent(data []byte) *Event {
	if len(data) == 0 {
		return nil
	}

	// libudev re-broadcasts carry a binary header; skip to the first
	// "action@path" record after it.
	if bytes.HasPrefix(data, []byte("libudev")) {
		for i := 0; i < len(data)-1; i++ {
			if data[i] == 0 {
				rest := data[i+1:]
				if idx := bytes.IndexByte(rest, '@'); idx > 0 && idx < 20 {
					data = rest
					break
				}
			}
		}
	}

	parts := bytes.Split(data, []byte{0})
	if len(parts[0]) == 0 {
		return nil
	}

	header := string(parts[0])
	action, kobj, ok := strings.Cut(header, "@")
	if !ok || action == "" {
		return nil
	}

	event := &Event{
		Action: action,
		KObj:   kobj,
		Env:    make(map[string]string),
	}

	for _, part := range parts[1:] {
		key, value, found := strings.Cut(string(part), "=")
		if !found || key == "" {
			continue
		}
		event.Env[key] = value

		switch key {
		case "SUBSYSTEM":
			event.Subsystem = value
		case "DEVTYPE":
			event.DevType = value
		case "DEVNAME":
			event.DevName = value
		case "DEVPATH":
			event.DevPath = value
		}
	}

	return event
}
