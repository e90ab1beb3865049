//go:build linux

package hotplug

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"testing"
)

func nul(fields ...string) []byte {
	return []byte(strings.Join(fields, "\x00") + "\x00")
}

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  *Event
	}{
		{name: "empty", input: nil},
		{name: "no separator", input: []byte("invalid")},
		{name: "missing action", input: []byte("@/devices/foo")},
		{name: "only nul bytes", input: []byte{0, 0, 0, 0}},
		{
			name: "capture node added",
			input: nul("add@/devices/platform/soc/fe801000.csi/video4linux/video0",
				"ACTION=add",
				"DEVPATH=/devices/platform/soc/fe801000.csi/video4linux/video0",
				"SUBSYSTEM=video4linux",
				"DEVNAME=video0",
				"MAJOR=81"),
			want: &Event{
				Action:    ActionAdd,
				KObj:      "/devices/platform/soc/fe801000.csi/video4linux/video0",
				Subsystem: SubsystemVideo4Linux,
				DevName:   "video0",
				DevPath:   "/devices/platform/soc/fe801000.csi/video4linux/video0",
				Env: map[string]string{
					"ACTION":    "add",
					"DEVPATH":   "/devices/platform/soc/fe801000.csi/video4linux/video0",
					"SUBSYSTEM": "video4linux",
					"DEVNAME":   "video0",
					"MAJOR":     "81",
				},
			},
		},
		{
			name:  "media controller removed",
			input: nul("remove@/devices/platform/soc/fe801000.csi/media0", "SUBSYSTEM=media", "DEVNAME=media0", "DEVTYPE=media"),
			want: &Event{
				Action:    ActionRemove,
				KObj:      "/devices/platform/soc/fe801000.csi/media0",
				Subsystem: SubsystemMedia,
				DevType:   "media",
				DevName:   "media0",
				Env:       map[string]string{"SUBSYSTEM": "media", "DEVNAME": "media0", "DEVTYPE": "media"},
			},
		},
		{
			name:  "empty values and trailing nuls",
			input: []byte("unbind@/devices/platform/bcm2835-isp\x00DRIVER=\x00SUBSYSTEM=platform\x00\x00\x00"),
			want: &Event{
				Action:    ActionUnbind,
				KObj:      "/devices/platform/bcm2835-isp",
				Subsystem: "platform",
				Env:       map[string]string{"DRIVER": "", "SUBSYSTEM": "platform"},
			},
		},
		{
			name:  "equals inside value",
			input: nul("change@/dev/foo", "ID_V4L_CAPABILITIES=:capture:", "KEY=a=b=c"),
			want: &Event{
				Action: ActionChange,
				KObj:   "/dev/foo",
				Env:    map[string]string{"ID_V4L_CAPABILITIES": ":capture:", "KEY": "a=b=c"},
			},
		},
		{
			name:  "action without path",
			input: []byte("add@\x00"),
			want:  &Event{Action: ActionAdd, Env: map[string]string{}},
		},
		{
			name:  "libudev rebroadcast",
			input: append([]byte("libudev\x00"), nul("add@/devices/platform/soc/video0", "SUBSYSTEM=video4linux", "DEVNAME=video0")...),
			want: &Event{
				Action:    ActionAdd,
				KObj:      "/devices/platform/soc/video0",
				Subsystem: SubsystemVideo4Linux,
				DevName:   "video0",
				Env:       map[string]string{"SUBSYSTEM": "video4linux", "DEVNAME": "video0"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUEvent(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Errorf("ParseUEvent() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseUEvent() = nil, want %+v", tt.want)
			}
			if got.Action != tt.want.Action || got.KObj != tt.want.KObj ||
				got.Subsystem != tt.want.Subsystem || got.DevType != tt.want.DevType ||
				got.DevName != tt.want.DevName || got.DevPath != tt.want.DevPath {
				t.Errorf("ParseUEvent() = %+v, want %+v", got, tt.want)
			}
			if !maps.Equal(got.Env, tt.want.Env) {
				t.Errorf("Env = %v, want %v", got.Env, tt.want.Env)
			}
		})
	}
}

func TestEventNode(t *testing.T) {
	tests := []struct {
		devName string
		want    string
	}{
		{"video0", "/dev/video0"},
		{"v4l-subdev0", "/dev/v4l-subdev0"},
		{"/dev/video12", "/dev/video12"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := (Event{DevName: tt.devName}).Node(); got != tt.want {
			t.Errorf("Node(%q) = %q, want %q", tt.devName, got, tt.want)
		}
	}
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor() error: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMonitorClose(t *testing.T) {
	m, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor() error: %v", err)
	}
	if m.fd <= 0 {
		t.Errorf("fd = %d, want a valid descriptor", m.fd)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestMonitorFilters(t *testing.T) {
	m := newTestMonitor(t)

	if !m.accepts("usb") {
		t.Error("monitor without filters should accept every subsystem")
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.AddSubsystemFilter(SubsystemVideo4Linux)
				m.AddSubsystemFilter(SubsystemMedia)
				_ = m.accepts(SubsystemVideo4Linux)
			}
		}()
	}
	wg.Wait()

	if !m.accepts(SubsystemVideo4Linux) || !m.accepts(SubsystemMedia) {
		t.Error("video4linux and media should pass the filter")
	}
	if m.accepts("usb") {
		t.Error("usb passed a video4linux/media filter")
	}
	m.filtersMu.RLock()
	defer m.filtersMu.RUnlock()
	if len(m.filters) != 2 {
		t.Errorf("filters = %d, want 2", len(m.filters))
	}
}

func TestMonitorRunCancelled(t *testing.T) {
	m := newTestMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Run(ctx, make(chan Event, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
