//go:build linux

package v4l2

import (
	"errors"
	"math"
	"syscall"
	"testing"
)

// TestSignalStateFromError verifies errno classification of DV timings failures.
// errors.Is must see through the raw syscall.Errno returned by ioctl.
func TestSignalStateFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected SignalState
	}{
		{"nil is locked", nil, SignalStateLocked},
		{"ENOLINK is no link", syscall.ENOLINK, SignalStateNoLink},
		{"ENOLCK is unstable", syscall.ENOLCK, SignalStateUnstable},
		{"ERANGE is out of range", syscall.ERANGE, SignalStateOutOfRange},
		{"ENOTTY is not supported", syscall.ENOTTY, SignalStateNotSupported},
		{"EINVAL falls back to no signal", syscall.EINVAL, SignalStateNoSignal},
		{"wrapped ENOLINK", errors.Join(errors.New("query"), syscall.ENOLINK), SignalStateNoLink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SignalStateFromError(tt.err); got != tt.expected {
				t.Errorf("SignalStateFromError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestFormatFourCC(t *testing.T) {
	tests := []struct {
		name     string
		format   uint32
		expected string
	}{
		{name: "RGB24 format", format: PixFmtRGB24, expected: "RGB3"},
		{name: "BGR32 format", format: PixFmtBGR32, expected: "BGR4"},
		{name: "YUYV format", format: PixFmtYUYV, expected: "YUYV"},
		{name: "UYVY format", format: PixFmtUYVY, expected: "UYVY"},
		{name: "MJPEG format", format: PixFmtMJPEG, expected: "MJPG"},
		{name: "NV12 format", format: PixFmtNV12, expected: "NV12"},
		{name: "null bytes", format: 0x00000000, expected: "\x00\x00\x00\x00"},
		{name: "mixed bytes", format: 0x01020304, expected: "\x04\x03\x02\x01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatFourCC(tt.format)
			if result != tt.expected {
				t.Errorf("FormatFourCC(0x%08X) = %q, want %q", tt.format, result, tt.expected)
			}
		})
	}
}

func TestBufTypeProperties(t *testing.T) {
	tests := []struct {
		typ         BufType
		multiPlanar bool
		output      bool
		name        string
	}{
		{BufTypeVideoCapture, false, false, "V4L2_BUF_TYPE_VIDEO_CAPTURE"},
		{BufTypeVideoOutput, false, true, "V4L2_BUF_TYPE_VIDEO_OUTPUT"},
		{BufTypeVideoCaptureMPlane, true, false, "V4L2_BUF_TYPE_VIDEO_CAPTURE_MPLANE"},
		{BufTypeVideoOutputMPlane, true, true, "V4L2_BUF_TYPE_VIDEO_OUTPUT_MPLANE"},
		{BufType(42), false, false, "V4L2_BUF_TYPE(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.MultiPlanar(); got != tt.multiPlanar {
				t.Errorf("MultiPlanar() = %v, want %v", got, tt.multiPlanar)
			}
			if got := tt.typ.Output(); got != tt.output {
				t.Errorf("Output() = %v, want %v", got, tt.output)
			}
			if got := tt.typ.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestDecodeFormatMultiPlanar(t *testing.T) {
	f := v4l2Format{typ: uint32(BufTypeVideoCaptureMPlane)}
	mp := f.pixMp()
	mp.width = 1280
	mp.height = 720
	mp.pixelformat = PixFmtBGR32
	mp.field = FieldNone
	mp.numPlanes = 1
	mp.planeFmt[0].bytesperline = 5120
	mp.planeFmt[0].sizeimage = 5120 * 720

	got := decodeFormat(BufTypeVideoCaptureMPlane, &f)
	if got.Width != 1280 || got.Height != 720 {
		t.Errorf("got %dx%d, want 1280x720", got.Width, got.Height)
	}
	if got.PixelFormat != PixFmtBGR32 {
		t.Errorf("got pixel format %s, want BGR4", FormatFourCC(got.PixelFormat))
	}
	if len(got.Planes) != 1 {
		t.Fatalf("got %d planes, want 1", len(got.Planes))
	}
	if got.SizeImage != 5120*720 || got.BytesPerLine != 5120 {
		t.Errorf("got sizeimage=%d bytesperline=%d, want %d/%d", got.SizeImage, got.BytesPerLine, 5120*720, 5120)
	}
}

func TestDecodeFormatSinglePlanar(t *testing.T) {
	f := v4l2Format{typ: uint32(BufTypeVideoCapture)}
	pix := f.pix()
	pix.width = 1920
	pix.height = 1080
	pix.pixelformat = PixFmtRGB24
	pix.bytesperline = 5760
	pix.sizeimage = 5760 * 1080

	got := decodeFormat(BufTypeVideoCapture, &f)
	if got.Width != 1920 || got.Height != 1080 || got.PixelFormat != PixFmtRGB24 {
		t.Errorf("got %+v, want 1920x1080 RGB3", got)
	}
	if got.Planes != nil {
		t.Errorf("single-planar format should not report planes, got %v", got.Planes)
	}
}

func TestPixelclockSplit(t *testing.T) {
	bt := v4l2BTTimings{pixelclockLo: 0x00000001, pixelclockHi: 0x00000002}
	if got, want := bt.pixelclock(), uint64(0x0000000200000001); got != want {
		t.Errorf("pixelclock() = %#x, want %#x", got, want)
	}
}

func TestCalculateFPS(t *testing.T) {
	tests := []struct {
		name        string
		bt          v4l2BTTimings
		expectedFPS float64
		tolerance   float64
	}{
		{
			name: "1920x1080p60",
			bt: v4l2BTTimings{
				width:        1920,
				height:       1080,
				pixelclockLo: 148500000, // 148.5 MHz
				hfrontporch:  88,
				hsync:        44,
				hbackporch:   148,
				vfrontporch:  4,
				vsync:        5,
				vbackporch:   36,
			},
			expectedFPS: 60.0,
			tolerance:   0.01,
		},
		{
			name: "1280x720p60",
			bt: v4l2BTTimings{
				width:        1280,
				height:       720,
				pixelclockLo: 74250000, // 74.25 MHz
				hfrontporch:  110,
				hsync:        40,
				hbackporch:   220,
				vfrontporch:  5,
				vsync:        5,
				vbackporch:   20,
			},
			expectedFPS: 60.0,
			tolerance:   0.01,
		},
		{
			name: "1920x1080i60 (interlaced)",
			bt: v4l2BTTimings{
				width:        1920,
				height:       1080,
				pixelclockLo: 74250000,
				hfrontporch:  88,
				hsync:        44,
				hbackporch:   148,
				vfrontporch:  2,
				vsync:        5,
				vbackporch:   15,
				interlaced:   1,
			},
			// 74250000 / (2200 * 551)
			expectedFPS: 61.25,
			tolerance:   0.01,
		},
		{
			name:        "zero pixelclock",
			bt:          v4l2BTTimings{width: 1920, height: 1080},
			expectedFPS: 0.0,
		},
		{
			name:        "empty timings",
			bt:          v4l2BTTimings{},
			expectedFPS: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := calculateFPS(&tt.bt)
			if math.Abs(result-tt.expectedFPS) > tt.tolerance {
				t.Errorf("calculateFPS(%+v) = %f, want %f (tolerance %f)",
					tt.bt, result, tt.expectedFPS, tt.tolerance)
			}
		})
	}
}

func TestCapabilityEffective(t *testing.T) {
	c := Capability{Capabilities: capDeviceCaps | CapVideoCapture | CapVideoM2MMPlane, DeviceCaps: CapVideoM2MMPlane}
	if got := c.Effective(); got != CapVideoM2MMPlane {
		t.Errorf("Effective() = %#x, want device caps %#x", got, CapVideoM2MMPlane)
	}

	c = Capability{Capabilities: CapVideoCapture}
	if got := c.Effective(); got != CapVideoCapture {
		t.Errorf("Effective() = %#x, want %#x", got, CapVideoCapture)
	}
}

func TestCloseIdempotent(t *testing.T) {
	d := &Device{fd: -1}
	if err := d.Close(); err != nil {
		t.Errorf("Close on closed device returned %v", err)
	}
}
