//go:build linux

package v4l2

import "fmt"

// BufType identifies a V4L2 buffer queue (enum v4l2_buf_type).
type BufType uint32

// Buffer types.
const (
	BufTypeVideoCapture       BufType = 1
	BufTypeVideoOutput        BufType = 2
	BufTypeVideoCaptureMPlane BufType = 9
	BufTypeVideoOutputMPlane  BufType = 10
)

// MultiPlanar reports whether the buffer type uses the multi-planar API.
func (t BufType) MultiPlanar() bool {
	return t == BufTypeVideoCaptureMPlane || t == BufTypeVideoOutputMPlane
}

// Output reports whether buffers of this type flow from user space into the device.
func (t BufType) Output() bool {
	return t == BufTypeVideoOutput || t == BufTypeVideoOutputMPlane
}

func (t BufType) String() string {
	switch t {
	case BufTypeVideoCapture:
		return "V4L2_BUF_TYPE_VIDEO_CAPTURE"
	case BufTypeVideoOutput:
		return "V4L2_BUF_TYPE_VIDEO_OUTPUT"
	case BufTypeVideoCaptureMPlane:
		return "V4L2_BUF_TYPE_VIDEO_CAPTURE_MPLANE"
	case BufTypeVideoOutputMPlane:
		return "V4L2_BUF_TYPE_VIDEO_OUTPUT_MPLANE"
	default:
		return fmt.Sprintf("V4L2_BUF_TYPE(%d)", uint32(t))
	}
}

// Memory is the buffer memory discipline (enum v4l2_memory).
type Memory uint32

// Memory types.
const (
	MemoryMMAP    Memory = 1
	MemoryUserPtr Memory = 2
	MemoryOverlay Memory = 3
	MemoryDMABuf  Memory = 4
)

func (m Memory) String() string {
	switch m {
	case MemoryMMAP:
		return "V4L2_MEMORY_MMAP"
	case MemoryUserPtr:
		return "V4L2_MEMORY_USERPTR"
	case MemoryOverlay:
		return "V4L2_MEMORY_OVERLAY"
	case MemoryDMABuf:
		return "V4L2_MEMORY_DMABUF"
	default:
		return fmt.Sprintf("V4L2_MEMORY(%d)", uint32(m))
	}
}

// MaxPlanes is VIDEO_MAX_PLANES.
const MaxPlanes = 8

// Field orders.
const (
	FieldAny  = 0
	FieldNone = 1
)

// Pixel formats.
const (
	PixFmtRGB24 = 0x33424752 // 'RGB3'
	PixFmtBGR24 = 0x33524742 // 'BGR3'
	PixFmtBGR32 = 0x34524742 // 'BGR4'
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtUYVY  = 0x59565955 // 'UYVY'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtNV12  = 0x3231564E // 'NV12'
)

// Capability contains the result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capabilities of the opened node.
func (c Capability) Effective() uint32 {
	if c.Capabilities&capDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// VersionString formats the kernel version as major.minor.patch.
func (c Capability) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", byte(c.Version>>16), byte(c.Version>>8), byte(c.Version))
}

// Capability flags.
const (
	CapVideoCapture       = 0x00000001
	CapVideoOutput        = 0x00000002
	CapVideoCaptureMPlane = 0x00001000
	CapVideoOutputMPlane  = 0x00002000
	CapVideoM2MMPlane     = 0x00004000
	CapStreaming          = 0x04000000
	capDeviceCaps         = 0x80000000
)

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	Index       uint32
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// PlaneFormat describes one plane of a multi-planar format.
type PlaneFormat struct {
	SizeImage    uint32
	BytesPerLine uint32
}

// PixFormat is the subset of v4l2_pix_format / v4l2_pix_format_mplane the
// streaming path negotiates. Planes is only filled for multi-planar types.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Planes       []PlaneFormat
}

// DVTimings contains BT.656/1120 digital video timings.
type DVTimings struct {
	Width       uint32
	Height      uint32
	Interlaced  bool
	PixelClock  uint64
	HFrontPorch uint32
	HSync       uint32
	HBackPorch  uint32
	VFrontPorch uint32
	VSync       uint32
	VBackPorch  uint32

	raw v4l2DVTimings
}

// FPS returns the frame rate derived from the timings.
func (t DVTimings) FPS() float64 {
	return calculateFPS(&t.raw.bt)
}

// PlaneInfo describes one plane of an allocated buffer.
type PlaneInfo struct {
	Length    uint32
	MemOffset uint32
}

// BufferInfo is the result of VIDIOC_QUERYBUF.
type BufferInfo struct {
	Index  uint32
	Length uint32
	Offset uint32
	Planes []PlaneInfo
}

// PlaneRequest carries the per-plane fields of a VIDIOC_QBUF request.
// FD is only used for MemoryDMABuf queues.
type PlaneRequest struct {
	FD        int
	BytesUsed uint32
	Length    uint32
}

// QueueRequest describes one VIDIOC_QBUF call.
type QueueRequest struct {
	Type   BufType
	Memory Memory
	Index  uint32
	Planes []PlaneRequest
}

// Format flags.
const (
	fmtFlagEmulated = 0x0002
)

// Event types.
const (
	eventSourceChange = 5
)
