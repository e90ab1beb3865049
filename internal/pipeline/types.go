package pipeline

import "fmt"

// SlotIndex is a buffer position within a queue's ring, in [0, N).
type SlotIndex int

// Stage names.
const (
	StageCapture   = "capture"
	StageISPInput  = "isp-input"
	StageISPOutput = "isp-output"
)

// Direction is the data flow of a queue relative to user space.
type Direction int

// Directions.
const (
	// DirectionCapture queues produce filled buffers (device to user).
	DirectionCapture Direction = iota
	// DirectionOutput queues consume filled buffers (user to device).
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "capture"
}

// Memory is a queue's backing-memory discipline.
type Memory int

// Memory disciplines.
const (
	// MemoryMapped buffers are allocated by the driver and may be exported.
	MemoryMapped Memory = iota
	// MemoryImported buffers are supplied from outside as descriptors.
	MemoryImported
)

func (m Memory) String() string {
	if m == MemoryImported {
		return "imported"
	}
	return "mapped"
}

// QueueSpec identifies one queue on a device.
type QueueSpec struct {
	Name        string
	Direction   Direction
	Memory      Memory
	MultiPlanar bool
}

// Geometry is a frame size in pixels.
type Geometry struct {
	Width  uint32
	Height uint32
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// PixelLayout is a little-endian fourcc pixel format code.
type PixelLayout uint32

// Fourcc builds a PixelLayout from its four characters.
func Fourcc(a, b, c, d byte) PixelLayout {
	return PixelLayout(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

func (l PixelLayout) String() string {
	return string([]byte{byte(l), byte(l >> 8), byte(l >> 16), byte(l >> 24)})
}

// Layouts used by the fixed topology.
var (
	LayoutRGB24 = Fourcc('R', 'G', 'B', '3') // V4L2 24-bit RGB 8-8-8
	LayoutBGR32 = Fourcc('B', 'G', 'R', '4') // V4L2 32-bit BGRA/X 8-8-8-8
	// LayoutARGB8888 is the DRM format consumers import ISP output as.
	// The alpha channel is required for R on the import side.
	LayoutARGB8888 = Fourcc('A', 'R', '2', '4')
)

// Field order none (progressive).
const FieldNone = 1

// Format is the negotiated format of one queue.
type Format struct {
	Geometry     Geometry
	Layout       PixelLayout
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Identity is the driver identity reported by a device.
type Identity struct {
	Driver  string
	Card    string
	BusInfo string
}

// Timing is the detected signal timing of a capture source.
type Timing struct {
	Geometry   Geometry
	FPS        float64
	Interlaced bool

	// Native is the driver-specific payload, passed back unchanged to SetTiming.
	Native any
}

// FormatDesc is one entry of a queue's supported format list.
type FormatDesc struct {
	Index       uint32
	Layout      PixelLayout
	Description string
	Emulated    bool
}
