//go:build linux

package v4l2

import "unsafe"

// Structures whose layout does not depend on pointer or time_t size.

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32    // offset 0
	typ         uint32    // offset 4
	flags       uint32    // offset 8
	description [32]byte  // offset 12
	pixelformat uint32    // offset 44
	mbusCode    uint32    // offset 48
	reserved    [3]uint32 // offset 52
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32 // offset 0
	height       uint32 // offset 4
	pixelformat  uint32 // offset 8
	field        uint32 // offset 12
	bytesperline uint32 // offset 16
	sizeimage    uint32 // offset 20
	colorspace   uint32 // offset 24
	priv         uint32 // offset 28
	flags        uint32 // offset 32
	ycbcrEnc     uint32 // offset 36
	quantization uint32 // offset 40
	xferFunc     uint32 // offset 44
}

// v4l2PlanePixFormat has size 20 bytes.
type v4l2PlanePixFormat struct {
	sizeimage    uint32    // offset 0
	bytesperline uint32    // offset 4
	reserved     [6]uint16 // offset 8
}

// v4l2PixFormatMplane has size 192 bytes (packed in the kernel header).
type v4l2PixFormatMplane struct {
	width        uint32                        // offset 0
	height       uint32                        // offset 4
	pixelformat  uint32                        // offset 8
	field        uint32                        // offset 12
	colorspace   uint32                        // offset 16
	planeFmt     [MaxPlanes]v4l2PlanePixFormat // offset 20
	numPlanes    uint8                         // offset 180
	flags        uint8                         // offset 181
	ycbcrEnc     uint8                         // offset 182
	quantization uint8                         // offset 183
	xferFunc     uint8                         // offset 184
	reserved     [7]uint8                      // offset 185
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32   // offset 0
	typ          uint32   // offset 4
	memory       uint32   // offset 8
	capabilities uint32   // offset 12
	flags        uint8    // offset 16
	reserved     [3]uint8 // offset 17
}

// v4l2Timecode has size 16 bytes.
type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2ExportBuffer has size 64 bytes.
type v4l2ExportBuffer struct {
	typ      uint32     // offset 0
	index    uint32     // offset 4
	plane    uint32     // offset 8
	flags    uint32     // offset 12
	fd       int32      // offset 16
	reserved [11]uint32 // offset 20
}

// v4l2Fract has size 8 bytes.
type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2BTTimings has size 124 bytes. The kernel struct is packed, so the
// 64-bit pixelclock sits at a 4-byte boundary inside v4l2DVTimings and is
// split into two words here.
type v4l2BTTimings struct {
	width         uint32    // offset 0
	height        uint32    // offset 4
	interlaced    uint32    // offset 8
	polarities    uint32    // offset 12
	pixelclockLo  uint32    // offset 16
	pixelclockHi  uint32    // offset 20
	hfrontporch   uint32    // offset 24
	hsync         uint32    // offset 28
	hbackporch    uint32    // offset 32
	vfrontporch   uint32    // offset 36
	vsync         uint32    // offset 40
	vbackporch    uint32    // offset 44
	ilVfrontporch uint32    // offset 48
	ilVsync       uint32    // offset 52
	ilVbackporch  uint32    // offset 56
	standards     uint32    // offset 60
	flags         uint32    // offset 64
	pictureAspect v4l2Fract // offset 68
	cea861Vic     uint8     // offset 76
	hdmiVic       uint8     // offset 77
	reserved      [46]byte  // offset 78 to 124
}

func (bt *v4l2BTTimings) pixelclock() uint64 {
	return uint64(bt.pixelclockLo) | uint64(bt.pixelclockHi)<<32
}

// v4l2DVTimings has size 132 bytes.
type v4l2DVTimings struct {
	typ uint32        // offset 0
	bt  v4l2BTTimings // offset 4
	_   [4]byte       // union padding to 132
}

// v4l2EventSubscription has size 32 bytes.
type v4l2EventSubscription struct {
	typ      uint32    // offset 0
	id       uint32    // offset 4
	flags    uint32    // offset 8
	reserved [5]uint32 // offset 12
}

// getSrcChangeChanges extracts the changes field from the event union.
func (e *v4l2Event) getSrcChangeChanges() uint32 {
	// The changes field is at the start of the union
	return uint32(e.u[0]) | uint32(e.u[1])<<8 | uint32(e.u[2])<<16 | uint32(e.u[3])<<24
}

func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.fmt[0]))
}

func (f *v4l2Format) pixMp() *v4l2PixFormatMplane {
	return (*v4l2PixFormatMplane)(unsafe.Pointer(&f.fmt[0]))
}
