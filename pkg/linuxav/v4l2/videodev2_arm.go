//go:build linux && arm

package v4l2

import "unsafe"

// Compile-time struct size assertions for 32-bit ARM.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [192]byte = [unsafe.Sizeof(v4l2PixFormatMplane{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [60]byte  = [unsafe.Sizeof(v4l2Plane{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2ExportBuffer{})]byte{}
	_ [124]byte = [unsafe.Sizeof(v4l2BTTimings{})]byte{}
	_ [132]byte = [unsafe.Sizeof(v4l2DVTimings{})]byte{}
	_ [32]byte  = [unsafe.Sizeof(v4l2EventSubscription{})]byte{}
	_ [128]byte = [unsafe.Sizeof(v4l2Event{})]byte{}
)

// IOCTL constants for 32-bit ARM.
// v4l2_format, v4l2_buffer and v4l2_event shrink with 32-bit pointers and time_t.
const (
	vidiocQuerycap         = 0x80685600
	vidiocEnumFmt          = 0xc0405602
	vidiocGFmt             = 0xc0cc5604
	vidiocSFmt             = 0xc0cc5605
	vidiocReqbufs          = 0xc0145608
	vidiocQuerybuf         = 0xc0445609
	vidiocQbuf             = 0xc044560f
	vidiocExpbuf           = 0xc0405610
	vidiocDqbuf            = 0xc0445611
	vidiocStreamon         = 0x40045612
	vidiocStreamoff        = 0x40045613
	vidiocSDVTimings       = 0xc0845657
	vidiocGDVTimings       = 0xc0845658
	vidiocDqevent          = 0x80805659
	vidiocSubscribeEvent   = 0x4020565a
	vidiocUnsubscribeEvent = 0x4020565b
	vidiocQueryDVTimings   = 0x80845663
)

// v4l2Format - size 204 bytes
type v4l2Format struct {
	typ uint32
	fmt [200]byte
}

// v4l2Plane - size 60 bytes
type v4l2Plane struct {
	bytesused  uint32
	length     uint32
	m          uint32
	dataOffset uint32
	reserved   [11]uint32
}

// v4l2Buffer - size 68 bytes
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp [8]byte // struct timeval with 32-bit time_t
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	m         uint32
	length    uint32
	reserved2 uint32
	requestFD uint32
}

// v4l2Event - size 128 bytes
type v4l2Event struct {
	typ       uint32
	_         [4]byte
	u         [64]byte
	pending   uint32
	sequence  uint32
	timestamp [8]byte
	id        uint32
	reserved  [8]uint32
	_         [4]byte
}

func (p *v4l2Plane) setFD(fd int) {
	p.m = uint32(int32(fd))
}

func (p *v4l2Plane) memOffset() uint32 {
	return p.m
}

func (b *v4l2Buffer) setFD(fd int) {
	b.m = uint32(int32(fd))
}

func (b *v4l2Buffer) setPlanes(planes *[MaxPlanes]v4l2Plane) {
	b.m = uint32(uintptr(unsafe.Pointer(planes)))
}

func (b *v4l2Buffer) offset() uint32 {
	return b.m
}
