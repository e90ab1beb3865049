//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Formats enumerates the pixel formats a queue supports.
func (d *Device) Formats(typ BufType) ([]FormatInfo, error) {
	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := v4l2Fmtdesc{
			index: i,
			typ:   uint32(typ),
		}

		if ioctlErr := ioctl(d.fd, vidiocEnumFmt, unsafe.Pointer(&fmtdesc)); ioctlErr != nil {
			if errors.Is(ioctlErr, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, ioctlErr)
		}

		formats = append(formats, FormatInfo{
			Index:       fmtdesc.index,
			PixelFormat: fmtdesc.pixelformat,
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&fmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

// GetFormat reads the current format of a queue (VIDIOC_G_FMT).
func (d *Device) GetFormat(typ BufType) (PixFormat, error) {
	f := v4l2Format{typ: uint32(typ)}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return decodeFormat(typ, &f), nil
}

// SetFormat applies width, height, pixel format and field on top of the
// queue's current format (VIDIOC_G_FMT then VIDIOC_S_FMT) and returns what
// the driver wrote back. Drivers may clamp any of the values.
func (d *Device) SetFormat(typ BufType, want PixFormat) (PixFormat, error) {
	f := v4l2Format{typ: uint32(typ)}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}

	if typ.MultiPlanar() {
		mp := f.pixMp()
		mp.width = want.Width
		mp.height = want.Height
		mp.pixelformat = want.PixelFormat
		mp.field = want.Field
	} else {
		pix := f.pix()
		pix.width = want.Width
		pix.height = want.Height
		pix.pixelformat = want.PixelFormat
		pix.field = want.Field
	}

	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}
	return decodeFormat(typ, &f), nil
}

func decodeFormat(typ BufType, f *v4l2Format) PixFormat {
	if !typ.MultiPlanar() {
		pix := f.pix()
		return PixFormat{
			Width:        pix.width,
			Height:       pix.height,
			PixelFormat:  pix.pixelformat,
			Field:        pix.field,
			BytesPerLine: pix.bytesperline,
			SizeImage:    pix.sizeimage,
		}
	}

	mp := f.pixMp()
	out := PixFormat{
		Width:       mp.width,
		Height:      mp.height,
		PixelFormat: mp.pixelformat,
		Field:       mp.field,
	}
	n := int(mp.numPlanes)
	if n > MaxPlanes {
		n = MaxPlanes
	}
	for i := 0; i < n; i++ {
		out.Planes = append(out.Planes, PlaneFormat{
			SizeImage:    mp.planeFmt[i].sizeimage,
			BytesPerLine: mp.planeFmt[i].bytesperline,
		})
	}
	if n > 0 {
		out.BytesPerLine = out.Planes[0].BytesPerLine
		out.SizeImage = out.Planes[0].SizeImage
	}
	return out
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}
