//go:build linux

package v4l2

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RequestBuffers allocates count buffers on a queue (VIDIOC_REQBUFS) and
// returns the number the driver actually granted. A count of zero frees
// the queue's buffers.
func (d *Device) RequestBuffers(typ BufType, mem Memory, count uint32) (uint32, error) {
	req := v4l2RequestBuffers{
		count:  count,
		typ:    uint32(typ),
		memory: uint32(mem),
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.count, nil
}

// QueryBuffer reads the layout of one allocated buffer (VIDIOC_QUERYBUF).
func (d *Device) QueryBuffer(typ BufType, mem Memory, index uint32) (BufferInfo, error) {
	buf := v4l2Buffer{
		index:  index,
		typ:    uint32(typ),
		memory: uint32(mem),
	}
	if typ.MultiPlanar() {
		*d.planes = [MaxPlanes]v4l2Plane{}
		buf.length = MaxPlanes
		buf.setPlanes(d.planes)
	}

	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return BufferInfo{}, err
	}

	info := BufferInfo{Index: buf.index}
	if !typ.MultiPlanar() {
		info.Length = buf.length
		info.Offset = buf.offset()
		return info, nil
	}

	n := int(buf.length)
	if n > MaxPlanes {
		n = MaxPlanes
	}
	for i := 0; i < n; i++ {
		info.Planes = append(info.Planes, PlaneInfo{
			Length:    d.planes[i].length,
			MemOffset: d.planes[i].memOffset(),
		})
	}
	if n > 0 {
		info.Length = info.Planes[0].Length
	}
	return info, nil
}

// ExportBuffer exports one plane of an MMAP buffer as a DMA-buf file
// descriptor (VIDIOC_EXPBUF). The caller owns the returned descriptor.
func (d *Device) ExportBuffer(typ BufType, index, plane uint32) (int, error) {
	exp := v4l2ExportBuffer{
		typ:   uint32(typ),
		index: index,
		plane: plane,
		flags: unix.O_CLOEXEC | unix.O_RDWR,
	}
	if err := ioctl(d.fd, vidiocExpbuf, unsafe.Pointer(&exp)); err != nil {
		return -1, err
	}
	return int(exp.fd), nil
}

// QueueBuffer hands a buffer to the driver (VIDIOC_QBUF).
func (d *Device) QueueBuffer(req QueueRequest) error {
	if len(req.Planes) > MaxPlanes {
		return fmt.Errorf("%d planes exceeds maximum of %d", len(req.Planes), MaxPlanes)
	}

	buf := v4l2Buffer{
		index:  req.Index,
		typ:    uint32(req.Type),
		memory: uint32(req.Memory),
	}

	if req.Type.MultiPlanar() {
		*d.planes = [MaxPlanes]v4l2Plane{}
		for i, p := range req.Planes {
			d.planes[i].bytesused = p.BytesUsed
			d.planes[i].length = p.Length
			if req.Memory == MemoryDMABuf {
				d.planes[i].setFD(p.FD)
			}
		}
		n := len(req.Planes)
		if n == 0 {
			n = MaxPlanes
		}
		buf.length = uint32(n)
		buf.setPlanes(d.planes)
	} else if len(req.Planes) > 0 {
		buf.bytesused = req.Planes[0].BytesUsed
		buf.length = req.Planes[0].Length
		if req.Memory == MemoryDMABuf {
			buf.setFD(req.Planes[0].FD)
		}
	}

	return ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf))
}

// DequeueBuffer blocks until the driver returns a completed buffer
// (VIDIOC_DQBUF) and reports its index.
func (d *Device) DequeueBuffer(typ BufType, mem Memory) (uint32, error) {
	buf := v4l2Buffer{
		typ:    uint32(typ),
		memory: uint32(mem),
	}
	if typ.MultiPlanar() {
		*d.planes = [MaxPlanes]v4l2Plane{}
		buf.length = MaxPlanes
		buf.setPlanes(d.planes)
	}

	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		return 0, err
	}
	return buf.index, nil
}

// StreamOn starts streaming on a queue (VIDIOC_STREAMON).
func (d *Device) StreamOn(typ BufType) error {
	t := uint32(typ)
	return ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&t))
}

// StreamOff stops streaming on a queue and returns every buffer to user
// space (VIDIOC_STREAMOFF).
func (d *Device) StreamOff(typ BufType) error {
	t := uint32(typ)
	return ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&t))
}

// WaitReadable polls the device until a buffer can be dequeued without
// blocking. It returns false on timeout. A negative timeout waits forever.
func (d *Device) WaitReadable(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// CloseDescriptor closes a descriptor returned by ExportBuffer.
func CloseDescriptor(fd int) error {
	return close(fd)
}
