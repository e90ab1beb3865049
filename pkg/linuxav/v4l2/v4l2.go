//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for the streaming I/O path: capability and DV timing queries, format
// negotiation, buffer allocation, DMA-buf export/import and queueing.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Opening a Device
//
// A Device wraps one open file descriptor. Memory-to-memory devices such as
// an ISP expose two queues (output and capture) on the same descriptor:
//
//	dev, err := v4l2.Open("/dev/video0")
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
// # Format Negotiation
//
// Drivers may adjust any requested value, so re-read the format after
// setting it:
//
//	f, _ := dev.GetFormat(v4l2.BufTypeVideoCapture)
//	f.Width, f.Height, f.PixelFormat = 1280, 720, v4l2.PixFmtRGB24
//	_, _ = dev.SetFormat(v4l2.BufTypeVideoCapture, f)
//	f, _ = dev.GetFormat(v4l2.BufTypeVideoCapture)
//
// # Zero-Copy Buffers
//
// Buffers allocated with MemoryMMAP can be exported as DMA-buf descriptors
// and queued on another queue that was set up with MemoryDMABuf:
//
//	n, _ := capture.RequestBuffers(v4l2.BufTypeVideoCapture, v4l2.MemoryMMAP, 4)
//	for i := uint32(0); i < n; i++ {
//	    fd, _ := capture.ExportBuffer(v4l2.BufTypeVideoCapture, i, 0)
//	    _ = isp.QueueBuffer(v4l2.QueueRequest{
//	        Type:   v4l2.BufTypeVideoOutputMPlane,
//	        Memory: v4l2.MemoryDMABuf,
//	        Index:  i,
//	        Planes: []v4l2.PlaneRequest{{FD: fd}},
//	    })
//	}
//
// # Source Change Events
//
// Wait for source change events (e.g., resolution change on HDMI):
//
//	changes, err := dev.WaitForSourceChange(5000) // 5 second timeout
//	if err == nil && changes > 0 {
//	    // Resolution or signal changed
//	}
package v4l2
