// Package consumer turns exported ISP output buffers into display-side
// images and presents the slot the pipeline marks ready on each tick.
package consumer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/isppipe/internal/pipeline"
)

// EGL_EXT_image_dma_buf_import attribute names.
const (
	eglHeight            = 0x3056
	eglWidth             = 0x3057
	eglNone              = 0x3038
	eglLinuxDRMFourcc    = 0x3271
	eglDMABufPlane0FD    = 0x3272
	eglDMABufPlane0Off   = 0x3273
	eglDMABufPlane0Pitch = 0x3274
)

// Image describes one ISP output buffer as a single-plane DMA-buf image.
// It borrows the descriptor; the pipeline keeps ownership.
type Image struct {
	Slot   pipeline.SlotIndex
	FD     int
	Width  uint32
	Height uint32
	Pitch  uint32
	Fourcc pipeline.PixelLayout

	factory  *Factory
	released bool
}

// EGLAttributes returns the attribute list for eglCreateImageKHR with the
// EGL_LINUX_DMA_BUF_EXT target, terminated by EGL_NONE.
func (img *Image) EGLAttributes() []int32 {
	return []int32{
		eglWidth, int32(img.Width),
		eglHeight, int32(img.Height),
		eglLinuxDRMFourcc, int32(img.Fourcc),
		eglDMABufPlane0FD, int32(img.FD),
		eglDMABufPlane0Off, 0,
		eglDMABufPlane0Pitch, int32(img.Pitch),
		eglNone,
	}
}

// Release drops the image. Releasing twice is a no-op.
func (img *Image) Release() error {
	if img.released {
		return nil
	}
	img.released = true
	if img.factory != nil {
		img.factory.forget(img)
	}
	return nil
}

// Factory creates Images for the pipeline.
type Factory struct {
	logger *slog.Logger

	mu   sync.Mutex
	live map[pipeline.SlotIndex]*Image
}

var _ pipeline.ResourceFactory = (*Factory)(nil)

// NewFactory creates an image factory.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		logger: logger,
		live:   make(map[pipeline.SlotIndex]*Image),
	}
}

// CreateResource builds the image for one ISP output slot.
func (f *Factory) CreateResource(slot pipeline.SlotIndex, desc pipeline.SharedDescriptor, format pipeline.Format, layout pipeline.PixelLayout) (pipeline.Resource, error) {
	if !desc.Valid() {
		return nil, errors.New("no descriptor")
	}
	if format.Geometry.Width == 0 || format.Geometry.Height == 0 {
		return nil, fmt.Errorf("invalid geometry %s", format.Geometry)
	}

	pitch := format.BytesPerLine
	if pitch == 0 {
		pitch = format.Geometry.Width * 4
	}

	img := &Image{
		Slot:    slot,
		FD:      desc.FD(),
		Width:   format.Geometry.Width,
		Height:  format.Geometry.Height,
		Pitch:   pitch,
		Fourcc:  layout,
		factory: f,
	}

	f.mu.Lock()
	f.live[slot] = img
	f.mu.Unlock()

	f.logger.Debug("Created DMA-buf image",
		"slot", slot, "fd", img.FD, "geometry", format.Geometry,
		"pitch", pitch, "fourcc", layout.String())
	return img, nil
}

// Image returns the live image of slot, or nil.
func (f *Factory) Image(slot pipeline.SlotIndex) *Image {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[slot]
}

// Live returns the number of unreleased images.
func (f *Factory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *Factory) forget(img *Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[img.Slot] == img {
		delete(f.live, img.Slot)
	}
}
