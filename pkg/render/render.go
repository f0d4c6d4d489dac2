// Package render drives graphics devices. Each backend exposes the same
// contract: a premultiplied-ARGB32 shadow buffer, dirty-rectangle
// accounting, and a flush that converts shadow pixels into the device
// pixel layout.
package render

import (
	"encoding/binary"
	"fmt"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
)

// Backend names a renderer implementation.
type Backend string

const (
	// BackendAuto lets Open pick DRM when available, then framebuffer.
	BackendAuto Backend = "auto"
	// BackendFramebuffer maps /dev/fbN directly.
	BackendFramebuffer Backend = "framebuffer"
	// BackendDRM drives a modesetting node with a dumb buffer.
	BackendDRM Backend = "drm"
)

// PixelLayout describes how the device packs a pixel: per-channel bit
// offsets and widths, the pixel size, and the device row stride in bytes.
// Stride is taken from the device's reported line length, which may exceed
// width*BytesPerPixel on devices that pad rows.
type PixelLayout struct {
	RedOffset   uint32
	RedBits     uint32
	GreenOffset uint32
	GreenBits   uint32
	BlueOffset  uint32
	BlueBits    uint32
	AlphaOffset uint32
	AlphaBits   uint32

	BytesPerPixel int
	Stride        int
}

// XRGB8888 is the layout DRM dumb buffers use.
func XRGB8888(stride int) PixelLayout {
	return PixelLayout{
		RedOffset: 16, RedBits: 8,
		GreenOffset: 8, GreenBits: 8,
		BlueOffset: 0, BlueBits: 8,
		AlphaOffset: 24, AlphaBits: 0,
		BytesPerPixel: 4,
		Stride:        stride,
	}
}

// DevicePixel converts a premultiplied ARGB32 value into the device
// layout: each 8-bit channel is right-shifted by (8 - channel width) and
// placed at the channel's bit offset.
func (l PixelLayout) DevicePixel(argb uint32) uint32 {
	var a uint32
	if l.AlphaBits > 0 {
		a = (argb >> 24) >> (8 - l.AlphaBits)
	}
	r := ((argb >> 16) & 0xff) >> (8 - l.RedBits)
	g := ((argb >> 8) & 0xff) >> (8 - l.GreenBits)
	b := (argb & 0xff) >> (8 - l.BlueBits)
	return a<<l.AlphaOffset | r<<l.RedOffset | g<<l.GreenOffset | b<<l.BlueOffset
}

// Renderer is the capability contract shared by all backends.
type Renderer interface {
	// Open probes the device, maps its memory, and allocates the shadow
	// buffer. A failed probe leaves the device closed and reports the
	// original probe error.
	Open() error
	// Close unmaps and forgets the device geometry.
	Close() error
	// IsOpen reports whether the device is mapped.
	IsOpen() bool
	// DeviceName returns the device node path backing the renderer.
	DeviceName() string
	// Size returns the full device area.
	Size() pixel.Rectangle
	// Shadow returns the drawing surface; the shadow is the source of
	// truth for pixel values.
	Shadow() *pixel.Buffer
	// AddAreaToFlush grows the pending dirty rectangle to enclose area.
	AddAreaToFlush(area pixel.Rectangle)
	// Flush converts the dirty region to the device layout and writes it
	// to device memory, then resets the dirty region. A no-op while
	// paused.
	Flush() error
	// PauseUpdates suppresses flushes; dirty regions keep accumulating.
	PauseUpdates()
	// UnpauseUpdates re-enables flushing and issues one flush.
	UnpauseUpdates() error
}

// surface implements the open-state half of a Renderer. Backends embed it
// and fill in device probing.
type surface struct {
	deviceName string
	layout     PixelLayout
	area       pixel.Rectangle
	mapped     []byte
	shadow     *pixel.Buffer
	dirty      pixel.Rectangle
	paused     bool
}

func (s *surface) DeviceName() string    { return s.deviceName }
func (s *surface) Size() pixel.Rectangle { return s.area }
func (s *surface) Shadow() *pixel.Buffer { return s.shadow }
func (s *surface) IsOpen() bool          { return s.mapped != nil }

func (s *surface) AddAreaToFlush(area pixel.Rectangle) {
	area = area.Intersect(s.area)
	if area.Empty() {
		return
	}
	s.dirty = s.dirty.Union(area)
}

func (s *surface) PauseUpdates() { s.paused = true }

func (s *surface) UnpauseUpdates() error {
	s.paused = false
	return s.Flush()
}

func (s *surface) Flush() error {
	if s.paused {
		return nil
	}
	if s.mapped == nil {
		return fmt.Errorf("%s: flush on closed device", s.deviceName)
	}
	if s.dirty.Empty() {
		return nil
	}
	pixels := s.shadow.Pixels()
	width := s.shadow.Width()
	var scratch [8]byte
	for row := s.dirty.Y; row < s.dirty.Y+s.dirty.Height; row++ {
		for col := s.dirty.X; col < s.dirty.X+s.dirty.Width; col++ {
			value := s.layout.DevicePixel(pixels[row*width+col])
			offset := row*s.layout.Stride + col*s.layout.BytesPerPixel
			if offset+s.layout.BytesPerPixel > len(s.mapped) {
				continue
			}
			binary.LittleEndian.PutUint64(scratch[:], uint64(value))
			copy(s.mapped[offset:offset+s.layout.BytesPerPixel], scratch[:s.layout.BytesPerPixel])
		}
	}
	s.dirty = pixel.Rectangle{}
	return nil
}

// reset clears all open-state after a close.
func (s *surface) reset() {
	s.mapped = nil
	s.shadow = nil
	s.area = pixel.Rectangle{}
	s.dirty = pixel.Rectangle{}
	s.layout = PixelLayout{}
}
