//go:build linux

package render

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
)

// defaultFramebufferDevice is used when no device path is given and the
// FRAMEBUFFER environment variable is unset.
const defaultFramebufferDevice = "/dev/fb0"

// Framebuffer renders through a memory-mapped /dev/fbN node.
type Framebuffer struct {
	surface
	fd int
}

// NewFramebuffer creates a closed framebuffer renderer for deviceName.
// An empty name falls back to $FRAMEBUFFER, then /dev/fb0.
func NewFramebuffer(deviceName string) *Framebuffer {
	if deviceName == "" {
		deviceName = os.Getenv("FRAMEBUFFER")
	}
	if deviceName == "" {
		deviceName = defaultFramebufferDevice
	}
	return &Framebuffer{surface: surface{deviceName: deviceName}, fd: -1}
}

// Open probes the device geometry and pixel layout, maps the device memory
// shared read/write, and allocates a zeroed shadow buffer. On any failure
// the device is closed again and the probe error is returned unchanged.
func (f *Framebuffer) Open() error {
	fd, err := unix.Open(f.deviceName, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.deviceName, err)
	}
	f.fd = fd

	layout, area, mapSize, err := f.queryDevice()
	if err != nil {
		f.closeDevice()
		return err
	}

	mapped, err := unix.Mmap(f.fd, 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.closeDevice()
		return fmt.Errorf("map %s: %w", f.deviceName, err)
	}

	f.layout = layout
	f.area = area
	f.mapped = mapped
	f.shadow = pixel.NewBuffer(area.Width, area.Height)
	f.dirty = pixel.Rectangle{}
	return nil
}

// queryDevice reads the variable and fixed screen info. The device is left
// untouched on failure.
func (f *Framebuffer) queryDevice() (PixelLayout, pixel.Rectangle, int, error) {
	var vinfo unix.FbVarScreeninfo
	if err := ioctlPointer(f.fd, unix.FBIOGET_VSCREENINFO, unsafe.Pointer(&vinfo)); err != nil {
		return PixelLayout{}, pixel.Rectangle{}, 0, fmt.Errorf("query %s geometry: %w", f.deviceName, err)
	}
	var finfo unix.FbFixScreeninfo
	if err := ioctlPointer(f.fd, unix.FBIOGET_FSCREENINFO, unsafe.Pointer(&finfo)); err != nil {
		return PixelLayout{}, pixel.Rectangle{}, 0, fmt.Errorf("query %s fixed info: %w", f.deviceName, err)
	}

	// The row stride comes from the reported line length; bytes per pixel
	// from the pixel depth. Padded rows make these disagree, so they are
	// tracked separately.
	layout := PixelLayout{
		RedOffset:   vinfo.Red.Offset,
		RedBits:     vinfo.Red.Length,
		GreenOffset: vinfo.Green.Offset,
		GreenBits:   vinfo.Green.Length,
		BlueOffset:  vinfo.Blue.Offset,
		BlueBits:    vinfo.Blue.Length,
		AlphaOffset: vinfo.Transp.Offset,
		AlphaBits:   vinfo.Transp.Length,

		BytesPerPixel: int(vinfo.Bits_per_pixel) / 8,
		Stride:        int(finfo.Line_length),
	}
	if layout.BytesPerPixel <= 0 || layout.BytesPerPixel > 4 {
		return PixelLayout{}, pixel.Rectangle{}, 0, fmt.Errorf("%s: unsupported depth %d bpp", f.deviceName, vinfo.Bits_per_pixel)
	}
	area := pixel.Rect(0, 0, int(vinfo.Xres), int(vinfo.Yres))
	return layout, area, int(finfo.Smem_len), nil
}

// Close unmaps and closes the device, forgetting its geometry.
func (f *Framebuffer) Close() error {
	if f.mapped != nil {
		if err := unix.Munmap(f.mapped); err != nil {
			f.reset()
			f.closeDevice()
			return fmt.Errorf("unmap %s: %w", f.deviceName, err)
		}
	}
	f.reset()
	f.closeDevice()
	return nil
}

func (f *Framebuffer) closeDevice() {
	if f.fd >= 0 {
		unix.Close(f.fd)
		f.fd = -1
	}
}

func ioctlPointer(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Open constructs and opens a renderer for devicePath using the requested
// backend. BackendAuto tries DRM first and falls back to the framebuffer.
func Open(devicePath string, backend Backend) (Renderer, error) {
	switch backend {
	case BackendFramebuffer:
		r := NewFramebuffer(devicePath)
		return r, r.Open()
	case BackendDRM:
		r := NewDRM(devicePath)
		return r, r.Open()
	default:
		drm := NewDRM("")
		if err := drm.Open(); err == nil {
			return drm, nil
		}
		fb := NewFramebuffer(devicePath)
		return fb, fb.Open()
	}
}
