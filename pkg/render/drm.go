//go:build linux

package render

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/pixel"
)

// defaultDRMDevice is the first modesetting node.
const defaultDRMDevice = "/dev/dri/card0"

// drm ioctl plumbing. The kernel encodes the argument size into the
// request number, so each request is derived from the Go struct size.
const (
	drmIoctlBase = 'd'

	drmNrModeGetResources = 0xa0
	drmNrModeSetCRTC      = 0xa2
	drmNrModeGetEncoder   = 0xa6
	drmNrModeGetConnector = 0xa7
	drmNrModeAddFB        = 0xae
	drmNrModeCreateDumb   = 0xb2
	drmNrModeMapDumb      = 0xb3
	drmNrModeDestroyDumb  = 0xb4

	drmModeConnected = 1
)

func drmIOWR(nr, size uintptr) uint {
	return uint(3<<30 | size<<16 | drmIoctlBase<<8 | nr)
}

type drmModeCardRes struct {
	FbIDPtr         uint64
	CrtcIDPtr       uint64
	ConnectorIDPtr  uint64
	EncoderIDPtr    uint64
	CountFbs        uint32
	CountCrtcs      uint32
	CountConnectors uint32
	CountEncoders   uint32
	MinWidth        uint32
	MaxWidth        uint32
	MinHeight       uint32
	MaxHeight       uint32
}

type drmModeModeinfo struct {
	Clock      uint32
	Hdisplay   uint16
	HsyncStart uint16
	HsyncEnd   uint16
	Htotal     uint16
	Hskew      uint16
	Vdisplay   uint16
	VsyncStart uint16
	VsyncEnd   uint16
	Vtotal     uint16
	Vscan      uint16
	Vrefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

type drmModeGetConnector struct {
	EncodersPtr     uint64
	ModesPtr        uint64
	PropsPtr        uint64
	PropValuesPtr   uint64
	CountModes      uint32
	CountProps      uint32
	CountEncoders   uint32
	EncoderID       uint32
	ConnectorID     uint32
	ConnectorType   uint32
	ConnectorTypeID uint32
	Connection      uint32
	MmWidth         uint32
	MmHeight        uint32
	Subpixel        uint32
	Pad             uint32
}

type drmModeGetEncoder struct {
	EncoderID      uint32
	EncoderType    uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

type drmModeCrtc struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	CrtcID           uint32
	FbID             uint32
	X                uint32
	Y                uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             drmModeModeinfo
}

type drmModeCreateDumb struct {
	Height uint32
	Width  uint32
	Bpp    uint32
	Flags  uint32
	Handle uint32
	Pitch  uint32
	Size   uint64
}

type drmModeMapDumb struct {
	Handle uint32
	Pad    uint32
	Offset uint64
}

type drmModeFBCmd struct {
	FbID   uint32
	Width  uint32
	Height uint32
	Pitch  uint32
	Bpp    uint32
	Depth  uint32
	Handle uint32
}

// DRM renders through a dumb buffer attached to the first connected
// connector's preferred mode.
type DRM struct {
	surface
	fd         int
	dumbHandle uint32
	fbID       uint32
	crtcID     uint32
	connector  uint32
	mode       drmModeModeinfo
}

// NewDRM creates a closed DRM renderer for deviceName (default
// /dev/dri/card0).
func NewDRM(deviceName string) *DRM {
	if deviceName == "" {
		deviceName = defaultDRMDevice
	}
	return &DRM{surface: surface{deviceName: deviceName}, fd: -1}
}

// Open discovers a connected connector, creates an XRGB8888 dumb buffer
// sized to its preferred mode, maps it, and points the CRTC at it. Any
// failure tears the partial state down and leaves the device closed.
func (d *DRM) Open() error {
	fd, err := unix.Open(d.deviceName, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.deviceName, err)
	}
	d.fd = fd

	if err := d.pickMode(); err != nil {
		d.teardown()
		return err
	}
	if err := d.createScanout(); err != nil {
		d.teardown()
		return err
	}
	return nil
}

// pickMode walks connectors for the first one that is connected and has a
// mode list, keeping its first (preferred) mode and its encoder's CRTC.
func (d *DRM) pickMode() error {
	var res drmModeCardRes
	if err := d.ioctl(drmNrModeGetResources, unsafe.Pointer(&res), unsafe.Sizeof(res)); err != nil {
		return fmt.Errorf("%s: get resources: %w", d.deviceName, err)
	}
	if res.CountConnectors == 0 {
		return fmt.Errorf("%s: no connectors", d.deviceName)
	}
	connectors := make([]uint32, res.CountConnectors)
	crtcs := make([]uint32, max(int(res.CountCrtcs), 1))
	res.ConnectorIDPtr = uint64(uintptr(unsafe.Pointer(&connectors[0])))
	res.CrtcIDPtr = uint64(uintptr(unsafe.Pointer(&crtcs[0])))
	res.CountFbs = 0
	res.CountEncoders = 0
	if err := d.ioctl(drmNrModeGetResources, unsafe.Pointer(&res), unsafe.Sizeof(res)); err != nil {
		return fmt.Errorf("%s: enumerate connectors: %w", d.deviceName, err)
	}

	for _, id := range connectors {
		conn := drmModeGetConnector{ConnectorID: id}
		if err := d.ioctl(drmNrModeGetConnector, unsafe.Pointer(&conn), unsafe.Sizeof(conn)); err != nil {
			continue
		}
		if conn.Connection != drmModeConnected || conn.CountModes == 0 {
			continue
		}
		modes := make([]drmModeModeinfo, conn.CountModes)
		conn.ModesPtr = uint64(uintptr(unsafe.Pointer(&modes[0])))
		conn.CountProps = 0
		conn.CountEncoders = 0
		if err := d.ioctl(drmNrModeGetConnector, unsafe.Pointer(&conn), unsafe.Sizeof(conn)); err != nil {
			continue
		}

		crtc := uint32(0)
		if conn.EncoderID != 0 {
			enc := drmModeGetEncoder{EncoderID: conn.EncoderID}
			if err := d.ioctl(drmNrModeGetEncoder, unsafe.Pointer(&enc), unsafe.Sizeof(enc)); err == nil {
				crtc = enc.CrtcID
			}
		}
		if crtc == 0 && len(crtcs) > 0 {
			crtc = crtcs[0]
		}
		if crtc == 0 {
			continue
		}

		d.connector = id
		d.crtcID = crtc
		d.mode = modes[0]
		return nil
	}
	return fmt.Errorf("%s: no connected connector", d.deviceName)
}

func (d *DRM) createScanout() error {
	width := int(d.mode.Hdisplay)
	height := int(d.mode.Vdisplay)

	create := drmModeCreateDumb{
		Height: uint32(height),
		Width:  uint32(width),
		Bpp:    32,
	}
	if err := d.ioctl(drmNrModeCreateDumb, unsafe.Pointer(&create), unsafe.Sizeof(create)); err != nil {
		return fmt.Errorf("%s: create dumb buffer: %w", d.deviceName, err)
	}
	d.dumbHandle = create.Handle

	fb := drmModeFBCmd{
		Width:  create.Width,
		Height: create.Height,
		Pitch:  create.Pitch,
		Bpp:    32,
		Depth:  24,
		Handle: create.Handle,
	}
	if err := d.ioctl(drmNrModeAddFB, unsafe.Pointer(&fb), unsafe.Sizeof(fb)); err != nil {
		return fmt.Errorf("%s: add framebuffer: %w", d.deviceName, err)
	}
	d.fbID = fb.FbID

	mapReq := drmModeMapDumb{Handle: create.Handle}
	if err := d.ioctl(drmNrModeMapDumb, unsafe.Pointer(&mapReq), unsafe.Sizeof(mapReq)); err != nil {
		return fmt.Errorf("%s: map dumb buffer: %w", d.deviceName, err)
	}
	mapped, err := unix.Mmap(d.fd, int64(mapReq.Offset), int(create.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%s: map scanout: %w", d.deviceName, err)
	}

	crtc := drmModeCrtc{
		SetConnectorsPtr: uint64(uintptr(unsafe.Pointer(&d.connector))),
		CountConnectors:  1,
		CrtcID:           d.crtcID,
		FbID:             d.fbID,
		ModeValid:        1,
		Mode:             d.mode,
	}
	if err := d.ioctl(drmNrModeSetCRTC, unsafe.Pointer(&crtc), unsafe.Sizeof(crtc)); err != nil {
		unix.Munmap(mapped)
		return fmt.Errorf("%s: set crtc: %w", d.deviceName, err)
	}

	d.layout = XRGB8888(int(create.Pitch))
	d.area = pixel.Rect(0, 0, width, height)
	d.mapped = mapped
	d.shadow = pixel.NewBuffer(width, height)
	d.dirty = pixel.Rectangle{}
	return nil
}

// Close releases the scanout and the device node.
func (d *DRM) Close() error {
	if d.mapped != nil {
		unix.Munmap(d.mapped)
	}
	d.reset()
	d.teardown()
	return nil
}

func (d *DRM) teardown() {
	if d.fd < 0 {
		return
	}
	if d.dumbHandle != 0 {
		destroy := struct{ Handle uint32 }{Handle: d.dumbHandle}
		_ = d.ioctl(drmNrModeDestroyDumb, unsafe.Pointer(&destroy), unsafe.Sizeof(destroy))
		d.dumbHandle = 0
	}
	unix.Close(d.fd)
	d.fd = -1
}

func (d *DRM) ioctl(nr uintptr, arg unsafe.Pointer, size uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(drmIOWR(nr, size)), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
