// Package terminal controls one tty: line discipline, VT text/graphics
// switching, the console palette, cursor and colors, and keystroke capture.
//
// Opening a terminal saves the original line-discipline attributes and
// color palette; closing restores both before the fd is released.
package terminal

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/mattn/go-isatty"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Mode is the VT display mode.
type Mode int

const (
	// ModeText is the normal console text mode.
	ModeText Mode = iota
	// ModeGraphics hands the VT to a pixel renderer.
	ModeGraphics
)

// Linux VT ioctls. Defined here rather than pulled from the unix package
// because the palette pair is absent from it.
const (
	ioctlKDSETMODE     = 0x4b3a
	ioctlKDGETMODE     = 0x4b3b
	ioctlGIO_CMAP      = 0x4b70
	ioctlPIO_CMAP      = 0x4b71
	ioctlVT_GETSTATE   = 0x5603
	ioctlVT_ACTIVATE   = 0x5606
	ioctlVT_WAITACTIVE = 0x5607

	kdModeText     = 0x00
	kdModeGraphics = 0x01
)

type vtStat struct {
	Active uint16
	Signal uint16
	State  uint16
}

// paletteSize is 16 console colors, 3 bytes each.
const paletteSize = 48

// DefaultDevice is the terminal used for the fallback seat.
const DefaultDevice = "/dev/tty0"

// Terminal is an open tty with saved original state.
type Terminal struct {
	name   string
	fd     int
	logger *slog.Logger

	savedAttrs   *term.State
	savedPalette [paletteSize]byte
	paletteSaved bool

	mode      Mode
	forceText bool
	vtNo      int

	rows int
	cols int

	out *sequenceWriter

	// input decoding state
	inputBuf []byte
	lineBuf  []rune

	onKeystroke func(key string)
	onLine      func(line string)
	onEscape    func()
	onCancel    func()
	onBackspace func()
	traceToggle func()
}

// New creates a closed terminal for the given device path.
func New(name string, logger *slog.Logger) *Terminal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminal{name: name, fd: -1, logger: logger}
}

// Name returns the terminal's device path.
func (t *Terminal) Name() string { return t.name }

// Fd returns the open file descriptor, or -1.
func (t *Terminal) Fd() int { return t.fd }

// IsOpen reports whether the terminal holds a descriptor.
func (t *Terminal) IsOpen() bool { return t.fd >= 0 }

// VTNumber returns the virtual terminal number, or 0 when the device is
// not a VT.
func (t *Terminal) VTNumber() int { return t.vtNo }

// Open opens the device, verifies it is a terminal, and saves the original
// attributes and palette for restoration at Close.
func (t *Terminal) Open() error {
	fd, err := unix.Open(t.name, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.name, err)
	}
	if !isatty.IsTerminal(uintptr(fd)) {
		unix.Close(fd)
		return fmt.Errorf("%s: not a terminal", t.name)
	}
	t.fd = fd

	attrs, err := term.GetState(fd)
	if err != nil {
		unix.Close(fd)
		t.fd = -1
		return fmt.Errorf("save %s attributes: %w", t.name, err)
	}
	t.savedAttrs = attrs

	t.out = newSequenceWriter(os.NewFile(uintptr(fd), t.name))
	t.savePalette()
	t.vtNo = t.queryVTNumber()
	t.refreshGeometry()
	return nil
}

// Close restores the original tty attributes, palette, and text mode, then
// releases the descriptor.
func (t *Terminal) Close() error {
	if t.fd < 0 {
		return nil
	}
	var errs error
	errs = multierr.Append(errs, t.SetMode(ModeText))
	t.RestorePalette()
	t.ShowCursor()
	if t.savedAttrs != nil {
		errs = multierr.Append(errs, term.Restore(t.fd, t.savedAttrs))
	}
	errs = multierr.Append(errs, unix.Close(t.fd))
	t.fd = -1
	t.savedAttrs = nil
	return errs
}

// SetMode switches the VT between text and graphics. The force-text toggle
// (Ctrl-T) pins the VT to text regardless of the requested mode.
func (t *Terminal) SetMode(mode Mode) error {
	if t.fd < 0 {
		return fmt.Errorf("%s: not open", t.name)
	}
	t.mode = mode
	kdMode := kdModeText
	if mode == ModeGraphics && !t.forceText {
		kdMode = kdModeGraphics
	}
	if err := t.ioctlInt(ioctlKDSETMODE, kdMode); err != nil {
		return fmt.Errorf("set %s mode: %w", t.name, err)
	}
	return nil
}

// Mode returns the currently requested display mode.
func (t *Terminal) Mode() Mode { return t.mode }

// ToggleForceText flips the force-text-mode flag and re-applies the
// current mode.
func (t *Terminal) ToggleForceText() {
	t.forceText = !t.forceText
	_ = t.SetMode(t.mode)
}

// SetUnbufferedInput puts the tty in raw mode so keystrokes arrive one at
// a time without echo.
func (t *Terminal) SetUnbufferedInput() error {
	if t.fd < 0 {
		return fmt.Errorf("%s: not open", t.name)
	}
	_, err := term.MakeRaw(t.fd)
	if err != nil {
		return fmt.Errorf("raw mode on %s: %w", t.name, err)
	}
	return nil
}

// SetBufferedInput restores the line discipline saved at Open.
func (t *Terminal) SetBufferedInput() error {
	if t.fd < 0 || t.savedAttrs == nil {
		return nil
	}
	if err := term.Restore(t.fd, t.savedAttrs); err != nil {
		return fmt.Errorf("restore %s attributes: %w", t.name, err)
	}
	return nil
}

// ActivateVT switches the console to this terminal's VT and waits for the
// switch to finish.
func (t *Terminal) ActivateVT() error {
	if t.fd < 0 || t.vtNo <= 0 {
		return fmt.Errorf("%s: no VT to activate", t.name)
	}
	if err := t.ioctlInt(ioctlVT_ACTIVATE, t.vtNo); err != nil {
		return fmt.Errorf("activate VT %d: %w", t.vtNo, err)
	}
	if err := t.ioctlInt(ioctlVT_WAITACTIVE, t.vtNo); err != nil {
		return fmt.Errorf("wait for VT %d: %w", t.vtNo, err)
	}
	return nil
}

func (t *Terminal) savePalette() {
	if err := t.ioctlPtr(ioctlGIO_CMAP, unsafe.Pointer(&t.savedPalette[0])); err != nil {
		t.logger.Debug("palette not readable", "tty", t.name, "error", err)
		return
	}
	t.paletteSaved = true
}

// Palette returns the saved original palette and whether one was captured.
func (t *Terminal) Palette() ([paletteSize]byte, bool) {
	return t.savedPalette, t.paletteSaved
}

// SetPalette writes a 48-byte (16 color) palette to the console.
func (t *Terminal) SetPalette(p [paletteSize]byte) error {
	if t.fd < 0 {
		return fmt.Errorf("%s: not open", t.name)
	}
	if err := t.ioctlPtr(ioctlPIO_CMAP, unsafe.Pointer(&p[0])); err != nil {
		return fmt.Errorf("set %s palette: %w", t.name, err)
	}
	return nil
}

// RestorePalette re-applies the palette saved at Open.
func (t *Terminal) RestorePalette() {
	if !t.paletteSaved || t.fd < 0 {
		return
	}
	if err := t.ioctlPtr(ioctlPIO_CMAP, unsafe.Pointer(&t.savedPalette[0])); err != nil {
		t.logger.Debug("palette restore failed", "tty", t.name, "error", err)
	}
}

// queryVTNumber resolves the VT number from the device name, falling back
// to VT_GETSTATE for the active console.
func (t *Terminal) queryVTNumber() int {
	base := strings.TrimPrefix(t.name, "/dev/")
	if digits := strings.TrimPrefix(base, "tty"); digits != base {
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			return n
		}
	}
	var state vtStat
	if err := t.ioctlPtr(ioctlVT_GETSTATE, unsafe.Pointer(&state)); err == nil {
		return int(state.Active)
	}
	return 0
}

func (t *Terminal) ioctlInt(req uint, arg int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(t.fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (t *Terminal) ioctlPtr(req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(t.fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
