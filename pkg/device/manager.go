// Package device discovers graphics hardware, pairs it with terminals,
// and maintains the resulting seat set across hotplug events.
package device

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/terminal"
)

// fbcon is the kernel's pseudo framebuffer console device; it never backs
// a seat.
const fbconName = "fbcon"

// Config carries the manager's environment. SysfsRoot and DevRoot exist
// so tests can point the scan at a fixture tree.
type Config struct {
	Logger *slog.Logger
	Loop   *eventloop.Loop

	SysfsRoot string // default /sys
	DevRoot   string // default /dev

	// LocalConsole is the already-constructed terminal for the primary
	// console; devices whose parent carries the primary-console attribute
	// bind to it.
	LocalConsole *terminal.Terminal

	// IgnoreSerialConsoles skips the multi-console serial fallback.
	IgnoreSerialConsoles bool
	// IgnoreHotplug skips the uevent subscription.
	IgnoreHotplug bool

	// Backend forces a renderer backend; BackendAuto probes DRM first.
	Backend render.Backend

	// OpenRenderer is the renderer factory, replaceable in tests.
	// Defaults to render.Open.
	OpenRenderer func(devicePath string, backend render.Backend) (render.Renderer, error)
}

// Manager owns the seat set.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	seats []*seat.Seat

	onAdded   func(*seat.Seat)
	onRemoved func(*seat.Seat)
	watched   bool

	mon *monitor
}

// NewManager creates a manager; call ScanSeats to populate it.
func NewManager(cfg Config) *Manager {
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = "/sys"
	}
	if cfg.DevRoot == "" {
		cfg.DevRoot = "/dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backend == "" {
		cfg.Backend = render.BackendAuto
	}
	if cfg.OpenRenderer == nil {
		cfg.OpenRenderer = render.Open
	}
	return &Manager{cfg: cfg, logger: cfg.Logger}
}

// WatchSeats registers the seat lifecycle callbacks. One-time: a second
// registration is rejected.
func (m *Manager) WatchSeats(onAdded, onRemoved func(*seat.Seat)) error {
	if m.watched {
		return fmt.Errorf("seats already watched")
	}
	m.watched = true
	m.onAdded = onAdded
	m.onRemoved = onRemoved
	return nil
}

// Seats returns a snapshot of the current seat list.
func (m *Manager) Seats() []*seat.Seat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*seat.Seat(nil), m.seats...)
}

// HasOpenSeats reports whether at least one seat holds an open renderer.
func (m *Manager) HasOpenSeats() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seats {
		if s.HasOpenRenderer() {
			return true
		}
	}
	return false
}

// ScanSeats performs the initial seat discovery:
//
//  1. with serial consoles allowed and more than one active console,
//     one renderer-less seat per console
//  2. otherwise one seat per graphics-bus device
//  3. otherwise a single fallback seat on the default terminal with a
//     backend-chosen renderer
//
// then subscribes to hotplug events unless disabled.
func (m *Manager) ScanSeats() error {
	if !m.cfg.IgnoreSerialConsoles {
		if consoles := m.activeConsoles(); len(consoles) > 1 {
			m.logger.Debug("using serial console seats", "consoles", consoles)
			for _, name := range consoles {
				t := terminal.New(filepath.Join(m.cfg.DevRoot, name), m.logger)
				if err := t.Open(); err != nil {
					m.logger.Warn("console terminal unavailable", "tty", name, "error", err)
					continue
				}
				m.addSeat(seat.New(t, nil))
			}
			m.startHotplug()
			return nil
		}
	}

	devices := m.scanGraphicsBus()
	if len(devices) > 0 {
		var group errgroup.Group
		results := make([]*seat.Seat, len(devices))
		for i, dev := range devices {
			group.Go(func() error {
				s, err := m.seatForDevice(dev)
				if err != nil {
					m.logger.Warn("seat creation failed", "device", dev.node, "error", err)
					return nil
				}
				results[i] = s
				return nil
			})
		}
		_ = group.Wait()
		for _, s := range results {
			if s != nil {
				m.addSeat(s)
			}
		}
	}

	if len(m.Seats()) == 0 {
		m.logger.Debug("no graphics devices, falling back to default terminal")
		t := terminal.New(filepath.Join(m.cfg.DevRoot, strings.TrimPrefix(terminal.DefaultDevice, "/dev/")), m.logger)
		if err := t.Open(); err != nil {
			m.logger.Warn("default terminal unavailable", "error", err)
			t = nil
		}
		var r render.Renderer
		if renderer, err := m.cfg.OpenRenderer("", render.BackendAuto); err == nil {
			r = renderer
		}
		m.addSeat(seat.New(t, r))
	}

	m.startHotplug()
	return nil
}

// graphicsDevice is one enumerated framebuffer node.
type graphicsDevice struct {
	name           string // fb0
	node           string // /dev/fb0
	primaryConsole bool
	drmNode        string // /dev/dri/card0 when a companion exists
}

// scanGraphicsBus enumerates /sys/class/graphics, dropping fbcon and
// devices without a backing bus parent (the seat tag).
func (m *Manager) scanGraphicsBus() []graphicsDevice {
	classDir := filepath.Join(m.cfg.SysfsRoot, "class", "graphics")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		m.logger.Debug("graphics bus enumeration failed", "error", err)
		return nil
	}

	var devices []graphicsDevice
	for _, e := range entries {
		name := e.Name()
		if name == fbconName {
			continue
		}
		sysDir := filepath.Join(classDir, name)
		parent := filepath.Join(sysDir, "device")
		if _, err := os.Stat(parent); err != nil {
			// No bus parent: not tagged for seat assignment.
			continue
		}
		dev := graphicsDevice{
			name:           name,
			node:           filepath.Join(m.cfg.DevRoot, name),
			primaryConsole: readAttr(filepath.Join(parent, "boot_vga")) == "1",
			drmNode:        m.companionDRMNode(parent),
		}
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].name < devices[j].name })
	return devices
}

// companionDRMNode looks for a DRM card under the same bus parent.
func (m *Manager) companionDRMNode(parent string) string {
	entries, err := os.ReadDir(filepath.Join(parent, "drm"))
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "card") {
			return filepath.Join(m.cfg.DevRoot, "dri", e.Name())
		}
	}
	return ""
}

// seatForDevice builds a seat for one scanned device: DRM renderer when a
// companion node exists, framebuffer otherwise; the primary-console device
// binds the local console terminal.
func (m *Manager) seatForDevice(dev graphicsDevice) (*seat.Seat, error) {
	var (
		r   render.Renderer
		err error
	)
	if dev.drmNode != "" {
		r, err = m.cfg.OpenRenderer(dev.drmNode, render.BackendDRM)
		if err != nil {
			m.logger.Debug("drm renderer failed, trying framebuffer",
				"device", dev.drmNode, "error", err)
			r = nil
		}
	}
	if r == nil {
		r, err = m.cfg.OpenRenderer(dev.node, render.BackendFramebuffer)
		if err != nil {
			return nil, err
		}
	}

	var t *terminal.Terminal
	if dev.primaryConsole {
		t = m.cfg.LocalConsole
	}
	return seat.New(t, r), nil
}

func (m *Manager) addSeat(s *seat.Seat) {
	m.mu.Lock()
	m.seats = append(m.seats, s)
	m.mu.Unlock()
	m.logger.Debug("seat added", "device", s.DevicePath())
	if m.onAdded != nil {
		m.onAdded(s)
	}
}

// startHotplug subscribes to the kernel uevent stream filtered to the
// graphics subsystem.
func (m *Manager) startHotplug() {
	if m.cfg.IgnoreHotplug || m.cfg.Loop == nil {
		return
	}
	mon, err := openMonitor()
	if err != nil {
		m.logger.Warn("hotplug monitor unavailable", "error", err)
		return
	}
	m.mon = mon
	mon.start(m.cfg.Loop, m.HandleEvent)
}

// HandleEvent applies one hotplug event to the seat set.
func (m *Manager) HandleEvent(ev Event) {
	if ev.Subsystem != "graphics" || ev.DevName == "" || ev.DevName == fbconName {
		return
	}
	switch ev.Action {
	case "add":
		dev := graphicsDevice{
			name: ev.DevName,
			node: filepath.Join(m.cfg.DevRoot, ev.DevName),
		}
		sysParent := filepath.Join(m.cfg.SysfsRoot, "class", "graphics", ev.DevName, "device")
		dev.primaryConsole = readAttr(filepath.Join(sysParent, "boot_vga")) == "1"
		dev.drmNode = m.companionDRMNode(sysParent)

		s, err := m.seatForDevice(dev)
		if err != nil {
			m.logger.Warn("hotplugged seat creation failed", "device", dev.node, "error", err)
			return
		}
		m.addSeat(s)
	case "remove":
		m.removeSeatByDevice(filepath.Join(m.cfg.DevRoot, ev.DevName))
	}
}

// removeSeatByDevice frees the seat whose renderer names the removed
// device, notifying the removal handler before the renderer is destroyed.
func (m *Manager) removeSeatByDevice(node string) {
	m.mu.Lock()
	var removed *seat.Seat
	for i, s := range m.seats {
		if s.Renderer() != nil && s.Renderer().DeviceName() == node {
			removed = s
			m.seats = append(m.seats[:i], m.seats[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if removed == nil {
		return
	}
	m.logger.Debug("seat removed", "device", node)
	if m.onRemoved != nil {
		m.onRemoved(removed)
	}
	if err := removed.Close(); err != nil {
		m.logger.Warn("seat teardown failed", "device", node, "error", err)
	}
}

// Close frees every seat and the hotplug subscription.
func (m *Manager) Close() {
	if m.mon != nil {
		m.mon.close(m.cfg.Loop)
		m.mon = nil
	}
	for _, s := range m.Seats() {
		if m.onRemoved != nil {
			m.onRemoved(s)
		}
		_ = s.Close()
	}
	m.mu.Lock()
	m.seats = nil
	m.mu.Unlock()
}

// activeConsoles parses /sys/class/tty/console/active.
func (m *Manager) activeConsoles() []string {
	data := readAttr(filepath.Join(m.cfg.SysfsRoot, "class", "tty", "console", "active"))
	if data == "" {
		return nil
	}
	return strings.Fields(data)
}

func readAttr(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
