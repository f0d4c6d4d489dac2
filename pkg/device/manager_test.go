package device

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
)

// fixtureSysfs builds a fake /sys tree with the given framebuffer names.
// Devices listed in withParent get a bus parent directory; drm maps a
// device name to a companion card.
func fixtureSysfs(t *testing.T, fbs []string, withParent map[string]bool, drm map[string]string, bootVGA map[string]bool) string {
	t.Helper()
	root := t.TempDir()
	for _, fb := range fbs {
		dir := filepath.Join(root, "class", "graphics", fb)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if withParent[fb] {
			parent := filepath.Join(dir, "device")
			if err := os.MkdirAll(parent, 0o755); err != nil {
				t.Fatal(err)
			}
			if card, ok := drm[fb]; ok {
				if err := os.MkdirAll(filepath.Join(parent, "drm", card), 0o755); err != nil {
					t.Fatal(err)
				}
			}
			if bootVGA[fb] {
				if err := os.WriteFile(filepath.Join(parent, "boot_vga"), []byte("1\n"), 0o644); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	return root
}

func memoryRendererFactory(opened *[]string) func(string, render.Backend) (render.Renderer, error) {
	return func(path string, backend render.Backend) (render.Renderer, error) {
		*opened = append(*opened, string(backend)+":"+path)
		m := render.NewMemory(path, 4, 4, render.XRGB8888(16))
		return m, m.Open()
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.IgnoreHotplug = true
	cfg.IgnoreSerialConsoles = true
	if cfg.DevRoot == "" {
		cfg.DevRoot = "/dev"
	}
	return NewManager(cfg)
}

// ---------------------------------------------------------------------------
// Scan tests
// ---------------------------------------------------------------------------

func TestScanIgnoresFbconAndUntagged(t *testing.T) {
	sysfs := fixtureSysfs(t,
		[]string{"fb0", "fb1", "fbcon"},
		map[string]bool{"fb0": true}, // fb1 has no bus parent
		nil, nil)

	var opened []string
	m := newTestManager(t, Config{
		SysfsRoot:    sysfs,
		OpenRenderer: memoryRendererFactory(&opened),
	})
	if err := m.ScanSeats(); err != nil {
		t.Fatalf("ScanSeats: %v", err)
	}
	seats := m.Seats()
	if len(seats) != 1 {
		t.Fatalf("got %d seats, want 1 (fbcon and untagged skipped)", len(seats))
	}
	if got := seats[0].DevicePath(); got != "/dev/fb0" {
		t.Errorf("seat device = %q, want /dev/fb0", got)
	}
}

func TestScanPrefersDRMCompanion(t *testing.T) {
	sysfs := fixtureSysfs(t,
		[]string{"fb0"},
		map[string]bool{"fb0": true},
		map[string]string{"fb0": "card0"},
		nil)

	var opened []string
	m := newTestManager(t, Config{
		SysfsRoot:    sysfs,
		OpenRenderer: memoryRendererFactory(&opened),
	})
	if err := m.ScanSeats(); err != nil {
		t.Fatalf("ScanSeats: %v", err)
	}
	if len(opened) != 1 || opened[0] != "drm:/dev/dri/card0" {
		t.Errorf("opened = %v, want [drm:/dev/dri/card0]", opened)
	}
}

func TestScanFallsBackToSingleSeat(t *testing.T) {
	sysfs := t.TempDir() // empty: no graphics class at all

	var opened []string
	m := newTestManager(t, Config{
		SysfsRoot:    sysfs,
		DevRoot:      t.TempDir(), // no real ttys either
		OpenRenderer: memoryRendererFactory(&opened),
	})
	if err := m.ScanSeats(); err != nil {
		t.Fatalf("ScanSeats: %v", err)
	}
	if len(m.Seats()) != 1 {
		t.Fatalf("got %d seats, want 1 fallback seat", len(m.Seats()))
	}
	if len(opened) != 1 || opened[0] != "auto:" {
		t.Errorf("opened = %v, want one auto renderer", opened)
	}
}

func TestHasOpenSeats(t *testing.T) {
	m := newTestManager(t, Config{SysfsRoot: t.TempDir()})
	if m.HasOpenSeats() {
		t.Error("empty manager reports open seats")
	}
	mem := render.NewMemory("/dev/fb9", 2, 2, render.XRGB8888(8))
	mem.Open()
	m.addSeat(seat.New(nil, mem))
	if !m.HasOpenSeats() {
		t.Error("manager with open renderer reports none")
	}
}

// ---------------------------------------------------------------------------
// Hotplug tests
// ---------------------------------------------------------------------------

func TestHotplugAddAndRemove(t *testing.T) {
	sysfs := fixtureSysfs(t,
		[]string{"fb0"},
		map[string]bool{"fb0": true},
		nil, nil)

	var opened []string
	m := newTestManager(t, Config{
		SysfsRoot:    sysfs,
		OpenRenderer: memoryRendererFactory(&opened),
	})

	var added, removed []string
	if err := m.WatchSeats(
		func(s *seat.Seat) { added = append(added, s.DevicePath()) },
		func(s *seat.Seat) {
			if !s.HasOpenRenderer() {
				t.Error("seat_removed fired after renderer destruction")
			}
			removed = append(removed, s.DevicePath())
		},
	); err != nil {
		t.Fatalf("WatchSeats: %v", err)
	}

	m.HandleEvent(Event{Action: "add", Subsystem: "graphics", DevName: "fb0"})
	if len(added) != 1 || added[0] != "/dev/fb0" {
		t.Fatalf("added = %v, want [/dev/fb0]", added)
	}

	m.HandleEvent(Event{Action: "remove", Subsystem: "graphics", DevName: "fb0"})
	if len(removed) != 1 || removed[0] != "/dev/fb0" {
		t.Fatalf("removed = %v, want [/dev/fb0]", removed)
	}
	if len(m.Seats()) != 0 {
		t.Errorf("%d seats remain after removal", len(m.Seats()))
	}
}

func TestHotplugFiltersSubsystem(t *testing.T) {
	m := newTestManager(t, Config{SysfsRoot: t.TempDir()})
	var added []string
	m.WatchSeats(func(s *seat.Seat) { added = append(added, s.DevicePath()) }, nil)

	m.HandleEvent(Event{Action: "add", Subsystem: "block", DevName: "sda"})
	m.HandleEvent(Event{Action: "add", Subsystem: "graphics", DevName: "fbcon"})
	if len(added) != 0 {
		t.Errorf("filtered events created seats: %v", added)
	}
}

func TestWatchSeatsIsOneTime(t *testing.T) {
	m := newTestManager(t, Config{SysfsRoot: t.TempDir()})
	if err := m.WatchSeats(nil, nil); err != nil {
		t.Fatalf("first WatchSeats: %v", err)
	}
	if err := m.WatchSeats(nil, nil); err == nil {
		t.Error("second WatchSeats succeeded, want error")
	}
}

// ---------------------------------------------------------------------------
// Uevent parse tests
// ---------------------------------------------------------------------------

func TestParseUevent(t *testing.T) {
	raw := []byte("add@/devices/pci0000:00/0000:00:02.0/graphics/fb1\x00" +
		"ACTION=add\x00SUBSYSTEM=graphics\x00DEVNAME=fb1\x00ID_SEAT=seat0\x00")
	ev, err := ParseUevent(raw)
	if err != nil {
		t.Fatalf("ParseUevent: %v", err)
	}
	if ev.Action != "add" || ev.Subsystem != "graphics" || ev.DevName != "fb1" || ev.SeatTag != "seat0" {
		t.Errorf("parsed = %+v", ev)
	}
}

func TestParseUeventMalformed(t *testing.T) {
	if _, err := ParseUevent([]byte("libudev hello")); err == nil {
		t.Error("malformed uevent parsed without error")
	}
}
