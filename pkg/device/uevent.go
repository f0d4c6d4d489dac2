//go:build linux

package device

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
)

// Event is one decoded kernel hotplug notification.
type Event struct {
	Action    string // "add", "remove", "change", ...
	DevPath   string // sysfs path relative to /sys
	Subsystem string
	DevName   string // device node name, e.g. "fb1"
	SeatTag   string // ID_SEAT when present
}

// ParseUevent decodes a kobject-uevent datagram: a "action@devpath"
// header followed by NUL-separated KEY=VALUE pairs.
func ParseUevent(data []byte) (Event, error) {
	fields := strings.Split(string(data), "\x00")
	if len(fields) == 0 || !strings.Contains(fields[0], "@") {
		return Event{}, fmt.Errorf("malformed uevent header")
	}
	header := strings.SplitN(fields[0], "@", 2)
	ev := Event{Action: header[0], DevPath: header[1]}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVNAME":
			ev.DevName = value
		case "ID_SEAT":
			ev.SeatTag = value
		}
	}
	return ev, nil
}

// monitor is a netlink subscription to kernel uevents.
type monitor struct {
	fd    int
	watch *eventloop.FdWatch
}

// openMonitor binds a NETLINK_KOBJECT_UEVENT socket to the kernel
// multicast group.
func openMonitor() (*monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK,
		unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC,
		unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("open uevent socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind uevent socket: %w", err)
	}
	return &monitor{fd: fd}, nil
}

// start dispatches decoded events on the loop. Events that fail to parse
// are dropped.
func (m *monitor) start(loop *eventloop.Loop, onEvent func(Event)) {
	m.watch = loop.WatchFd(m.fd, eventloop.FdReadable, func(eventloop.FdEvents) {
		buf := make([]byte, 8192)
		for {
			n, _, err := unix.Recvfrom(m.fd, buf, 0)
			if err != nil || n <= 0 {
				return
			}
			if ev, err := ParseUevent(buf[:n]); err == nil {
				onEvent(ev)
			}
		}
	}, nil)
}

func (m *monitor) close(loop *eventloop.Loop) {
	if m.watch != nil {
		loop.StopWatchingFd(m.watch)
		m.watch = nil
	}
	if m.fd >= 0 {
		unix.Close(m.fd)
		m.fd = -1
	}
}
