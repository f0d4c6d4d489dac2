package terminal

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
)

// Rows returns the cell grid height.
func (t *Terminal) Rows() int { return t.rows }

// Columns returns the cell grid width.
func (t *Terminal) Columns() int { return t.cols }

// refreshGeometry queries the cell grid size. It tries the tty ioctl
// first, then COLUMNS/LINES, then the classic 80x24 default.
func (t *Terminal) refreshGeometry() {
	if t.fd >= 0 {
		if ws, err := unix.IoctlGetWinsize(t.fd, unix.TIOCGWINSZ); err == nil && ws.Col > 0 && ws.Row > 0 {
			t.cols = int(ws.Col)
			t.rows = int(ws.Row)
			return
		}
	}
	t.cols = envDimension("COLUMNS", 80)
	t.rows = envDimension("LINES", 24)
}

func envDimension(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// WatchForResize refreshes the cell grid on SIGWINCH and reports each new
// geometry to onResize (which may be nil).
func (t *Terminal) WatchForResize(loop *eventloop.Loop, onResize func(rows, cols int)) {
	loop.WatchSignal(unix.SIGWINCH, func() {
		t.refreshGeometry()
		t.logger.Debug("terminal resized", "tty", t.name, "rows", t.rows, "cols", t.cols)
		if onResize != nil {
			onResize(t.rows, t.cols)
		}
	})
}
