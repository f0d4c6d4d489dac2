package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// DebugBuffer is a bounded in-memory mirror of every log record, kept so
// the crash handler can dump recent history to disk. It doubles as a
// slog.Handler wrapper.
type DebugBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
	next  slog.Handler
}

// NewDebugBuffer wraps next, mirroring up to max formatted records.
func NewDebugBuffer(next slog.Handler, max int) *DebugBuffer {
	if max <= 0 {
		max = 4096
	}
	return &DebugBuffer{next: next, max: max}
}

// Enabled defers level filtering to a fixed debug floor: the ring keeps
// everything even when the visible handler filters.
func (b *DebugBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (b *DebugBuffer) Handle(ctx context.Context, record slog.Record) error {
	line := fmt.Sprintf("%s %s %s", record.Time.Format(time.StampMilli),
		record.Level, record.Message)
	record.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})

	b.mu.Lock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
	b.mu.Unlock()

	if b.next != nil && b.next.Enabled(ctx, record.Level) {
		return b.next.Handle(ctx, record)
	}
	return nil
}

func (b *DebugBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := b.next
	if next != nil {
		next = next.WithAttrs(attrs)
	}
	return &DebugBuffer{next: next, max: b.max, lines: b.lines}
}

func (b *DebugBuffer) WithGroup(name string) slog.Handler {
	next := b.next
	if next != nil {
		next = next.WithGroup(name)
	}
	return &DebugBuffer{next: next, max: b.max, lines: b.lines}
}

// Dump writes the buffered history, prefixed by a host identification
// header, to w.
func (b *DebugBuffer) Dump(w io.Writer) error {
	if info, err := host.Info(); err == nil {
		fmt.Fprintf(w, "# %s %s %s (up %s)\n",
			info.Hostname, info.OS, info.KernelVersion,
			(time.Duration(info.Uptime) * time.Second).String())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range b.lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// DumpToFile writes the buffer into dir/boot-pulse-debug.log.
func (b *DebugBuffer) DumpToFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "boot-pulse-debug.log")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := b.Dump(f); err != nil {
		return "", err
	}
	return path, nil
}

// Len returns the number of buffered lines.
func (b *DebugBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
