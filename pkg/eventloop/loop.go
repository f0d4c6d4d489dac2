// Package eventloop implements the daemon's single-threaded reactor.
//
// Every callback registered with a Loop runs to completion on the goroutine
// that called Run. Collaborators living on other goroutines hand work to the
// loop with Post, which wakes the poller through a self-pipe.
package eventloop

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// FdEvents is a bitmask of file-descriptor readiness conditions.
type FdEvents int

const (
	// FdReadable requests or reports read readiness.
	FdReadable FdEvents = 1 << iota
	// FdWritable requests or reports write readiness.
	FdWritable
)

// FdWatch is an active file-descriptor registration.
type FdWatch struct {
	fd       int
	events   FdEvents
	onReady  func(FdEvents)
	onHangup func()
	removed  bool
}

// TimeoutWatch is a pending one-shot timer.
type TimeoutWatch struct {
	deadline  time.Time
	fn        func()
	cancelled bool
}

// Cancel prevents the timer from firing. Safe to call from within any loop
// callback, including after the timer has already fired.
func (w *TimeoutWatch) Cancel() {
	if w != nil {
		w.cancelled = true
	}
}

// SignalWatch is an active signal registration.
type SignalWatch struct {
	sig     os.Signal
	fn      func()
	removed bool
}

// Loop is a poll-based reactor over fd readiness, one-shot timeouts,
// bridged signals, and exit hooks.
type Loop struct {
	wakeRead  int
	wakeWrite int

	fdWatches []*FdWatch
	timers    []*TimeoutWatch
	exitFns   []func(code int)

	sigMu      sync.Mutex
	sigWatches map[os.Signal][]*SignalWatch
	sigChans   map[os.Signal]chan os.Signal
	sigPending map[os.Signal]bool

	postMu sync.Mutex
	posted []func()

	exiting  bool
	exitCode int
	closed   bool
}

// New creates a loop and its wake pipe.
func New() (*Loop, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}
	return &Loop{
		wakeRead:   p[0],
		wakeWrite:  p[1],
		sigWatches: make(map[os.Signal][]*SignalWatch),
		sigChans:   make(map[os.Signal]chan os.Signal),
		sigPending: make(map[os.Signal]bool),
	}, nil
}

// WatchFd registers callbacks for readiness and hangup on fd. Either
// callback may be nil. The returned watch stays active until removed.
func (l *Loop) WatchFd(fd int, events FdEvents, onReady func(FdEvents), onHangup func()) *FdWatch {
	w := &FdWatch{fd: fd, events: events, onReady: onReady, onHangup: onHangup}
	l.fdWatches = append(l.fdWatches, w)
	return w
}

// StopWatchingFd removes a watch. The loop will not re-enter the watch in
// the current poll iteration.
func (l *Loop) StopWatchingFd(w *FdWatch) {
	if w == nil {
		return
	}
	w.removed = true
}

// WatchTimeout schedules fn once after d, measured on the monotonic clock.
func (l *Loop) WatchTimeout(d time.Duration, fn func()) *TimeoutWatch {
	w := &TimeoutWatch{deadline: time.Now().Add(d), fn: fn}
	l.timers = append(l.timers, w)
	return w
}

// WatchSignal registers fn for sig. The callback is dispatched from the
// loop goroutine, never from the signal handler. Multiple deliveries of the
// same signal before the loop wakes collapse into one callback invocation.
func (l *Loop) WatchSignal(sig os.Signal, fn func()) *SignalWatch {
	w := &SignalWatch{sig: sig, fn: fn}

	l.sigMu.Lock()
	l.sigWatches[sig] = append(l.sigWatches[sig], w)
	_, subscribed := l.sigChans[sig]
	var ch chan os.Signal
	if !subscribed {
		ch = make(chan os.Signal, 4)
		l.sigChans[sig] = ch
	}
	l.sigMu.Unlock()

	if !subscribed {
		signal.Notify(ch, sig)
		go func() {
			for s := range ch {
				l.sigMu.Lock()
				l.sigPending[s] = true
				l.sigMu.Unlock()
				l.wake()
			}
		}()
	}
	return w
}

// StopWatchingSignal removes a signal registration.
func (l *Loop) StopWatchingSignal(w *SignalWatch) {
	if w == nil {
		return
	}
	w.removed = true
}

// WatchExit registers fn to run when Exit is requested. Hooks run in
// registration order before Run returns.
func (l *Loop) WatchExit(fn func(code int)) {
	l.exitFns = append(l.exitFns, fn)
}

// Exit requests loop termination with the given code. Pending exit hooks
// run before Run returns.
func (l *Loop) Exit(code int) {
	l.exiting = true
	l.exitCode = code
	l.wake()
}

// Post queues fn to run on the loop goroutine. Safe to call from any
// goroutine; this is the only cross-thread entry point.
func (l *Loop) Post(fn func()) {
	l.postMu.Lock()
	l.posted = append(l.posted, fn)
	l.postMu.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	// A full pipe already guarantees a pending wakeup.
	_, _ = unix.Write(l.wakeWrite, []byte{1})
}

// Run processes events until Exit is called and returns the exit code.
func (l *Loop) Run() int {
	for !l.exiting {
		l.iterate()
	}
	for _, fn := range l.exitFns {
		fn(l.exitCode)
	}
	return l.exitCode
}

// iterate performs one poll cycle: wait, fire due timers, then dispatch
// ready file descriptors.
func (l *Loop) iterate() {
	timeout := l.nextTimeoutMillis()

	pollFds := make([]unix.PollFd, 0, len(l.fdWatches)+1)
	pollFds = append(pollFds, unix.PollFd{Fd: int32(l.wakeRead), Events: unix.POLLIN})
	watchIndex := make([]*FdWatch, 0, len(l.fdWatches))
	for _, w := range l.fdWatches {
		if w.removed {
			continue
		}
		var ev int16
		if w.events&FdReadable != 0 {
			ev |= unix.POLLIN
		}
		if w.events&FdWritable != 0 {
			ev |= unix.POLLOUT
		}
		pollFds = append(pollFds, unix.PollFd{Fd: int32(w.fd), Events: ev})
		watchIndex = append(watchIndex, w)
	}

	n, err := unix.Poll(pollFds, timeout)
	if err != nil && err != unix.EINTR {
		// Nothing sensible to do with a broken poller; give callers a
		// chance to exit instead of spinning.
		time.Sleep(10 * time.Millisecond)
	}

	if n > 0 && pollFds[0].Revents&unix.POLLIN != 0 {
		l.drainWakePipe()
	}
	l.runPosted()
	l.dispatchSignals()
	l.fireDueTimers()
	if l.exiting {
		return
	}

	if n <= 0 {
		return
	}
	for i, pfd := range pollFds[1:] {
		w := watchIndex[i]
		if w.removed {
			continue
		}
		if pfd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			if w.onHangup != nil {
				w.onHangup()
			}
			continue
		}
		var got FdEvents
		if pfd.Revents&unix.POLLIN != 0 {
			got |= FdReadable
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			got |= FdWritable
		}
		if got != 0 && w.onReady != nil && !w.removed {
			w.onReady(got)
		}
		if l.exiting {
			return
		}
	}
	l.compactWatches()
}

func (l *Loop) drainWakePipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeRead, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (l *Loop) runPosted() {
	l.postMu.Lock()
	fns := l.posted
	l.posted = nil
	l.postMu.Unlock()
	for _, fn := range fns {
		fn()
		if l.exiting {
			return
		}
	}
}

func (l *Loop) dispatchSignals() {
	l.sigMu.Lock()
	pending := make([]os.Signal, 0, len(l.sigPending))
	for s := range l.sigPending {
		pending = append(pending, s)
		delete(l.sigPending, s)
	}
	watches := make([][]*SignalWatch, len(pending))
	for i, s := range pending {
		watches[i] = append([]*SignalWatch(nil), l.sigWatches[s]...)
	}
	l.sigMu.Unlock()

	for _, ws := range watches {
		for _, w := range ws {
			if !w.removed {
				w.fn()
			}
			if l.exiting {
				return
			}
		}
	}
}

// fireDueTimers runs every timer due at or before now, before fd dispatch
// resumes.
func (l *Loop) fireDueTimers() {
	now := time.Now()
	remaining := l.timers[:0]
	due := []*TimeoutWatch(nil)
	for _, w := range l.timers {
		switch {
		case w.cancelled:
		case !w.deadline.After(now):
			due = append(due, w)
		default:
			remaining = append(remaining, w)
		}
	}
	l.timers = remaining
	for _, w := range due {
		if !w.cancelled {
			w.fn()
		}
		if l.exiting {
			return
		}
	}
}

func (l *Loop) nextTimeoutMillis() int {
	earliest := time.Time{}
	for _, w := range l.timers {
		if w.cancelled {
			continue
		}
		if earliest.IsZero() || w.deadline.Before(earliest) {
			earliest = w.deadline
		}
	}
	if earliest.IsZero() {
		return -1
	}
	ms := int(time.Until(earliest) / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	return ms
}

func (l *Loop) compactWatches() {
	kept := l.fdWatches[:0]
	for _, w := range l.fdWatches {
		if !w.removed {
			kept = append(kept, w)
		}
	}
	l.fdWatches = kept
}

// Close releases the wake pipe and signal subscriptions. The loop must not
// be running.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.sigMu.Lock()
	for sig, ch := range l.sigChans {
		signal.Stop(ch)
		close(ch)
		delete(l.sigChans, sig)
	}
	l.sigMu.Unlock()
	err1 := unix.Close(l.wakeRead)
	err2 := unix.Close(l.wakeWrite)
	if err1 != nil {
		return err1
	}
	return err2
}
