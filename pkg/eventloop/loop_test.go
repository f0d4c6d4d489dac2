package eventloop

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestExitReturnsCode(t *testing.T) {
	l := newTestLoop(t)
	l.WatchTimeout(0, func() { l.Exit(42) })
	if code := l.Run(); code != 42 {
		t.Errorf("Run = %d, want 42", code)
	}
}

func TestExitHooksRunInRegistrationOrder(t *testing.T) {
	l := newTestLoop(t)
	var order []int
	l.WatchExit(func(int) { order = append(order, 1) })
	l.WatchExit(func(int) { order = append(order, 2) })
	l.WatchExit(func(int) { order = append(order, 3) })
	l.WatchTimeout(0, func() { l.Exit(0) })
	l.Run()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("exit hook order = %v, want [1 2 3]", order)
	}
}

func TestTimeoutFires(t *testing.T) {
	l := newTestLoop(t)
	fired := false
	l.WatchTimeout(5*time.Millisecond, func() {
		fired = true
		l.Exit(0)
	})
	l.Run()
	if !fired {
		t.Error("timeout did not fire")
	}
}

func TestCancelledTimeoutDoesNotFire(t *testing.T) {
	l := newTestLoop(t)
	fired := false
	w := l.WatchTimeout(time.Millisecond, func() { fired = true })
	w.Cancel()
	l.WatchTimeout(20*time.Millisecond, func() { l.Exit(0) })
	l.Run()
	if fired {
		t.Error("cancelled timeout fired")
	}
}

func TestCancelFromEarlierTimerSuppressesLater(t *testing.T) {
	// A watch removed from within a callback must not be re-entered in the
	// same iteration.
	l := newTestLoop(t)
	fired := false
	var second *TimeoutWatch
	l.WatchTimeout(0, func() { second.Cancel() })
	second = l.WatchTimeout(0, func() { fired = true })
	l.WatchTimeout(10*time.Millisecond, func() { l.Exit(0) })
	l.Run()
	if fired {
		t.Error("timer fired after being cancelled in the same iteration")
	}
}

func TestWatchFdReadable(t *testing.T) {
	l := newTestLoop(t)
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	var got []byte
	l.WatchFd(p[0], FdReadable, func(FdEvents) {
		buf := make([]byte, 16)
		n, _ := unix.Read(p[0], buf)
		got = append(got, buf[:n]...)
		l.Exit(0)
	}, nil)

	unix.Write(p[1], []byte("hi"))
	l.Run()
	if string(got) != "hi" {
		t.Errorf("read %q, want %q", got, "hi")
	}
}

func TestWatchFdHangup(t *testing.T) {
	l := newTestLoop(t)
	var p [2]int
	if err := unix.Pipe2(p[:], 0); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(p[0])

	hangup := false
	l.WatchFd(p[0], FdReadable, nil, func() {
		hangup = true
		l.Exit(0)
	})
	unix.Close(p[1])
	l.WatchTimeout(time.Second, func() { l.Exit(1) })
	if code := l.Run(); code != 0 {
		t.Fatal("hangup not observed before fallback timeout")
	}
	if !hangup {
		t.Error("hangup callback not invoked")
	}
}

func TestPostRunsOnLoop(t *testing.T) {
	l := newTestLoop(t)
	done := make(chan struct{})
	go func() {
		l.Post(func() { l.Exit(7) })
		close(done)
	}()
	if code := l.Run(); code != 7 {
		t.Errorf("Run = %d, want 7", code)
	}
	<-done
}

func TestDueTimersFireBeforeFdDispatch(t *testing.T) {
	l := newTestLoop(t)
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	var order []string
	l.WatchFd(p[0], FdReadable, func(FdEvents) {
		order = append(order, "fd")
		l.Exit(0)
	}, nil)
	unix.Write(p[1], []byte{1})

	// Due immediately: must run before the fd callback in the same cycle.
	l.WatchTimeout(0, func() { order = append(order, "timer") })
	l.Run()
	if len(order) != 2 || order[0] != "timer" || order[1] != "fd" {
		t.Errorf("dispatch order = %v, want [timer fd]", order)
	}
}
