package bootserver

import (
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recordingHandler captures dispatched commands.
type recordingHandler struct {
	mu       sync.Mutex
	events   []string
	statuses []string
	failShow bool

	pendingReply func(password string, ok bool)
}

func (h *recordingHandler) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recordingHandler) UpdateStatus(status string) error {
	h.mu.Lock()
	h.statuses = append(h.statuses, status)
	h.mu.Unlock()
	h.record("status")
	return nil
}

func (h *recordingHandler) SystemInitialized() error { h.record("init"); return nil }

func (h *recordingHandler) ShowSplash() error {
	h.record("show")
	if h.failShow {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (h *recordingHandler) HideSplash() error     { h.record("hide"); return nil }
func (h *recordingHandler) Error() error          { h.record("error"); return nil }
func (h *recordingHandler) NewRoot(p string) error { h.record("newroot:" + p); return nil }
func (h *recordingHandler) Quit() error           { h.record("quit"); return nil }

func (h *recordingHandler) AskForPassword(reply func(string, bool)) error {
	h.mu.Lock()
	h.pendingReply = reply
	h.mu.Unlock()
	h.record("ask")
	return nil
}

func startTestServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boot.sock")
	s := NewServer(Config{
		Handler:      handler,
		SocketPath:   path,
		AllowNonRoot: true,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, path
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func sendRequest(t *testing.T, conn net.Conn, command byte, arg string) {
	t.Helper()
	frame := []byte{command, 0}
	if arg != "" {
		frame[1] = argumentFollows
		frame = append(frame, byte(len(arg)+1))
		frame = append(frame, arg...)
		frame = append(frame, 0)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func readByte(t *testing.T, conn net.Conn) byte {
	t.Helper()
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return b[0]
}

// ---------------------------------------------------------------------------
// Protocol tests
// ---------------------------------------------------------------------------

func TestPingAck(t *testing.T) {
	_, path := startTestServer(t, &recordingHandler{})
	conn := dial(t, path)
	sendRequest(t, conn, RequestPing, "")
	if got := readByte(t, conn); got != ResponseAck {
		t.Errorf("ping response = %#x, want ACK", got)
	}
}

func TestBootSequenceRoundtrip(t *testing.T) {
	h := &recordingHandler{}
	_, path := startTestServer(t, h)
	conn := dial(t, path)

	steps := []struct {
		command byte
		arg     string
	}{
		{RequestSystemInitialized, ""},
		{RequestShowSplash, ""},
		{RequestUpdateStatus, "foo"},
		{RequestUpdateStatus, "bar"},
		{RequestNewRoot, "/sysroot"},
		{RequestQuit, ""},
	}
	for _, step := range steps {
		sendRequest(t, conn, step.command, step.arg)
		// Exactly one response byte arrives before the next request is
		// served.
		if got := readByte(t, conn); got != ResponseAck {
			t.Fatalf("command %c response = %#x, want ACK", step.command, got)
		}
	}

	want := []string{"init", "show", "status", "status", "newroot:/sysroot", "quit"}
	got := h.Events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
	if h.statuses[0] != "foo" || h.statuses[1] != "bar" {
		t.Errorf("statuses = %v", h.statuses)
	}
}

func TestBackendErrorNak(t *testing.T) {
	h := &recordingHandler{failShow: true}
	_, path := startTestServer(t, h)
	conn := dial(t, path)

	sendRequest(t, conn, RequestShowSplash, "")
	if got := readByte(t, conn); got != ResponseNak {
		t.Errorf("failing show response = %#x, want NAK", got)
	}
	// The connection survives a NAK.
	sendRequest(t, conn, RequestPing, "")
	if got := readByte(t, conn); got != ResponseAck {
		t.Errorf("ping after NAK = %#x, want ACK", got)
	}
}

func TestPasswordAnswerRoundtrip(t *testing.T) {
	h := &recordingHandler{}
	_, path := startTestServer(t, h)
	conn := dial(t, path)

	sendRequest(t, conn, RequestPassword, "")

	// The server holds the connection until the prompt is fulfilled.
	var reply func(string, bool)
	for i := 0; i < 100; i++ {
		h.mu.Lock()
		reply = h.pendingReply
		h.mu.Unlock()
		if reply != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if reply == nil {
		t.Fatal("password prompt never reached the handler")
	}
	reply("pass", true)

	if got := readByte(t, conn); got != ResponseAnswer {
		t.Fatalf("answer type = %#x, want 0x02", got)
	}
	if got := readByte(t, conn); got != 4 {
		t.Fatalf("answer length = %d, want 4", got)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "pass" {
		t.Errorf("answer payload = %q, want pass", buf)
	}
}

func TestPasswordCachedAnswerPack(t *testing.T) {
	h := &recordingHandler{}
	s, path := startTestServer(t, h)
	s.mu.Lock()
	s.cachedAnswers = []string{"first", "second"}
	s.mu.Unlock()

	conn := dial(t, path)
	sendRequest(t, conn, RequestPassword, "")
	if got := readByte(t, conn); got != ResponseAnswer {
		t.Fatalf("cached answer type = %#x", got)
	}
	n := int(readByte(t, conn))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "first\x00second" {
		t.Errorf("answer pack = %q, want NUL-separated pack", buf)
	}
	// No new prompt was raised.
	for _, e := range h.Events() {
		if e == "ask" {
			t.Error("cached answers still raised a prompt")
		}
	}
}

func TestPasswordCancelledNoAnswer(t *testing.T) {
	h := &recordingHandler{}
	_, path := startTestServer(t, h)
	conn := dial(t, path)

	sendRequest(t, conn, RequestPassword, "")
	var reply func(string, bool)
	for i := 0; i < 100 && reply == nil; i++ {
		h.mu.Lock()
		reply = h.pendingReply
		h.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	if reply == nil {
		t.Fatal("prompt never arrived")
	}
	reply("", false)
	if got := readByte(t, conn); got != ResponseNoAnswer {
		t.Errorf("cancelled answer = %#x, want no-answer", got)
	}
}

func TestUnknownCommandNak(t *testing.T) {
	_, path := startTestServer(t, &recordingHandler{})
	conn := dial(t, path)
	sendRequest(t, conn, 'Z', "")
	if got := readByte(t, conn); got != ResponseNak {
		t.Errorf("unknown command response = %#x, want NAK", got)
	}
}

func TestTwoConnectionsInterleave(t *testing.T) {
	h := &recordingHandler{}
	_, path := startTestServer(t, h)
	a := dial(t, path)
	b := dial(t, path)

	sendRequest(t, a, RequestUpdateStatus, "from-a")
	if readByte(t, a) != ResponseAck {
		t.Fatal("conn a not acked")
	}
	sendRequest(t, b, RequestUpdateStatus, "from-b")
	if readByte(t, b) != ResponseAck {
		t.Fatal("conn b not acked")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.statuses) != 2 {
		t.Errorf("statuses = %v, want 2 entries", h.statuses)
	}
}
