package bootserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
)

// Config assembles a Server.
type Config struct {
	Logger  *slog.Logger
	Handler Handler

	// Loop, when set, is where handler callbacks run; connection
	// goroutines block until the loop serves them. Without a loop the
	// handler is called inline (tests).
	Loop *eventloop.Loop

	// SocketPath overrides the abstract default, mainly for tests.
	SocketPath string

	// AllowNonRoot disables the peer credential check, for tests.
	AllowNonRoot bool
}

// Server owns the listener, the connection set, and the cached answers.
type Server struct {
	cfg    Config
	logger *slog.Logger

	listener net.Listener
	group    errgroup.Group
	done     chan struct{}

	mu            sync.Mutex
	cachedAnswers []string
}

// NewServer creates a server; call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = SocketPath
	}
	return &Server{cfg: cfg, logger: cfg.Logger, done: make(chan struct{})}
}

// Start binds the control socket and begins serving connections, each on
// its own goroutine. Handler callbacks are marshalled onto the event
// loop, so per-connection ordering is request, response, next request.
func (s *Server) Start() error {
	name := s.cfg.SocketPath
	if strings.HasPrefix(name, "\x00") {
		// Go's net package spells the abstract namespace with "@".
		name = "@" + name[1:]
	}
	ln, err := net.Listen("unix", name)
	if err != nil {
		return fmt.Errorf("listen on boot protocol socket: %w", err)
	}
	s.listener = ln
	s.group.Go(s.acceptLoop)
	return nil
}

// Stop closes the listener and waits for connections to drain.
func (s *Server) Stop() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	_ = s.group.Wait()
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}
		s.group.Go(func() error {
			s.serveConn(conn)
			return nil
		})
	}
}

// call runs fn on the loop thread and waits for its result.
func (s *Server) call(fn func() error) error {
	if s.cfg.Loop == nil {
		return fn()
	}
	result := make(chan error, 1)
	s.cfg.Loop.Post(func() { result <- fn() })
	return <-result
}

// connIsFromRoot checks SO_PEERCRED on the connection.
func (s *Server) connIsFromRoot(conn net.Conn) bool {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return false
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return false
	}
	return credErr == nil && cred != nil && cred.Uid == 0
}

// serveConn processes requests until the client disconnects or breaks
// framing. A framing error closes only this connection.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	isRoot := s.cfg.AllowNonRoot || s.connIsFromRoot(conn)

	for {
		command, argument, err := readRequest(conn)
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("connection dropped", "error", err)
			}
			return
		}

		// Credentials are checked on every request; non-root clients get
		// NAK and nothing else happens.
		if !isRoot {
			s.writeByte(conn, ResponseNak)
			continue
		}

		if command == RequestPassword {
			s.servePassword(conn)
			continue
		}

		err = s.dispatch(command, argument)
		if err != nil {
			s.logger.Warn("command failed", "command", string(command), "error", err)
			s.writeByte(conn, ResponseNak)
			continue
		}
		s.writeByte(conn, ResponseAck)
	}
}

func (s *Server) dispatch(command byte, argument string) error {
	h := s.cfg.Handler
	switch command {
	case RequestPing:
		return nil
	case RequestUpdateStatus:
		return s.call(func() error { return h.UpdateStatus(argument) })
	case RequestSystemInitialized:
		return s.call(h.SystemInitialized)
	case RequestShowSplash:
		return s.call(h.ShowSplash)
	case RequestHideSplash:
		return s.call(h.HideSplash)
	case RequestError:
		return s.call(h.Error)
	case RequestNewRoot:
		return s.call(func() error { return h.NewRoot(argument) })
	case RequestQuit:
		return s.call(h.Quit)
	default:
		return fmt.Errorf("unknown command %#x", command)
	}
}

// servePassword answers an ask-password request. Previously answered
// passwords short-circuit: the whole pack is returned NUL-separated
// without prompting again. Otherwise the connection is held open until
// the orchestrator fulfils or cancels the prompt.
func (s *Server) servePassword(conn net.Conn) {
	s.mu.Lock()
	cached := append([]string(nil), s.cachedAnswers...)
	s.mu.Unlock()
	if len(cached) > 0 {
		writeAnswer(conn, strings.Join(cached, "\x00"))
		return
	}

	type answer struct {
		text string
		ok   bool
	}
	answers := make(chan answer, 1)
	err := s.call(func() error {
		return s.cfg.Handler.AskForPassword(func(password string, ok bool) {
			answers <- answer{text: password, ok: ok}
		})
	})
	if err != nil {
		s.logger.Warn("password request failed", "error", err)
		s.writeByte(conn, ResponseNak)
		return
	}

	a := <-answers
	if !a.ok {
		s.writeByte(conn, ResponseNoAnswer)
		return
	}
	s.mu.Lock()
	s.cachedAnswers = append(s.cachedAnswers, a.text)
	s.mu.Unlock()
	writeAnswer(conn, a.text)
}

// readRequest decodes one framed request: command byte, argument flag,
// then an optional length-prefixed argument.
func readRequest(r io.Reader) (byte, string, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, "", fmt.Errorf("truncated request header")
		}
		return 0, "", err
	}
	if header[1] != argumentFollows {
		return header[0], "", nil
	}
	var size [1]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return 0, "", fmt.Errorf("truncated argument length: %w", err)
	}
	arg := make([]byte, size[0])
	if _, err := io.ReadFull(r, arg); err != nil {
		return 0, "", fmt.Errorf("truncated argument: %w", err)
	}
	// Arguments arrive NUL-terminated from C clients.
	return header[0], strings.TrimRight(string(arg), "\x00"), nil
}

func (s *Server) writeByte(conn net.Conn, b byte) {
	if _, err := conn.Write([]byte{b}); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func writeAnswer(conn net.Conn, text string) {
	if len(text) > 255 {
		text = text[:255]
	}
	frame := make([]byte, 0, len(text)+2)
	frame = append(frame, ResponseAnswer, byte(len(text)))
	frame = append(frame, text...)
	_, _ = conn.Write(frame)
}
