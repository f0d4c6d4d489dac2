//go:build linux

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// handshakeEnv carries the report pipe fd into the re-executed child.
const handshakeEnv = "BOOT_PULSE_HANDSHAKE_FD"

// Daemonize re-executes the process in the background and blocks the
// foreground parent until the child reports readiness or a failure exit
// code over a pipe. The parent exits with the reported code, so init
// scripts see startup failures synchronously.
//
// Returns handedOff=true in the child, which continues as the daemon.
func Daemonize() (handedOff bool, err error) {
	if fdText := os.Getenv(handshakeEnv); fdText != "" {
		// Child side: keep the pipe for ReportReady/ReportFailure.
		return true, nil
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return false, fmt.Errorf("create handshake pipe: %w", err)
	}
	reader := os.NewFile(uintptr(fds[0]), "handshake-read")
	writer := os.NewFile(uintptr(fds[1]), "handshake-write")
	defer reader.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), handshakeEnv+"=3")
	cmd.ExtraFiles = []*os.File{writer}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		writer.Close()
		return false, fmt.Errorf("start background daemon: %w", err)
	}
	writer.Close()

	// Wait for exactly one status byte; a closed pipe without one means
	// the child died before reporting.
	var status [1]byte
	n, _ := reader.Read(status[:])
	if n == 0 {
		os.Exit(1)
	}
	os.Exit(int(status[0]))
	return false, nil
}

// handshakeFile returns the child's end of the report pipe, or nil.
func handshakeFile() *os.File {
	fdText := os.Getenv(handshakeEnv)
	if fdText == "" {
		return nil
	}
	fd, err := strconv.Atoi(fdText)
	if err != nil {
		return nil
	}
	return os.NewFile(uintptr(fd), "handshake-write")
}

// ReportReady tells the waiting parent that startup succeeded.
func ReportReady() {
	reportStatus(0)
}

// ReportFailure tells the waiting parent that startup failed with a
// sysexits code.
func ReportFailure(code int) {
	reportStatus(byte(code))
}

func reportStatus(code byte) {
	f := handshakeFile()
	if f == nil {
		return
	}
	_, _ = f.Write([]byte{code})
	f.Close()
	os.Unsetenv(handshakeEnv)
}
