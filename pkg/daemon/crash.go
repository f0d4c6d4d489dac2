//go:build linux

package daemon

import (
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// CrashConfig tells the crash handler what to clean up.
type CrashConfig struct {
	Logger *slog.Logger
	Buffer *DebugBuffer
	// RuntimeDir receives the debug dump.
	RuntimeDir string
	// PIDFile is unlinked on the way out; empty skips.
	PIDFile string
	// RestoreConsole puts the console back into text mode with sane
	// attributes before the process dies. May be nil.
	RestoreConsole func()
}

// crashSignals are the faults worth a final dump. Go's runtime turns
// most of these into panics for Go code, but cgo-free fault paths and
// external SIGABRT still land here.
var crashSignals = []os.Signal{unix.SIGABRT, unix.SIGSEGV, unix.SIGBUS, unix.SIGFPE}

// InstallCrashHandler arranges for a crashing daemon to dump the debug
// ring buffer to disk, restore the console, unlink the PID file, and
// then die by re-raising the signal with the default disposition.
func InstallCrashHandler(cfg CrashConfig) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, crashSignals...)
	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		if cfg.Buffer != nil && cfg.RuntimeDir != "" {
			if path, err := cfg.Buffer.DumpToFile(cfg.RuntimeDir); err == nil && cfg.Logger != nil {
				cfg.Logger.Error("crash detected, debug buffer dumped",
					"signal", sig, "path", path)
			}
		}
		if cfg.RestoreConsole != nil {
			cfg.RestoreConsole()
		}
		if cfg.PIDFile != "" {
			_ = ReleasePID(cfg.PIDFile)
		}
		// Re-raise with the default handler so the exit status reflects
		// the fault.
		signal.Reset(sig)
		if s, isUnix := sig.(unix.Signal); isUnix {
			_ = unix.Kill(os.Getpid(), s)
		} else {
			os.Exit(1)
		}
	}()
}
