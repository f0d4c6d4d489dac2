// boot-pulsed is the boot-time and shutdown-time splash daemon.
//
// It presents graphical or textual feedback while the init sequence
// runs, listens on an abstract Unix control socket for boot-protocol
// messages from init and other privileged clients, and multiplexes that
// feedback across every framebuffer, DRM display, and serial console
// the machine exposes.
//
// Usage:
//
//	boot-pulsed [flags]
//
// Flags:
//
//	--attach-to-session        Capture the invoking session's output into the boot log
//	--no-daemon                Stay in the foreground
//	--debug                    Log at debug level
//	--debug-file <path>        Also write the log to a file
//	--mode={boot|shutdown|updates}
//	--pid-file <path>          Write a PID file
//	--kernel-command-line <s>  Use s instead of /proc/cmdline (for testing)
//	--tty <name>               Local console terminal to manage
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/bootserver"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/config"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/daemon"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/device"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/render"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/splash"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/terminal"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"

	_ "gitlab.com/tinyland/lab/boot-pulse/pkg/themes/details"
	_ "gitlab.com/tinyland/lab/boot-pulse/pkg/themes/fade"
	_ "gitlab.com/tinyland/lab/boot-pulse/pkg/themes/scripted"
	_ "gitlab.com/tinyland/lab/boot-pulse/pkg/themes/spinfinity"
	_ "gitlab.com/tinyland/lab/boot-pulse/pkg/themes/textpulse"
)

var version = "0.9.0"

// BSD sysexits codes, so init scripts can tell usage errors from
// environment failures.
const (
	exOK          = 0
	exUsage       = 64
	exUnavailable = 69
	exOSErr       = 71
)

type daemonFlags struct {
	attachToSession   bool
	noDaemon          bool
	debug             bool
	debugFile         string
	mode              string
	pidFile           string
	kernelCommandLine string
	tty               string
	showVersion       bool
}

func main() {
	flags := &daemonFlags{}
	root := &cobra.Command{
		Use:           "boot-pulsed",
		Short:         "boot splash daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.showVersion {
				fmt.Printf("boot-pulsed %s\n", version)
				return nil
			}
			return runDaemon(flags)
		},
	}
	root.Flags().BoolVar(&flags.attachToSession, "attach-to-session", false,
		"Capture the invoking session's output into the boot log")
	root.Flags().BoolVar(&flags.noDaemon, "no-daemon", false, "Stay in the foreground")
	root.Flags().BoolVar(&flags.debug, "debug", false, "Log at debug level")
	root.Flags().StringVar(&flags.debugFile, "debug-file", "", "Also write the log to this file")
	root.Flags().StringVar(&flags.mode, "mode", "boot", "boot, shutdown, or updates")
	root.Flags().StringVar(&flags.pidFile, "pid-file", "", "Write a PID file here")
	root.Flags().StringVar(&flags.kernelCommandLine, "kernel-command-line", "",
		"Use this instead of /proc/cmdline")
	root.Flags().StringVar(&flags.tty, "tty", "", "Local console terminal to manage")
	root.Flags().BoolVar(&flags.showVersion, "version", false, "Print version and exit")

	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "boot-pulsed: %v\n", err)
		os.Exit(exUsage)
	}
}

func parseMode(s string) (theme.Mode, error) {
	switch s {
	case "boot", "":
		return theme.ModeBootUp, nil
	case "shutdown":
		return theme.ModeShutdown, nil
	case "updates":
		return theme.ModeUpdates, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func runDaemon(flags *daemonFlags) error {
	mode, err := parseMode(flags.mode)
	if err != nil {
		return err
	}

	// Kernel command line: the test override wins, else /proc/cmdline.
	var cmdline *config.CommandLine
	if flags.kernelCommandLine != "" {
		cmdline = config.ParseCommandLine(flags.kernelCommandLine)
	} else if cmdline, err = config.ReadCommandLine(); err != nil {
		cmdline = config.ParseCommandLine("")
	}
	kernelOpts := cmdline.Options()

	// Configuration layers, kept separate so the theme fallback chain
	// can tell the system choice from the distribution default.
	systemSettings, err := config.Load(config.DefaultConfigPath, "")
	if err != nil {
		slog.Warn("system configuration unreadable, using defaults", "error", err)
		systemSettings = &config.Settings{}
	}
	distroSettings, err := config.Load("", config.DefaultDefaultsPath)
	if err != nil {
		distroSettings = &config.Settings{}
	}

	logLevel := new(slog.LevelVar)
	if flags.debug || kernelOpts.Debug {
		logLevel.Set(slog.LevelDebug)
	}
	debugFile := flags.debugFile
	if debugFile == "" {
		debugFile = kernelOpts.DebugFile
	}
	var sink io.Writer = os.Stderr
	if debugFile != "" {
		if f, err := os.OpenFile(debugFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			defer f.Close()
			sink = io.MultiWriter(os.Stderr, f)
		}
	}
	debugRing := daemon.NewDebugBuffer(
		slog.NewTextHandler(sink, &slog.HandlerOptions{Level: logLevel}), 0)
	logger := slog.New(debugRing)
	slog.SetDefault(logger)

	// Non-recoverable startup failures must reach the foreground
	// wrapper, so the handshake happens before any of them can occur.
	if !flags.noDaemon {
		if _, err := daemon.Daemonize(); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
	}

	exitCode, err := runDaemonLoop(flags, mode, kernelOpts, systemSettings, distroSettings, logger, debugRing, logLevel)
	if err != nil {
		// The foreground wrapper is still waiting on the handshake, so
		// it sees the failure synchronously.
		daemon.ReportFailure(exUnavailable)
		color.New(color.FgRed).Fprintf(os.Stderr, "boot-pulsed: %v\n", err)
		os.Exit(exOSErr)
	}
	os.Exit(exitCode)
	return nil
}

func runDaemonLoop(
	flags *daemonFlags,
	mode theme.Mode,
	kernelOpts config.Options,
	systemSettings, distroSettings *config.Settings,
	logger *slog.Logger,
	debugRing *daemon.DebugBuffer,
	logLevel *slog.LevelVar,
) (int, error) {
	if flags.pidFile != "" {
		if err := daemon.AcquirePID(flags.pidFile); err != nil {
			return 0, err
		}
		defer daemon.ReleasePID(flags.pidFile)
	}

	loop, err := eventloop.New()
	if err != nil {
		return 0, fmt.Errorf("event loop: %w", err)
	}
	defer loop.Close()

	// The local console terminal: saved palette and attributes, raw
	// keystrokes, Ctrl-V trace toggling.
	ttyName := flags.tty
	if ttyName == "" {
		ttyName = terminal.DefaultDevice
	}
	console := terminal.New(ttyName, logger)
	if err := console.Open(); err != nil {
		logger.Warn("local console unavailable", "tty", ttyName, "error", err)
		console = nil
	} else {
		defer console.Close()
		_ = console.SetUnbufferedInput()
		console.WatchForResize(loop, nil)
		console.SetTraceToggleHandler(func() {
			if logLevel.Level() == slog.LevelDebug {
				logLevel.Set(slog.LevelInfo)
			} else {
				logLevel.Set(slog.LevelDebug)
			}
			logger.Info("trace toggled", "level", logLevel.Level().String())
		})
	}

	daemon.InstallCrashHandler(daemon.CrashConfig{
		Logger:     logger,
		Buffer:     debugRing,
		RuntimeDir: config.DefaultRuntimeDir,
		PIDFile:    flags.pidFile,
		RestoreConsole: func() {
			if console != nil {
				_ = console.Close()
			}
		},
	})

	manager := device.NewManager(device.Config{
		Logger:               logger,
		Loop:                 loop,
		LocalConsole:         console,
		IgnoreSerialConsoles: kernelOpts.IgnoreSerialConsoles,
		IgnoreHotplug:        kernelOpts.IgnoreUdev,
		Backend:              render.BackendAuto,
	})

	cacheName := "boot-duration"
	if mode == theme.ModeShutdown {
		cacheName = "shutdown-duration"
	}
	splashDelay := kernelOpts.SplashDelay
	if !kernelOpts.SplashDelaySet && systemSettings.ShowDelaySet {
		splashDelay = systemSettings.ShowDelay
	}

	orchestrator, err := splash.New(splash.Options{
		Logger:           logger,
		Loop:             loop,
		Manager:          manager,
		Mode:             mode,
		ThemeOverride:    kernelOpts.Theme,
		SystemTheme:      systemSettings.Theme,
		DistroTheme:      distroSettings.Theme,
		ThemeSearchPaths: []string{config.DefaultThemeDir},
		ShouldShowSplash: kernelOpts.ShowSplash,
		IgnoreShowSplash: kernelOpts.IgnoreShowSplash,
		SplashDelay:      splashDelay,
		BootDurationPath: filepath.Join(config.DefaultCacheDir, cacheName),
	})
	if err != nil {
		return 0, err
	}

	server := bootserver.NewServer(bootserver.Config{
		Logger:  logger,
		Handler: orchestrator,
		Loop:    loop,
	})
	if err := server.Start(); err != nil {
		return 0, err
	}
	defer server.Stop()

	if err := manager.ScanSeats(); err != nil {
		return 0, fmt.Errorf("seat discovery: %w", err)
	}
	defer manager.Close()

	// Boot session capture: whatever init writes through us lands in
	// the boot log for the details view.
	if flags.attachToSession {
		loop.WatchFd(int(os.Stdin.Fd()), eventloop.FdReadable, func(eventloop.FdEvents) {
			buf := make([]byte, 4096)
			n, _ := unix.Read(int(os.Stdin.Fd()), buf)
			if n > 0 {
				orchestrator.AddBootOutput(buf[:n])
			}
		}, nil)
	}

	for _, sig := range []os.Signal{unix.SIGTERM, unix.SIGINT} {
		loop.WatchSignal(sig, func() {
			logger.Info("shutdown signal received")
			orchestrator.QuitSplash(false)
		})
	}

	logger.Info("boot-pulse daemon ready",
		"mode", mode.String(),
		"themes", theme.Modules(),
	)
	daemon.ReportReady()

	return loop.Run(), nil
}
