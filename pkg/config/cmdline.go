package config

import (
	"os"
	"strconv"
	"strings"
)

// CommandLine is a parsed kernel command line.
type CommandLine struct {
	args []string
}

// ParseCommandLine splits a kernel command line into arguments.
func ParseCommandLine(raw string) *CommandLine {
	return &CommandLine{args: strings.Fields(raw)}
}

// ReadCommandLine loads /proc/cmdline.
func ReadCommandLine() (*CommandLine, error) {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return nil, err
	}
	return ParseCommandLine(string(data)), nil
}

// HasArgument reports whether key appears, bare or with a value.
func (cl *CommandLine) HasArgument(key string) bool {
	for _, arg := range cl.args {
		if arg == key || strings.HasPrefix(arg, key+"=") {
			return true
		}
	}
	return false
}

// GetString returns the value of key=value, and whether the key appeared
// at all. A bare key yields an empty value.
func (cl *CommandLine) GetString(key string) (string, bool) {
	for _, arg := range cl.args {
		if arg == key {
			return "", true
		}
		if strings.HasPrefix(arg, key+"=") {
			return arg[len(key)+1:], true
		}
	}
	return "", false
}

// option looks a splash daemon option up under both accepted spellings,
// "plymouth.<name>" and "plymouth:<name>".
func (cl *CommandLine) option(name string) (string, bool) {
	if v, ok := cl.GetString("plymouth." + name); ok {
		return v, ok
	}
	return cl.GetString("plymouth:" + name)
}

// Options are the splash-relevant signals extracted from the kernel
// command line.
type Options struct {
	// ShowSplash is the kernel's verdict: splash/rhgb allow it, runlevel
	// escapes and init= overrides veto it, force-splash wins outright.
	ShowSplash bool
	// ForceSplash shows the splash regardless of vetoes.
	ForceSplash bool
	// IgnoreShowSplash drops straight to details on show requests.
	IgnoreShowSplash bool

	Theme          string
	SplashDelay    float64
	SplashDelaySet bool

	Debug       bool
	DebugFile   string
	DebugStream string
	NoLog       bool

	IgnoreSerialConsoles bool
	IgnoreUdev           bool
}

// Options interprets the command line.
func (cl *CommandLine) Options() Options {
	var o Options

	o.ForceSplash = cl.optionPresent("force-splash")
	o.IgnoreShowSplash = cl.optionPresent("ignore-show-splash")
	o.NoLog = cl.optionPresent("nolog")
	o.IgnoreSerialConsoles = cl.optionPresent("ignore-serial-consoles")
	o.IgnoreUdev = cl.optionPresent("ignore-udev")

	if v, ok := cl.option("splash"); ok {
		o.Theme = v
	}
	if v, ok := cl.option("splash-delay"); ok {
		if delay, err := strconv.ParseFloat(v, 64); err == nil {
			o.SplashDelay = delay
			o.SplashDelaySet = true
		}
	}
	if v, ok := cl.option("debug"); ok {
		o.Debug = true
		switch {
		case strings.HasPrefix(v, "file:"):
			o.DebugFile = v[len("file:"):]
		case strings.HasPrefix(v, "stream:"):
			o.DebugStream = v[len("stream:"):]
		}
	}

	// The kernel's own tokens: splash/rhgb opt in, splash=verbose opts
	// out, single-user runlevels and a replaced init veto.
	allow := false
	if v, ok := cl.GetString("splash"); ok {
		allow = v != "verbose"
	}
	if cl.HasArgument("rhgb") {
		allow = true
	}
	veto := cl.HasArgument("single") || cl.HasArgument("1") || cl.HasArgument("s") ||
		cl.HasArgument("init")
	o.ShowSplash = o.ForceSplash || (allow && !veto)
	return o
}

func (cl *CommandLine) optionPresent(name string) bool {
	_, ok := cl.option(name)
	return ok
}
