// Package config reads the daemon's settings: the INI configuration
// files and the kernel command line.
package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// Default file locations. The distribution defaults file loses to the
// system configuration on every key.
const (
	DefaultConfigPath   = "/etc/boot-pulse/boot-pulsed.conf"
	DefaultDefaultsPath = "/usr/share/boot-pulse/boot-pulsed.defaults"
	DefaultThemeDir     = "/usr/share/boot-pulse/themes"
	DefaultRuntimeDir   = "/run/boot-pulse"
	DefaultCacheDir     = "/var/lib/boot-pulse"
)

// Settings are the daemon-level keys from the [Daemon] section.
type Settings struct {
	// Theme is the configured theme name; empty means unset.
	Theme string
	// ShowDelay defers the splash by this many seconds.
	ShowDelay float64
	// ShowDelaySet distinguishes an explicit zero from an absent key.
	ShowDelaySet bool
}

// Load reads the distribution defaults and the system configuration,
// with the system file overriding per key. Missing files fail open to
// whatever the other layer provides.
func Load(confPath, defaultsPath string) (*Settings, error) {
	s := &Settings{}
	for _, path := range []string{defaultsPath, confPath} {
		if path == "" {
			continue
		}
		if err := s.merge(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// merge folds one file's [Daemon] section into s. A missing file is
// skipped; a malformed one is an error.
func (s *Settings) merge(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	file, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	section := file.Section("Daemon")
	if key := section.Key("Theme"); key.String() != "" {
		s.Theme = key.String()
	}
	if key := section.Key("ShowDelay"); key.String() != "" {
		delay, err := key.Float64()
		if err != nil {
			return fmt.Errorf("%s: bad ShowDelay: %w", path, err)
		}
		s.ShowDelay = delay
		s.ShowDelaySet = true
	}
	return nil
}
