package theme

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Manifest is a parsed <theme>/<theme>.plymouth file.
type Manifest struct {
	Name       string
	Module     string
	ScriptFile string
	Dir        string
}

// LoadManifest parses a theme manifest. The [Plymouth Theme] section
// names the theme and its module; script-driven themes add a
// [<module>] section with a ScriptFile key.
func LoadManifest(path string) (*Manifest, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load theme manifest %s: %w", path, err)
	}
	section := file.Section("Plymouth Theme")
	m := &Manifest{
		Name:   section.Key("Name").String(),
		Module: section.Key("ModuleName").String(),
		Dir:    filepath.Dir(path),
	}
	if m.Module == "" {
		return nil, fmt.Errorf("theme manifest %s: missing ModuleName", path)
	}
	script := file.Section(m.Module).Key("ScriptFile").String()
	if script != "" && !filepath.IsAbs(script) {
		script = filepath.Join(m.Dir, script)
	}
	m.ScriptFile = script
	return m, nil
}

// Load resolves a theme by name: the manifest at
// <dir>/<name>/<name>.plymouth under the first matching search path
// wins, then the name is tried as a registered built-in module.
func Load(name string, searchPaths []string, cfg Config) (Theme, error) {
	for _, dir := range searchPaths {
		path := filepath.Join(dir, name, name+".plymouth")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		manifest, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		factory, ok := Lookup(manifest.Module)
		if !ok {
			return nil, fmt.Errorf("theme %q wants unknown module %q", name, manifest.Module)
		}
		cfg.ThemeDir = manifest.Dir
		if cfg.ScriptFile == "" {
			cfg.ScriptFile = manifest.ScriptFile
		}
		return factory(cfg)
	}
	return New(name, cfg)
}
