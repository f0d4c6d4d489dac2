package theme

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
)

// stubTheme is the minimal registrable theme.
type stubTheme struct {
	Base
	name string
	cfg  Config
}

func (s *stubTheme) Name() string { return s.name }
func (s *stubTheme) Show(*eventloop.Loop, *bytes.Buffer, Mode) error {
	return nil
}
func (s *stubTheme) Hide(*eventloop.Loop)            {}
func (s *stubTheme) OnBootProgress(float64, float64) {}

var stubCounter int

func registerStub(t *testing.T) string {
	t.Helper()
	stubCounter++
	name := fmt.Sprintf("stub-%d", stubCounter)
	Register(name, func(cfg Config) (Theme, error) {
		return &stubTheme{name: name, cfg: cfg}, nil
	})
	return name
}

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegisterAndNew(t *testing.T) {
	name := registerStub(t)
	th, err := New(name, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if th.Name() != name {
		t.Errorf("Name = %q, want %q", th.Name(), name)
	}
}

func TestNewUnknownModule(t *testing.T) {
	if _, err := New("no-such-module", Config{}); err == nil {
		t.Error("unknown module instantiated")
	}
}

func TestLookupCaseInsensitive(t *testing.T) {
	name := registerStub(t)
	if _, ok := Lookup(name); !ok {
		t.Error("exact lookup failed")
	}
	upper := []byte(name)
	upper[0] = upper[0] - 'a' + 'A'
	if _, ok := Lookup(string(upper)); !ok {
		t.Error("case-insensitive lookup failed")
	}
}

// ---------------------------------------------------------------------------
// Manifest tests
// ---------------------------------------------------------------------------

func writeTheme(t *testing.T, root, name, module, extra string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := fmt.Sprintf("[Plymouth Theme]\nName=%s\nModuleName=%s\n%s", name, module, extra)
	path := filepath.Join(dir, name+".plymouth")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	root := t.TempDir()
	path := writeTheme(t, root, "glow", "script",
		"\n[script]\nScriptFile=glow.script\n")
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Name != "glow" || m.Module != "script" {
		t.Errorf("manifest = %+v", m)
	}
	if want := filepath.Join(root, "glow", "glow.script"); m.ScriptFile != want {
		t.Errorf("ScriptFile = %q, want %q", m.ScriptFile, want)
	}
}

func TestLoadManifestMissingModule(t *testing.T) {
	root := t.TempDir()
	path := writeTheme(t, root, "broken", "", "")
	if _, err := LoadManifest(path); err == nil {
		t.Error("manifest without ModuleName accepted")
	}
}

func TestLoadResolvesManifestThenBuiltin(t *testing.T) {
	module := registerStub(t)
	root := t.TempDir()
	writeTheme(t, root, "branded", module, "")

	// Manifest resolution: the theme directory flows into the config.
	th, err := Load("branded", []string{root}, Config{})
	if err != nil {
		t.Fatalf("Load via manifest: %v", err)
	}
	if got := th.(*stubTheme).cfg.ThemeDir; got != filepath.Join(root, "branded") {
		t.Errorf("ThemeDir = %q", got)
	}

	// Built-in fallback: no manifest anywhere, module name direct.
	th, err = Load(module, []string{root}, Config{})
	if err != nil {
		t.Fatalf("Load builtin: %v", err)
	}
	if th.Name() != module {
		t.Errorf("builtin Name = %q, want %q", th.Name(), module)
	}
}

func TestLoadUnknownTheme(t *testing.T) {
	if _, err := Load("missing", []string{t.TempDir()}, Config{}); err == nil {
		t.Error("missing theme loaded")
	}
}

// ---------------------------------------------------------------------------
// Base tests
// ---------------------------------------------------------------------------

func TestBaseSeatBookkeeping(t *testing.T) {
	var b Base
	s1 := seat.New(nil, nil)
	s2 := seat.New(nil, nil)
	b.AttachToSeat(s1)
	b.AttachToSeat(s1) // duplicate attach is a no-op
	b.AttachToSeat(s2)
	if len(b.Seats()) != 2 {
		t.Fatalf("seats = %d, want 2", len(b.Seats()))
	}
	b.DetachFromSeat(s1)
	if len(b.Seats()) != 1 || b.Seats()[0] != s2 {
		t.Errorf("detach left %v", b.Seats())
	}
}

func TestBaseBecomeIdleFiresTrigger(t *testing.T) {
	var b Base
	fired := false
	b.BecomeIdle(func() { fired = true })
	if !fired {
		t.Error("trigger not fired")
	}
}
