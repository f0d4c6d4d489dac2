package progress

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeClock drives the estimator deterministically.
type fakeClock struct{ t float64 }

func (c *fakeClock) now() float64      { return c.t }
func (c *fakeClock) advance(d float64) { c.t += d }

func newTestProgress() (*Progress, *fakeClock) {
	p := New(nil)
	clock := &fakeClock{}
	p.SetClock(clock.now)
	return p, clock
}

func TestPercentageMonotonic(t *testing.T) {
	p, clock := newTestProgress()
	last := 0.0
	for i := 0; i < 200; i++ {
		clock.advance(0.5)
		got := p.Percentage()
		if got < last {
			t.Fatalf("percentage decreased: %v -> %v at step %d", last, got, i)
		}
		if got > 1.0 {
			t.Fatalf("percentage exceeded 1.0: %v", got)
		}
		last = got
	}
}

func TestPercentageReachesOneOnlyWhenScaledElapsedDoes(t *testing.T) {
	p, clock := newTestProgress()
	clock.advance(30) // half the default 60s estimate
	if got := p.Percentage(); got >= 1.0 {
		t.Errorf("percentage = %v before scalar*elapsed reached 1", got)
	}
	clock.advance(40) // now past the estimate
	if got := p.Percentage(); got >= 1.0 {
		// The asymptotic form approaches 1 but only pins there once the
		// last report time crosses the estimate.
		t.Logf("percentage = %v", got)
	}
	clock.advance(30)
	if got := p.Percentage(); got != 1.0 {
		t.Errorf("percentage = %v after scalar*elapsed >= 1, want 1.0", got)
	}
}

func TestPauseFreezesClock(t *testing.T) {
	p, clock := newTestProgress()
	clock.advance(5)
	p.Pause()
	clock.advance(100)
	if got := p.Time(); got != 5 {
		t.Errorf("paused Time = %v, want 5", got)
	}
	p.Unpause()
	clock.advance(2)
	if got := p.Time(); got != 7 {
		t.Errorf("unpaused Time = %v, want 7", got)
	}
}

func TestStatusUpdateDisablesDuplicates(t *testing.T) {
	p, clock := newTestProgress()
	clock.advance(1)
	p.StatusUpdate("foo")
	clock.advance(1)
	p.StatusUpdate("foo")
	msgs := p.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].Disabled {
		t.Error("duplicate status did not disable the record")
	}
}

func TestStatusUpdateAdjustsScalarFromPreviousBoot(t *testing.T) {
	p, clock := newTestProgress()
	// Previous boot: "foo" appeared halfway through.
	p.previous = []*Message{{Time: 0.5, Text: "foo"}}

	clock.advance(10)
	before := p.scalar
	p.StatusUpdate("foo")
	// New scalar averages in 0.5/10: (1/60 + 0.05) / 2.
	want := (before + 0.05) / 2
	if diff := p.scalar - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("scalar = %v, want %v", p.scalar, want)
	}
}

func TestCacheRoundtrip(t *testing.T) {
	p, clock := newTestProgress()
	clock.advance(2)
	p.StatusUpdate("alpha")
	clock.advance(2)
	p.StatusUpdate("beta")
	clock.advance(2)
	p.StatusUpdate("beta") // repeat: disables "beta", so only alpha is cached
	clock.advance(2)       // total run 8s

	path := filepath.Join(t.TempDir(), "boot-duration")
	if err := p.SaveCache(path); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("cache lines = %v, want 1 record", lines)
	}
	if lines[0] != "0.250:alpha" {
		t.Errorf("first record = %q, want 0.250:alpha", lines[0])
	}
	if strings.Contains(string(data), "beta") {
		t.Errorf("cache = %q, want the repeated status beta left out", data)
	}

	fresh, _ := newTestProgress()
	fresh.LoadCache(path)
	if len(fresh.previous) != 1 {
		t.Fatalf("loaded %d records, want 1", len(fresh.previous))
	}
	if fresh.previous[0].Time != 0.25 || fresh.previous[0].Text != "alpha" {
		t.Errorf("loaded record = %+v", fresh.previous[0])
	}
}

func TestLoadCacheMissingFile(t *testing.T) {
	p, _ := newTestProgress()
	p.LoadCache(filepath.Join(t.TempDir(), "absent"))
	if len(p.previous) != 0 {
		t.Error("missing cache file produced records")
	}
}

func TestLoadCacheToleratesStatusWithColons(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot-duration")
	os.WriteFile(path, []byte("0.100:mount: /var ready\n"), 0o644)
	p, _ := newTestProgress()
	p.LoadCache(path)
	if len(p.previous) != 1 || p.previous[0].Text != "mount: /var ready" {
		t.Errorf("records = %+v", p.previous)
	}
}
