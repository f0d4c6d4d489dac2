// Package splash is the daemon's central state machine: it owns the
// active theme, reacts to boot-protocol commands, mediates prompts
// between the boot server and the seats' keyboards, schedules animation
// ticks, and coordinates shutdown.
package splash

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/device"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/eventloop"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/progress"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/seat"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/terminal"
	"gitlab.com/tinyland/lab/boot-pulse/pkg/theme"
)

// State is the orchestrator's lifecycle position. Some conditions (a
// pending prompt, a running delay) overlay the state rather than
// replacing it.
type State int

const (
	StateStarting State = iota
	StateWaitingForSeats
	StateSplashActive
	StateDetailsActive
	StateHiding
	StateQuitting
)

// tickInterval is the 30 Hz animation cadence.
const tickInterval = time.Second / 30

// detailsThemeName is the module behind the escape toggle.
const detailsThemeName = "details"

// Options configure the orchestrator.
type Options struct {
	Logger  *slog.Logger
	Loop    *eventloop.Loop
	Manager *device.Manager

	Mode theme.Mode

	// Theme selection chain, most specific first: kernel command line
	// override, system configuration, distribution default, hard-coded
	// fallback. The built-in text theme backstops them all.
	ThemeOverride string
	SystemTheme   string
	DistroTheme   string
	FallbackTheme string

	ThemeSearchPaths []string

	// ShouldShowSplash is the kernel command line verdict; when false a
	// show request drops straight to the details view.
	ShouldShowSplash bool
	// IgnoreShowSplash drops show requests to details unconditionally.
	IgnoreShowSplash bool

	// SplashDelay defers the first show by this many seconds. A pending
	// password prompt cancels the delay immediately.
	SplashDelay float64

	// BootDurationPath is the progress cache file, loaded on root mount
	// and written on quit.
	BootDurationPath string

	// OnQuit runs after teardown finishes, before the loop exits.
	OnQuit func(retainSplash bool)
}

// answerRequest is one outstanding password or question prompt.
type answerRequest struct {
	prompt string
	reply  func(text string, ok bool)
	typed  int
}

// KeystrokeWatch fires a trigger when a keystroke matches a key set.
type KeystrokeWatch struct {
	keys    string
	trigger func(key string)
	removed bool
}

// Orchestrator wires the subsystems together.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	progress *progress.Progress
	state    State

	splashTheme  theme.Theme
	detailsTheme theme.Theme
	details      bool

	bootLog bytes.Buffer

	tick        *eventloop.TimeoutWatch
	delayWatch  *eventloop.TimeoutWatch
	showPending bool

	pendingAnswers   []*answerRequest
	keystrokeWatches []*KeystrokeWatch

	systemInitialized bool
	quitting          bool
}

// New creates the orchestrator and registers for seat lifecycle events.
func New(opts Options) (*Orchestrator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FallbackTheme == "" {
		opts.FallbackTheme = "spinfinity"
	}
	o := &Orchestrator{
		opts:     opts,
		logger:   opts.Logger,
		progress: progress.New(opts.Logger),
		state:    StateStarting,
	}
	if opts.Manager != nil {
		if err := opts.Manager.WatchSeats(o.onSeatAdded, o.onSeatRemoved); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Progress exposes the estimator, mainly for status inspection.
func (o *Orchestrator) Progress() *progress.Progress { return o.progress }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// activeTheme is whichever theme currently owns the seats.
func (o *Orchestrator) activeTheme() theme.Theme {
	if o.details {
		return o.detailsTheme
	}
	return o.splashTheme
}

// ---------------------------------------------------------------------------
// Seat lifecycle
// ---------------------------------------------------------------------------

func (o *Orchestrator) onSeatAdded(s *seat.Seat) {
	o.logger.Debug("seat attached to splash", "device", s.DevicePath())
	o.wireKeyboard(s)
	if t := o.activeTheme(); t != nil {
		t.AttachToSeat(s)
	}
	if o.showPending {
		o.showPending = false
		o.showNow()
	}
}

func (o *Orchestrator) onSeatRemoved(s *seat.Seat) {
	o.logger.Debug("seat detached from splash", "device", s.DevicePath())
	if o.splashTheme != nil {
		o.splashTheme.DetachFromSeat(s)
	}
	if o.detailsTheme != nil {
		o.detailsTheme.DetachFromSeat(s)
	}
}

// wireKeyboard routes a seat's keystrokes into the orchestrator.
func (o *Orchestrator) wireKeyboard(s *seat.Seat) {
	term := s.Keyboard()
	if term == nil {
		return
	}
	term.SetEscapeHandler(o.handleEscape)
	term.SetLineHandler(o.handleLine)
	term.SetKeystrokeHandler(o.handleKeystroke)
	term.SetBackspaceHandler(o.handleBackspace)
	term.SetCancelHandler(o.handleCancel)
	if term.IsOpen() && o.opts.Loop != nil {
		term.WatchInput(o.opts.Loop)
	}
}

// ---------------------------------------------------------------------------
// Boot protocol handlers (bootserver.Handler)
// ---------------------------------------------------------------------------

func (o *Orchestrator) UpdateStatus(status string) error {
	o.logger.Debug("status update", "status", status)
	o.progress.StatusUpdate(status)
	if t := o.activeTheme(); t != nil {
		t.UpdateStatus(status)
	}
	return nil
}

func (o *Orchestrator) SystemInitialized() error {
	o.systemInitialized = true
	return nil
}

func (o *Orchestrator) ShowSplash() error {
	if o.quitting {
		return fmt.Errorf("daemon is quitting")
	}
	if o.opts.IgnoreShowSplash || !o.opts.ShouldShowSplash {
		o.logger.Info("splash suppressed, showing details",
			"ignored", o.opts.IgnoreShowSplash)
		return o.showDetails()
	}
	if o.opts.SplashDelay > 0 && o.delayWatch == nil && o.state == StateStarting {
		o.logger.Debug("deferring splash", "delay_seconds", o.opts.SplashDelay)
		if o.opts.Loop != nil {
			o.delayWatch = o.opts.Loop.WatchTimeout(
				time.Duration(o.opts.SplashDelay*float64(time.Second)),
				func() {
					o.delayWatch = nil
					o.showNow()
				})
			return nil
		}
	}
	o.showNow()
	return nil
}

func (o *Orchestrator) HideSplash() error {
	o.hide()
	return nil
}

func (o *Orchestrator) Error() error {
	// Boot errors surface the log.
	if !o.details {
		return o.showDetails()
	}
	return nil
}

func (o *Orchestrator) NewRoot(path string) error {
	o.logger.Info("root mounted", "path", path)
	if o.opts.BootDurationPath != "" {
		o.progress.LoadCache(o.opts.BootDurationPath)
	}
	if t := o.activeTheme(); t != nil {
		t.OnRootMounted()
	}
	return nil
}

func (o *Orchestrator) Quit() error {
	o.QuitSplash(false)
	return nil
}

func (o *Orchestrator) AskForPassword(reply func(password string, ok bool)) error {
	if o.quitting {
		reply("", false)
		return nil
	}
	req := &answerRequest{prompt: "Password", reply: reply}
	o.pendingAnswers = append(o.pendingAnswers, req)

	// A splash deferred by delay must come up for the prompt.
	if o.delayWatch != nil {
		o.delayWatch.Cancel()
		o.delayWatch = nil
		o.showNow()
	}
	o.progress.Pause()
	if t := o.activeTheme(); t != nil {
		t.DisplayPassword(req.prompt, 0)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Show / hide / details
// ---------------------------------------------------------------------------

// showNow brings the splash up, walking the theme fallback chain.
func (o *Orchestrator) showNow() {
	if o.quitting || o.state == StateSplashActive {
		return
	}
	if o.opts.Manager != nil && len(o.opts.Manager.Seats()) == 0 {
		o.logger.Debug("no seats yet, waiting")
		o.state = StateWaitingForSeats
		o.showPending = true
		return
	}

	t, err := o.loadSplashTheme()
	if err != nil {
		o.logger.Error("no usable splash theme", "error", err)
		_ = o.showDetails()
		return
	}
	o.splashTheme = t
	o.attachSeats(t)
	if err := t.Show(o.opts.Loop, &o.bootLog, o.opts.Mode); err != nil {
		o.logger.Error("theme refused to show", "theme", t.Name(), "error", err)
		_ = o.showDetails()
		return
	}
	o.details = false
	o.state = StateSplashActive
	o.setSeatModes(terminal.ModeGraphics)
	o.logger.Info("splash shown", "theme", t.Name(), "mode", o.opts.Mode.String())
	o.scheduleTick()
}

// setSeatModes switches every seat that pairs a terminal with an open
// renderer between VT text and graphics mode.
func (o *Orchestrator) setSeatModes(mode terminal.Mode) {
	if o.opts.Manager == nil {
		return
	}
	for _, s := range o.opts.Manager.Seats() {
		term := s.Terminal()
		if term == nil || !term.IsOpen() || !s.HasOpenRenderer() {
			continue
		}
		if err := term.SetMode(mode); err != nil {
			o.logger.Debug("vt mode switch failed", "tty", term.Name(), "error", err)
		}
	}
}

// loadSplashTheme walks override, system default, distribution default,
// and hard-coded fallback, ending at the built-in text theme. Only a
// failure of that last resort fails the show request.
func (o *Orchestrator) loadSplashTheme() (theme.Theme, error) {
	cfg := theme.Config{Logger: o.logger}
	var firstErr error
	for _, name := range []string{
		o.opts.ThemeOverride,
		o.opts.SystemTheme,
		o.opts.DistroTheme,
		o.opts.FallbackTheme,
	} {
		if name == "" {
			continue
		}
		t, err := theme.Load(name, o.opts.ThemeSearchPaths, cfg)
		if err == nil {
			return t, nil
		}
		o.logger.Warn("theme unavailable, trying next", "theme", name, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	t, err := theme.New("text", cfg)
	if err == nil {
		return t, nil
	}
	if firstErr == nil {
		firstErr = err
	}
	return nil, firstErr
}

func (o *Orchestrator) attachSeats(t theme.Theme) {
	if o.opts.Manager == nil {
		return
	}
	for _, s := range o.opts.Manager.Seats() {
		t.AttachToSeat(s)
	}
}

func (o *Orchestrator) detachSeats(t theme.Theme) {
	if o.opts.Manager == nil || t == nil {
		return
	}
	for _, s := range o.opts.Manager.Seats() {
		t.DetachFromSeat(s)
	}
}

// showDetails switches the seats to the scrolling boot log.
func (o *Orchestrator) showDetails() error {
	if o.detailsTheme == nil {
		t, err := theme.New(detailsThemeName, theme.Config{Logger: o.logger})
		if err != nil {
			return fmt.Errorf("details theme: %w", err)
		}
		o.detailsTheme = t
	}
	if o.splashTheme != nil && !o.details {
		o.splashTheme.Hide(o.opts.Loop)
		o.detachSeats(o.splashTheme)
	}
	o.attachSeats(o.detailsTheme)
	if err := o.detailsTheme.Show(o.opts.Loop, &o.bootLog, o.opts.Mode); err != nil {
		return err
	}
	o.details = true
	o.state = StateDetailsActive
	o.redisplayPrompt()
	return nil
}

// hideDetails swaps the splash theme back in.
func (o *Orchestrator) hideDetails() {
	if !o.details {
		return
	}
	o.detailsTheme.Hide(o.opts.Loop)
	o.detachSeats(o.detailsTheme)
	o.details = false
	if o.splashTheme == nil {
		o.showNow()
		return
	}
	o.attachSeats(o.splashTheme)
	if err := o.splashTheme.Show(o.opts.Loop, &o.bootLog, o.opts.Mode); err != nil {
		o.logger.Warn("splash did not come back", "error", err)
		_ = o.showDetails()
		return
	}
	o.state = StateSplashActive
	o.redisplayPrompt()
}

// redisplayPrompt re-raises an outstanding prompt on the newly active
// theme.
func (o *Orchestrator) redisplayPrompt() {
	if len(o.pendingAnswers) == 0 {
		return
	}
	req := o.pendingAnswers[0]
	if t := o.activeTheme(); t != nil {
		t.DisplayPassword(req.prompt, req.typed)
	}
}

// hide takes the splash down and destroys the themes: a later show
// request starts from a fresh theme instance.
func (o *Orchestrator) hide() {
	o.state = StateHiding
	o.cancelTick()
	if o.delayWatch != nil {
		o.delayWatch.Cancel()
		o.delayWatch = nil
	}
	o.showPending = false
	if t := o.activeTheme(); t != nil {
		t.Hide(o.opts.Loop)
	}
	if o.splashTheme != nil {
		o.detachSeats(o.splashTheme)
		o.splashTheme.Destroy()
		o.splashTheme = nil
	}
	if o.detailsTheme != nil {
		o.detachSeats(o.detailsTheme)
		o.detailsTheme.Destroy()
		o.detailsTheme = nil
	}
	o.details = false
	o.setSeatModes(terminal.ModeText)
	o.state = StateStarting
}

// ---------------------------------------------------------------------------
// Animation ticks
// ---------------------------------------------------------------------------

func (o *Orchestrator) scheduleTick() {
	if o.opts.Loop == nil || o.tick != nil {
		return
	}
	o.tick = o.opts.Loop.WatchTimeout(tickInterval, o.onTick)
}

func (o *Orchestrator) onTick() {
	o.tick = nil
	if o.quitting || (o.state != StateSplashActive && o.state != StateDetailsActive) {
		return
	}
	if t := o.activeTheme(); t != nil {
		t.OnBootProgress(o.progress.Time(), o.progress.Percentage())
	}
	o.scheduleTick()
}

func (o *Orchestrator) cancelTick() {
	if o.tick != nil {
		o.tick.Cancel()
		o.tick = nil
	}
}

// ---------------------------------------------------------------------------
// Keyboard handling
// ---------------------------------------------------------------------------

func (o *Orchestrator) handleEscape() {
	if o.quitting {
		return
	}
	if o.details {
		o.hideDetails()
	} else if o.state == StateSplashActive {
		if err := o.showDetails(); err != nil {
			o.logger.Warn("details view failed", "error", err)
		}
	}
}

func (o *Orchestrator) handleKeystroke(key string) {
	if len(o.pendingAnswers) > 0 {
		req := o.pendingAnswers[0]
		req.typed++
		if t := o.activeTheme(); t != nil {
			t.DisplayPassword(req.prompt, req.typed)
		}
		return
	}
	for _, w := range o.keystrokeWatches {
		if !w.removed && keyMatches(w.keys, key) {
			w.trigger(key)
		}
	}
}

func (o *Orchestrator) handleBackspace() {
	if len(o.pendingAnswers) == 0 {
		return
	}
	req := o.pendingAnswers[0]
	if req.typed > 0 {
		req.typed--
	}
	if t := o.activeTheme(); t != nil {
		t.DisplayPassword(req.prompt, req.typed)
	}
}

func (o *Orchestrator) handleLine(line string) {
	if len(o.pendingAnswers) == 0 {
		return
	}
	req := o.pendingAnswers[0]
	o.pendingAnswers = o.pendingAnswers[1:]
	req.reply(line, true)
	o.finishPrompt()
}

func (o *Orchestrator) handleCancel() {
	if len(o.pendingAnswers) == 0 {
		return
	}
	req := o.pendingAnswers[0]
	o.pendingAnswers = o.pendingAnswers[1:]
	req.reply("", false)
	o.finishPrompt()
}

// finishPrompt resumes the animation after a prompt resolves, or raises
// the next queued prompt.
func (o *Orchestrator) finishPrompt() {
	if len(o.pendingAnswers) > 0 {
		o.redisplayPrompt()
		return
	}
	o.progress.Unpause()
	if t := o.activeTheme(); t != nil {
		t.DisplayNormal()
	}
}

// WatchKeystroke fires trigger with the matched key whenever a keystroke
// matches any character in keys. Returns the watch for removal.
func (o *Orchestrator) WatchKeystroke(keys string, trigger func(key string)) *KeystrokeWatch {
	w := &KeystrokeWatch{keys: keys, trigger: trigger}
	o.keystrokeWatches = append(o.keystrokeWatches, w)
	return w
}

// StopWatchingKeystroke removes a keystroke watch.
func (o *Orchestrator) StopWatchingKeystroke(w *KeystrokeWatch) {
	if w != nil {
		w.removed = true
	}
}

// keyMatches treats keys as a set of allowed UTF-8 characters.
func keyMatches(keys, key string) bool {
	for _, r := range keys {
		if string(r) == key {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Boot output
// ---------------------------------------------------------------------------

// AddBootOutput appends captured boot session bytes to the log buffer
// and forwards them to the active theme.
func (o *Orchestrator) AddBootOutput(data []byte) {
	o.bootLog.Write(data)
	if t := o.activeTheme(); t != nil {
		t.OnBootOutput(data)
	}
}

// BootLog returns the captured boot session so far.
func (o *Orchestrator) BootLog() *bytes.Buffer { return &o.bootLog }

// ---------------------------------------------------------------------------
// Deactivate / reactivate / quit
// ---------------------------------------------------------------------------

// Deactivate quiesces the renderers and hands the terminals back to text
// mode, without tearing the themes down.
func (o *Orchestrator) Deactivate() {
	if o.opts.Manager == nil {
		return
	}
	for _, s := range o.opts.Manager.Seats() {
		if r := s.Renderer(); r != nil && r.IsOpen() {
			r.PauseUpdates()
		}
		if term := s.Terminal(); term != nil && term.IsOpen() {
			_ = term.SetMode(terminal.ModeText)
			_ = term.SetBufferedInput()
		}
	}
}

// Reactivate undoes Deactivate.
func (o *Orchestrator) Reactivate() {
	if o.opts.Manager == nil {
		return
	}
	for _, s := range o.opts.Manager.Seats() {
		if term := s.Terminal(); term != nil && term.IsOpen() {
			_ = term.SetUnbufferedInput()
			if o.state == StateSplashActive {
				_ = term.SetMode(terminal.ModeGraphics)
			}
		}
		if r := s.Renderer(); r != nil && r.IsOpen() {
			if err := r.UnpauseUpdates(); err != nil {
				o.logger.Debug("unpause flush failed", "device", r.DeviceName(), "error", err)
			}
		}
	}
}

// QuitSplash tears everything down: outstanding prompts are released
// with no answer, the boot duration cache is written, the active theme
// becomes idle, and once it signals readiness the seats are restored and
// the loop exits.
func (o *Orchestrator) QuitSplash(retainSplash bool) {
	if o.quitting {
		return
	}
	o.quitting = true
	o.state = StateQuitting
	o.cancelTick()
	if o.delayWatch != nil {
		o.delayWatch.Cancel()
		o.delayWatch = nil
	}

	for _, req := range o.pendingAnswers {
		req.reply("", false)
	}
	o.pendingAnswers = nil

	if o.opts.BootDurationPath != "" {
		if err := o.progress.SaveCache(o.opts.BootDurationPath); err != nil {
			o.logger.Warn("boot duration cache not saved", "error", err)
		}
	}

	finish := func() { o.finishQuit(retainSplash) }
	if t := o.activeTheme(); t != nil {
		t.BecomeIdle(finish)
	} else {
		finish()
	}
}

func (o *Orchestrator) finishQuit(retainSplash bool) {
	if t := o.activeTheme(); t != nil {
		t.Hide(o.opts.Loop)
	}
	if o.splashTheme != nil {
		o.splashTheme.Destroy()
		o.splashTheme = nil
	}
	if o.detailsTheme != nil {
		o.detailsTheme.Destroy()
		o.detailsTheme = nil
	}
	if !retainSplash {
		o.Deactivate()
	}
	if o.opts.OnQuit != nil {
		o.opts.OnQuit(retainSplash)
	}
	if o.opts.Loop != nil {
		o.opts.Loop.Exit(0)
	}
}
