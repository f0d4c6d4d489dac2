// Package progress estimates how far boot has gotten: a running clock
// scaled by the inverse of the expected total duration, corrected by the
// times at which status messages appeared during the previous boot.
package progress

import (
	"log/slog"
	"time"
)

const (
	// defaultBootDuration seeds the estimate before any cache exists.
	defaultBootDuration = 60.0
)

// Message records when a status string first appeared this boot.
type Message struct {
	Time     float64
	Text     string
	Disabled bool
}

// Progress is the expected-time-remaining estimator.
type Progress struct {
	logger *slog.Logger
	now    func() float64

	startTime float64
	pauseTime float64
	paused    bool

	// scalar is 1 / expected total duration.
	scalar             float64
	lastPercentage     float64
	lastPercentageTime float64

	current  []*Message
	previous []*Message
}

// New creates an estimator starting now, expecting the default boot
// duration until a cache is loaded.
func New(logger *slog.Logger) *Progress {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Progress{
		logger: logger,
		now:    monotonicSeconds(),
		scalar: 1.0 / defaultBootDuration,
	}
	p.startTime = p.now()
	return p
}

// monotonicSeconds returns a closure over the process monotonic clock.
func monotonicSeconds() func() float64 {
	epoch := time.Now()
	return func() float64 {
		return time.Since(epoch).Seconds()
	}
}

// SetClock replaces the time source, for tests.
func (p *Progress) SetClock(now func() float64) {
	p.now = now
	p.startTime = now()
}

// Time returns seconds of unpaused run time.
func (p *Progress) Time() float64 {
	if p.paused {
		return p.pauseTime - p.startTime
	}
	return p.now() - p.startTime
}

// Percentage estimates the fraction done, in [0, 1]. It is non-decreasing
// within an unpaused run and reaches 1.0 only when the scaled elapsed
// time does: the estimate approaches 1 asymptotically, re-anchored each
// call on the previous report.
func (p *Progress) Percentage() float64 {
	cur := p.Time()
	var percentage float64
	if p.lastPercentageTime*p.scalar < 0.999 {
		percentage = p.lastPercentage +
			(((cur - p.lastPercentageTime) * p.scalar) /
				(1 - p.lastPercentageTime*p.scalar)) *
				(1 - p.lastPercentage)
	} else {
		percentage = 1.0
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 1 {
		percentage = 1
	}
	p.lastPercentageTime = cur
	p.lastPercentage = percentage
	return percentage
}

// Pause freezes the clock.
func (p *Progress) Pause() {
	p.pauseTime = p.now()
	p.paused = true
}

// Unpause resumes the clock, excluding the paused interval from the run
// time.
func (p *Progress) Unpause() {
	p.startTime += p.now() - p.pauseTime
	p.paused = false
}

// Paused reports whether the clock is frozen.
func (p *Progress) Paused() bool { return p.paused }

func search(list []*Message, text string) *Message {
	for _, m := range list {
		if m.Text == text {
			return m
		}
	}
	return nil
}

// StatusUpdate records a status transition. A repeated message this boot
// is disabled (duplicates confuse the cache); a message known from the
// previous boot averages its historical fraction into the scalar.
func (p *Progress) StatusUpdate(status string) {
	if m := search(p.current, status); m != nil {
		m.Disabled = true
		return
	}
	if prev := search(p.previous, status); prev != nil {
		if elapsed := p.Time(); elapsed > 0 {
			p.scalar += prev.Time / elapsed
			p.scalar /= 2
		}
	}
	p.current = append(p.current, &Message{Time: p.Time(), Text: status})
}

// Messages returns this boot's recorded transitions.
func (p *Progress) Messages() []*Message { return p.current }
