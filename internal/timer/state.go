// Package timer implements the focus/break session timer.
//
// The timer state is a plain value. Remaining time is always derived from the wall-clock anchor
// recorded when the running period started, so a suspended process never drifts: whenever the
// state is next evaluated, now minus anchor is still correct.
package timer

import (
	"errors"
	"fmt"
	"time"
)

// Mode is the phase kind of the timer.
type Mode string

const (
	ModeFocus Mode = "focus"
	ModeBreak Mode = "break"
)

// Status is derived from State, never stored.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

var (
	// ErrNotRunning is returned when pausing a timer that is not running.
	ErrNotRunning = errors.New("timer: not running")
	// ErrInvalidDuration rejects non-positive phase durations.
	ErrInvalidDuration = errors.New("timer: invalid duration")
	// ErrInvalidMode rejects modes other than focus and break.
	ErrInvalidMode = errors.New("timer: invalid mode")
)

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeFocus, ModeBreak:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// State is the persisted timer value.
type State struct {
	IsRunning              bool       `json:"is_running"`
	AnchorTimestamp        *time.Time `json:"anchor_timestamp"`
	DurationSeconds        int        `json:"duration_seconds"`
	Mode                   Mode       `json:"mode"`
	SessionsCompleted      int        `json:"sessions_completed"`
	PausedRemainingSeconds *int       `json:"paused_remaining_seconds,omitempty"`
}

// Validate is the shape check the store applies on load.
func (s State) Validate() error {
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	if s.DurationSeconds <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDuration, s.DurationSeconds)
	}
	if s.SessionsCompleted < 0 {
		return fmt.Errorf("timer: sessions completed %d is negative", s.SessionsCompleted)
	}
	if s.IsRunning {
		if s.AnchorTimestamp == nil {
			return errors.New("timer: running without anchor")
		}
		if s.PausedRemainingSeconds != nil {
			return errors.New("timer: running with paused remainder")
		}
	}
	if remaining := s.PausedRemainingSeconds; remaining != nil {
		if *remaining < 0 || *remaining > s.DurationSeconds {
			return fmt.Errorf("timer: paused remainder %d outside [0, %d]", *remaining, s.DurationSeconds)
		}
	}
	return nil
}

// Status reports which state-machine node the value is in.
func (s State) Status() Status {
	switch {
	case s.IsRunning:
		return StatusRunning
	case s.PausedRemainingSeconds != nil:
		return StatusPaused
	default:
		return StatusIdle
	}
}

// Settings holds phase lengths and the completion policy.
type Settings struct {
	FocusSeconds      int
	ShortBreakSeconds int
	LongBreakSeconds  int
	LongBreakInterval int
	FocusBonus        int64
	AutoContinue      bool
}

// DefaultSettings returns the classic 25/5/15 cadence with a long break every 4 focus sessions.
func DefaultSettings() Settings {
	return Settings{
		FocusSeconds:      25 * 60,
		ShortBreakSeconds: 5 * 60,
		LongBreakSeconds:  15 * 60,
		LongBreakInterval: 4,
		FocusBonus:        25,
		AutoContinue:      true,
	}
}

// Validate checks the settings before a service is built on them.
func (s Settings) Validate() error {
	if s.FocusSeconds <= 0 || s.ShortBreakSeconds <= 0 || s.LongBreakSeconds <= 0 {
		return fmt.Errorf("%w: phase durations must be positive", ErrInvalidDuration)
	}
	if s.LongBreakInterval <= 0 {
		return errors.New("timer: long break interval must be positive")
	}
	if s.FocusBonus < 0 {
		return errors.New("timer: focus bonus must not be negative")
	}
	return nil
}

// DefaultDuration is the standard length of a fresh phase in mode.
func (s Settings) DefaultDuration(mode Mode) int {
	if mode == ModeBreak {
		return s.ShortBreakSeconds
	}
	return s.FocusSeconds
}

// Idle returns the initial state: idle, focus mode, default focus length.
func Idle(settings Settings) State {
	return State{
		Mode:            ModeFocus,
		DurationSeconds: settings.FocusSeconds,
	}
}
