package timer

import (
	"fmt"
	"time"
)

// StartOptions overrides the next phase. Zero values mean "not set".
type StartOptions struct {
	DurationSeconds int
	Mode            Mode
}

// overrides reports whether the options ask for something other than the paused phase.
func (o StartOptions) overrides(paused State) bool {
	if o.Mode != "" && o.Mode != paused.Mode {
		return true
	}
	return o.DurationSeconds != 0 && o.DurationSeconds != paused.DurationSeconds
}

// Completion describes what a call to Complete did.
type Completion struct {
	Advanced            bool
	CompletedMode       Mode
	NextMode            Mode
	NextDurationSeconds int
	LongBreak           bool
	AwardExperience     int64
}

// Start begins or resumes a phase.
//
// Paused without overrides resumes, re-anchoring so elapsed time continues where it stopped.
// Options naming the paused mode and duration are not overrides. Idle, or paused with a
// different mode or duration, begins a fresh phase. A running timer is returned unchanged.
func Start(state State, settings Settings, now time.Time, opts StartOptions) (State, error) {
	if opts.DurationSeconds < 0 {
		return state, fmt.Errorf("%w: %d", ErrInvalidDuration, opts.DurationSeconds)
	}
	if opts.Mode != "" {
		if _, err := ParseMode(string(opts.Mode)); err != nil {
			return state, err
		}
	}

	switch state.Status() {
	case StatusRunning:
		return state, nil
	case StatusPaused:
		if !opts.overrides(state) {
			return resume(state, now), nil
		}
	}

	mode := state.Mode
	if mode == "" {
		mode = ModeFocus
	}
	duration := state.DurationSeconds
	if opts.Mode != "" && opts.Mode != mode {
		mode = opts.Mode
		duration = settings.DefaultDuration(mode)
	}
	if opts.DurationSeconds > 0 {
		duration = opts.DurationSeconds
	}
	if duration <= 0 {
		duration = settings.DefaultDuration(mode)
	}

	anchor := now
	return State{
		IsRunning:         true,
		AnchorTimestamp:   &anchor,
		DurationSeconds:   duration,
		Mode:              mode,
		SessionsCompleted: state.SessionsCompleted,
	}, nil
}

func resume(state State, now time.Time) State {
	remaining := *state.PausedRemainingSeconds
	elapsed := time.Duration(state.DurationSeconds-remaining) * time.Second
	anchor := now.Add(-elapsed)
	return State{
		IsRunning:         true,
		AnchorTimestamp:   &anchor,
		DurationSeconds:   state.DurationSeconds,
		Mode:              state.Mode,
		SessionsCompleted: state.SessionsCompleted,
	}
}

// Pause freezes a running phase, keeping its remaining seconds.
func Pause(state State, now time.Time) (State, error) {
	if state.Status() != StatusRunning {
		return state, ErrNotRunning
	}
	remaining := Remaining(state, now)
	return State{
		DurationSeconds:        state.DurationSeconds,
		Mode:                   state.Mode,
		SessionsCompleted:      state.SessionsCompleted,
		PausedRemainingSeconds: &remaining,
	}, nil
}

// Remaining is the pure tick query: seconds left in the current phase at now.
func Remaining(state State, now time.Time) int {
	switch state.Status() {
	case StatusRunning:
		elapsed := now.Sub(*state.AnchorTimestamp)
		if elapsed < 0 {
			elapsed = 0
		}
		remaining := state.DurationSeconds - int(elapsed/time.Second)
		if remaining < 0 {
			return 0
		}
		return remaining
	case StatusPaused:
		return *state.PausedRemainingSeconds
	default:
		return state.DurationSeconds
	}
}

// Complete advances a running phase whose remaining time reached zero.
// In every other situation it is a no-op, which makes overlapping calls safe: once the first call
// has moved the timer into the next phase, the second sees time left (or no running phase).
func Complete(state State, settings Settings, now time.Time) (State, Completion) {
	if state.Status() != StatusRunning || Remaining(state, now) > 0 {
		return state, Completion{}
	}

	completion := Completion{Advanced: true, CompletedMode: state.Mode}
	sessions := state.SessionsCompleted
	if state.Mode == ModeFocus {
		sessions++
		completion.AwardExperience = settings.FocusBonus
		completion.NextMode = ModeBreak
		if settings.LongBreakInterval > 0 && sessions%settings.LongBreakInterval == 0 {
			completion.LongBreak = true
			completion.NextDurationSeconds = settings.LongBreakSeconds
		} else {
			completion.NextDurationSeconds = settings.ShortBreakSeconds
		}
	} else {
		completion.NextMode = ModeFocus
		completion.NextDurationSeconds = settings.FocusSeconds
	}

	next := State{
		DurationSeconds:   completion.NextDurationSeconds,
		Mode:              completion.NextMode,
		SessionsCompleted: sessions,
	}
	if settings.AutoContinue {
		anchor := now
		next.IsRunning = true
		next.AnchorTimestamp = &anchor
	}
	return next, completion
}

// SwitchMode stops the timer and presets mode with its default length.
func SwitchMode(state State, settings Settings, mode Mode) (State, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return state, err
	}
	return State{
		DurationSeconds:   settings.DefaultDuration(mode),
		Mode:              mode,
		SessionsCompleted: state.SessionsCompleted,
	}, nil
}

// Reset stops the timer and restores the current mode's default length.
func Reset(state State, settings Settings) State {
	mode := state.Mode
	if mode == "" {
		mode = ModeFocus
	}
	return State{
		DurationSeconds:   settings.DefaultDuration(mode),
		Mode:              mode,
		SessionsCompleted: state.SessionsCompleted,
	}
}
