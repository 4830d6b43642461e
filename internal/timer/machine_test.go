package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var machineEpoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return machineEpoch.Add(time.Duration(seconds) * time.Second)
}

func TestIdleStartsWithDefaultFocus(t *testing.T) {
	settings := DefaultSettings()
	state := Idle(settings)

	require.Equal(t, StatusIdle, state.Status())
	require.Equal(t, ModeFocus, state.Mode)
	require.Equal(t, 1500, Remaining(state, at(0)))
	require.NoError(t, state.Validate())
}

func TestPauseResumeRoundTrip(t *testing.T) {
	settings := DefaultSettings()

	state, err := Start(Idle(settings), settings, at(0), StartOptions{DurationSeconds: 1500, Mode: ModeFocus})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, state.Status())

	state, err = Pause(state, at(400))
	require.NoError(t, err)
	require.Equal(t, StatusPaused, state.Status())
	require.Equal(t, 1100, *state.PausedRemainingSeconds)
	require.Nil(t, state.AnchorTimestamp)

	// Time passing while paused changes nothing.
	require.Equal(t, 1100, Remaining(state, at(5000)))

	state, err = Start(state, settings, at(5000), StartOptions{})
	require.NoError(t, err)
	require.Equal(t, 1100, Remaining(state, at(5000)))
	require.Equal(t, 1000, Remaining(state, at(5100)))
}

func TestRemainingIsPureAndClampsAtZero(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{DurationSeconds: 60})
	require.NoError(t, err)

	require.Equal(t, 60, Remaining(state, at(0)))
	require.Equal(t, 60, Remaining(state, at(0).Add(500*time.Millisecond)), "partial seconds are not elapsed yet")
	require.Equal(t, 59, Remaining(state, at(1).Add(500*time.Millisecond)))
	require.Equal(t, 0, Remaining(state, at(60)))
	require.Equal(t, 0, Remaining(state, at(86400)))
	require.Equal(t, 60, Remaining(state, at(-30)), "clock skew never adds time")
	require.Equal(t, 60, Remaining(state, at(0)), "evaluation does not mutate the state")
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{})
	require.NoError(t, err)

	again, err := Start(state, settings, at(100), StartOptions{DurationSeconds: 30})
	require.NoError(t, err)
	require.Equal(t, state, again)
}

func TestStartWithModeUsesModeDefault(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{Mode: ModeBreak})
	require.NoError(t, err)
	require.Equal(t, ModeBreak, state.Mode)
	require.Equal(t, settings.ShortBreakSeconds, state.DurationSeconds)
}

func TestStartPausedWithOverridesBeginsFreshPhase(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{})
	require.NoError(t, err)
	state, err = Pause(state, at(100))
	require.NoError(t, err)

	state, err = Start(state, settings, at(200), StartOptions{DurationSeconds: 600})
	require.NoError(t, err)
	require.Equal(t, 600, Remaining(state, at(200)))
	require.Nil(t, state.PausedRemainingSeconds)
}

func TestStartPausedWithMatchingOptionsResumes(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{})
	require.NoError(t, err)
	state, err = Pause(state, at(400))
	require.NoError(t, err)

	for _, opts := range []StartOptions{
		{Mode: ModeFocus},
		{DurationSeconds: 1500},
		{DurationSeconds: 1500, Mode: ModeFocus},
	} {
		resumed, err := Start(state, settings, at(900), opts)
		require.NoError(t, err)
		require.Equal(t, StatusRunning, resumed.Status(), "%+v", opts)
		require.Equal(t, 1100, Remaining(resumed, at(900)), "%+v", opts)
	}

	fresh, err := Start(state, settings, at(900), StartOptions{Mode: ModeBreak})
	require.NoError(t, err)
	require.Equal(t, ModeBreak, fresh.Mode)
	require.Equal(t, settings.DefaultDuration(ModeBreak), Remaining(fresh, at(900)))
}

func TestStartRejectsInvalidInput(t *testing.T) {
	settings := DefaultSettings()

	_, err := Start(Idle(settings), settings, at(0), StartOptions{DurationSeconds: -1})
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = Start(Idle(settings), settings, at(0), StartOptions{Mode: "nap"})
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestPauseRequiresRunning(t *testing.T) {
	settings := DefaultSettings()
	_, err := Pause(Idle(settings), at(0))
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestCompleteBeforeZeroIsNoOp(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{})
	require.NoError(t, err)

	next, completion := Complete(state, settings, at(1499))
	require.False(t, completion.Advanced)
	require.Equal(t, state, next)

	paused, err := Pause(state, at(10))
	require.NoError(t, err)
	_, completion = Complete(paused, settings, at(99999))
	require.False(t, completion.Advanced)
}

func TestCompleteIsIdempotent(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{})
	require.NoError(t, err)

	first, completion := Complete(state, settings, at(1500))
	require.True(t, completion.Advanced)
	require.EqualValues(t, 25, completion.AwardExperience)

	second, again := Complete(first, settings, at(1500))
	require.False(t, again.Advanced)
	require.Equal(t, first, second)
}

func TestLongBreakEveryFourthFocusSession(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{})
	require.NoError(t, err)

	clock := 0
	for session := 1; session <= 8; session++ {
		clock += state.DurationSeconds
		var completion Completion
		state, completion = Complete(state, settings, at(clock))
		require.True(t, completion.Advanced)
		require.Equal(t, ModeFocus, completion.CompletedMode)
		require.Equal(t, session, state.SessionsCompleted)
		require.Equal(t, ModeBreak, state.Mode)
		if session%4 == 0 {
			require.True(t, completion.LongBreak, "session %d", session)
			require.Equal(t, settings.LongBreakSeconds, state.DurationSeconds)
		} else {
			require.False(t, completion.LongBreak, "session %d", session)
			require.Equal(t, settings.ShortBreakSeconds, state.DurationSeconds)
		}

		clock += state.DurationSeconds
		state, completion = Complete(state, settings, at(clock))
		require.True(t, completion.Advanced)
		require.Equal(t, ModeBreak, completion.CompletedMode)
		require.Zero(t, completion.AwardExperience)
		require.Equal(t, ModeFocus, state.Mode)
		require.Equal(t, settings.FocusSeconds, state.DurationSeconds)
		require.Equal(t, session, state.SessionsCompleted, "breaks do not count")
	}
}

func TestCompleteAnchorsNextPhaseAtCompletionTime(t *testing.T) {
	settings := DefaultSettings()
	state, err := Start(Idle(settings), settings, at(0), StartOptions{})
	require.NoError(t, err)

	// The poller was suspended long past the end of the focus phase.
	state, completion := Complete(state, settings, at(10000))
	require.True(t, completion.Advanced)
	require.Equal(t, StatusRunning, state.Status())
	require.Equal(t, settings.ShortBreakSeconds, Remaining(state, at(10000)))
}

func TestCompleteWithoutAutoContinueGoesIdle(t *testing.T) {
	settings := DefaultSettings()
	settings.AutoContinue = false
	state, err := Start(Idle(settings), settings, at(0), StartOptions{})
	require.NoError(t, err)

	state, completion := Complete(state, settings, at(1500))
	require.True(t, completion.Advanced)
	require.Equal(t, StatusIdle, state.Status())
	require.Equal(t, ModeBreak, state.Mode)
	require.Equal(t, settings.ShortBreakSeconds, Remaining(state, at(9999)))

	state, err = Start(state, settings, at(2000), StartOptions{})
	require.NoError(t, err)
	require.Equal(t, ModeBreak, state.Mode)
	require.Equal(t, settings.ShortBreakSeconds, state.DurationSeconds)
}

func TestSwitchModeAndResetKeepSessionCount(t *testing.T) {
	settings := DefaultSettings()
	state := Idle(settings)
	state.SessionsCompleted = 3

	switched, err := SwitchMode(state, settings, ModeBreak)
	require.NoError(t, err)
	require.Equal(t, StatusIdle, switched.Status())
	require.Equal(t, settings.ShortBreakSeconds, switched.DurationSeconds)
	require.Equal(t, 3, switched.SessionsCompleted)

	_, err = SwitchMode(state, settings, "lunch")
	require.ErrorIs(t, err, ErrInvalidMode)

	running, err := Start(switched, settings, at(0), StartOptions{DurationSeconds: 42})
	require.NoError(t, err)
	reset := Reset(running, settings)
	require.Equal(t, StatusIdle, reset.Status())
	require.Equal(t, ModeBreak, reset.Mode)
	require.Equal(t, settings.ShortBreakSeconds, reset.DurationSeconds)
	require.Equal(t, 3, reset.SessionsCompleted)
}

func TestStateValidateRejectsInconsistentValues(t *testing.T) {
	remaining := 10
	anchor := at(0)

	require.Error(t, State{Mode: ModeFocus, DurationSeconds: 0}.Validate())
	require.Error(t, State{Mode: "other", DurationSeconds: 10}.Validate())
	require.Error(t, State{Mode: ModeFocus, DurationSeconds: 10, IsRunning: true}.Validate())
	require.Error(t, State{Mode: ModeFocus, DurationSeconds: 5, PausedRemainingSeconds: &remaining}.Validate())
	require.Error(t, State{Mode: ModeFocus, DurationSeconds: 10, IsRunning: true, AnchorTimestamp: &anchor, PausedRemainingSeconds: &remaining}.Validate())
	require.NoError(t, State{Mode: ModeFocus, DurationSeconds: 10, IsRunning: true, AnchorTimestamp: &anchor}.Validate())
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())

	settings := DefaultSettings()
	settings.LongBreakInterval = 0
	require.Error(t, settings.Validate())

	settings = DefaultSettings()
	settings.FocusBonus = -1
	require.Error(t, settings.Validate())
}
