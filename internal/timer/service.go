package timer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/tutorhub/internal/apperrors"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/gamification"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/store"
	"go.uber.org/zap"
)

// ErrInvalidUserID rejects blank user identifiers.
var ErrInvalidUserID = errors.New("timer: invalid user id")

var (
	errMissingStore  = errors.New("store is required")
	errMissingLedger = errors.New("experience ledger is required")
)

const (
	opServiceNew = "timer.service.new"
	opStart      = "timer.start"
	opPause      = "timer.pause"
	opComplete   = "timer.complete"
	opSwitchMode = "timer.switch_mode"
	opReset      = "timer.reset"
	opSnapshot   = "timer.snapshot"
)

// Awarder grants experience. gamification.Ledger satisfies it.
type Awarder interface {
	Award(ctx context.Context, userID string, amount int64) (gamification.Record, error)
}

// ServiceConfig describes the timer service dependencies.
type ServiceConfig struct {
	Store    *store.Store
	Ledger   Awarder
	Settings Settings
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service runs one timer per user on top of the durable store.
type Service struct {
	mu       sync.Mutex
	store    *store.Store
	ledger   Awarder
	settings Settings
	clock    func() time.Time
	logger   *zap.Logger
}

// Snapshot is a timer state evaluated at a point in time.
type Snapshot struct {
	State            State
	Status           Status
	RemainingSeconds int
	EvaluatedAt      time.Time
}

// CompleteResult is the outcome of Complete and Poll.
type CompleteResult struct {
	Snapshot   Snapshot
	Completion Completion
	Experience *gamification.Record
}

// NewService validates the settings and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperrors.New(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Ledger == nil {
		return nil, apperrors.New(opServiceNew, "missing_ledger", errMissingLedger)
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, apperrors.New(opServiceNew, "invalid_settings", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		settings: cfg.Settings,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Snapshot returns the user's timer without changing it.
func (s *Service) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	userID, err := normalizeUserID(opSnapshot, userID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(s.load(ctx, userID), s.clock()), nil
}

// Tick returns the remaining seconds for display. It never mutates state.
func (s *Service) Tick(ctx context.Context, userID string) (int, error) {
	snapshot, err := s.Snapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return snapshot.RemainingSeconds, nil
}

// Start begins or resumes the user's timer.
func (s *Service) Start(ctx context.Context, userID string, opts StartOptions) (Snapshot, error) {
	userID, err := normalizeUserID(opStart, userID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	state, err := Start(s.load(ctx, userID), s.settings, now, opts)
	if err != nil {
		reason := "invalid_mode"
		if errors.Is(err, ErrInvalidDuration) {
			reason = "invalid_duration"
		}
		return Snapshot{}, apperrors.New(opStart, reason, err)
	}
	s.save(ctx, userID, state)
	return s.snapshot(state, now), nil
}

// Pause freezes the user's running timer.
func (s *Service) Pause(ctx context.Context, userID string) (Snapshot, error) {
	userID, err := normalizeUserID(opPause, userID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	state, err := Pause(s.load(ctx, userID), now)
	if err != nil {
		return Snapshot{}, apperrors.New(opPause, "not_running", err)
	}
	s.save(ctx, userID, state)
	return s.snapshot(state, now), nil
}

// Complete advances the timer when its running phase has reached zero; otherwise it is a no-op.
// The focus bonus is awarded only once the advanced state is persisted; a failed persist returns
// a persist_failed error and awards nothing. A failed award after a durable advance is logged and
// the result carries no Experience.
func (s *Service) Complete(ctx context.Context, userID string) (CompleteResult, error) {
	userID, err := normalizeUserID(opComplete, userID)
	if err != nil {
		return CompleteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete(ctx, userID, s.load(ctx, userID), s.clock())
}

// Poll is the host poller's entry point: it evaluates the timer and completes the phase once it
// has run out. Skipped or late polls are harmless.
func (s *Service) Poll(ctx context.Context, userID string) (CompleteResult, error) {
	userID, err := normalizeUserID(opComplete, userID)
	if err != nil {
		return CompleteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	state := s.load(ctx, userID)
	if state.Status() != StatusRunning || Remaining(state, now) > 0 {
		return CompleteResult{Snapshot: s.snapshot(state, now)}, nil
	}
	return s.complete(ctx, userID, state, now)
}

// SwitchMode stops the timer and presets the given mode.
func (s *Service) SwitchMode(ctx context.Context, userID string, mode Mode) (Snapshot, error) {
	userID, err := normalizeUserID(opSwitchMode, userID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := SwitchMode(s.load(ctx, userID), s.settings, mode)
	if err != nil {
		return Snapshot{}, apperrors.New(opSwitchMode, "invalid_mode", err)
	}
	s.save(ctx, userID, state)
	return s.snapshot(state, s.clock()), nil
}

// Reset stops the timer and restores the current mode's default length.
func (s *Service) Reset(ctx context.Context, userID string) (Snapshot, error) {
	userID, err := normalizeUserID(opReset, userID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state := Reset(s.load(ctx, userID), s.settings)
	s.save(ctx, userID, state)
	return s.snapshot(state, s.clock()), nil
}

// Settings exposes the configured cadence.
func (s *Service) Settings() Settings {
	return s.settings
}

func (s *Service) complete(ctx context.Context, userID string, state State, now time.Time) (CompleteResult, error) {
	next, completion := Complete(state, s.settings, now)
	result := CompleteResult{Snapshot: s.snapshot(next, now), Completion: completion}
	if !completion.Advanced {
		return result, nil
	}

	if err := store.Persist(ctx, s.store, store.TimerKey(userID), next); err != nil {
		s.logger.Error("timer completion not persisted",
			zap.String("operation", opComplete),
			zap.String("user_id", userID),
			zap.Error(err))
		return CompleteResult{Snapshot: s.snapshot(state, now)}, apperrors.New(opComplete, "persist_failed", err)
	}
	s.logger.Info("timer phase completed",
		zap.String("operation", opComplete),
		zap.String("user_id", userID),
		zap.String("completed_mode", string(completion.CompletedMode)),
		zap.String("next_mode", string(completion.NextMode)),
		zap.Int("sessions_completed", next.SessionsCompleted),
		zap.Bool("long_break", completion.LongBreak))

	if completion.CompletedMode != ModeFocus {
		return result, nil
	}
	record, err := s.ledger.Award(ctx, userID, completion.AwardExperience)
	if err != nil {
		s.logger.Error("timer award failed",
			zap.String("operation", opComplete),
			zap.String("user_id", userID),
			zap.Error(err))
		return result, nil
	}
	result.Experience = &record
	return result, nil
}

func (s *Service) load(ctx context.Context, userID string) State {
	return store.Read(ctx, s.store, store.TimerKey(userID), Idle(s.settings))
}

func (s *Service) save(ctx context.Context, userID string, state State) {
	store.Write(ctx, s.store, store.TimerKey(userID), state)
}

func (s *Service) snapshot(state State, now time.Time) Snapshot {
	return Snapshot{
		State:            state,
		Status:           state.Status(),
		RemainingSeconds: Remaining(state, now),
		EvaluatedAt:      now,
	}
}

func normalizeUserID(operation, userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", apperrors.New(operation, "invalid_user_id", ErrInvalidUserID)
	}
	return trimmed, nil
}
