// Package gamification keeps each user's experience, level and daily streak.
package gamification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/tutorhub/internal/apperrors"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAwardAmount rejects negative experience deltas.
	ErrInvalidAwardAmount = errors.New("gamification: invalid award amount")
	// ErrInvalidUserID rejects blank user identifiers.
	ErrInvalidUserID = errors.New("gamification: invalid user id")

	errMissingStore = errors.New("store is required")
)

const (
	opLedgerNew = "gamification.ledger.new"
	opGet       = "gamification.get"
	opAward     = "gamification.award"
	opReset     = "gamification.reset"
)

// LedgerConfig describes the ledger's dependencies.
type LedgerConfig struct {
	Store    *store.Store
	Clock    func() time.Time
	Location *time.Location
	Logger   *zap.Logger
}

// Ledger awards experience and recomputes level and streak.
type Ledger struct {
	mu       sync.Mutex
	store    *store.Store
	clock    func() time.Time
	location *time.Location
	logger   *zap.Logger
}

// NewLedger constructs a Ledger. Clock defaults to time.Now and Location to time.Local.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, apperrors.New(opLedgerNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:    cfg.Store,
		clock:    clock,
		location: location,
		logger:   logger,
	}, nil
}

// Get returns the user's record, creating the default on first access.
func (l *Ledger) Get(ctx context.Context, userID string) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, apperrors.New(opGet, "invalid_user_id", ErrInvalidUserID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, userID), nil
}

// Award adds amount to the user's experience and refreshes level and streak.
// A zero amount is legal and only refreshes the streak.
func (l *Ledger) Award(ctx context.Context, userID string, amount int64) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, apperrors.New(opAward, "invalid_user_id", ErrInvalidUserID)
	}
	if amount < 0 {
		return Record{}, apperrors.New(opAward, "invalid_amount", fmt.Errorf("%w: %d", ErrInvalidAwardAmount, amount))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record := l.load(ctx, userID)
	today := l.clock().In(l.location)

	record.Experience += amount
	record.Level = LevelFor(record.Experience)
	record.Streak = nextStreak(record.Streak, record.LastActiveDate, today)
	if record.Streak > record.BestStreak {
		record.BestStreak = record.Streak
	}
	record.LastActiveDate = today.Format(dateLayout)

	store.Write(ctx, l.store, store.GamificationKey(userID), record)
	l.logger.Debug("experience awarded",
		zap.String("operation", opAward),
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("experience", record.Experience),
		zap.Int("level", record.Level),
		zap.Int("streak", record.Streak))
	return record, nil
}

// Reset restores the user's record to the defaults. It is the only way experience decreases.
func (l *Ledger) Reset(ctx context.Context, userID string) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, apperrors.New(opReset, "invalid_user_id", ErrInvalidUserID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record := defaultRecord(userID)
	store.Write(ctx, l.store, store.GamificationKey(userID), record)
	l.logger.Info("experience reset", zap.String("operation", opReset), zap.String("user_id", userID))
	return record, nil
}

func (l *Ledger) load(ctx context.Context, userID string) Record {
	record := store.Read(ctx, l.store, store.GamificationKey(userID), defaultRecord(userID))
	record.UserID = userID
	record.Level = LevelFor(record.Experience)
	return record
}
