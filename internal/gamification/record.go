package gamification

import (
	"errors"
	"fmt"
	"time"
)

// LevelStep is the experience needed per level.
const LevelStep int64 = 1000

const dateLayout = "2006-01-02"

// Record is a user's experience ledger entry.
type Record struct {
	UserID         string `json:"user_id"`
	Experience     int64  `json:"experience"`
	Level          int    `json:"level"`
	Streak         int    `json:"streak"`
	BestStreak     int    `json:"best_streak"`
	LastActiveDate string `json:"last_active_date"`
}

// Validate is the shape check the store applies on load.
func (r Record) Validate() error {
	if r.Experience < 0 {
		return fmt.Errorf("experience %d is negative", r.Experience)
	}
	if r.Streak < 0 || r.BestStreak < 0 {
		return errors.New("streak counters must not be negative")
	}
	if r.LastActiveDate != "" {
		if _, err := time.Parse(dateLayout, r.LastActiveDate); err != nil {
			return fmt.Errorf("last active date: %w", err)
		}
	}
	return nil
}

// LevelFor derives the level from total experience. It is the only leveling formula.
func LevelFor(experience int64) int {
	if experience < 0 {
		experience = 0
	}
	return int(experience/LevelStep) + 1
}

// LevelProgress describes where a record sits inside its current level.
type LevelProgress struct {
	Level            int   `json:"level"`
	IntoLevel        int64 `json:"into_level"`
	ToNextLevel      int64 `json:"to_next_level"`
	NextLevelAtTotal int64 `json:"next_level_at"`
}

// Progress computes display progress towards the next level.
func Progress(record Record) LevelProgress {
	level := LevelFor(record.Experience)
	levelStart := int64(level-1) * LevelStep
	nextAt := levelStart + LevelStep
	return LevelProgress{
		Level:            level,
		IntoLevel:        record.Experience - levelStart,
		ToNextLevel:      nextAt - record.Experience,
		NextLevelAtTotal: nextAt,
	}
}

func defaultRecord(userID string) Record {
	return Record{
		UserID:     userID,
		Experience: 0,
		Level:      LevelFor(0),
	}
}

// nextStreak returns the streak after activity on today, given the previous active date.
func nextStreak(current int, lastActiveDate string, today time.Time) int {
	todayKey := today.Format(dateLayout)
	switch lastActiveDate {
	case todayKey:
		if current < 1 {
			return 1
		}
		return current
	case today.AddDate(0, 0, -1).Format(dateLayout):
		return current + 1
	default:
		return 1
	}
}
