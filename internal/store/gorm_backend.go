package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the row backing a single key in SQL storage.
type Record struct {
	Key              string `gorm:"column:record_key;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "store_records"
}

// GormBackend stores payloads in the store_records table.
type GormBackend struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormBackend wraps a migrated gorm handle.
func NewGormBackend(db *gorm.DB, clock func() time.Time) (*GormBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("store: database handle is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &GormBackend{db: db, clock: clock}, nil
}

func (b *GormBackend) Load(ctx context.Context, key string) ([]byte, error) {
	var record Record
	err := b.db.WithContext(ctx).Where("record_key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(record.PayloadJSON), nil
}

func (b *GormBackend) Save(ctx context.Context, key string, payload []byte) error {
	record := Record{
		Key:              key,
		PayloadJSON:      string(payload),
		UpdatedAtSeconds: b.clock().UTC().Unix(),
	}
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at_s"}),
		}).
		Create(&record).Error
}
