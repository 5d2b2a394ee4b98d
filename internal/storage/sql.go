package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LocalEntry is one persisted key of the local basket copy.
type LocalEntry struct {
	Key       string    `gorm:"column:entry_key;primaryKey"`
	Value     string    `gorm:"column:entry_value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (LocalEntry) TableName() string { return "local_entries" }

type sqlClient interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	Ping(ctx context.Context) error
}

// SQL stores entries in the local_entries table through gorm. It runs on both
// sqlite and postgres.
type SQL struct {
	client sqlClient
	now    func() time.Time
}

// NewSQL binds the store to the shared database client.
func NewSQL(client sqlClient) *SQL {
	return &SQL{client: client, now: time.Now}
}

func (s *SQL) Get(ctx context.Context, key string) (string, bool, error) {
	var entry LocalEntry
	err := s.client.DB().WithContext(ctx).
		Where("entry_key = ?", key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select local entry %s: %w", key, err)
	}
	return entry.Value, true, nil
}

// SetMany upserts every pair inside one transaction.
func (s *SQL) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := s.now().UTC()
	entries := make([]LocalEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, LocalEntry{Key: k, Value: values[k], UpdatedAt: now})
	}

	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at"}),
		}).Create(&entries).Error
		if err != nil {
			return fmt.Errorf("upsert local entries: %w", err)
		}
		return nil
	})
}

func (s *SQL) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.client.DB().WithContext(ctx).
		Where("entry_key IN ?", keys).
		Delete(&LocalEntry{}).Error
	if err != nil {
		return fmt.Errorf("delete local entries: %w", err)
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
