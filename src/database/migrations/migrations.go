// Package migrations applies ordered one-off data migrations after AutoMigrate.
package migrations

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DataMigration records an applied migration.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

type Migration struct {
	ID    string
	Apply func(tx *gorm.DB) error
}

// All is applied in order. Append only; ids must never change.
var All = []Migration{
	{ID: "00001_event_logs_kind_occurred_index", Apply: createEventLogKindIndex},
	{ID: "00002_backfill_exception_levels", Apply: backfillExceptionLevels},
}

// Run applies every migration of All that has not been recorded yet.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}
	for _, m := range All {
		if err := apply(db, m); err != nil {
			return err
		}
	}
	return nil
}

// apply runs m inside a transaction and records it only when it succeeds.
func apply(db *gorm.DB, m Migration) error {
	if m.ID == "" || m.Apply == nil {
		return fmt.Errorf("invalid migration %q", m.ID)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var existing DataMigration
		err := tx.First(&existing, "id = ?", m.ID).Error
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("check migration %q: %w", m.ID, err)
		}

		if err := m.Apply(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", m.ID, err)
		}
		if err := tx.Create(&DataMigration{ID: m.ID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", m.ID, err)
		}
		return nil
	})
}

// createEventLogKindIndex backs the "latest events of kind X" query of the status API.
func createEventLogKindIndex(db *gorm.DB) error {
	return db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_event_logs_kind_occurred ON event_logs (kind, occurred_at)",
	).Error
}

func backfillExceptionLevels(db *gorm.DB) error {
	return db.Exec(
		"UPDATE exceptions SET level = ? WHERE level IS NULL OR level = ''", "error",
	).Error
}
