package migrations

import (
	"errors"
	"fmt"
	"time"

	"brokerdash/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DataMigration records one applied data migration.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// Migration is a one-shot data change applied after AutoMigrate.
type Migration struct {
	ID string
	Up func(tx *gorm.DB) error
}

// All lists the mirror data migrations in apply order. IDs are stable; append only.
var All = []Migration{
	{ID: "00001_seed_default_entity", Up: seedDefaultEntity},
	{ID: "00002_backfill_group_paths", Up: backfillGroupPaths},
}

// Run applies every migration in All that the database has not seen yet.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}
	for _, m := range All {
		if err := RunOnce(db, m); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce applies m inside a transaction and records it. Nothing is recorded
// when Up fails.
func RunOnce(db *gorm.DB, m Migration) error {
	if m.ID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if m.Up == nil {
		return fmt.Errorf("migration %q has nil Up", m.ID)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var applied DataMigration
		err := tx.Take(&applied, "id = ?", m.ID).Error
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("check migration %q: %w", m.ID, err)
		}

		if err := m.Up(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", m.ID, err)
		}
		if err := tx.Create(&DataMigration{ID: m.ID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", m.ID, err)
		}
		logger.WithField("migration", m.ID).Info("[database] data migration applied")
		return nil
	})
}

// Clients without an entity tag are filed under the default entity.
func seedDefaultEntity(tx *gorm.DB) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Entity{Name: model.DefaultEntity}).Error
}

// Early imports stored groups without a path; the group name is the path.
func backfillGroupPaths(tx *gorm.DB) error {
	return tx.Model(&model.MT5Group{}).
		Where("path = ? OR path IS NULL", "").
		Update("path", gorm.Expr("name")).Error
}
