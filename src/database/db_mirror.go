package database

import (
	"fmt"
	"strings"

	"brokerdash/src/database/migrations"
	"brokerdash/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MirrorDB is the local copy of CRM clients, accounts, groups and symbols.
var MirrorDB *gorm.DB

// MirrorModels are the tables created by AutoMigrate, parents first.
var MirrorModels = []interface{}{
	&model.Entity{},
	&model.Client{},
	&model.MT5Group{},
	&model.MT5Account{},
	&model.Symbol{},
	&migrations.DataMigration{},
}

// Dialector picks the gorm driver for dsn.
func Dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// OpenMirror connects to dsn and brings the schema up to date.
func OpenMirror(dsn string, logLevel int) (*gorm.DB, error) {
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(logLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(MirrorModels...); err != nil {
		return fmt.Errorf("failed to run migrations on MirrorDB: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations on MirrorDB: %w", err)
	}
	return nil
}

// InitMirrorDB opens MIRROR_DSN and assigns MirrorDB. Call once at startup.
func InitMirrorDB() error {
	config := GetConfig()
	db, err := OpenMirror(config.MirrorDSN, config.GormLogLevel)
	if err != nil {
		return err
	}
	MirrorDB = db
	logrus.WithField("dsn_kind", db.Dialector.Name()).Info("[database] MirrorDB ready")
	return nil
}
