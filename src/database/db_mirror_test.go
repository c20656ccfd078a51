package database

import (
	"testing"

	"brokerdash/src/database/migrations"
	"brokerdash/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialector(t *testing.T) {
	assert.Equal(t, "postgres", Dialector("postgres://u:p@localhost:5432/mirror?sslmode=disable").Name())
	assert.Equal(t, "sqlite", Dialector("brokerdash.db").Name())
}

func TestOpenMirror_MigratesAndSeeds(t *testing.T) {
	db, err := OpenMirror("file:open_mirror?mode=memory&cache=shared", 1)
	require.NoError(t, err)

	for _, m := range []interface{}{&model.Entity{}, &model.Client{}, &model.MT5Group{}, &model.MT5Account{}, &model.Symbol{}} {
		assert.True(t, db.Migrator().HasTable(m))
	}

	var entities []model.Entity
	require.NoError(t, db.Find(&entities).Error)
	require.Len(t, entities, 1)
	assert.Equal(t, model.DefaultEntity, entities[0].Name)

	// A second pass is a no-op.
	require.NoError(t, Migrate(db))
	var count int64
	require.NoError(t, db.Model(&model.Entity{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, db.Model(&migrations.DataMigration{}).Count(&count).Error)
	assert.Equal(t, int64(len(migrations.All)), count)
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, "brokerdash.db", GetConfig().MirrorDSN)
}
