package database

import (
	"path/filepath"
	"testing"

	"coinbase-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_KeepsLotsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "lots.db")

	db, err := NewDatabase(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Lot{ProductID: "BTC-EUR", Price: 100, Size: 1, IsActive: true}).Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	// Reopening migrates again and must not drop existing rows.
	db, err = NewDatabase(dsn)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&models.Lot{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
