package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/livepost/config"
)

func TestInitDB_SQLite(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1}}
	db, err := InitDB(cfg)
	require.NoError(t, err)

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestInitDB_UnknownDriver(t *testing.T) {
	_, err := InitDB(&config.Config{Database: config.DatabaseConfig{Driver: "oracle"}})
	assert.Error(t, err)
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := InitRedis(context.Background(), &config.Config{Redis: config.RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = InitRedis(context.Background(), &config.Config{Redis: config.RedisConfig{Addr: mr.Addr()}})
	assert.Error(t, err)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, gormLogLevel("SILENT"))
	assert.Equal(t, gormlogger.Info, gormLogLevel("info"))
	assert.Equal(t, gormlogger.Warn, gormLogLevel(""))
}
