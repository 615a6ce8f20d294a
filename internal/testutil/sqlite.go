package testutil

import (
	"testing"

	"doc-qa/internal/config"
	"doc-qa/internal/db"
	"doc-qa/internal/paths"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewSQLiteDB 在临时目录下创建已迁移的 sqlite 数据库，测试结束时关闭
func NewSQLiteDB(t *testing.T) (*gorm.DB, *paths.Resolver) {
	t.Helper()

	resolver := paths.NewResolver(t.TempDir())
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite"},
		Log:      config.LogConfig{Level: "warn"},
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	conn, err := db.Open(cfg, resolver, log)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn, resolver
}
