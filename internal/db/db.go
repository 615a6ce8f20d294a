package db

import (
	"fmt"

	"doc-qa/internal/config"
	"doc-qa/internal/model"
	"doc-qa/internal/paths"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 打开数据库并迁移三张表；返回的连接由调用方持有并传给各组件
func Open(cfg *config.Config, resolver *paths.Resolver, log logrus.FieldLogger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg, resolver)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if cfg.Log.Level == "debug" {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, errors.Wrap(err, "连接数据库失败")
	}

	if cfg.Database.Driver == "sqlite" {
		// sqlite 同一时刻只允许一个写者，单连接避免 database is locked
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, errors.Wrap(err, "获取底层连接失败")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(conn); err != nil {
		return nil, err
	}

	log.WithField("driver", cfg.Database.Driver).Info("数据库初始化成功")
	return conn, nil
}

// Migrate 自动迁移（等价于 CREATE TABLE IF NOT EXISTS）
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&model.Task{},
		&model.TaskConversation{},
		&model.TaskFile{},
	); err != nil {
		return errors.Wrap(err, "数据库迁移失败")
	}
	return nil
}

func dialectorFor(cfg *config.Config, resolver *paths.Resolver) (gorm.Dialector, error) {
	switch cfg.Database.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.DBName,
			cfg.Database.Charset,
		)
		return mysql.Open(dsn), nil
	case "sqlite":
		file, err := resolver.SQLiteFile()
		if err != nil {
			return nil, err
		}
		return sqlite.Open(file + "?_busy_timeout=5000&_foreign_keys=off"), nil
	default:
		return nil, errors.Errorf("不支持的数据库类型: %s", cfg.Database.Driver)
	}
}
