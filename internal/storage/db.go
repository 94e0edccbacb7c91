// Package storage 使用 sqlite 保存请求重放历史。
package storage

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	applog "cdpproxy/internal/logger"
)

// Options 数据库配置
type Options struct {
	DSN    string
	Prefix string
}

// Open 打开数据库并迁移表结构
func Open(opts Options, l applog.Logger) (*gorm.DB, error) {
	if l == nil {
		l = applog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.DSN, err)
	}
	if err := db.AutoMigrate(&ReplayRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
