// Package dbtest 为测试提供迁移并初始化完毕的内存 SQLite 数据库。
package dbtest

import (
	"testing"

	"portal/internal/db"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	AdminName     = "admin"
	AdminPassword = "admin123"
	Baseline      = "besucher"
)

// Open 返回一个已迁移并写入默认 rank 与 admin 账号的数据库，测试结束时自动关闭。
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// 内存库按连接隔离，固定单连接保证所有查询看到同一份数据。
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close(gdb) })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Seed(gdb, AdminName, AdminPassword, Baseline); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return gdb
}
