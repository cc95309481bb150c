package db

import (
	"errors"
	"fmt"
	"time"

	"portal/internal/auth"
	"portal/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// 权限名称，rank 通过关联表持有这些字符串。
const (
	PermManageRanks   = "manage_ranks"
	PermManageUsers   = "manage_users"
	PermKickUsers     = "kick_users"
	PermManageMeeting = "manage_meeting"
	PermWriteDocs     = "write_documents"
)

// AdminRank 是不可删除的最高 rank。
const AdminRank = "admin"

// CorePermissions 是 admin rank 始终持有的权限。
var CorePermissions = []string{PermManageRanks, PermManageUsers, PermKickUsers, PermManageMeeting, PermWriteDocs}

type seedRank struct {
	name  string
	color string
	level int
	perms []string
}

func defaultRanks(baseline string) []seedRank {
	return []seedRank{
		{AdminRank, "#e74c3c", 1, CorePermissions},
		{"moderator", "#e67e22", 2, []string{PermKickUsers, PermManageMeeting, PermWriteDocs}},
		{"user", "#3498db", 3, []string{PermWriteDocs}},
		{baseline, "#95a5a6", 4, nil},
	}
}

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("db connect retry")
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Close 在停服时释放连接池。
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Rank{}, &models.RankPermission{}, &models.Document{}, &models.MeetingPoint{})
}

// Seed 补齐缺失的默认 rank 与 admin 账号，已存在的记录保持不变。
func Seed(gdb *gorm.DB, adminName, adminPassword, baseline string) error {
	return gdb.Transaction(func(tx *gorm.DB) error {
		for _, sr := range defaultRanks(baseline) {
			var count int64
			if err := tx.Model(&models.Rank{}).Where("name = ?", sr.name).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(&models.Rank{Name: sr.name, Color: sr.color, Level: sr.level}).Error; err != nil {
				return fmt.Errorf("seed rank %s: %w", sr.name, err)
			}
			if err := ReplacePermissions(tx, sr.name, sr.perms); err != nil {
				return err
			}
			log.Info().Str("rank", sr.name).Int("level", sr.level).Msg("seeded rank")
		}

		var admin models.User
		err := tx.Where("username = ?", adminName).First(&admin).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		hash, err := auth.HashPassword(adminPassword)
		if err != nil {
			return err
		}
		admin = models.User{Username: adminName, PasswordHash: hash, FullName: "Administrator", RankName: AdminRank}
		if err := tx.Create(&admin).Error; err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		log.Warn().Str("username", adminName).Msg("seeded admin account, rotate its password")
		return nil
	})
}

// ReplacePermissions 用给定集合覆盖 rank 的权限行，重复项只保留一次。
func ReplacePermissions(tx *gorm.DB, rankName string, perms []string) error {
	if err := tx.Where("rank_name = ?", rankName).Delete(&models.RankPermission{}).Error; err != nil {
		return err
	}
	rows := make([]models.RankPermission, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		rows = append(rows, models.RankPermission{RankName: rankName, Permission: p})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
