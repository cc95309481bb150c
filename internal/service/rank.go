package service

import (
	"errors"
	"fmt"

	"portal/internal/db"
	"portal/internal/models"

	"gorm.io/gorm"
)

// RankService 封装 rank 的查询、创建/更新、排序与删除。
type RankService struct {
	db       *gorm.DB
	authz    *Authorizer
	baseline string
}

func NewRankService(gdb *gorm.DB, authz *Authorizer, baseline string) *RankService {
	return &RankService{db: gdb, authz: authz, baseline: baseline}
}

// RankDTO 是对外输出的 rank，权限以字符串数组表示。
type RankDTO struct {
	Name        string   `json:"name"`
	Color       string   `json:"color"`
	Level       int      `json:"level"`
	Permissions []string `json:"permissions"`
}

// List 按等级从高到低返回全部 rank。
func (s *RankService) List() ([]RankDTO, error) {
	var ranks []models.Rank
	if err := s.db.Preload("Permissions").Order("level asc, name asc").Find(&ranks).Error; err != nil {
		return nil, err
	}
	out := make([]RankDTO, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, RankDTO{Name: r.Name, Color: r.Color, Level: r.Level, Permissions: r.PermissionNames()})
	}
	return out, nil
}

// Upsert 按名称创建或更新 rank。已存在时只覆盖颜色与权限集合，新建的 rank 等级为 99。
func (s *RankService) Upsert(name, color string, perms []string, executedBy string) error {
	if name == "" {
		return fmt.Errorf("%w: rank name required", ErrInvalidInput)
	}
	if name == db.AdminRank {
		perms = append(append([]string{}, db.CorePermissions...), perms...)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		actor, err := s.authz.resolve(tx, executedBy)
		if err != nil {
			return err
		}
		var existing models.Rank
		err = tx.Where("name = ?", name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&models.Rank{Name: name, Color: color, Level: models.DefaultLevel}).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if !actor.CanTouchLevel(existing.Level) {
				return fmt.Errorf("%w: %s cannot edit rank %q (level %d)", ErrNoPermission, actor.Username, name, existing.Level)
			}
			if color != "" {
				if err := tx.Model(&existing).Update("color", color).Error; err != nil {
					return err
				}
			}
		}
		return db.ReplacePermissions(tx, name, perms)
	})
}

// Reorder 按给定顺序把等级重新分配为 1..N。整个过程在一个事务内完成，任何一步失败都会回滚。
func (s *RankService) Reorder(names []string, executedBy string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: rank list is empty", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return fmt.Errorf("%w: rank %q listed twice", ErrInvalidInput, n)
		}
		seen[n] = struct{}{}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		actor, err := s.authz.resolve(tx, executedBy)
		if err != nil {
			return err
		}
		for i, name := range names {
			newLevel := i + 1
			var rank models.Rank
			if err := tx.Where("name = ?", name).First(&rank).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrRankNotFound, name)
				}
				return err
			}
			if rank.Level == newLevel {
				continue
			}
			if !actor.CanTouchLevel(rank.Level) || !actor.CanTouchLevel(newLevel) {
				return fmt.Errorf("%w: %s cannot move rank %q from level %d to %d", ErrNoPermission, actor.Username, name, rank.Level, newLevel)
			}
			if err := tx.Model(&rank).Update("level", newLevel).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete 删除 rank 并把持有者改回基础 rank，返回被改动的用户数。admin 不可删除。
func (s *RankService) Delete(name, executedBy string) (int64, error) {
	if name == db.AdminRank {
		return 0, fmt.Errorf("%w: %s", ErrProtectedRank, name)
	}
	var moved int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		actor, err := s.authz.resolve(tx, executedBy)
		if err != nil {
			return err
		}
		var rank models.Rank
		if err := tx.Where("name = ?", name).First(&rank).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrRankNotFound, name)
			}
			return err
		}
		if !actor.CanTouchLevel(rank.Level) {
			return fmt.Errorf("%w: %s cannot delete rank %q (level %d)", ErrNoPermission, actor.Username, name, rank.Level)
		}
		res := tx.Model(&models.User{}).Where("rank_name = ?", name).Update("rank_name", s.baseline)
		if res.Error != nil {
			return res.Error
		}
		moved = res.RowsAffected
		if err := tx.Where("rank_name = ?", name).Delete(&models.RankPermission{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", name).Delete(&models.Rank{}).Error
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}
