package service

import (
	"errors"
	"fmt"

	"portal/internal/models"

	"gorm.io/gorm"
)

// Actor 是一次特权操作的发起者及其有效等级与权限集合。
type Actor struct {
	Username    string
	Rank        string
	Level       int
	Permissions map[string]struct{}
	// IsAdmin 表示发起者是保留的 admin 账号，可绕过全部等级比较。
	IsAdmin bool
}

// Has 判断发起者是否拥有权限，admin 账号总是拥有。
func (a *Actor) Has(perm string) bool {
	if a.IsAdmin {
		return true
	}
	_, ok := a.Permissions[perm]
	return ok
}

// CanTouchLevel 判断发起者能否修改或移动处于 level 的 rank：必须严格高于目标等级。
func (a *Actor) CanTouchLevel(level int) bool {
	return a.IsAdmin || a.Level < level
}

// Authorizer 把用户名解析为 Actor。
type Authorizer struct {
	db        *gorm.DB
	adminName string
}

func NewAuthorizer(db *gorm.DB, adminName string) *Authorizer {
	return &Authorizer{db: db, adminName: adminName}
}

// Resolve 使用默认连接解析发起者。
func (a *Authorizer) Resolve(username string) (*Actor, error) {
	return a.resolve(a.db, username)
}

// resolve 在给定的连接或事务内解析发起者，rank 缺失时等级按 99、权限按空集处理。
func (a *Authorizer) resolve(tx *gorm.DB, username string) (*Actor, error) {
	if username == "" {
		return nil, ErrUserResolution
	}
	var user models.User
	if err := tx.Select("id", "username", "rank_name").Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserResolution, username)
		}
		return nil, err
	}
	actor := &Actor{
		Username:    user.Username,
		Rank:        user.RankName,
		Level:       models.DefaultLevel,
		Permissions: map[string]struct{}{},
		IsAdmin:     user.Username == a.adminName,
	}
	var rank models.Rank
	err := tx.Preload("Permissions").Where("name = ?", user.RankName).First(&rank).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return actor, nil
	case err != nil:
		return nil, err
	}
	if rank.Level > 0 {
		actor.Level = rank.Level
	}
	for _, p := range rank.Permissions {
		actor.Permissions[p.Permission] = struct{}{}
	}
	return actor, nil
}
