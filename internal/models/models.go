package models

import "time"

// DefaultLevel 是未排序 rank 的等级，数值越小权限越高。
const DefaultLevel = 99

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	FullName     string `gorm:"size:128;not null;default:''"`
	RankName     string `gorm:"index;size:64;not null"`
	CreatedAt    time.Time
	BanUntil     *time.Time
	LastSeen     *time.Time
	ForceLogout  bool   `gorm:"not null;default:false"`
	KickMessage  string `gorm:"type:text;not null;default:''"`
	KickedBy     string `gorm:"size:64;not null;default:''"`
}

type Rank struct {
	Name        string           `gorm:"primaryKey;size:64"`
	Color       string           `gorm:"size:32;not null;default:'#95a5a6'"`
	Level       int              `gorm:"index;not null;default:99"`
	Permissions []RankPermission `gorm:"foreignKey:RankName;references:Name"`
}

// RankPermission 以关联表保存 rank 的权限集合，(rank_name, permission) 唯一。
type RankPermission struct {
	RankName   string `gorm:"primaryKey;size:64"`
	Permission string `gorm:"primaryKey;size:64"`
}

type Document struct {
	ID        uint   `gorm:"primaryKey"`
	Title     string `gorm:"size:255;not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedBy string `gorm:"index;size:64;not null"`
	CreatedAt time.Time
}

type MeetingPoint struct {
	ID        uint   `gorm:"primaryKey"`
	Content   string `gorm:"type:text;not null"`
	BoxID     string `gorm:"index;size:64;not null"`
	CreatedBy string `gorm:"size:64;not null"`
	Status    string `gorm:"index;size:32;not null"`
	ManagedBy string `gorm:"size:64;not null;default:''"`
	Reason    string `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time
}

// PermissionNames 把关联表行展开成字符串切片，保持存储顺序。
func (r Rank) PermissionNames() []string {
	out := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		out = append(out, p.Permission)
	}
	return out
}
