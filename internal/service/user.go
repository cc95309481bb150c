package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"portal/internal/auth"
	"portal/internal/config"
	"portal/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// UserService 封装注册、登录、心跳以及用户管理相关的业务逻辑。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
	now func() time.Time
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg, now: time.Now}
}

// Profile 是登录后返回给客户端的公开资料。
type Profile struct {
	Username    string   `json:"username"`
	Rank        string   `json:"rank"`
	FullName    string   `json:"fullName"`
	Permissions []string `json:"permissions"`
	Color       string   `json:"color"`
	Level       int      `json:"level"`
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	User  Profile
	Token string
}

// HeartbeatResult 表示客户端是否必须立即结束本地会话。
type HeartbeatResult struct {
	Kicked bool
	Reason string
	By     string
}

// UserSummary 是用户列表中的一行，附带 rank 颜色。
type UserSummary struct {
	ID          uint       `json:"id"`
	Username    string     `json:"username"`
	FullName    string     `json:"fullName"`
	Rank        string     `json:"rank"`
	Color       string     `json:"color"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSeen    *time.Time `json:"lastSeen"`
	BanUntil    *time.Time `json:"banUntil"`
	ForceLogout bool       `json:"forceLogout"`
	Online      bool       `json:"online"`
}

// KickRequest 描述一次踢出/封禁操作。
type KickRequest struct {
	Username  string
	Reason    string
	AdminName string
	IsBan     bool
	Minutes   int
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// banRemaining 返回封禁剩余秒数（毫秒差除以 1000 向上取整），未封禁时返回 0。
func banRemaining(banUntil *time.Time, now time.Time) int64 {
	if banUntil == nil || !banUntil.After(now) {
		return 0
	}
	ms := banUntil.Sub(now).Milliseconds()
	secs := int64(math.Ceil(float64(ms) / 1000))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Register 以基础 rank 创建新用户。
func (s *UserService) Register(username, fullName, password string) error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user := models.User{Username: username, FullName: fullName, PasswordHash: hash, RankName: s.cfg.BaselineRank}
	if err := s.db.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

// Login 校验密码与封禁状态，成功后清除强制下线标记并签发 token。
func (s *UserService) Login(username, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	now := s.now()
	if rem := banRemaining(user.BanUntil, now); rem > 0 {
		return nil, &BanError{Remaining: rem}
	}
	if err := s.db.Model(&user).Updates(map[string]interface{}{"force_logout": false, "last_seen": now}).Error; err != nil {
		return nil, err
	}

	profile := Profile{Username: user.Username, Rank: user.RankName, FullName: user.FullName, Permissions: []string{}, Level: models.DefaultLevel}
	var rank models.Rank
	err := s.db.Preload("Permissions").Where("name = ?", user.RankName).First(&rank).Error
	switch {
	case err == nil:
		profile.Color = rank.Color
		profile.Level = rank.Level
		profile.Permissions = rank.PermissionNames()
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	token, err := auth.GenerateAccessToken(user.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: profile, Token: token}, nil
}

// Heartbeat 刷新 last_seen，并在强制下线或封禁期间返回踢出信号。
func (s *UserService) Heartbeat(username string) (*HeartbeatResult, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	now := s.now()
	if err := s.db.Model(&user).Update("last_seen", now).Error; err != nil {
		return nil, err
	}
	if user.ForceLogout || banRemaining(user.BanUntil, now) > 0 {
		return &HeartbeatResult{Kicked: true, Reason: user.KickMessage, By: user.KickedBy}, nil
	}
	return &HeartbeatResult{}, nil
}

// List 按创建顺序返回全部用户。
func (s *UserService) List() ([]UserSummary, error) {
	var users []models.User
	if err := s.db.Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	var ranks []models.Rank
	if err := s.db.Select("name", "color").Find(&ranks).Error; err != nil {
		return nil, err
	}
	colors := make(map[string]string, len(ranks))
	for _, r := range ranks {
		colors[r.Name] = r.Color
	}
	window := time.Duration(s.cfg.OnlineWindowSeconds) * time.Second
	now := s.now()
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, UserSummary{
			ID:          u.ID,
			Username:    u.Username,
			FullName:    u.FullName,
			Rank:        u.RankName,
			Color:       colors[u.RankName],
			CreatedAt:   u.CreatedAt,
			LastSeen:    u.LastSeen,
			BanUntil:    u.BanUntil,
			ForceLogout: u.ForceLogout,
			Online:      u.LastSeen != nil && now.Sub(*u.LastSeen) <= window,
		})
	}
	return out, nil
}

// SetRank 直接修改用户的 rank，不做等级比较。
func (s *UserService) SetRank(username, newRank string) error {
	var count int64
	if err := s.db.Model(&models.Rank{}).Where("name = ?", newRank).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrRankNotFound, newRank)
	}
	res := s.db.Model(&models.User{}).Where("username = ?", username).Update("rank_name", newRank)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Kick 设置强制下线；IsBan 且 Minutes > 0 时额外写入封禁截止时间。
func (s *UserService) Kick(req KickRequest) error {
	updates := map[string]interface{}{
		"force_logout": true,
		"kick_message": req.Reason,
		"kicked_by":    req.AdminName,
	}
	if req.IsBan && req.Minutes > 0 {
		updates["ban_until"] = s.now().Add(time.Duration(req.Minutes) * time.Minute)
	}
	res := s.db.Model(&models.User{}).Where("username = ?", req.Username).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
