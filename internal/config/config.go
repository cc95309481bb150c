package config

import (
	"errors"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultJWTSecret     = "dev-secret-change-me"
	DefaultAdminPassword = "admin123"
	// MeetingStatusPending 是新建会议点的初始状态，MEETING_STATUSES 必须包含它。
	MeetingStatusPending = "pending"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RequireToken          bool
	AdminName             string
	AdminPassword         string
	BaselineRank          string
	MeetingStatuses       []string
	OnlineWindowSeconds   int
	WebDir                string
	CORSOrigins           []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数配置，非法值回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load 从环境变量（以及可选的 .env 文件）读取配置。
func Load() Config {
	_ = godotenv.Load()
	requireToken, _ := strconv.ParseBool(getenv("REQUIRE_TOKEN", "false"))
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=portal port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 720),
		RequireToken:          requireToken,
		AdminName:             getenv("ADMIN_NAME", "admin"),
		AdminPassword:         getenv("ADMIN_PASSWORD", DefaultAdminPassword),
		BaselineRank:          getenv("BASELINE_RANK", "besucher"),
		MeetingStatuses:       splitList(getenv("MEETING_STATUSES", "pending,approved,rejected,done")),
		OnlineWindowSeconds:   getenvInt("ONLINE_WINDOW_SECONDS", 60),
		WebDir:                getenv("WEB_DIR", "./web"),
		CORSOrigins:           splitList(getenv("CORS_ORIGINS", "")),
	}
}

// Validate 检查启动所需的关键配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT must not be empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN must not be empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	if cfg.AdminName == "" || cfg.BaselineRank == "" {
		return errors.New("ADMIN_NAME and BASELINE_RANK must not be empty")
	}
	if !slices.Contains(cfg.MeetingStatuses, MeetingStatusPending) {
		return errors.New("MEETING_STATUSES must include " + MeetingStatusPending)
	}
	return nil
}
