package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"portal/internal/auth"
	"portal/internal/config"
	"portal/internal/metrics"
	"portal/internal/mw"
	"portal/internal/service"
	"portal/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API、变更通知端点以及静态前端。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub) *gin.Engine {
	authz := service.NewAuthorizer(db, cfg.AdminName)
	h := NewHandler(
		service.NewUserService(db, cfg),
		service.NewRankService(db, authz, cfg.BaselineRank),
		service.NewDocumentService(db),
		service.NewMeetingService(db, authz, cfg.MeetingStatuses),
		hub,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLog())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.POST("/login", h.Login)
	api.POST("/register", h.Register)
	api.POST("/heartbeat", h.Heartbeat)
	api.GET("/documents", h.ListDocuments)
	api.GET("/users", h.ListUsers)
	api.GET("/ranks", h.ListRanks)
	api.GET("/meeting", h.ListMeeting)
	api.GET("/meeting/:id", h.GetMeeting)
	api.GET("/ws", ws.Serve(hub))

	// 写操作：可选 Bearer Token 必须与请求体中的操作者一致。
	mut := api.Group("")
	mut.Use(auth.BearerActor(cfg))

	mut.POST("/documents", h.CreateDocument)
	mut.POST("/users/rank", h.SetUserRank)
	mut.POST("/users/kick", h.KickUser)
	mut.POST("/ranks", h.UpsertRank)
	mut.POST("/ranks/reorder", h.ReorderRanks)
	mut.DELETE("/ranks/:name", h.DeleteRank)
	mut.POST("/meeting", h.CreateMeeting)
	mut.POST("/meeting/manage", h.ManageMeeting)
	mut.DELETE("/meeting/:id", h.DeleteMeeting)

	r.NoRoute(staticFallback(cfg.WebDir))
	return r
}

// staticFallback 从 webDir 提供前端文件，未知路径回退到 index.html；/api 下的未知路径返回 404。
func staticFallback(webDir string) gin.HandlerFunc {
	index := filepath.Join(webDir, "index.html")
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		rel := strings.TrimPrefix(filepath.Clean("/"+path), "/")
		if rel != "" {
			target := filepath.Join(webDir, rel)
			if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
				c.File(target)
				return
			}
			if strings.Contains(rel, ".") {
				c.Status(http.StatusNotFound)
				return
			}
		}
		if _, err := os.Stat(index); err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(index)
	}
}
