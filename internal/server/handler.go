package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"portal/internal/auth"
	"portal/internal/metrics"
	"portal/internal/service"
	"portal/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层与变更通知 hub。
type Handler struct {
	userSvc    *service.UserService
	rankSvc    *service.RankService
	docSvc     *service.DocumentService
	meetingSvc *service.MeetingService
	hub        *ws.Hub
}

func NewHandler(userSvc *service.UserService, rankSvc *service.RankService, docSvc *service.DocumentService, meetingSvc *service.MeetingService, hub *ws.Hub) *Handler {
	return &Handler{userSvc: userSvc, rankSvc: rankSvc, docSvc: docSvc, meetingSvc: meetingSvc, hub: hub}
}

// looseString 同时接受 JSON 字符串与数字，客户端的 id/boxId 两种写法都存在。
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = looseString(num.String())
	return nil
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrBanned),
		errors.Is(err, service.ErrNoPermission),
		errors.Is(err, service.ErrUserResolution),
		errors.Is(err, service.ErrProtectedRank):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrRankNotFound),
		errors.Is(err, service.ErrMeetingNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail 写出错误响应；未分类的错误记录日志并原样返回错误文本。
func fail(c *gin.Context, err error, op string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badPayload(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
}

// requireActor 在携带 token 时确认请求体中的操作者就是 token 持有者。
func requireActor(c *gin.Context, claimed string) bool {
	if auth.ActorMatches(c, claimed) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "token does not match acting user"})
	return false
}

func success(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		badPayload(c)
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		var banErr *service.BanError
		switch {
		case errors.As(err, &banErr):
			metrics.LoginsTotal.WithLabelValues("banned").Inc()
			c.JSON(http.StatusForbidden, gin.H{"error": "banned", "remaining": banErr.Remaining})
		case errors.Is(err, service.ErrInvalidCredentials):
			metrics.LoginsTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		default:
			metrics.LoginsTotal.WithLabelValues("error").Inc()
			fail(c, err, "login")
		}
		return
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, gin.H{"success": true, "user": result.User, "token": result.Token})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		FullName string `json:"fullName"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if req.Password == "" || len(req.Password) > 72 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	if len(req.FullName) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid full name"})
		return
	}
	if err := h.userSvc.Register(req.Username, req.FullName, req.Password); err != nil {
		fail(c, err, "register")
		return
	}
	h.hub.Publish(ws.TopicUsers)
	success(c)
}

// Heartbeat 刷新在线时间，并告知客户端是否已被踢出。
func (h *Handler) Heartbeat(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		badPayload(c)
		return
	}
	res, err := h.userSvc.Heartbeat(req.Username)
	if err != nil {
		fail(c, err, "heartbeat")
		return
	}
	if res.Kicked {
		c.JSON(http.StatusOK, gin.H{"kicked": true, "reason": res.Reason, "by": res.By})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListDocuments 返回全部文档。
func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.docSvc.List()
	if err != nil {
		fail(c, err, "list documents")
		return
	}
	c.JSON(http.StatusOK, docs)
}

// CreateDocument 创建文档。
func (h *Handler) CreateDocument(c *gin.Context) {
	var req struct {
		Title     string `json:"title"`
		Content   string `json:"content"`
		CreatedBy string `json:"createdBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if !requireActor(c, req.CreatedBy) {
		return
	}
	if _, err := h.docSvc.Create(strings.TrimSpace(req.Title), req.Content, req.CreatedBy); err != nil {
		fail(c, err, "create document")
		return
	}
	h.hub.Publish(ws.TopicDocuments)
	success(c)
}

// ListUsers 返回用户列表。
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.userSvc.List()
	if err != nil {
		fail(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, users)
}

// SetUserRank 修改用户的 rank。
func (h *Handler) SetUserRank(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		NewRank  string `json:"newRank"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.NewRank == "" {
		badPayload(c)
		return
	}
	if err := h.userSvc.SetRank(req.Username, req.NewRank); err != nil {
		fail(c, err, "set rank")
		return
	}
	log.Info().Str("username", req.Username).Str("rank", req.NewRank).Msg("rank changed")
	h.hub.Publish(ws.TopicUsers)
	success(c)
}

// KickUser 踢出或封禁用户。
func (h *Handler) KickUser(c *gin.Context) {
	var req struct {
		Username  string `json:"username"`
		Reason    string `json:"reason"`
		AdminName string `json:"adminName"`
		IsBan     bool   `json:"isBan"`
		Minutes   int    `json:"minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		badPayload(c)
		return
	}
	if !requireActor(c, req.AdminName) {
		return
	}
	err := h.userSvc.Kick(service.KickRequest{
		Username:  req.Username,
		Reason:    req.Reason,
		AdminName: req.AdminName,
		IsBan:     req.IsBan,
		Minutes:   req.Minutes,
	})
	if err != nil {
		fail(c, err, "kick user")
		return
	}
	kind := "kick"
	if req.IsBan && req.Minutes > 0 {
		kind = "ban"
	}
	metrics.KicksTotal.WithLabelValues(kind).Inc()
	log.Info().Str("username", req.Username).Str("by", req.AdminName).Str("kind", kind).Int("minutes", req.Minutes).Msg("user kicked")
	h.hub.Publish(ws.TopicUsers)
	success(c)
}

// ListRanks 返回全部 rank。
func (h *Handler) ListRanks(c *gin.Context) {
	ranks, err := h.rankSvc.List()
	if err != nil {
		fail(c, err, "list ranks")
		return
	}
	c.JSON(http.StatusOK, ranks)
}

// UpsertRank 创建或更新 rank。
func (h *Handler) UpsertRank(c *gin.Context) {
	var req struct {
		Name        string   `json:"name"`
		Color       string   `json:"color"`
		Permissions []string `json:"permissions"`
		ExecutedBy  string   `json:"executedBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if !requireActor(c, req.ExecutedBy) {
		return
	}
	if err := h.rankSvc.Upsert(strings.TrimSpace(req.Name), req.Color, req.Permissions, req.ExecutedBy); err != nil {
		fail(c, err, "upsert rank")
		return
	}
	h.hub.Publish(ws.TopicRanks)
	success(c)
}

// ReorderRanks 按给定顺序重排 rank 等级。
func (h *Handler) ReorderRanks(c *gin.Context) {
	var req struct {
		RankNames  []string `json:"rankNames"`
		ExecutedBy string   `json:"executedBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if !requireActor(c, req.ExecutedBy) {
		return
	}
	if err := h.rankSvc.Reorder(req.RankNames, req.ExecutedBy); err != nil {
		fail(c, err, "reorder ranks")
		return
	}
	h.hub.Publish(ws.TopicRanks)
	success(c)
}

// DeleteRank 删除 rank，操作者通过请求体传入。
func (h *Handler) DeleteRank(c *gin.Context) {
	var req struct {
		ExecutedBy string `json:"executedBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if !requireActor(c, req.ExecutedBy) {
		return
	}
	name := c.Param("name")
	moved, err := h.rankSvc.Delete(name, req.ExecutedBy)
	if err != nil {
		fail(c, err, "delete rank")
		return
	}
	log.Info().Str("rank", name).Str("by", req.ExecutedBy).Int64("reassigned", moved).Msg("rank deleted")
	h.hub.Publish(ws.TopicRanks)
	h.hub.Publish(ws.TopicUsers)
	success(c)
}

// ListMeeting 返回全部会议点。
func (h *Handler) ListMeeting(c *gin.Context) {
	points, err := h.meetingSvc.List()
	if err != nil {
		fail(c, err, "list meeting")
		return
	}
	c.JSON(http.StatusOK, points)
}

// GetMeeting 返回单个会议点。
func (h *Handler) GetMeeting(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	p, err := h.meetingSvc.Get(id)
	if err != nil {
		fail(c, err, "get meeting")
		return
	}
	c.JSON(http.StatusOK, p)
}

// CreateMeeting 创建待审批的会议点。
func (h *Handler) CreateMeeting(c *gin.Context) {
	var req struct {
		Content   string      `json:"content"`
		BoxID     looseString `json:"boxId"`
		CreatedBy string      `json:"createdBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if !requireActor(c, req.CreatedBy) {
		return
	}
	if _, err := h.meetingSvc.Create(strings.TrimSpace(req.Content), string(req.BoxID), req.CreatedBy); err != nil {
		fail(c, err, "create meeting")
		return
	}
	h.hub.Publish(ws.TopicMeeting)
	success(c)
}

// ManageMeeting 审批会议点。
func (h *Handler) ManageMeeting(c *gin.Context) {
	var req struct {
		ID         looseString `json:"id"`
		ExecutedBy string      `json:"executedBy"`
		Status     string      `json:"status"`
		Reason     string      `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	id, ok := parseID(string(req.ID))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if !requireActor(c, req.ExecutedBy) {
		return
	}
	if err := h.meetingSvc.Manage(id, req.ExecutedBy, req.Status, req.Reason); err != nil {
		fail(c, err, "manage meeting")
		return
	}
	h.hub.Publish(ws.TopicMeeting)
	success(c)
}

// DeleteMeeting 删除会议点，操作者通过请求体传入。
func (h *Handler) DeleteMeeting(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		ExecutedBy string `json:"executedBy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if !requireActor(c, req.ExecutedBy) {
		return
	}
	if err := h.meetingSvc.Delete(id, req.ExecutedBy); err != nil {
		fail(c, err, "delete meeting")
		return
	}
	h.hub.Publish(ws.TopicMeeting)
	success(c)
}
