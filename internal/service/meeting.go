package service

import (
	"errors"
	"fmt"
	"time"

	"portal/internal/config"
	"portal/internal/db"
	"portal/internal/models"

	"gorm.io/gorm"
)

// StatusPending 是新建会议点的初始状态。
const StatusPending = config.MeetingStatusPending

// MeetingService 封装会议点的创建、审批与删除。
type MeetingService struct {
	db       *gorm.DB
	authz    *Authorizer
	statuses map[string]struct{}
}

func NewMeetingService(gdb *gorm.DB, authz *Authorizer, statuses []string) *MeetingService {
	set := make(map[string]struct{}, len(statuses))
	for _, st := range statuses {
		set[st] = struct{}{}
	}
	return &MeetingService{db: gdb, authz: authz, statuses: set}
}

// MeetingPointDTO 是对外输出的会议点。
type MeetingPointDTO struct {
	ID        uint      `json:"id"`
	Content   string    `json:"content"`
	BoxID     string    `json:"boxId"`
	CreatedBy string    `json:"createdBy"`
	Status    string    `json:"status"`
	ManagedBy string    `json:"managedBy"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMeetingDTO(p models.MeetingPoint) MeetingPointDTO {
	return MeetingPointDTO{
		ID:        p.ID,
		Content:   p.Content,
		BoxID:     p.BoxID,
		CreatedBy: p.CreatedBy,
		Status:    p.Status,
		ManagedBy: p.ManagedBy,
		Reason:    p.Reason,
		CreatedAt: p.CreatedAt,
	}
}

// List 返回全部会议点，最新的在前。
func (s *MeetingService) List() ([]MeetingPointDTO, error) {
	var points []models.MeetingPoint
	if err := s.db.Order("created_at desc, id desc").Find(&points).Error; err != nil {
		return nil, err
	}
	out := make([]MeetingPointDTO, 0, len(points))
	for _, p := range points {
		out = append(out, toMeetingDTO(p))
	}
	return out, nil
}

// Create 以 pending 状态创建会议点。
func (s *MeetingService) Create(content, boxID, createdBy string) (*MeetingPointDTO, error) {
	if content == "" || boxID == "" {
		return nil, fmt.Errorf("%w: content and boxId required", ErrInvalidInput)
	}
	p := models.MeetingPoint{Content: content, BoxID: boxID, CreatedBy: createdBy, Status: StatusPending}
	if err := s.db.Create(&p).Error; err != nil {
		return nil, err
	}
	dto := toMeetingDTO(p)
	return &dto, nil
}

// authorize 要求发起者拥有 manage_meeting 权限或是 admin 账号。
func (s *MeetingService) authorize(executedBy string) (*Actor, error) {
	actor, err := s.authz.Resolve(executedBy)
	if err != nil {
		return nil, err
	}
	if !actor.Has(db.PermManageMeeting) {
		return nil, fmt.Errorf("%w: %s lacks %s", ErrNoPermission, executedBy, db.PermManageMeeting)
	}
	return actor, nil
}

// Manage 设置会议点的状态、处理人与可选理由。
func (s *MeetingService) Manage(id uint, executedBy, status, reason string) error {
	if _, ok := s.statuses[status]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	actor, err := s.authorize(executedBy)
	if err != nil {
		return err
	}
	res := s.db.Model(&models.MeetingPoint{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"managed_by": actor.Username,
		"reason":     reason,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMeetingNotFound
	}
	return nil
}

// Delete 删除会议点，权限要求与 Manage 相同。
func (s *MeetingService) Delete(id uint, executedBy string) error {
	if _, err := s.authorize(executedBy); err != nil {
		return err
	}
	res := s.db.Delete(&models.MeetingPoint{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMeetingNotFound
	}
	return nil
}

// Get 按 id 查询单个会议点。
func (s *MeetingService) Get(id uint) (*MeetingPointDTO, error) {
	var p models.MeetingPoint
	if err := s.db.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, err
	}
	dto := toMeetingDTO(p)
	return &dto, nil
}
