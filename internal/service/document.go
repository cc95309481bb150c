package service

import (
	"fmt"
	"time"

	"portal/internal/models"

	"gorm.io/gorm"
)

// DocumentService 封装文档的创建与查询，文档创建后不可修改。
type DocumentService struct {
	db *gorm.DB
}

func NewDocumentService(db *gorm.DB) *DocumentService {
	return &DocumentService{db: db}
}

// DocumentDTO 是对外输出的文档。
type DocumentDTO struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Create 写入新文档，任何调用者都可以创建。
func (s *DocumentService) Create(title, content, createdBy string) (*DocumentDTO, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	doc := models.Document{Title: title, Content: content, CreatedBy: createdBy}
	if err := s.db.Create(&doc).Error; err != nil {
		return nil, err
	}
	return &DocumentDTO{ID: doc.ID, Title: doc.Title, Content: doc.Content, CreatedBy: doc.CreatedBy, CreatedAt: doc.CreatedAt}, nil
}

// List 返回全部文档，最新的在前。
func (s *DocumentService) List() ([]DocumentDTO, error) {
	var docs []models.Document
	if err := s.db.Order("created_at desc, id desc").Find(&docs).Error; err != nil {
		return nil, err
	}
	out := make([]DocumentDTO, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentDTO{ID: d.ID, Title: d.Title, Content: d.Content, CreatedBy: d.CreatedBy, CreatedAt: d.CreatedAt})
	}
	return out, nil
}
