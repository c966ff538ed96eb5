package services

import (
	"context"
	"time"

	"github.com/huangang/taskreport/internal/models"
	"gorm.io/gorm"
)

// DeliveryRecorder stores the outcome of a report run.
type DeliveryRecorder interface {
	Record(ctx context.Context, d *models.ReportDelivery) error
}

type DeliveryLogService struct {
	db *gorm.DB
}

func NewDeliveryLogService(db *gorm.DB) *DeliveryLogService {
	return &DeliveryLogService{db: db}
}

func (s *DeliveryLogService) Record(ctx context.Context, d *models.ReportDelivery) error {
	return s.db.WithContext(ctx).Create(d).Error
}

type DeliveryListRequest struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	ConfigID  uint   `form:"config_id"`
	Status    string `form:"status" binding:"omitempty,oneof=sent failed skipped"`
	StartDate string `form:"start_date"` // 2006-01-02
	EndDate   string `form:"end_date"`
}

type DeliveryListResponse struct {
	Total    int64                   `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
	Items    []models.ReportDelivery `json:"items"`
}

// List returns delivery history, newest first.
func (s *DeliveryLogService) List(ctx context.Context, req *DeliveryListRequest) (*DeliveryListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.ReportDelivery{})
	if req.ConfigID != 0 {
		query = query.Where("config_id = ?", req.ConfigID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.StartDate != "" {
		if start, err := time.Parse("2006-01-02", req.StartDate); err == nil {
			query = query.Where("created_at >= ?", start)
		}
	}
	if req.EndDate != "" {
		if end, err := time.Parse("2006-01-02", req.EndDate); err == nil {
			query = query.Where("created_at < ?", end.AddDate(0, 0, 1))
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.ReportDelivery
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}
	return &DeliveryListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

// Cleanup deletes history older than the retention period.
func (s *DeliveryLogService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", time.Now().Add(-retention)).Delete(&models.ReportDelivery{})
	return res.RowsAffected, res.Error
}
