package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
	"gorm.io/gorm"
)

// RequestRepository 申请单仓库
type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// FindAll 查询申请单列表
func (r *RequestRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.ImprestRequest, int64, error) {
	var items []entity.ImprestRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ImprestRequest{})

	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if department := filters["department"]; department != "" {
		query = query.Where("department = ?", department)
	}
	if requesterID := filters["requester_id"]; requesterID != "" {
		query = query.Where("requester_id = ?", requesterID)
	}
	if paymentType := filters["payment_type"]; paymentType != "" {
		query = query.Where("payment_type = ?", paymentType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找申请单
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*entity.ImprestRequest, error) {
	var req entity.ImprestRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Create 创建申请单
func (r *RequestRepository) Create(ctx context.Context, req *entity.ImprestRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// mutableColumns the columns a lifecycle transition may touch. Static
// creation fields are deliberately absent so no code path can edit them.
var mutableColumns = []string{
	"status", "due_date", "has_dispute_history",
	"hod_approval", "accountant_approval", "rejection", "revision",
	"disbursement", "acknowledgment", "dispute_resolution",
	"accounting_revision", "accounting",
	"version", "updated_at",
}

// Save persists a transitioned aggregate with a compare-and-set on the
// version column. A concurrent writer that got there first leaves zero rows
// affected and the caller sees ErrConflict with the stored row unchanged.
func (r *RequestRepository) Save(ctx context.Context, req *entity.ImprestRequest) error {
	prev := req.Version
	req.Version = prev + 1
	req.UpdatedAt = time.Now()

	res := r.db.WithContext(ctx).
		Model(&entity.ImprestRequest{}).
		Where("id = ? AND version = ?", req.ID, prev).
		Select(mutableColumns).
		Updates(req)
	if res.Error != nil {
		req.Version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		req.Version = prev
		return ErrConflict
	}
	return nil
}

// FindOverdueCandidates 查询已放款且超过确认期限的申请单（overdue扫描用）
func (r *RequestRepository) FindOverdueCandidates(ctx context.Context, now time.Time) ([]entity.ImprestRequest, error) {
	var items []entity.ImprestRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", entity.StatusDisbursed, now).
		Find(&items).Error
	return items, err
}

// GenerateCode 生成申请单编码 IMP-YYYYMM-XXXX
func (r *RequestRepository) GenerateCode(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("IMP-%s", time.Now().Format("200601"))
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.ImprestRequest{}).
		Where("code LIKE ?", prefix+"%").
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}
