package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
	"gorm.io/gorm"
)

// UserRepository 用户仓库（身份数据只读）
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var u entity.User
	err := r.db.WithContext(ctx).
		Preload("Roles").
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// List 用户列表
func (r *UserRepository) List(ctx context.Context, page, pageSize int) ([]entity.User, int64, error) {
	var users []entity.User
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.User{}).Where("status = ?", "active")
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Roles").
		Order("name").
		Offset(offset).
		Limit(pageSize).
		Find(&users).Error

	return users, total, err
}

// FindByRole returns active users holding the role. When department is
// non-empty, scoped bindings must match it; unscoped bindings always match
// (HOD roles are usually department-scoped).
func (r *UserRepository) FindByRole(ctx context.Context, roleCode, department string) ([]entity.User, error) {
	var users []entity.User
	query := r.db.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Where("users.status = ? AND user_roles.role_code = ?", "active", roleCode)
	if department != "" {
		query = query.Where("user_roles.department IN ('', ?)", department)
	}
	err := query.Find(&users).Error
	return users, err
}
