package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict 乐观锁版本不匹配（并发写冲突）
	ErrConflict = errors.New("version conflict")
)

// Repositories 仓库集合
type Repositories struct {
	Request *RequestRepository
	User    *UserRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Request: NewRequestRepository(db),
		User:    NewUserRepository(db),
	}
}
