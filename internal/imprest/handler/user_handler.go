package handler

import (
	"context"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
	"github.com/gin-gonic/gin"
)

// UserLister 用户目录查询接口
type UserLister interface {
	List(ctx context.Context, page, pageSize int) ([]entity.User, int64, error)
	FindByID(ctx context.Context, id string) (*entity.User, error)
	FindByRole(ctx context.Context, roleCode, department string) ([]entity.User, error)
}

// UserHandler 用户目录处理器
type UserHandler struct {
	users UserLister
}

func NewUserHandler(users UserLister) *UserHandler {
	return &UserHandler{users: users}
}

// ListUsers 用户列表，支持按角色过滤
// GET /users
func (h *UserHandler) ListUsers(c *gin.Context) {
	role := c.Query("role")
	if role != "" {
		users, err := h.users.FindByRole(c.Request.Context(), role, c.Query("department"))
		if err != nil {
			InternalError(c, "获取用户列表失败: "+err.Error())
			return
		}
		Success(c, users)
		return
	}

	page, pageSize := GetPagination(c)
	users, total, err := h.users.List(c.Request.Context(), page, pageSize)
	if err != nil {
		InternalError(c, "获取用户列表失败: "+err.Error())
		return
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	Success(c, ListResponse{
		Items: users,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}

// GetMe 当前用户信息
// GET /users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	u, err := h.users.FindByID(c.Request.Context(), GetUserID(c))
	if err != nil {
		NotFound(c, "用户不存在")
		return
	}
	Success(c, u)
}
