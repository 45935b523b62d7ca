package entity

import "time"

// 系统角色
const (
	RoleHod        = "hod"
	RoleAccountant = "accountant"
	RoleAdmin      = "admin"
)

// User 用户（来自外部身份源，本服务只读）
type User struct {
	ID         string    `json:"id" gorm:"primaryKey;size:32"`
	Name       string    `json:"name" gorm:"size:100;not null"`
	Email      string    `json:"email" gorm:"size:100;uniqueIndex"`
	Phone      string    `json:"phone" gorm:"size:32"`
	Department string    `json:"department" gorm:"size:100;index"`
	Status     string    `json:"status" gorm:"size:20;default:active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// 关联
	Roles []UserRole `json:"roles,omitempty" gorm:"foreignKey:UserID"`
}

func (User) TableName() string {
	return "users"
}

// HasRole reports whether the user holds the given role code.
func (u *User) HasRole(code string) bool {
	for _, r := range u.Roles {
		if r.RoleCode == code {
			return true
		}
	}
	return false
}

// RoleCodes returns the user's role codes as a plain slice (JWT claims use this).
func (u *User) RoleCodes() []string {
	codes := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		codes = append(codes, r.RoleCode)
	}
	return codes
}

// UserRole 用户角色绑定
type UserRole struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	UserID   string `json:"user_id" gorm:"size:32;not null;index"`
	RoleCode string `json:"role_code" gorm:"size:50;not null;index"`
	// HOD仅对本部门生效，空表示全局
	Department string    `json:"department" gorm:"size:100"`
	CreatedAt  time.Time `json:"created_at"`
}

func (UserRole) TableName() string {
	return "user_roles"
}
