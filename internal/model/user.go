// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 用户角色。
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleParent  = "parent"
)

// ValidRole 判断角色是否为系统支持的取值。
func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleParent:
		return true
	}
	return false
}

// User 对应 'users' 表。
type User struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Username       string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Email          string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password       string    `gorm:"column:hashed_password;type:varchar(255);not null" json:"-"`
	FullName       string    `gorm:"type:varchar(255)" json:"full_name"`
	Role           string    `gorm:"type:varchar(16);not null;default:student" json:"role"`
	GradeLevel     string    `gorm:"type:varchar(32)" json:"grade_level,omitempty"`
	CurriculumType string    `gorm:"type:varchar(64)" json:"curriculum_type,omitempty"`
	IsActive       bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate 为未指定 ID 的记录生成 UUID。
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
