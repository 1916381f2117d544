// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// User 定义了 users 表的 ORM 模型。
// 用户永远不会被物理删除，停用账号时只会设置 Disabled 标志（软停用）。
type User struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username      string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Email         string    `gorm:"type:varchar(100);uniqueIndex" json:"email"`
	EmailVerified bool      `gorm:"not null;default:false" json:"emailVerified"`
	Password      string    `gorm:"type:varchar(100);not null" json:"-"` // bcrypt 哈希，不对外暴露
	Role          string    `gorm:"type:varchar(20);not null;default:'USER'" json:"role"`
	Disabled      bool      `gorm:"not null;default:false" json:"disabled"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}
