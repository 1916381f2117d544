// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Session 定义了 sessions 表的 ORM 模型。
// 每一行对应一个 refresh token 的服务端状态：存储的是不透明的 TokenID（JWT 的
// jti 声明），而不是 token 原文。同一个 FamilyID 下，任意时刻最多只有一行
// Revoked=false（即当前有效的 refresh token）。ParentID 指向轮换前的上一个
// 会话，构成一条轮换链，用于令牌重用检测。
type Session struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	TokenID   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"tokenId"`
	FamilyID  string    `gorm:"type:varchar(64);index;not null" json:"familyId"`
	ParentID  *uint     `gorm:"default:null" json:"parentId"`
	Revoked   bool      `gorm:"not null;default:false" json:"revoked"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expiresAt"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Session) TableName() string {
	return "sessions"
}
