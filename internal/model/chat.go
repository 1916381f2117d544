// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 消息角色常量，与外部助手 API 的 role 字段保持一致。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat 定义了 chats 表的 ORM 模型。
// ThreadID 是外部助手侧的会话线程标识；Title 在命名助手返回之前为 NULL。
// LastOrdinal 是本会话内消息序号的计数器，追加消息时在事务内自增，
// 以保证并发写入时序号严格递增且不重复。
type Chat struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"userId"`
	ThreadID    string    `gorm:"type:varchar(500);not null" json:"threadId"`
	Title       *string   `gorm:"type:varchar(100);default:null" json:"title"`
	LastOrdinal int       `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chat) TableName() string {
	return "chats"
}

// Message 定义了 messages 表的 ORM 模型。
// 消息只增不改：Ordinal 在同一会话内严格递增，(chat_id, ordinal) 唯一。
type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    uint      `gorm:"uniqueIndex:uk_chat_ordinal;not null" json:"chatId"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Ordinal   int       `gorm:"uniqueIndex:uk_chat_ordinal;not null" json:"ordinal"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}
