// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"time"

	"regulus-go/internal/model"

	"gorm.io/gorm"
)

// ChatRepository 接口定义了会话与消息的持久化操作。
// 消息追加必须经由 AppendExchange，以保证同一会话内的序号分配
// 在事务内完成，并发写入不会产生重复或空洞的序号。
type ChatRepository interface {
	Create(chat *model.Chat) error
	FindByID(chatID uint) (*model.Chat, error)
	// SetTitleOnce 仅在标题仍为 NULL 时写入标题（命名助手只命名一次）。
	SetTitleOnce(chatID uint, title string) error
	FindByUserWithPagination(userID uint, offset, limit int) ([]model.Chat, int64, error)
	FindMessagesWithPagination(chatID uint, offset, limit int) ([]model.Message, int64, error)
	// AppendExchange 在一个事务内追加一对消息（用户提问 + 助手回答），
	// 序号通过对 chats.last_ordinal 的原地自增分配。
	AppendExchange(chatID uint, userContent, assistantContent string) (*model.Message, *model.Message, error)
	Delete(chatID uint) error
}

// chatRepository 是 ChatRepository 接口的 GORM 实现。
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *chatRepository) Create(chat *model.Chat) error {
	return r.db.Create(chat).Error
}

// FindByID 根据会话 ID 查找会话。
func (r *chatRepository) FindByID(chatID uint) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.First(&chat, chatID).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// SetTitleOnce 仅当标题尚未设置时写入标题。
// WHERE title IS NULL 保证标题至多被命名助手写入一次。
func (r *chatRepository) SetTitleOnce(chatID uint, title string) error {
	return r.db.Model(&model.Chat{}).
		Where("id = ? AND title IS NULL", chatID).
		Update("title", title).Error
}

// FindByUserWithPagination 分页检索用户的会话列表（按更新时间倒序）。
// 返回会话列表、总记录数和可能发生的错误。
func (r *chatRepository) FindByUserWithPagination(userID uint, offset, limit int) ([]model.Chat, int64, error) {
	var chats []model.Chat
	var total int64

	db := r.db.Model(&model.Chat{}).Where("user_id = ?", userID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&chats).Error
	if err != nil {
		return nil, 0, err
	}

	return chats, total, nil
}

// FindMessagesWithPagination 分页检索会话内的消息（按序号升序）。
func (r *chatRepository) FindMessagesWithPagination(chatID uint, offset, limit int) ([]model.Message, int64, error) {
	var messages []model.Message
	var total int64

	db := r.db.Model(&model.Message{}).Where("chat_id = ?", chatID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("ordinal ASC").Offset(offset).Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// AppendExchange 原子地追加一对消息。
// 事务内先对 chats.last_ordinal 做原地 +2（InnoDB 的行锁保证并发追加
// 在此处串行化），再回读计数器并用它给两条消息分配相邻的序号。
// 任一步失败整个事务回滚，不会留下半条交互；死锁等瞬时失败
// 会以一次全新的事务重试一次。
func (r *chatRepository) AppendExchange(chatID uint, userContent, assistantContent string) (*model.Message, *model.Message, error) {
	var userMsg, assistantMsg model.Message

	err := withTransientRetry(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Chat{}).
				Where("id = ?", chatID).
				Updates(map[string]interface{}{
					"last_ordinal": gorm.Expr("last_ordinal + ?", 2),
					"updated_at":   time.Now(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}

			var chat model.Chat
			if err := tx.Select("last_ordinal").First(&chat, chatID).Error; err != nil {
				return err
			}

			userMsg = model.Message{
				ChatID:  chatID,
				Role:    model.RoleUser,
				Content: userContent,
				Ordinal: chat.LastOrdinal - 1,
			}
			assistantMsg = model.Message{
				ChatID:  chatID,
				Role:    model.RoleAssistant,
				Content: assistantContent,
				Ordinal: chat.LastOrdinal,
			}

			if err := tx.Create(&userMsg).Error; err != nil {
				return err
			}
			return tx.Create(&assistantMsg).Error
		})
	})
	if err != nil {
		return nil, nil, err
	}

	return &userMsg, &assistantMsg, nil
}

// Delete 删除会话及其全部消息（同一事务）。
func (r *chatRepository) Delete(chatID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Chat{}, chatID).Error
	})
}
