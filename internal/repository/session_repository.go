// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"time"

	"regulus-go/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 接口定义了 refresh token 会话状态的持久化操作。
//
// 关键不变量：同一个 family_id 下任意时刻最多只有一行 Revoked=false。
// Rotate 通过条件更新保证"每条轮换链节点恰好被轮换一次"——老会话行的
// revoked 位从 false 翻转到 true 必须恰好命中一行，否则说明有并发轮换
// 或重放，调用方应按令牌重用处理。
type SessionRepository interface {
	Create(session *model.Session) error
	FindActiveByFamily(familyID string) (*model.Session, error)
	// Rotate 在一个事务内完成原子轮换：将 old 标记为已撤销，并创建 next。
	// 若 old 已被别的请求撤销（revoked 位翻转失败），返回 gorm.ErrRecordNotFound。
	Rotate(oldID uint, next *model.Session) error
	MarkRevoked(sessionID uint) error
	// RevokeFamily 在一个事务内撤销整个令牌家族的所有会话（全部成功或全部回滚）。
	RevokeFamily(familyID string) error
	// RevokeAllByUser 撤销用户名下的全部会话（密码重置后强制下线）。
	RevokeAllByUser(userID uint) error
	// SweepExpired 清除所有已过期的会话行，返回删除的行数。
	SweepExpired(now time.Time) (int64, error)
}

// sessionRepository 是 SessionRepository 接口的 GORM 实现。
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *sessionRepository) Create(session *model.Session) error {
	return r.db.Create(session).Error
}

// FindActiveByFamily 查找家族中当前唯一有效（未撤销）的会话。
func (r *sessionRepository) FindActiveByFamily(familyID string) (*model.Session, error) {
	var session model.Session
	err := r.db.Where("family_id = ? AND revoked = ?", familyID, false).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Rotate 原子地完成一次会话轮换。
// 老会话的撤销采用 "WHERE id = ? AND revoked = false" 的条件更新，
// 相当于对轮换链节点的一次性消费：并发的第二次轮换命中 0 行，
// 返回 gorm.ErrRecordNotFound，由上层触发家族撤销。
// 死锁等瞬时失败会整体重试一次（事务已回滚，重试是全新的提交）。
func (r *sessionRepository) Rotate(oldID uint, next *model.Session) error {
	return withTransientRetry(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Session{}).
				Where("id = ? AND revoked = ?", oldID, false).
				Update("revoked", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return tx.Create(next).Error
		})
	})
}

// MarkRevoked 将单个会话标记为已撤销（登出）。
func (r *sessionRepository) MarkRevoked(sessionID uint) error {
	return r.db.Model(&model.Session{}).Where("id = ?", sessionID).Update("revoked", true).Error
}

// RevokeFamily 撤销整个令牌家族。
// 单条 UPDATE 覆盖家族内所有行，事务保证不会出现部分撤销的中间状态；
// 瞬时失败重试一次（操作幂等，重复执行无副作用）。
func (r *sessionRepository) RevokeFamily(familyID string) error {
	return withTransientRetry(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			return tx.Model(&model.Session{}).
				Where("family_id = ?", familyID).
				Update("revoked", true).Error
		})
	})
}

// RevokeAllByUser 撤销用户名下的全部会话。
func (r *sessionRepository) RevokeAllByUser(userID uint) error {
	return r.db.Model(&model.Session{}).
		Where("user_id = ?", userID).
		Update("revoked", true).Error
}

// SweepExpired 删除所有已过期的会话行，返回删除数量。
func (r *sessionRepository) SweepExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at < ?", now).Delete(&model.Session{})
	return res.RowsAffected, res.Error
}
