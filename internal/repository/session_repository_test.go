package repository

import (
	"fmt"
	"testing"
	"time"

	"regulus-go/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 为每个测试创建一个独立的内存 SQLite 数据库。
// 连接池限制为单连接，保证内存库在测试期间一直存活。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Session{}, &model.Chat{}, &model.Message{}))
	return db
}

func newSession(userID uint, familyID string, parentID *uint) *model.Session {
	return &model.Session{
		UserID:    userID,
		TokenID:   uuid.NewString(),
		FamilyID:  familyID,
		ParentID:  parentID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestSessionRepository_FindActiveByFamily(t *testing.T) {
	t.Parallel()

	repo := NewSessionRepository(newTestDB(t))
	familyID := uuid.NewString()

	first := newSession(1, familyID, nil)
	require.NoError(t, repo.Create(first))

	active, err := repo.FindActiveByFamily(familyID)
	require.NoError(t, err)
	assert.Equal(t, first.TokenID, active.TokenID)

	// 不存在的家族
	_, err = repo.FindActiveByFamily(uuid.NewString())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSessionRepository_RotateIsSingleUse(t *testing.T) {
	t.Parallel()

	repo := NewSessionRepository(newTestDB(t))
	familyID := uuid.NewString()

	old := newSession(1, familyID, nil)
	require.NoError(t, repo.Create(old))

	// 第一次轮换成功：老会话撤销，新会话成为家族中唯一有效的一行
	next := newSession(1, familyID, &old.ID)
	require.NoError(t, repo.Rotate(old.ID, next))

	active, err := repo.FindActiveByFamily(familyID)
	require.NoError(t, err)
	assert.Equal(t, next.TokenID, active.TokenID)
	require.NotNil(t, active.ParentID)
	assert.Equal(t, old.ID, *active.ParentID)

	// 对同一个老会话的第二次轮换必须失败，且不产生新的会话行
	again := newSession(1, familyID, &old.ID)
	err = repo.Rotate(old.ID, again)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	active, err = repo.FindActiveByFamily(familyID)
	require.NoError(t, err)
	assert.Equal(t, next.TokenID, active.TokenID)
}

func TestSessionRepository_RevokeFamily(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewSessionRepository(db)
	familyID := uuid.NewString()
	otherFamily := uuid.NewString()

	old := newSession(1, familyID, nil)
	require.NoError(t, repo.Create(old))
	next := newSession(1, familyID, &old.ID)
	require.NoError(t, repo.Rotate(old.ID, next))
	other := newSession(2, otherFamily, nil)
	require.NoError(t, repo.Create(other))

	require.NoError(t, repo.RevokeFamily(familyID))

	_, err := repo.FindActiveByFamily(familyID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// 其他家族不受影响
	active, err := repo.FindActiveByFamily(otherFamily)
	require.NoError(t, err)
	assert.Equal(t, other.TokenID, active.TokenID)

	var revoked int64
	require.NoError(t, db.Model(&model.Session{}).
		Where("family_id = ? AND revoked = ?", familyID, true).
		Count(&revoked).Error)
	assert.Equal(t, int64(2), revoked)
}

func TestSessionRepository_RevokeAllByUser(t *testing.T) {
	t.Parallel()

	repo := NewSessionRepository(newTestDB(t))

	familyA := uuid.NewString()
	familyB := uuid.NewString()
	require.NoError(t, repo.Create(newSession(1, familyA, nil)))
	require.NoError(t, repo.Create(newSession(1, familyB, nil)))
	otherUser := newSession(2, uuid.NewString(), nil)
	require.NoError(t, repo.Create(otherUser))

	require.NoError(t, repo.RevokeAllByUser(1))

	_, err := repo.FindActiveByFamily(familyA)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.FindActiveByFamily(familyB)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	active, err := repo.FindActiveByFamily(otherUser.FamilyID)
	require.NoError(t, err)
	assert.Equal(t, otherUser.TokenID, active.TokenID)
}

func TestSessionRepository_SweepExpired(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewSessionRepository(db)

	expired := newSession(1, uuid.NewString(), nil)
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(expired))

	alive := newSession(1, uuid.NewString(), nil)
	require.NoError(t, repo.Create(alive))

	count, err := repo.SweepExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var remaining int64
	require.NoError(t, db.Model(&model.Session{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}
