package repository

import (
	"fmt"
	"sync"
	"testing"

	"regulus-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestChatRepository_AppendExchangeAssignsAdjacentOrdinals(t *testing.T) {
	t.Parallel()

	repo := NewChatRepository(newTestDB(t))

	chat := &model.Chat{UserID: 1, ThreadID: "thread_1"}
	require.NoError(t, repo.Create(chat))

	userMsg, assistantMsg, err := repo.AppendExchange(chat.ID, "你好", "你好，有什么可以帮你？")
	require.NoError(t, err)
	assert.Equal(t, 1, userMsg.Ordinal)
	assert.Equal(t, 2, assistantMsg.Ordinal)
	assert.Equal(t, model.RoleUser, userMsg.Role)
	assert.Equal(t, model.RoleAssistant, assistantMsg.Role)

	userMsg, assistantMsg, err = repo.AppendExchange(chat.ID, "再问一个问题", "好的")
	require.NoError(t, err)
	assert.Equal(t, 3, userMsg.Ordinal)
	assert.Equal(t, 4, assistantMsg.Ordinal)
}

func TestChatRepository_AppendExchangeUnknownChat(t *testing.T) {
	t.Parallel()

	repo := NewChatRepository(newTestDB(t))

	_, _, err := repo.AppendExchange(9999, "你好", "回复")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestChatRepository_AppendExchangeConcurrent(t *testing.T) {
	t.Parallel()

	repo := NewChatRepository(newTestDB(t))

	chat := &model.Chat{UserID: 1, ThreadID: "thread_concurrent"}
	require.NoError(t, repo.Create(chat))

	const rounds = 10
	var wg sync.WaitGroup
	errs := make(chan error, rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := repo.AppendExchange(chat.ID, fmt.Sprintf("问题 %d", i), fmt.Sprintf("回答 %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// 并发追加后序号必须是 1..2N，既不重复也无空洞
	messages, total, err := repo.FindMessagesWithPagination(chat.ID, 0, rounds*2)
	require.NoError(t, err)
	require.Equal(t, int64(rounds*2), total)
	for i, msg := range messages {
		assert.Equal(t, i+1, msg.Ordinal)
	}
}

func TestChatRepository_SetTitleOnce(t *testing.T) {
	t.Parallel()

	repo := NewChatRepository(newTestDB(t))

	chat := &model.Chat{UserID: 1, ThreadID: "thread_title"}
	require.NoError(t, repo.Create(chat))

	require.NoError(t, repo.SetTitleOnce(chat.ID, "第一个标题"))

	found, err := repo.FindByID(chat.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Title)
	assert.Equal(t, "第一个标题", *found.Title)

	// 标题已存在时再次写入不生效
	require.NoError(t, repo.SetTitleOnce(chat.ID, "第二个标题"))
	found, err = repo.FindByID(chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "第一个标题", *found.Title)
}

func TestChatRepository_FindByUserWithPagination(t *testing.T) {
	t.Parallel()

	repo := NewChatRepository(newTestDB(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(&model.Chat{UserID: 1, ThreadID: fmt.Sprintf("thread_%d", i)}))
	}
	require.NoError(t, repo.Create(&model.Chat{UserID: 2, ThreadID: "other_user"}))

	chats, total, err := repo.FindByUserWithPagination(1, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, chats, 3)

	chats, total, err = repo.FindByUserWithPagination(1, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, chats, 2)
}

func TestChatRepository_DeleteRemovesMessages(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewChatRepository(db)

	chat := &model.Chat{UserID: 1, ThreadID: "thread_delete"}
	require.NoError(t, repo.Create(chat))
	_, _, err := repo.AppendExchange(chat.ID, "你好", "回复")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(chat.ID))

	_, err = repo.FindByID(chat.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var remaining int64
	require.NoError(t, db.Model(&model.Message{}).Where("chat_id = ?", chat.ID).Count(&remaining).Error)
	assert.Equal(t, int64(0), remaining)
}
