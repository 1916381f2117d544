// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"regulus-go/internal/config"
	"regulus-go/internal/model"
	"regulus-go/internal/repository"
	"regulus-go/pkg/assistant"
	"regulus-go/pkg/log"

	"gorm.io/gorm"
)

// titlePrompt 是发给命名助手的提示模板。
const titlePrompt = `根据下面这段对话，为这个会话起一个简短的标题（不超过 5 个词）：

用户: %s
助手: %s

只回答标题本身，不要引号，不要附加说明。`

// ChatService 定义了会话代理的接口：把用户消息转发给外部助手，
// 维护会话与消息的持久化状态。
type ChatService interface {
	// StartChat 创建会话：开线程、提交首条消息、落库两条消息，
	// 然后作为独立的后续步骤调用命名助手填充标题（失败不影响会话创建）。
	StartChat(ctx context.Context, user *model.User, firstMessage string) (*model.Chat, *model.Message, *model.Message, error)
	// PostMessage 校验归属后转发消息并原子地追加一对消息。
	PostMessage(ctx context.Context, chatID, userID uint, username, content string) (*model.Message, *model.Message, error)
	ListChats(userID uint, offset, limit int) ([]model.Chat, int64, error)
	ListMessages(chatID, userID uint, offset, limit int) ([]model.Message, int64, error)
	DeleteChat(ctx context.Context, chatID, userID uint) error
}

// chatService 是 ChatService 接口的实现。
type chatService struct {
	chatRepo repository.ChatRepository
	client   assistant.Client
	cfg      config.AssistantConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chatRepo repository.ChatRepository, client assistant.Client, cfg config.AssistantConfig) ChatService {
	return &chatService{
		chatRepo: chatRepo,
		client:   client,
		cfg:      cfg,
	}
}

// StartChat 创建一个新会话并完成首轮交互。
// 标题命名是首轮交互之后的独立步骤：命名助手不可用时会话照常返回，标题保持 NULL。
func (s *chatService) StartChat(ctx context.Context, user *model.User, firstMessage string) (*model.Chat, *model.Message, *model.Message, error) {
	threadID, err := s.client.CreateThread(ctx)
	if err != nil {
		return nil, nil, nil, mapAssistantError(err)
	}

	chat := &model.Chat{
		UserID:   user.ID,
		ThreadID: threadID,
	}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, nil, nil, err
	}

	userMsg, assistantMsg, err := s.exchange(ctx, chat, user.Username, firstMessage)
	if err != nil {
		// 首轮交互失败不留下一个空会话：回收本地行和远端线程
		if derr := s.chatRepo.Delete(chat.ID); derr != nil {
			log.Errorf("[ChatService] 回收空会话失败, chatId: %d, error: %v", chat.ID, derr)
		}
		if derr := s.client.DeleteThread(ctx, threadID); derr != nil {
			log.Warnf("[ChatService] 删除助手线程失败, threadId: %s, error: %v", threadID, derr)
		}
		return nil, nil, nil, err
	}

	// 后续步骤：调用命名助手为会话起标题（非致命）
	s.nameChat(ctx, chat, firstMessage, assistantMsg.Content)

	return chat, userMsg, assistantMsg, nil
}

// PostMessage 向已有会话追加一轮交互。
func (s *chatService) PostMessage(ctx context.Context, chatID, userID uint, username, content string) (*model.Message, *model.Message, error) {
	chat, err := s.findOwnedChat(chatID, userID)
	if err != nil {
		return nil, nil, err
	}
	return s.exchange(ctx, chat, username, content)
}

// exchange 执行一轮"转发-等待-落库"交互。
// 对外部助手的整个调用过程不持有任何数据库锁；只有在拿到回复
//（或确定失败）之后才进入追加事务，取消或超时不会留下半条消息。
func (s *chatService) exchange(ctx context.Context, chat *model.Chat, username, content string) (*model.Message, *model.Message, error) {
	if err := s.client.CreateMessage(ctx, chat.ThreadID, model.RoleUser, content); err != nil {
		return nil, nil, mapAssistantError(err)
	}

	extra := ""
	if username != "" {
		extra = "请称呼用户为 " + username
	}
	if err := s.client.CreateAndPollRun(ctx, chat.ThreadID, s.cfg.AssistantID, extra); err != nil {
		return nil, nil, mapAssistantError(err)
	}

	reply, err := s.client.LatestAssistantReply(ctx, chat.ThreadID)
	if err != nil {
		return nil, nil, mapAssistantError(err)
	}

	userMsg, assistantMsg, err := s.chatRepo.AppendExchange(chat.ID, content, reply)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return userMsg, assistantMsg, nil
}

// nameChat 调用命名助手生成会话标题。
// 整个流程在一个临时线程中完成，结束后删除该线程；任何失败只记录日志。
func (s *chatService) nameChat(ctx context.Context, chat *model.Chat, userMessage, assistantResponse string) {
	if s.cfg.TitleNamerID == "" {
		return
	}

	title, err := s.generateTitle(ctx, userMessage, assistantResponse)
	if err != nil {
		log.Errorf("[ChatService] 生成会话标题失败, chatId: %d, error: %v", chat.ID, err)
		return
	}
	if title == "" {
		return
	}

	if err := s.chatRepo.SetTitleOnce(chat.ID, title); err != nil {
		log.Errorf("[ChatService] 写入会话标题失败, chatId: %d, error: %v", chat.ID, err)
		return
	}
	chat.Title = &title
}

// generateTitle 在临时线程上运行命名助手并返回生成的标题。
func (s *chatService) generateTitle(ctx context.Context, userMessage, assistantResponse string) (string, error) {
	threadID, err := s.client.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	// 临时线程用完即删；删除失败只记录
	defer func() {
		if err := s.client.DeleteThread(ctx, threadID); err != nil {
			log.Warnf("[ChatService] 删除临时命名线程失败: %v", err)
		}
	}()

	prompt := fmt.Sprintf(titlePrompt, userMessage, assistantResponse)
	if err := s.client.CreateMessage(ctx, threadID, model.RoleUser, prompt); err != nil {
		return "", err
	}
	if err := s.client.CreateAndPollRun(ctx, threadID, s.cfg.TitleNamerID, "只生成会话标题，不要引号和解释。最多 5 个词。"); err != nil {
		return "", err
	}
	title, err := s.client.LatestAssistantReply(ctx, threadID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(title), nil
}

// ListChats 分页返回用户的会话列表。
func (s *chatService) ListChats(userID uint, offset, limit int) ([]model.Chat, int64, error) {
	return s.chatRepo.FindByUserWithPagination(userID, offset, limit)
}

// ListMessages 分页返回会话内的消息，先校验会话归属。
func (s *chatService) ListMessages(chatID, userID uint, offset, limit int) ([]model.Message, int64, error) {
	if _, err := s.findOwnedChat(chatID, userID); err != nil {
		return nil, 0, err
	}
	return s.chatRepo.FindMessagesWithPagination(chatID, offset, limit)
}

// DeleteChat 删除会话及其消息，并尽力删除助手侧线程（远端失败只记录）。
func (s *chatService) DeleteChat(ctx context.Context, chatID, userID uint) error {
	chat, err := s.findOwnedChat(chatID, userID)
	if err != nil {
		return err
	}

	if err := s.chatRepo.Delete(chatID); err != nil {
		return err
	}

	if err := s.client.DeleteThread(ctx, chat.ThreadID); err != nil {
		log.Warnf("[ChatService] 删除助手线程失败, threadId: %s, error: %v", chat.ThreadID, err)
	}
	return nil
}

// findOwnedChat 查找会话并校验归属。
func (s *chatService) findOwnedChat(chatID, userID uint) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByID(chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if chat.UserID != userID {
		return nil, ErrForbidden
	}
	return chat, nil
}

// mapAssistantError 把助手客户端的错误映射到业务错误分类。
func mapAssistantError(err error) error {
	switch {
	case errors.Is(err, assistant.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrAssistantTimeout, err)
	case errors.Is(err, assistant.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	default:
		return err
	}
}
