// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"regulus-go/internal/service"
	"regulus-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理会话相关的 API 请求。
type ChatHandler struct {
	chatService service.ChatService
	authService service.AuthService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService, authService service.AuthService) *ChatHandler {
	return &ChatHandler{chatService: chatService, authService: authService}
}

// StartChatRequest 定义了创建会话 API 的请求体结构。
type StartChatRequest struct {
	Content string `json:"content" binding:"required"`
}

// StartChat 处理创建会话的请求：首条消息随请求一并提交。
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req StartChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：content 不能为空"})
		return
	}

	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	user, err := h.authService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "用户不存在"})
		return
	}

	chat, userMsg, assistantMsg, err := h.chatService.StartChat(c.Request.Context(), user, req.Content)
	if err != nil {
		log.Warnf("StartChat: Failed for user '%s', error: %v", claims.Username, err)
		c.JSON(statusFor(err), gin.H{"error": "创建会话失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": gin.H{
			"chat":     chat,
			"messages": []interface{}{userMsg, assistantMsg},
		},
		"message": "success",
	})
}

// PostMessageRequest 定义了发送消息 API 的请求体结构。
type PostMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// PostMessage 处理向已有会话发送消息的请求。
func (h *ChatHandler) PostMessage(c *gin.Context) {
	chatID, err := parseChatID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的会话 ID"})
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：content 不能为空"})
		return
	}

	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	userMsg, assistantMsg, err := h.chatService.PostMessage(c.Request.Context(), chatID, claims.UserID, claims.Username, req.Content)
	if err != nil {
		log.Warnf("PostMessage: Failed for chat %d, error: %v", chatID, err)
		c.JSON(statusFor(err), gin.H{"error": "发送消息失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"data":    gin.H{"messages": []interface{}{userMsg, assistantMsg}},
		"message": "success",
	})
}

// ListChats 分页返回当前用户的会话列表。
func (h *ChatHandler) ListChats(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	offset, limit := parsePagination(c)
	chats, total, err := h.chatService.ListChats(claims.UserID, offset, limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "获取会话列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": gin.H{
			"items":  chats,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		},
		"message": "success",
	})
}

// ListMessages 分页返回会话内的消息。
func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, err := parseChatID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的会话 ID"})
		return
	}

	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	offset, limit := parsePagination(c)
	messages, total, err := h.chatService.ListMessages(chatID, claims.UserID, offset, limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "获取消息列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": gin.H{
			"items":  messages,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		},
		"message": "success",
	})
}

// DeleteChat 删除会话及其消息。
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, err := parseChatID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的会话 ID"})
		return
	}

	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	if err := h.chatService.DeleteChat(c.Request.Context(), chatID, claims.UserID); err != nil {
		log.Warnf("DeleteChat: Failed for chat %d, error: %v", chatID, err)
		c.JSON(statusFor(err), gin.H{"error": "删除会话失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "会话已删除"})
}

// parseChatID 从路径参数解析会话 ID。
func parseChatID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("chatId"), 10, 64)
	return uint(id), err
}

// parsePagination 解析分页查询参数，提供缺省值并限制单页大小。
func parsePagination(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return offset, limit
}
