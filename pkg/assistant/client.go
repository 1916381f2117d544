// Package assistant 提供了与外部对话助手 API（基于线程的会话接口）交互的客户端。
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"regulus-go/internal/config"
	"regulus-go/pkg/log"
)

// 助手调用的终态错误。
// ErrUnavailable 表示不可重试的失败（非法请求、配额耗尽等）；
// ErrTimeout 表示在配置的超时预算内没有得到响应。
var (
	ErrUnavailable = errors.New("assistant api unavailable")
	ErrTimeout     = errors.New("assistant api timeout")
)

// Client 定义了助手客户端的接口：创建线程、追加消息、执行运行、读取回复。
type Client interface {
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID, role, content string) error
	// CreateAndPollRun 创建一次运行并轮询直到其进入终态。
	CreateAndPollRun(ctx context.Context, threadID, assistantID, extraInstructions string) error
	// LatestAssistantReply 读取线程中最新一条助手消息的文本内容。
	LatestAssistantReply(ctx context.Context, threadID string) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
}

type httpAssistantClient struct {
	cfg    config.AssistantConfig
	client *http.Client
}

// NewClient 根据配置创建一个新的助手客户端。
// 配置了 proxy_url 时，所有请求经由该正向代理转发。
func NewClient(cfg config.AssistantConfig) Client {
	transport := http.DefaultTransport
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			log.Fatalf("无效的助手代理地址: %s, error: %v", cfg.ProxyURL, err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	return &httpAssistantClient{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
	}
}

type threadResponse struct {
	ID string `json:"id"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type messageListResponse struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// CreateThread 在助手侧新建一个会话线程，返回线程 ID。
func (c *httpAssistantClient) CreateThread(ctx context.Context) (string, error) {
	var resp threadResponse
	if err := c.call(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &resp); err != nil {
		return "", err
	}
	log.Infof("助手线程已创建: %s", resp.ID)
	return resp.ID, nil
}

// CreateMessage 向线程追加一条消息。
func (c *httpAssistantClient) CreateMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]interface{}{
		"role":    role,
		"content": content,
	}
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/threads/%s/messages", threadID), body, nil)
}

// CreateAndPollRun 创建一次运行并轮询其状态直到终态。
// 运行失败、被取消或过期都视为不可重试的失败。
func (c *httpAssistantClient) CreateAndPollRun(ctx context.Context, threadID, assistantID, extraInstructions string) error {
	body := map[string]interface{}{
		"assistant_id": assistantID,
	}
	if extraInstructions != "" {
		body["additional_instructions"] = extraInstructions
	}

	var run runResponse
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/threads/%s/runs", threadID), body, &run); err != nil {
		return err
	}

	// 轮询运行状态直到终态
	for {
		switch run.Status {
		case "completed":
			return nil
		case "failed", "cancelled", "expired", "incomplete":
			return fmt.Errorf("%w: run %s 以状态 %s 结束", ErrUnavailable, run.ID, run.Status)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: 轮询运行状态被取消", ErrTimeout)
		case <-time.After(time.Second):
		}

		if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/threads/%s/runs/%s", threadID, run.ID), nil, &run); err != nil {
			return err
		}
	}
}

// LatestAssistantReply 读取线程中最新一条助手消息的文本。
func (c *httpAssistantClient) LatestAssistantReply(ctx context.Context, threadID string) (string, error) {
	var resp messageListResponse
	path := fmt.Sprintf("/threads/%s/messages?order=desc&limit=1", threadID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}

	if len(resp.Data) == 0 || resp.Data[0].Role != "assistant" {
		return "", fmt.Errorf("%w: 线程 %s 中没有助手回复", ErrUnavailable, threadID)
	}
	for _, part := range resp.Data[0].Content {
		if part.Type == "text" {
			return part.Text.Value, nil
		}
	}
	return "", fmt.Errorf("%w: 助手回复不包含文本内容", ErrUnavailable)
}

// DeleteThread 删除助手侧的会话线程。
func (c *httpAssistantClient) DeleteThread(ctx context.Context, threadID string) error {
	if err := c.call(ctx, http.MethodDelete, "/threads/"+threadID, nil, nil); err != nil {
		return err
	}
	log.Infof("助手线程已删除: %s", threadID)
	return nil
}

// call 执行一次带超时与有界重试的 API 调用。
// 瞬时失败（超时、网络错误、5xx、429）按指数退避重试，最多 MaxRetries 次；
// 其余 4xx 立即以 ErrUnavailable 失败，不做重试。
func (c *httpAssistantClient) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		retryable, err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		log.Warnf("助手 API 调用失败(第 %d 次尝试): %v", attempt+1, err)
	}
	return lastErr
}

// doOnce 执行单次请求。返回值的第一个分量表示该失败是否可重试。
func (c *httpAssistantClient) doOnce(ctx context.Context, method, path string, body interface{}, out interface{}) (bool, error) {
	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reqBytes, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to marshal assistant request: %w", err)
		}
		reader = bytes.NewReader(reqBytes)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return true, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return true, fmt.Errorf("%w: status %s, body: %s", ErrUnavailable, resp.Status, string(bodyBytes))
	}
	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("%w: status %s, body: %s", ErrUnavailable, resp.Status, string(bodyBytes))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("failed to decode assistant response: %w", err)
		}
	}
	return false, nil
}
