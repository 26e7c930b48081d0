package summary

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/meetscribe/voice-service/internal/config"
	"go.uber.org/zap"
)

// Chatter 大模型对话入口
type Chatter interface {
	Chat(systemMsg, userMsg, modelKey string) (string, error)
}

// LLMClient OpenAI 兼容接口的大模型客户端，
// 按模型键路由到 deepseek / qwen / glm 对应的端点。
type LLMClient struct {
	cfg    *config.SummaryConfig
	client *resty.Client
	logger *zap.Logger
}

// NewLLMClient 创建客户端
func NewLLMClient(cfg *config.SummaryConfig, logger *zap.Logger) *LLMClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(1)

	return &LLMClient{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat 发起一轮对话，返回模型原始文本
func (c *LLMClient) Chat(systemMsg, userMsg, modelKey string) (string, error) {
	ep, ok := c.cfg.Models[modelKey]
	if !ok {
		return "", fmt.Errorf("unknown model key: %s", modelKey)
	}

	c.logger.Info("calling llm",
		zap.String("model_key", modelKey),
		zap.String("model", ep.Model))

	var result chatResponse
	resp, err := c.client.R().
		SetHeader("Authorization", "Bearer "+ep.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(chatRequest{
			Model: ep.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemMsg},
				{Role: "user", Content: userMsg},
			},
			Temperature: 0.3,
		}).
		SetResult(&result).
		Post(ep.BaseURL + "/chat/completions")

	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		if result.Error.Message != "" {
			return "", fmt.Errorf("llm returned status %d: %s", resp.StatusCode(), result.Error.Message)
		}
		return "", fmt.Errorf("llm returned status %d", resp.StatusCode())
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
