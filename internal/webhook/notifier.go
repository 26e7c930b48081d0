package webhook

import (
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/meetscribe/voice-service/internal/config"
	"github.com/meetscribe/voice-service/internal/model"
	"go.uber.org/zap"
)

// Notifier 任务终态回调。失败只记日志，绝不影响任务本身。
type Notifier struct {
	cfg    *config.WebhookConfig
	client *resty.Client
	logger *zap.Logger
}

// NewNotifier 创建通知器；未启用或未配置 URL 时返回 nil
func NewNotifier(cfg *config.WebhookConfig, logger *zap.Logger) *Notifier {
	if !cfg.Enabled || cfg.URL == "" {
		return nil
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2)

	return &Notifier{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

type payload struct {
	FileID       string `json:"file_id"`
	OriginalName string `json:"original_name"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
}

// Notify 推送终态。调用方在独立协程中触发。
func (n *Notifier) Notify(rec *model.FileRecord) {
	body := payload{
		FileID:       rec.ID,
		OriginalName: rec.OriginalName,
		Status:       rec.Status,
		ErrorMessage: rec.ErrorMessage,
	}
	if rec.Status == model.StateCompleted {
		body.Transcript = flattenTranscript(rec.Segments)
	}

	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(n.cfg.URL)

	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("file_id", rec.ID), zap.Error(err))
		return
	}
	if resp.StatusCode() >= 300 {
		n.logger.Warn("webhook returned non-success status",
			zap.String("file_id", rec.ID),
			zap.Int("status", resp.StatusCode()))
		return
	}
	n.logger.Info("webhook delivered",
		zap.String("file_id", rec.ID),
		zap.String("status", rec.Status))
}

func flattenTranscript(segments []model.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Speaker)
		b.WriteString("：")
		b.WriteString(seg.Text)
		b.WriteString("\n")
	}
	return b.String()
}
