package runner

import (
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/meetscribe/voice-service/internal/config"
	"github.com/meetscribe/voice-service/internal/model"
	"go.uber.org/zap"
)

// Normalizer 音频预处理，输出 16kHz 单声道 WAV
type Normalizer interface {
	Normalize(path string) (string, error)
}

// FunASRClient FunASR 识别服务 HTTP 客户端。
// Transcribe 为阻塞调用，在各阶段边界轮询取消标记。
type FunASRClient struct {
	cfg        *config.RunnerConfig
	client     *resty.Client
	normalizer Normalizer
	logger     *zap.Logger
}

// NewFunASRClient 创建客户端
func NewFunASRClient(cfg *config.RunnerConfig, normalizer Normalizer, logger *zap.Logger) *FunASRClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)

	return &FunASRClient{
		cfg:        cfg,
		client:     client,
		normalizer: normalizer,
		logger:     logger,
	}
}

type segmentPayload struct {
	Speaker   string       `json:"speaker"`
	Text      string       `json:"text"`
	StartTime float64      `json:"start_time"`
	EndTime   float64      `json:"end_time"`
	Words     []model.Word `json:"words"`
}

type recognizeResponse struct {
	Success  bool             `json:"success"`
	Segments []segmentPayload `json:"segments"`
	Error    string           `json:"error"`
}

// Transcribe 提交音频并等待识别结果
func (c *FunASRClient) Transcribe(path, hotword, language string, cancelled CancelFunc, onProgress ProgressFunc) ([]model.Segment, error) {
	if cancelled() {
		return nil, ErrCancelled
	}

	onProgress("preprocess", 5, "正在预处理音频", 0)

	audioPath := path
	if c.normalizer != nil {
		normalized, err := c.normalizer.Normalize(path)
		if err != nil {
			c.logger.Warn("audio normalization failed, using original file",
				zap.String("path", path), zap.Error(err))
		} else {
			audioPath = normalized
		}
	}

	if cancelled() {
		return nil, ErrCancelled
	}

	eta := estimateMillis(audioPath)
	onProgress("recognize", 15, "正在识别语音", eta)

	if hotword == "" {
		hotword = c.cfg.DefaultHotword
	}

	var result recognizeResponse
	resp, err := c.client.R().
		SetFile("audio_file", audioPath).
		SetFormData(map[string]string{
			"language": language,
			"hotword":  hotword,
		}).
		SetResult(&result).
		Post(c.cfg.BaseURL + "/api/v1/recognize")

	// 结果到达后再探测一次取消，命中则丢弃结果
	if cancelled() {
		return nil, ErrCancelled
	}

	if err != nil {
		return nil, fmt.Errorf("recognition request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("recognition service returned status %d", resp.StatusCode())
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "unknown recognition error"
		}
		return nil, fmt.Errorf("recognition failed: %s", msg)
	}

	onProgress("postprocess", 90, "正在整理转录结果", 0)

	segments := make([]model.Segment, 0, len(result.Segments))
	for _, p := range result.Segments {
		segments = append(segments, model.Segment{
			Speaker:   p.Speaker,
			Text:      p.Text,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			Words:     p.Words,
		})
	}
	return segments, nil
}

// estimateMillis 按 16kHz/16bit 单声道估算音频时长，再按约 10 倍速识别折算
func estimateMillis(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return 0
	}
	audioMillis := info.Size() * 1000 / 32000
	return audioMillis / 10
}
