package runner

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FFmpegNormalizer 调用 ffmpeg 把音频转成 16kHz 单声道 WAV。
// 输入已是 WAV 时原样返回。
type FFmpegNormalizer struct {
	binary  string
	workDir string
	logger  *zap.Logger
}

// NewFFmpegNormalizer 创建归一化器
func NewFFmpegNormalizer(binary, workDir string, logger *zap.Logger) *FFmpegNormalizer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegNormalizer{binary: binary, workDir: workDir, logger: logger}
}

// Normalize 转码音频；失败时返回错误，由调用方决定回退
func (n *FFmpegNormalizer) Normalize(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return path, nil
	}

	if err := os.MkdirAll(n.workDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(n.workDir, base+".wav")

	cmd := exec.Command(n.binary,
		"-y",
		"-i", path,
		"-ar", "16000",
		"-ac", "1",
		"-f", "wav",
		out,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %w: %s", err, truncate(string(output), 512))
	}

	n.logger.Debug("audio normalized",
		zap.String("input", path),
		zap.String("output", out))
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
