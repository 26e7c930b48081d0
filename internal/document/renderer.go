package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meetscribe/voice-service/internal/model"
	"github.com/meetscribe/voice-service/internal/storage"
	"go.uber.org/zap"
)

// Renderer 把转录结果与会议纪要渲染成 Word 文档
type Renderer struct {
	transcriptDir string
	summaryDir    string
	logger        *zap.Logger
}

// NewRenderer 创建渲染器
func NewRenderer(transcriptDir, summaryDir string, logger *zap.Logger) *Renderer {
	return &Renderer{
		transcriptDir: transcriptDir,
		summaryDir:    summaryDir,
		logger:        logger,
	}
}

// RenderTranscriptDoc 渲染转录文档，返回绝对路径
func (r *Renderer) RenderTranscriptDoc(rec *model.FileRecord) (string, error) {
	if err := os.MkdirAll(r.transcriptDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create transcript dir: %w", err)
	}

	paras := []paragraph{
		{text: "会议转录记录", bold: true, size: 32},
		{},
		{text: "文件名：" + rec.OriginalName},
		{text: "上传时间：" + rec.UploadTime.String()},
		{text: "识别语言：" + rec.Language},
		{text: fmt.Sprintf("片段数：%d", len(rec.Segments))},
		{},
	}
	for _, seg := range rec.Segments {
		line := fmt.Sprintf("[%s - %s] %s：%s",
			formatClock(seg.StartTime), formatClock(seg.EndTime), seg.Speaker, seg.Text)
		paras = append(paras, paragraph{text: line})
	}

	name := storage.ArtifactName("transcript", rec.ID, time.Now())
	path := filepath.Join(r.transcriptDir, name)
	if err := writeDocx(path, paras); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	r.logger.Info("transcript document rendered",
		zap.String("file_id", rec.ID),
		zap.String("path", abs))
	return abs, nil
}

// RenderSummaryDoc 渲染纪要文档，返回绝对路径
func (r *Renderer) RenderSummaryDoc(rec *model.FileRecord, summaryText string) (string, error) {
	if err := os.MkdirAll(r.summaryDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create summary dir: %w", err)
	}

	paras := []paragraph{
		{text: "会议纪要", bold: true, size: 32},
		{},
		{text: "文件名：" + rec.OriginalName},
		{text: "生成时间：" + model.Now().String()},
		{},
	}
	for _, line := range strings.Split(summaryText, "\n") {
		paras = append(paras, paragraph{text: line})
	}

	name := storage.ArtifactName("summary", rec.ID, time.Now())
	path := filepath.Join(r.summaryDir, name)
	if err := writeDocx(path, paras); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	r.logger.Info("summary document rendered",
		zap.String("file_id", rec.ID),
		zap.String("path", abs))
	return abs, nil
}

// formatClock 秒数转 "MM:SS"，超一小时转 "HH:MM:SS"
func formatClock(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := total % 3600 / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
