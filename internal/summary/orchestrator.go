package summary

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/meetscribe/voice-service/internal/config"
	"github.com/meetscribe/voice-service/internal/history"
	"github.com/meetscribe/voice-service/internal/model"
	"github.com/meetscribe/voice-service/internal/registry"
	"github.com/meetscribe/voice-service/internal/storage"
	"go.uber.org/zap"
)

// ErrNoSegments 文件尚无转录结果
var ErrNoSegments = errors.New("file has no transcript segments")

// DefaultTemplateModel 未配置 API Key 时的兜底模型键
const DefaultTemplateModel = "default_template"

const systemMessage = "你是一名专业的会议纪要助手，负责把会议转录内容整理成结构清晰、重点突出的会议纪要。"

const transcriptMarker = "会议转录内容："

const hygieneDirective = "\n\n请直接输出会议纪要正文，不要输出任何确认性开场白或结尾说明。"

// Renderer 纪要文档渲染
type Renderer interface {
	RenderSummaryDoc(rec *model.FileRecord, summaryText string) (string, error)
}

// Orchestrator 会议纪要编排：拼装提示词、调用大模型、清洗输出并落盘
type Orchestrator struct {
	cfg      *config.SummaryConfig
	reg      *registry.Registry
	store    *history.Store
	renderer Renderer
	llm      Chatter
	logger   *zap.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	cfg *config.SummaryConfig,
	reg *registry.Registry,
	store *history.Store,
	renderer Renderer,
	llm Chatter,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		reg:      reg,
		store:    store,
		renderer: renderer,
		llm:      llm,
		logger:   logger,
	}
}

// Generate 为指定文件生成会议纪要并持久化到记录与历史
func (o *Orchestrator) Generate(fileID, promptTemplate, modelKey string) (*model.Summary, error) {
	rec, err := o.reg.Get(fileID)
	if err != nil {
		return nil, err
	}
	if len(rec.Segments) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSegments, fileID)
	}

	// 未知模型键回落到平台默认
	if _, ok := o.cfg.Models[modelKey]; !ok {
		modelKey = o.cfg.DefaultModel
	}
	endpoint := o.cfg.Models[modelKey]

	var text string
	usedModel := modelKey
	if endpoint.APIKey == "" {
		// 完全未配置 Key：从片段统计合成确定性的模板纪要
		text = defaultTemplateSummary(rec)
		usedModel = DefaultTemplateModel
		o.logger.Info("no llm api key configured, using default template",
			zap.String("file_id", fileID))
	} else {
		userMsg := composePrompt(promptTemplate, joinSegments(rec.Segments))
		raw, err := o.llm.Chat(systemMessage, userMsg, modelKey)
		if err != nil {
			o.persist(fileID, &model.Summary{
				Model:       modelKey,
				Status:      "error",
				Error:       err.Error(),
				GeneratedAt: model.Now(),
			}, "")
			return nil, fmt.Errorf("summary generation failed: %w", err)
		}
		text = Clean(raw)
	}

	docPath := ""
	if o.renderer != nil {
		p, err := o.renderer.RenderSummaryDoc(rec, text)
		if err != nil {
			o.logger.Warn("summary document rendering failed",
				zap.String("file_id", fileID), zap.Error(err))
		} else {
			docPath = p
		}
	}

	sum := &model.Summary{
		Text:        text,
		Model:       usedModel,
		Status:      "success",
		GeneratedAt: model.Now(),
	}
	if err := o.persist(fileID, sum, docPath); err != nil {
		return nil, err
	}

	o.logger.Info("summary generated",
		zap.String("file_id", fileID),
		zap.String("model", usedModel))
	return sum, nil
}

// Delete 清除纪要与对应文档
func (o *Orchestrator) Delete(fileID string) error {
	rec, err := o.reg.Get(fileID)
	if err != nil {
		return err
	}
	if rec.Summary == nil && rec.SummaryDocPath == "" {
		return nil
	}
	storage.RemoveArtifacts(rec.SummaryDocPath)
	if _, err := o.reg.Update(fileID, func(r *model.FileRecord) error {
		r.Summary = nil
		r.SummaryDocPath = ""
		return nil
	}); err != nil {
		return err
	}
	return o.saveHistory()
}

func (o *Orchestrator) persist(fileID string, sum *model.Summary, docPath string) error {
	if _, err := o.reg.Update(fileID, func(r *model.FileRecord) error {
		r.Summary = sum
		if docPath != "" {
			r.SummaryDocPath = docPath
		}
		return nil
	}); err != nil {
		return err
	}
	return o.saveHistory()
}

func (o *Orchestrator) saveHistory() error {
	if err := o.store.Save(o.reg.CompletedSnapshot()); err != nil {
		o.logger.Error("failed to persist history after summary change", zap.Error(err))
		return err
	}
	return nil
}

// composePrompt 模板拼装：
// 含 {transcript} 占位符则替换；含“会议转录内容：”标记则在其后追加；
// 否则用分隔头追加全文。统一附加输出约束。
func composePrompt(template, transcript string) string {
	template = strings.TrimSpace(template)
	var body string
	switch {
	case template == "":
		body = "请根据以下会议转录内容生成会议纪要。\n\n" + transcriptMarker + "\n" + transcript
	case strings.Contains(template, "{transcript}"):
		body = strings.ReplaceAll(template, "{transcript}", transcript)
	case strings.Contains(template, transcriptMarker):
		body = template + "\n" + transcript
	default:
		body = template + "\n\n" + transcriptMarker + "\n" + transcript
	}
	return body + hygieneDirective
}

func joinSegments(segments []model.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Speaker)
		b.WriteString("：")
		b.WriteString(seg.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// defaultTemplateSummary 无模型可用时按片段统计合成纪要
func defaultTemplateSummary(rec *model.FileRecord) string {
	counts := make(map[string]int)
	var speakers []string
	var total float64
	for _, seg := range rec.Segments {
		if _, ok := counts[seg.Speaker]; !ok {
			speakers = append(speakers, seg.Speaker)
		}
		counts[seg.Speaker]++
		total += seg.EndTime - seg.StartTime
	}
	sort.Strings(speakers)

	var b strings.Builder
	b.WriteString("会议纪要\n\n")
	fmt.Fprintf(&b, "会议文件：%s\n", rec.OriginalName)
	fmt.Fprintf(&b, "发言时长：%s\n", formatDuration(total))
	fmt.Fprintf(&b, "发言人数：%d\n", len(speakers))
	fmt.Fprintf(&b, "发言片段：%d\n\n", len(rec.Segments))
	b.WriteString("发言统计：\n")
	for _, sp := range speakers {
		fmt.Fprintf(&b, "%s：%d 段\n", sp, counts[sp])
	}
	b.WriteString("\n（未配置大模型 API Key，以上为按转录统计生成的默认纪要。）")
	return b.String()
}

func formatDuration(seconds float64) string {
	total := int(seconds)
	m := total / 60
	s := total % 60
	if m >= 60 {
		return fmt.Sprintf("%d小时%d分%d秒", m/60, m%60, s)
	}
	return fmt.Sprintf("%d分%d秒", m, s)
}
