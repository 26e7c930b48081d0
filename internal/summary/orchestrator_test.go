package summary

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meetscribe/voice-service/internal/config"
	"github.com/meetscribe/voice-service/internal/history"
	"github.com/meetscribe/voice-service/internal/model"
	"github.com/meetscribe/voice-service/internal/registry"
	"go.uber.org/zap"
)

type mockChatter struct {
	reply    string
	err      error
	lastUser string
	lastKey  string
	calls    int
}

func (m *mockChatter) Chat(system, user, modelKey string) (string, error) {
	m.calls++
	m.lastUser = user
	m.lastKey = modelKey
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func summaryConfig(apiKey string) *config.SummaryConfig {
	return &config.SummaryConfig{
		DefaultModel: "deepseek",
		Models: map[string]config.ModelEndpoint{
			"deepseek": {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat", APIKey: apiKey},
			"qwen":     {BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-plus", APIKey: apiKey},
		},
	}
}

func newOrchestratorFixture(t *testing.T, apiKey string, chat *mockChatter) (*Orchestrator, *registry.Registry, *history.Store) {
	t.Helper()
	reg := registry.New(zap.NewNop())
	store := history.NewStore(filepath.Join(t.TempDir(), "history_records.json"), zap.NewNop())
	o := NewOrchestrator(summaryConfig(apiKey), reg, store, nil, chat, zap.NewNop())
	return o, reg, store
}

func addCompleted(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	now := model.Now()
	_, err := reg.Add(&model.FileRecord{
		ID:           id,
		OriginalName: "standup.mp3",
		Status:       model.StateCompleted,
		Progress:     100,
		UploadTime:   now,
		CompleteTime: &now,
		Segments: []model.Segment{
			{Speaker: "发言人1", Text: "先同步一下进展", StartTime: 0, EndTime: 30},
			{Speaker: "发言人2", Text: "后端这边完成了", StartTime: 30, EndTime: 90},
			{Speaker: "发言人1", Text: "好，下一项", StartTime: 90, EndTime: 100},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGenerateWithLLM(t *testing.T) {
	chat := &mockChatter{reply: "好的，以下是会议纪要：\n\n**一、进展**\n- 后端完成"}
	o, reg, store := newOrchestratorFixture(t, "sk-test", chat)
	addCompleted(t, reg, "f1")

	sum, err := o.Generate("f1", "", "deepseek")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if sum.Model != "deepseek" || sum.Status != "success" {
		t.Fatalf("bad summary meta: %+v", sum)
	}
	// 输出经过清洗
	if strings.Contains(sum.Text, "**") || strings.Contains(sum.Text, "好的") {
		t.Fatalf("summary not cleaned: %q", sum.Text)
	}

	// 纪要持久化到记录与历史
	rec, _ := reg.Get("f1")
	if rec.Summary == nil || rec.Summary.Text != sum.Text {
		t.Fatalf("summary not persisted on record: %+v", rec.Summary)
	}
	saved := store.Load()
	if len(saved) != 1 || saved[0].Summary == nil {
		t.Fatalf("summary not persisted to history: %v", saved)
	}
}

func TestGenerateUnknownModelFallsBackToDefault(t *testing.T) {
	chat := &mockChatter{reply: "纪要正文"}
	o, reg, _ := newOrchestratorFixture(t, "sk-test", chat)
	addCompleted(t, reg, "f1")

	sum, err := o.Generate("f1", "", "no-such-model")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if chat.lastKey != "deepseek" || sum.Model != "deepseek" {
		t.Fatalf("expected fallback to default model, got %q / %q", chat.lastKey, sum.Model)
	}
}

func TestGenerateWithoutAPIKeyUsesTemplate(t *testing.T) {
	chat := &mockChatter{}
	o, reg, _ := newOrchestratorFixture(t, "", chat)
	addCompleted(t, reg, "f1")

	sum, err := o.Generate("f1", "", "deepseek")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if chat.calls != 0 {
		t.Fatal("llm must not be called without an api key")
	}
	if sum.Model != DefaultTemplateModel {
		t.Fatalf("expected %s, got %s", DefaultTemplateModel, sum.Model)
	}
	for _, want := range []string{"standup.mp3", "发言人数：2", "发言片段：3"} {
		if !strings.Contains(sum.Text, want) {
			t.Fatalf("template summary missing %q: %q", want, sum.Text)
		}
	}
}

func TestGenerateNoSegments(t *testing.T) {
	o, reg, _ := newOrchestratorFixture(t, "sk-test", &mockChatter{})
	if _, err := reg.Add(&model.FileRecord{ID: "f1", Status: model.StateUploaded, UploadTime: model.Now()}); err != nil {
		t.Fatal(err)
	}

	if _, err := o.Generate("f1", "", "deepseek"); !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}

func TestGenerateLLMErrorPersisted(t *testing.T) {
	chat := &mockChatter{err: errors.New("429 too many requests")}
	o, reg, _ := newOrchestratorFixture(t, "sk-test", chat)
	addCompleted(t, reg, "f1")

	if _, err := o.Generate("f1", "", "deepseek"); err == nil {
		t.Fatal("expected error")
	}
	rec, _ := reg.Get("f1")
	if rec.Summary == nil || rec.Summary.Status != "error" {
		t.Fatalf("error summary not persisted: %+v", rec.Summary)
	}
	if !strings.Contains(rec.Summary.Error, "429") {
		t.Fatalf("error detail lost: %+v", rec.Summary)
	}
}

func TestDelete(t *testing.T) {
	chat := &mockChatter{reply: "纪要"}
	o, reg, _ := newOrchestratorFixture(t, "sk-test", chat)
	addCompleted(t, reg, "f1")

	if _, err := o.Generate("f1", "", "deepseek"); err != nil {
		t.Fatal(err)
	}
	if err := o.Delete("f1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	rec, _ := reg.Get("f1")
	if rec.Summary != nil || rec.SummaryDocPath != "" {
		t.Fatalf("summary not cleared: %+v", rec)
	}

	// 重复删除为空操作
	if err := o.Delete("f1"); err != nil {
		t.Fatalf("second Delete must be a no-op: %v", err)
	}
}

func TestComposePrompt(t *testing.T) {
	transcript := "发言人1：内容\n"

	// 占位符替换
	got := composePrompt("整理：{transcript} 完", transcript)
	if !strings.Contains(got, "整理："+transcript+" 完") {
		t.Fatalf("placeholder not substituted: %q", got)
	}
	if strings.Contains(got, "{transcript}") {
		t.Fatalf("placeholder survived: %q", got)
	}

	// 含标记：在模板后追加
	got = composePrompt("请总结。\n会议转录内容：", transcript)
	if !strings.HasSuffix(strings.TrimSuffix(got, hygieneDirective), "\n"+transcript) {
		t.Fatalf("transcript not appended after marker: %q", got)
	}

	// 普通模板：分隔头追加
	got = composePrompt("请输出三条要点", transcript)
	if !strings.Contains(got, "请输出三条要点\n\n"+transcriptMarker+"\n"+transcript) {
		t.Fatalf("plain template handling broken: %q", got)
	}

	// 空模板
	got = composePrompt("", transcript)
	if !strings.Contains(got, transcriptMarker) || !strings.Contains(got, transcript) {
		t.Fatalf("empty template handling broken: %q", got)
	}

	// 统一附加输出约束
	if !strings.HasSuffix(got, hygieneDirective) {
		t.Fatalf("hygiene directive missing: %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{45, "0分45秒"},
		{125, "2分5秒"},
		{3725, "1小时2分5秒"},
	}
	for _, c := range cases {
		if got := formatDuration(c.in); got != c.want {
			t.Fatalf("formatDuration(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
