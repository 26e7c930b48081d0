package summary

import (
	"strings"
	"testing"
)

func TestCleanStripsConfirmationPreamble(t *testing.T) {
	raw := "好的，我会为您整理会议纪要：\n以下是会议纪要：\n\n一、会议主题\n讨论季度目标"
	got := Clean(raw)

	if strings.Contains(got, "好的") || strings.Contains(got, "以下是") {
		t.Fatalf("confirmation preamble survived: %q", got)
	}
	if !strings.Contains(got, "会议主题") {
		t.Fatalf("body lost: %q", got)
	}
}

func TestCleanKeepsBodyThatStartsLikeConfirmation(t *testing.T) {
	// 首个正文行出现后即停止剥离，正文中的“好的”不受影响
	raw := "会议开场。\n好的，下一项议题。"
	got := Clean(raw)
	if !strings.Contains(got, "好的，下一项议题") {
		t.Fatalf("body line incorrectly stripped: %q", got)
	}
}

func TestCleanStripsMarkdown(t *testing.T) {
	raw := "# 会议纪要\n\n" +
		"## 一、决议\n" +
		"- **通过**了预算方案\n" +
		"- 确定 *下周* 复盘\n" +
		"1. 第一项\n" +
		"```\ncode block\n```\n" +
		"---\n" +
		"使用 `ffmpeg` 预处理\n"

	got := Clean(raw)
	for _, marker := range []string{"#", "**", "- ", "```", "---", "`"} {
		if strings.Contains(got, marker) {
			t.Fatalf("markdown marker %q survived: %q", marker, got)
		}
	}
	for _, body := range []string{"一、决议", "通过", "下周", "第一项", "ffmpeg"} {
		if !strings.Contains(got, body) {
			t.Fatalf("body text %q lost: %q", body, got)
		}
	}
}

func TestCleanCollapsesBlankRuns(t *testing.T) {
	got := Clean("第一段\n\n\n\n第二段")
	if strings.Contains(got, "\n\n\n") {
		t.Fatalf("blank runs not collapsed: %q", got)
	}
}

func TestCleanDropsStandaloneTitleLine(t *testing.T) {
	got := Clean("会议纪要\n\n正文内容")
	if strings.Contains(got, "会议纪要") {
		t.Fatalf("standalone title line survived: %q", got)
	}
	if !strings.Contains(got, "正文内容") {
		t.Fatalf("body lost: %q", got)
	}
}

func TestCleanEmptyInput(t *testing.T) {
	if got := Clean("   \n\n  "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
